package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/mindpoints/backend/internal/mailer"
)

// CouponIssuedArgs is enqueued after a successful redemption.
type CouponIssuedArgs struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	CouponCode string `json:"coupon_code"`
	CourseType string `json:"course_type"`
	PointsCost int    `json:"points_cost"`
	NewBalance int    `json:"new_balance"`
}

func (CouponIssuedArgs) Kind() string { return "coupon_issued_email" }

var couponEmail = template.Must(template.New("coupon").Parse(`<p>Your Mind Points coupon is ready.</p>
<p><strong>{{.CouponCode}}</strong></p>
<p>It gives 100% off one {{.CourseLabel}} enrollment and can be used once, on your account only.</p>
<p>You spent {{.PointsCost}} points. Remaining balance: {{.NewBalance}} points.</p>
<p><a href="{{.SiteURL}}/account/points">View your points</a></p>`))

type CouponEmailWorker struct {
	river.WorkerDefaults[CouponIssuedArgs]
	sender  mailer.Sender
	siteURL string
	log     *slog.Logger
}

func NewCouponEmailWorker(sender mailer.Sender, siteURL string, log *slog.Logger) *CouponEmailWorker {
	if log == nil {
		log = slog.Default()
	}
	return &CouponEmailWorker{sender: sender, siteURL: siteURL, log: log}
}

func (w *CouponEmailWorker) Work(ctx context.Context, job *river.Job[CouponIssuedArgs]) error {
	args := job.Args
	if args.Email == "" {
		w.log.Info("coupon email cancelled, no address", "user_id", args.UserID, "job_id", job.ID)
		return river.JobCancel(mailer.ErrNoRecipient)
	}
	body, err := renderCouponEmail(args, w.siteURL)
	if err != nil {
		return river.JobCancel(err)
	}
	err = w.sender.Send(ctx, mailer.Message{To: args.Email, Subject: "Your Mind Points coupon", HTMLBody: body})
	if errors.Is(err, mailer.ErrNoRecipient) {
		return river.JobCancel(err)
	}
	if err != nil {
		return fmt.Errorf("send coupon email (attempt %d): %w", job.Attempt, err)
	}
	w.log.Info("coupon email sent", "user_id", args.UserID, "job_id", job.ID)
	return nil
}

func renderCouponEmail(args CouponIssuedArgs, siteURL string) (string, error) {
	var buf bytes.Buffer
	err := couponEmail.Execute(&buf, struct {
		CouponIssuedArgs
		CourseLabel string
		SiteURL     string
	}{args, courseLabel(args.CourseType), siteURL})
	return buf.String(), err
}

func courseLabel(courseType string) string {
	switch courseType {
	case "internship_120":
		return "120-hour internship"
	case "internship_240":
		return "240-hour internship"
	case "pre_recorded":
		return "pre-recorded course"
	}
	return courseType
}
