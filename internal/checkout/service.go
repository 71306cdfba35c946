package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mindpoints/backend/internal/ledger"
	"github.com/mindpoints/backend/internal/policy"
	"github.com/mindpoints/backend/internal/retry"
)

var (
	ErrInvalidOrder         = errors.New("invalid order")
	ErrCouponCourseMismatch = errors.New("coupon not valid for order")
)

// Ledger is the part of the points ledger the checkout hook drives.
type Ledger interface {
	Award(ctx context.Context, req ledger.AwardRequest) (ledger.AwardResult, error)
	ValidateCoupon(ctx context.Context, code, userID string) (ledger.CouponView, error)
	MarkCouponUsed(ctx context.Context, code, orderRef string) error
}

type ReferralRewarder interface {
	RewardReferrer(ctx context.Context, referredUserID string, points int) (int, error)
}

type Item struct {
	policy.Item
	Title         string
	EnrollmentRef string
}

type Order struct {
	ID         string
	UserID     string
	Items      []Item
	CouponCode string
}

type Confirmation struct {
	OrderID        string `json:"order_id"`
	PointsEarned   int    `json:"points_earned"`
	NewBalance     int    `json:"new_balance"`
	CouponApplied  bool   `json:"coupon_applied"`
	ReferralPoints int    `json:"referral_points,omitempty"`
}

type Service interface {
	ConfirmOrder(ctx context.Context, order Order) (Confirmation, error)
}

type service struct {
	ledger   Ledger
	referral ReferralRewarder
	retry    retry.Policy
	log      *slog.Logger
}

func NewService(l Ledger, referral ReferralRewarder, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{ledger: l, referral: referral, retry: retry.DefaultPolicy(), log: log}
}

var _ Service = (*service)(nil)

func invalidOrder(msg string) error {
	return &ledger.ValidationError{Err: ErrInvalidOrder, Message: msg}
}

// ConfirmOrder runs after payment succeeds. Every step is replay-safe, so the
// payment flow may resend the same order until it gets a response.
func (s *service) ConfirmOrder(ctx context.Context, order Order) (Confirmation, error) {
	order.ID = strings.TrimSpace(order.ID)
	if order.ID == "" {
		return Confirmation{}, invalidOrder("Order id is required")
	}
	if order.UserID == "" {
		return Confirmation{}, invalidOrder("User id is required")
	}
	if len(order.Items) == 0 {
		return Confirmation{}, invalidOrder("Order has no items")
	}
	conf := Confirmation{OrderID: order.ID}

	if order.CouponCode != "" {
		if err := s.consumeCoupon(ctx, order); err != nil {
			return Confirmation{}, err
		}
		conf.CouponApplied = true
	}

	for i, item := range order.Items {
		points := policy.EarnPoints(item.Item)
		if points == 0 {
			s.log.Warn("order item earns no points", "order_id", order.ID, "index", i, "category", item.Category)
			continue
		}
		req := ledger.AwardRequest{
			UserID:        order.UserID,
			Points:        points,
			Description:   purchaseDescription(item),
			EnrollmentRef: item.EnrollmentRef,
			OperationKey:  fmt.Sprintf("order:%s:item:%d", order.ID, i),
		}
		res, err := retry.Do(ctx, s.retry, "award", func(ctx context.Context) (ledger.AwardResult, error) {
			return s.ledger.Award(ctx, req)
		})
		if err != nil {
			return Confirmation{}, fmt.Errorf("award item %d: %w", i, err)
		}
		conf.PointsEarned += points
		conf.NewBalance = res.NewBalance
	}

	if s.referral != nil && conf.PointsEarned > 0 {
		rewarded, err := s.referral.RewardReferrer(ctx, order.UserID, conf.PointsEarned)
		if err != nil {
			return Confirmation{}, fmt.Errorf("referral reward: %w", err)
		}
		conf.ReferralPoints = rewarded
	}

	s.log.Info("order confirmed", "order_id", order.ID, "user_id", order.UserID,
		"points_earned", conf.PointsEarned, "coupon_applied", conf.CouponApplied)
	return conf, nil
}

func (s *service) consumeCoupon(ctx context.Context, order Order) error {
	view, err := retry.Do(ctx, s.retry, "validate_coupon", func(ctx context.Context) (ledger.CouponView, error) {
		return s.ledger.ValidateCoupon(ctx, order.CouponCode, order.UserID)
	})
	if errors.Is(err, ledger.ErrCouponUsed) {
		// A resent confirmation finds its own coupon already consumed.
		if replayErr := s.markUsed(ctx, order); replayErr == nil {
			return nil
		}
		return err
	}
	if err != nil {
		return err
	}
	if !orderCovers(order.Items, view.CourseType) {
		return &ledger.ValidationError{Err: ErrCouponCourseMismatch, Message: "Coupon is not valid for this course type"}
	}
	return s.markUsed(ctx, order)
}

func (s *service) markUsed(ctx context.Context, order Order) error {
	_, err := retry.Do(ctx, s.retry, "mark_coupon_used", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.ledger.MarkCouponUsed(ctx, order.CouponCode, order.ID)
	})
	return err
}

func orderCovers(items []Item, courseType string) bool {
	for _, item := range items {
		if ct, err := policy.CourseType(item.Item); err == nil && ct == courseType {
			return true
		}
	}
	return false
}

func purchaseDescription(item Item) string {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = strings.ReplaceAll(string(item.Category), "_", " ")
	}
	return title + " purchase"
}
