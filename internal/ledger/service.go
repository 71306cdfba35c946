package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mindpoints/backend/internal/metrics"
	"github.com/mindpoints/backend/internal/models"
)

// Balance is the account summary shown to the user.
type Balance struct {
	Balance       int `json:"balance"`
	TotalEarned   int `json:"total_earned"`
	TotalRedeemed int `json:"total_redeemed"`
}

// AwardRequest credits points to a user. OperationKey, when set, makes the
// award replay-safe: a second award with the same key writes nothing.
type AwardRequest struct {
	UserID        string
	Points        int
	Description   string
	EnrollmentRef string
	OperationKey  string
}

type AwardResult struct {
	NewBalance int  `json:"new_balance"`
	Replayed   bool `json:"replayed,omitempty"`
}

type RedeemResult struct {
	CouponCode string    `json:"coupon_code"`
	CouponID   uuid.UUID `json:"coupon_id"`
	NewBalance int       `json:"new_balance"`
}

// CouponView is what checkout needs to apply a discount. It never exposes the owner.
type CouponView struct {
	Code       string `json:"code"`
	CourseType string `json:"course_type"`
	Discount   int    `json:"discount"`
	PointsCost int    `json:"points_cost"`
}

type Service interface {
	GetBalance(ctx context.Context, userID string) (Balance, error)
	Award(ctx context.Context, req AwardRequest) (AwardResult, error)
	Redeem(ctx context.Context, userID, courseType string, pointsRequired int) (RedeemResult, error)
	History(ctx context.Context, userID string, page, limit int) ([]*models.PointsTransaction, int64, error)
	ListActiveCoupons(ctx context.Context, userID string) ([]*models.Coupon, error)
	ValidateCoupon(ctx context.Context, code, userID string) (CouponView, error)
	MarkCouponUsed(ctx context.Context, code, orderRef string) error
}

type service struct {
	store   Store
	log     *slog.Logger
	now     func() time.Time
	newCode func(time.Time) (string, error)
}

func NewService(store Store, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, log: log, now: time.Now, newCode: NewCouponCode}
}

var _ Service = (*service)(nil)

// observe records the operation outcome once the deferred call runs.
func observe(op string, start time.Time, errp *error) {
	status := metrics.StatusSuccess
	if err := *errp; err != nil {
		status = metrics.StatusFailed
		if IsValidation(err) {
			status = metrics.StatusRejected
		}
	}
	metrics.ObserveOperation(op, status, time.Since(start).Seconds())
}

func (s *service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	acc, err := s.store.GetAccount(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, nil
	}
	if err != nil {
		return Balance{}, err
	}
	return Balance{Balance: acc.Balance, TotalEarned: acc.TotalEarned, TotalRedeemed: acc.TotalRedeemed}, nil
}

// Award credits points. The account row is created if missing and then locked,
// so the balance read, the increment and the earn log entry commit together.
// An operation key already spent by another user fails the award and rolls
// back the account insert.
func (s *service) Award(ctx context.Context, req AwardRequest) (res AwardResult, err error) {
	defer observe("award", time.Now(), &err)
	if req.Points <= 0 {
		return AwardResult{}, invalid(ErrInvalidPoints, "Points must be greater than 0")
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return AwardResult{}, err
	}
	defer tx.Rollback(ctx)

	if err := s.store.EnsureAccount(ctx, tx, req.UserID); err != nil {
		return AwardResult{}, err
	}
	acc, err := s.store.GetAccountForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return AwardResult{}, err
	}

	if req.OperationKey != "" {
		prev, err := s.store.FindTransactionByOperationKey(ctx, tx, req.OperationKey)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return AwardResult{}, err
		}
		if prev != nil && prev.UserID != req.UserID {
			return AwardResult{}, invalid(ErrOperationKeyInUse, "Operation key %s belongs to another account", req.OperationKey)
		}
		if prev != nil {
			s.log.Info("award replay ignored", "user_id", req.UserID, "operation_key", req.OperationKey)
			return AwardResult{NewBalance: acc.Balance, Replayed: true}, nil
		}
	}

	newBalance, err := s.store.AddPoints(ctx, tx, req.UserID, req.Points)
	if err != nil {
		return AwardResult{}, err
	}
	entry := &models.PointsTransaction{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Type:        models.TransactionEarn,
		Points:      req.Points,
		Description: req.Description,
		CreatedAt:   s.now(),
	}
	if req.EnrollmentRef != "" {
		entry.EnrollmentRef = &req.EnrollmentRef
	}
	if req.OperationKey != "" {
		entry.OperationKey = &req.OperationKey
	}
	if err := s.store.InsertTransaction(ctx, tx, entry); err != nil {
		return AwardResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return AwardResult{}, err
	}

	metrics.AddPoints(models.TransactionEarn, req.Points)
	s.log.Info("points awarded", "user_id", req.UserID, "points", req.Points, "new_balance", newBalance)
	return AwardResult{NewBalance: newBalance}, nil
}

// Redeem debits pointsRequired and issues a full-discount coupon for courseType.
// The balance check and the debit use the same locked row.
func (s *service) Redeem(ctx context.Context, userID, courseType string, pointsRequired int) (res RedeemResult, err error) {
	defer observe("redeem", time.Now(), &err)
	if pointsRequired <= 0 {
		return RedeemResult{}, invalid(ErrInvalidPoints, "Points required must be greater than 0")
	}
	courseType = strings.TrimSpace(courseType)
	if courseType == "" {
		return RedeemResult{}, invalid(ErrInvalidCourseType, "Course type is required")
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return RedeemResult{}, err
	}
	defer tx.Rollback(ctx)

	acc, err := s.store.GetAccountForUpdate(ctx, tx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return RedeemResult{}, invalid(ErrAccountNotFound, "No points account found")
	}
	if err != nil {
		return RedeemResult{}, err
	}
	if acc.Balance < pointsRequired {
		return RedeemResult{}, insufficient(acc.Balance, pointsRequired)
	}

	now := s.now()
	code, err := s.newCode(now)
	if err != nil {
		return RedeemResult{}, err
	}
	coupon := &models.Coupon{
		ID:         uuid.New(),
		Code:       code,
		UserID:     userID,
		CourseType: courseType,
		Discount:   models.FullDiscount,
		PointsCost: pointsRequired,
		CreatedAt:  now,
	}
	if err := s.store.InsertCoupon(ctx, tx, coupon); err != nil {
		return RedeemResult{}, err
	}

	newBalance, err := s.store.DeductPoints(ctx, tx, userID, pointsRequired)
	if errors.Is(err, pgx.ErrNoRows) {
		return RedeemResult{}, insufficient(acc.Balance, pointsRequired)
	}
	if err != nil {
		return RedeemResult{}, err
	}
	if err := s.store.InsertTransaction(ctx, tx, &models.PointsTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        models.TransactionRedeem,
		Points:      pointsRequired,
		Description: "Redeemed for " + courseType + " coupon",
		CouponID:    &coupon.ID,
		CreatedAt:   now,
	}); err != nil {
		return RedeemResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return RedeemResult{}, err
	}

	metrics.AddPoints(models.TransactionRedeem, pointsRequired)
	s.log.Info("points redeemed", "user_id", userID, "course_type", courseType, "points", pointsRequired, "coupon_id", coupon.ID)
	return RedeemResult{CouponCode: code, CouponID: coupon.ID, NewBalance: newBalance}, nil
}

func insufficient(balance, required int) error {
	return invalid(ErrInsufficientPoints, "Insufficient points. You have %d points, but need %d", balance, required)
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (s *service) History(ctx context.Context, userID string, page, limit int) ([]*models.PointsTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.store.ListTransactions(ctx, userID, limit, (page-1)*limit)
}

func (s *service) ListActiveCoupons(ctx context.Context, userID string) ([]*models.Coupon, error) {
	return s.store.ListActiveCoupons(ctx, userID)
}

// ValidateCoupon is read-only. The owner check is skipped when userID is empty
// (pre-checkout preview without a caller identity).
func (s *service) ValidateCoupon(ctx context.Context, code, userID string) (view CouponView, err error) {
	defer observe("validate_coupon", time.Now(), &err)
	c, err := s.store.GetCouponByCode(ctx, NormalizeCouponCode(code))
	if errors.Is(err, pgx.ErrNoRows) {
		return CouponView{}, invalid(ErrCouponNotFound, "Invalid coupon code")
	}
	if err != nil {
		return CouponView{}, err
	}
	if c.IsUsed {
		return CouponView{}, invalid(ErrCouponUsed, "This coupon has already been used")
	}
	if userID != "" && c.UserID != userID {
		return CouponView{}, invalid(ErrCouponNotOwned, "This coupon does not belong to your account")
	}
	return CouponView{Code: c.Code, CourseType: c.CourseType, Discount: c.Discount, PointsCost: c.PointsCost}, nil
}

// MarkCouponUsed consumes a coupon once the order is confirmed. It cannot be
// undone. Repeating the call for the same non-empty orderRef is a no-op.
func (s *service) MarkCouponUsed(ctx context.Context, code, orderRef string) (err error) {
	defer observe("mark_coupon_used", time.Now(), &err)
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := s.store.GetCouponByCodeForUpdate(ctx, tx, NormalizeCouponCode(code))
	if errors.Is(err, pgx.ErrNoRows) {
		return invalid(ErrCouponNotFound, "Coupon not found")
	}
	if err != nil {
		return err
	}
	if c.IsUsed {
		if orderRef != "" && c.UsedOrderRef != nil && *c.UsedOrderRef == orderRef {
			s.log.Info("coupon consumption replayed", "coupon_id", c.ID, "order_ref", orderRef)
			return nil
		}
		return invalid(ErrCouponUsed, "Coupon already used")
	}
	if err := s.store.MarkCouponUsed(ctx, tx, c.ID, s.now(), orderRef); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return invalid(ErrCouponUsed, "Coupon already used")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("coupon consumed", "coupon_id", c.ID, "order_ref", orderRef)
	return nil
}
