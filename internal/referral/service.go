package referral

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mindpoints/backend/internal/ledger"
	"github.com/mindpoints/backend/internal/models"
	"github.com/mindpoints/backend/internal/retry"
)

var (
	ErrSelfReferral     = errors.New("self referral")
	ErrAlreadyReferred  = errors.New("already referred")
	ErrMissingReferrer  = errors.New("missing referrer")
	ErrAlreadyPurchased = errors.New("referred user already purchased")
)

// Ledger is the part of the points ledger the referral bonus needs.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (ledger.Balance, error)
	Award(ctx context.Context, req ledger.AwardRequest) (ledger.AwardResult, error)
}

type Service interface {
	Register(ctx context.Context, referredUserID, referrerUserID string) (*models.Referral, error)
	// RewardReferrer credits the referrer of referredUserID with points, once.
	// It returns the points awarded, 0 when there is nothing to reward.
	RewardReferrer(ctx context.Context, referredUserID string, points int) (int, error)
}

type service struct {
	store  Store
	ledger Ledger
	retry  retry.Policy
	log    *slog.Logger
	now    func() time.Time
}

func NewService(store Store, l Ledger, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, ledger: l, retry: retry.DefaultPolicy(), log: log, now: time.Now}
}

var _ Service = (*service)(nil)

// Register records who referred referredUserID. Only users who have not earned
// points yet can name a referrer, so the bonus always follows the first purchase.
func (s *service) Register(ctx context.Context, referredUserID, referrerUserID string) (*models.Referral, error) {
	referrerUserID = strings.TrimSpace(referrerUserID)
	if referrerUserID == "" {
		return nil, &ledger.ValidationError{Err: ErrMissingReferrer, Message: "Referrer is required"}
	}
	if referrerUserID == referredUserID {
		return nil, &ledger.ValidationError{Err: ErrSelfReferral, Message: "You cannot refer yourself"}
	}
	bal, err := s.ledger.GetBalance(ctx, referredUserID)
	if err != nil {
		return nil, err
	}
	if bal.TotalEarned > 0 {
		return nil, &ledger.ValidationError{Err: ErrAlreadyPurchased, Message: "Referrals can only be added before your first purchase"}
	}
	ref := &models.Referral{ReferredUserID: referredUserID, ReferrerUserID: referrerUserID}
	if err := s.store.Insert(ctx, ref); err != nil {
		if errors.Is(err, errDuplicate) {
			return nil, &ledger.ValidationError{Err: ErrAlreadyReferred, Message: "A referral is already recorded for this account"}
		}
		return nil, err
	}
	s.log.Info("referral registered", "referred_user_id", referredUserID, "referrer_user_id", referrerUserID)
	return ref, nil
}

// RewardReferrer awards first and records the reward second. The award
// carries an operation key, so a retry after a failed MarkRewarded is a replay.
func (s *service) RewardReferrer(ctx context.Context, referredUserID string, points int) (int, error) {
	if points <= 0 {
		return 0, nil
	}
	ref, err := s.store.Get(ctx, referredUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if ref.RewardedAt != nil {
		return 0, nil
	}

	res, err := retry.Do(ctx, s.retry, "referral_award", func(ctx context.Context) (ledger.AwardResult, error) {
		return s.ledger.Award(ctx, ledger.AwardRequest{
			UserID:       ref.ReferrerUserID,
			Points:       points,
			Description:  "Referral bonus",
			OperationKey: "referral:" + referredUserID,
		})
	})
	if err != nil {
		return 0, err
	}
	if err := s.store.MarkRewarded(ctx, referredUserID, points, s.now()); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	if res.Replayed {
		return 0, nil
	}
	s.log.Info("referrer rewarded", "referrer_user_id", ref.ReferrerUserID, "referred_user_id", referredUserID, "points", points)
	return points, nil
}
