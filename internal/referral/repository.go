package referral

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mindpoints/backend/internal/models"
)

// errDuplicate is returned by Insert when the referred user already has a referrer.
var errDuplicate = errors.New("referral already recorded")

type Store interface {
	Insert(ctx context.Context, r *models.Referral) error
	Get(ctx context.Context, referredUserID string) (*models.Referral, error)
	MarkRewarded(ctx context.Context, referredUserID string, points int, at time.Time) error
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Insert(ctx context.Context, ref *models.Referral) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO referrals (referred_user_id, referrer_user_id)
		VALUES ($1, $2)
		RETURNING created_at
	`, ref.ReferredUserID, ref.ReferrerUserID).Scan(&ref.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errDuplicate
	}
	return err
}

func (r *Repository) Get(ctx context.Context, referredUserID string) (*models.Referral, error) {
	var ref models.Referral
	err := r.pool.QueryRow(ctx, `
		SELECT referred_user_id, referrer_user_id, reward_points, rewarded_at, created_at
		FROM referrals WHERE referred_user_id = $1
	`, referredUserID).Scan(&ref.ReferredUserID, &ref.ReferrerUserID, &ref.RewardPoints, &ref.RewardedAt, &ref.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// MarkRewarded records the reward once. Returns pgx.ErrNoRows if it was already recorded.
func (r *Repository) MarkRewarded(ctx context.Context, referredUserID string, points int, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE referrals SET reward_points = $1, rewarded_at = $2
		WHERE referred_user_id = $3 AND rewarded_at IS NULL
	`, points, at, referredUserID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
