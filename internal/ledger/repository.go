package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mindpoints/backend/internal/models"
)

// Store is the storage the ledger needs. Methods taking a pgx.Tx must run in
// the caller's transaction; not-found is reported as pgx.ErrNoRows.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)

	GetAccount(ctx context.Context, userID string) (*models.PointsAccount, error)
	EnsureAccount(ctx context.Context, tx pgx.Tx, userID string) error
	GetAccountForUpdate(ctx context.Context, tx pgx.Tx, userID string) (*models.PointsAccount, error)
	AddPoints(ctx context.Context, tx pgx.Tx, userID string, points int) (newBalance int, err error)
	DeductPoints(ctx context.Context, tx pgx.Tx, userID string, points int) (newBalance int, err error)

	InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.PointsTransaction) error
	FindTransactionByOperationKey(ctx context.Context, tx pgx.Tx, key string) (*models.PointsTransaction, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.PointsTransaction, int64, error)

	InsertCoupon(ctx context.Context, tx pgx.Tx, c *models.Coupon) error
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	GetCouponByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*models.Coupon, error)
	MarkCouponUsed(ctx context.Context, tx pgx.Tx, id uuid.UUID, usedAt time.Time, orderRef string) error
	ListActiveCoupons(ctx context.Context, userID string) ([]*models.Coupon, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const accountColumns = `user_id, balance, total_earned, total_redeemed, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.PointsAccount, error) {
	var a models.PointsAccount
	if err := row.Scan(&a.UserID, &a.Balance, &a.TotalEarned, &a.TotalRedeemed, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) GetAccount(ctx context.Context, userID string) (*models.PointsAccount, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM points_accounts WHERE user_id = $1`, userID))
}

// EnsureAccount inserts an empty account if none exists. Concurrent first
// awards both succeed here and then serialize on the row lock.
func (r *Repository) EnsureAccount(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO points_accounts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

// GetAccountForUpdate locks the account row. Call within a transaction.
func (r *Repository) GetAccountForUpdate(ctx context.Context, tx pgx.Tx, userID string) (*models.PointsAccount, error) {
	return scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM points_accounts WHERE user_id = $1 FOR UPDATE`, userID))
}

// AddPoints credits balance and total_earned and returns the new balance.
func (r *Repository) AddPoints(ctx context.Context, tx pgx.Tx, userID string, points int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE points_accounts
		SET balance = balance + $1, total_earned = total_earned + $1, updated_at = now()
		WHERE user_id = $2
		RETURNING balance
	`, points, userID).Scan(&newBalance)
	return newBalance, err
}

// DeductPoints debits balance and credits total_redeemed if balance >= points.
// Returns pgx.ErrNoRows when the balance is too low.
func (r *Repository) DeductPoints(ctx context.Context, tx pgx.Tx, userID string, points int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE points_accounts
		SET balance = balance - $1, total_redeemed = total_redeemed + $1, updated_at = now()
		WHERE user_id = $2 AND balance >= $1
		RETURNING balance
	`, points, userID).Scan(&newBalance)
	return newBalance, err
}

const operationKeyConstraint = "points_transactions_operation_key_key"

const transactionColumns = `id, user_id, type, points, description, enrollment_ref, coupon_id, operation_key, created_at`

func scanTransaction(row pgx.Row) (*models.PointsTransaction, error) {
	var t models.PointsTransaction
	if err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Points, &t.Description, &t.EnrollmentRef, &t.CouponID, &t.OperationKey, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTransaction appends a log row. Same-user awards serialize on the
// account lock, so a unique violation on operation_key means another user
// raced for the key.
func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.PointsTransaction) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO points_transactions (id, user_id, type, points, description, enrollment_ref, coupon_id, operation_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.UserID, t.Type, t.Points, t.Description, t.EnrollmentRef, t.CouponID, t.OperationKey).Scan(&t.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == operationKeyConstraint {
		return invalid(ErrOperationKeyInUse, "Operation key %s belongs to another account", *t.OperationKey)
	}
	return err
}

func (r *Repository) FindTransactionByOperationKey(ctx context.Context, tx pgx.Tx, key string) (*models.PointsTransaction, error) {
	return scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM points_transactions WHERE operation_key = $1`, key))
}

func (r *Repository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.PointsTransaction, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM points_transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM points_transactions WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []*models.PointsTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, t)
	}
	return list, total, rows.Err()
}

const couponColumns = `id, code, user_id, course_type, discount, points_cost, is_used, used_at, used_order_ref, created_at`

func scanCoupon(row pgx.Row) (*models.Coupon, error) {
	var c models.Coupon
	if err := row.Scan(&c.ID, &c.Code, &c.UserID, &c.CourseType, &c.Discount, &c.PointsCost, &c.IsUsed, &c.UsedAt, &c.UsedOrderRef, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) InsertCoupon(ctx context.Context, tx pgx.Tx, c *models.Coupon) error {
	return tx.QueryRow(ctx, `
		INSERT INTO coupons (id, code, user_id, course_type, discount, points_cost)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, c.ID, c.Code, c.UserID, c.CourseType, c.Discount, c.PointsCost).Scan(&c.CreatedAt)
}

func (r *Repository) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return scanCoupon(r.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
}

// GetCouponByCodeForUpdate locks the coupon row. Call within a transaction.
func (r *Repository) GetCouponByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*models.Coupon, error) {
	return scanCoupon(tx.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1 FOR UPDATE`, code))
}

// MarkCouponUsed flips is_used once. Returns pgx.ErrNoRows if it was already used.
func (r *Repository) MarkCouponUsed(ctx context.Context, tx pgx.Tx, id uuid.UUID, usedAt time.Time, orderRef string) error {
	var ref *string
	if orderRef != "" {
		ref = &orderRef
	}
	result, err := tx.Exec(ctx, `
		UPDATE coupons SET is_used = TRUE, used_at = $1, used_order_ref = $2
		WHERE id = $3 AND is_used = FALSE
	`, usedAt, ref, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) ListActiveCoupons(ctx context.Context, userID string) ([]*models.Coupon, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+couponColumns+`
		FROM coupons WHERE user_id = $1 AND is_used = FALSE
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
