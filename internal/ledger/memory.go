package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mindpoints/backend/internal/models"
)

// MemoryStore is an in-process Store. A transaction holds the store lock from
// Begin until Commit or Rollback, which gives the same per-account
// serializability as Postgres row locks; Rollback undoes staged writes.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[string]*models.PointsAccount
	transactions []*models.PointsTransaction
	coupons      map[string]*models.Coupon
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*models.PointsAccount),
		coupons:  make(map[string]*models.Coupon),
		now:      time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

var errForeignTx = errors.New("ledger: transaction does not belong to this store")

// memTx satisfies pgx.Tx; only Commit and Rollback are called on it.
type memTx struct {
	pgx.Tx
	store *MemoryStore
	undo  []func()
	done  bool
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (s *MemoryStore) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &memTx{store: s}, nil
}

func (s *MemoryStore) tx(tx pgx.Tx) (*memTx, error) {
	mt, ok := tx.(*memTx)
	if !ok || mt.store != s || mt.done {
		return nil, errForeignTx
	}
	return mt, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*models.PointsAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) EnsureAccount(_ context.Context, tx pgx.Tx, userID string) error {
	mt, err := s.tx(tx)
	if err != nil {
		return err
	}
	if _, ok := s.accounts[userID]; ok {
		return nil
	}
	now := s.now()
	s.accounts[userID] = &models.PointsAccount{UserID: userID, CreatedAt: now, UpdatedAt: now}
	mt.undo = append(mt.undo, func() { delete(s.accounts, userID) })
	return nil
}

func (s *MemoryStore) GetAccountForUpdate(_ context.Context, tx pgx.Tx, userID string) (*models.PointsAccount, error) {
	if _, err := s.tx(tx); err != nil {
		return nil, err
	}
	a, ok := s.accounts[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

// update applies fn to the account and records the previous state for rollback.
func (s *MemoryStore) update(mt *memTx, userID string, fn func(a *models.PointsAccount) bool) (int, error) {
	a, ok := s.accounts[userID]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	prev := *a
	if !fn(a) {
		return 0, pgx.ErrNoRows
	}
	a.UpdatedAt = s.now()
	mt.undo = append(mt.undo, func() { *a = prev })
	return a.Balance, nil
}

func (s *MemoryStore) AddPoints(_ context.Context, tx pgx.Tx, userID string, points int) (int, error) {
	mt, err := s.tx(tx)
	if err != nil {
		return 0, err
	}
	return s.update(mt, userID, func(a *models.PointsAccount) bool {
		a.Balance += points
		a.TotalEarned += points
		return true
	})
}

func (s *MemoryStore) DeductPoints(_ context.Context, tx pgx.Tx, userID string, points int) (int, error) {
	mt, err := s.tx(tx)
	if err != nil {
		return 0, err
	}
	return s.update(mt, userID, func(a *models.PointsAccount) bool {
		if a.Balance < points {
			return false
		}
		a.Balance -= points
		a.TotalRedeemed += points
		return true
	})
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx pgx.Tx, t *models.PointsTransaction) error {
	mt, err := s.tx(tx)
	if err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	cp := *t
	n := len(s.transactions)
	s.transactions = append(s.transactions, &cp)
	mt.undo = append(mt.undo, func() { s.transactions = s.transactions[:n] })
	return nil
}

func (s *MemoryStore) FindTransactionByOperationKey(_ context.Context, tx pgx.Tx, key string) (*models.PointsTransaction, error) {
	if _, err := s.tx(tx); err != nil {
		return nil, err
	}
	for _, t := range s.transactions {
		if t.OperationKey != nil && *t.OperationKey == key {
			cp := *t
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit, offset int) ([]*models.PointsTransaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mine []*models.PointsTransaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if t := s.transactions[i]; t.UserID == userID {
			cp := *t
			mine = append(mine, &cp)
		}
	}
	total := int64(len(mine))
	if offset >= len(mine) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(mine) {
		end = len(mine)
	}
	return mine[offset:end], total, nil
}

func (s *MemoryStore) InsertCoupon(_ context.Context, tx pgx.Tx, c *models.Coupon) error {
	mt, err := s.tx(tx)
	if err != nil {
		return err
	}
	if _, dup := s.coupons[c.Code]; dup {
		return errors.New("ledger: duplicate coupon code")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	cp := *c
	s.coupons[c.Code] = &cp
	mt.undo = append(mt.undo, func() { delete(s.coupons, c.Code) })
	return nil
}

func (s *MemoryStore) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[code]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetCouponByCodeForUpdate(_ context.Context, tx pgx.Tx, code string) (*models.Coupon, error) {
	if _, err := s.tx(tx); err != nil {
		return nil, err
	}
	c, ok := s.coupons[code]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) MarkCouponUsed(_ context.Context, tx pgx.Tx, id uuid.UUID, usedAt time.Time, orderRef string) error {
	mt, err := s.tx(tx)
	if err != nil {
		return err
	}
	for _, c := range s.coupons {
		if c.ID != id {
			continue
		}
		if c.IsUsed {
			return pgx.ErrNoRows
		}
		prev := *c
		at := usedAt
		c.IsUsed, c.UsedAt = true, &at
		if orderRef != "" {
			ref := orderRef
			c.UsedOrderRef = &ref
		}
		mt.undo = append(mt.undo, func() { *c = prev })
		return nil
	}
	return pgx.ErrNoRows
}

func (s *MemoryStore) ListActiveCoupons(_ context.Context, userID string) ([]*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.Coupon
	for _, c := range s.coupons {
		if c.UserID == userID && !c.IsUsed {
			cp := *c
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

// Transactions returns a copy of the whole log, oldest first.
func (s *MemoryStore) Transactions() []*models.PointsTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.PointsTransaction, len(s.transactions))
	for i, t := range s.transactions {
		cp := *t
		out[i] = &cp
	}
	return out
}
