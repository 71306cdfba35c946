package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mindpoints/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestService(t *testing.T) (*service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, nil).(*service)
	svc.now = func() time.Time { return fixedNow }
	return svc, store
}

func mustAward(t *testing.T, svc Service, userID string, points int) {
	t.Helper()
	if _, err := svc.Award(context.Background(), AwardRequest{UserID: userID, Points: points, Description: "seed"}); err != nil {
		t.Fatalf("Award(%s, %d): %v", userID, points, err)
	}
}

func assertConsistent(t *testing.T, store *MemoryStore, userID string) {
	t.Helper()
	acc, err := store.GetAccount(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !acc.Consistent() {
		t.Errorf("account %s inconsistent: balance %d, earned %d, redeemed %d",
			userID, acc.Balance, acc.TotalEarned, acc.TotalRedeemed)
	}
	sum := 0
	for _, tx := range store.Transactions() {
		if tx.UserID == userID {
			sum += tx.Delta()
		}
	}
	if sum != acc.Balance {
		t.Errorf("account %s: transaction log sums to %d, balance is %d", userID, sum, acc.Balance)
	}
}

// ---------------------------------------------------------------------------
// Award
// ---------------------------------------------------------------------------

func TestAward_FreshAccount(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.Award(ctx, AwardRequest{UserID: "u1", Points: 120, Description: "Certificate purchase"})
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if res.NewBalance != 120 {
		t.Errorf("new balance: got %d, want 120", res.NewBalance)
	}

	bal, err := svc.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	want := Balance{Balance: 120, TotalEarned: 120, TotalRedeemed: 0}
	if bal != want {
		t.Errorf("balance: got %+v, want %+v", bal, want)
	}

	txs := store.Transactions()
	if len(txs) != 1 {
		t.Fatalf("transactions: got %d, want 1", len(txs))
	}
	if txs[0].Type != models.TransactionEarn || txs[0].Points != 120 || txs[0].Description != "Certificate purchase" {
		t.Errorf("unexpected earn entry: %+v", txs[0])
	}
}

func TestAward_ExistingAccountAccumulates(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	mustAward(t, svc, "u1", 120)

	res, err := svc.Award(ctx, AwardRequest{UserID: "u1", Points: 30, Description: "Worksheet purchase", EnrollmentRef: "enr-7"})
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if res.NewBalance != 150 {
		t.Errorf("new balance: got %d, want 150", res.NewBalance)
	}
	txs := store.Transactions()
	if ref := txs[len(txs)-1].EnrollmentRef; ref == nil || *ref != "enr-7" {
		t.Errorf("enrollment ref not recorded: %v", ref)
	}
	assertConsistent(t, store, "u1")
}

func TestAward_RejectsNonPositive(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	for _, pts := range []int{0, -5} {
		_, err := svc.Award(ctx, AwardRequest{UserID: "u1", Points: pts})
		if !errors.Is(err, ErrInvalidPoints) {
			t.Fatalf("Award(%d): expected ErrInvalidPoints, got %v", pts, err)
		}
		if got := Message(err); got != "Points must be greater than 0" {
			t.Errorf("message: got %q", got)
		}
	}
	if _, err := store.GetAccount(ctx, "u1"); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("account should not exist, got err %v", err)
	}
	if n := len(store.Transactions()); n != 0 {
		t.Errorf("expected no transactions, got %d", n)
	}
}

func TestAward_OperationKeyIsReplaySafe(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	req := AwardRequest{UserID: "u1", Points: 200, Description: "Internship purchase", OperationKey: "order:42:item:0"}

	first, err := svc.Award(ctx, req)
	if err != nil {
		t.Fatalf("first Award: %v", err)
	}
	second, err := svc.Award(ctx, req)
	if err != nil {
		t.Fatalf("replayed Award: %v", err)
	}
	if !second.Replayed || first.Replayed {
		t.Errorf("replay flags: first %v, second %v", first.Replayed, second.Replayed)
	}
	if second.NewBalance != 200 {
		t.Errorf("replayed award should report balance 200, got %d", second.NewBalance)
	}
	if n := len(store.Transactions()); n != 1 {
		t.Errorf("expected a single earn entry, got %d", n)
	}
}

func TestAward_OperationKeyOfAnotherUser(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Award(ctx, AwardRequest{UserID: "alice", Points: 120, OperationKey: "order:7:item:0"}); err != nil {
		t.Fatalf("Award(alice): %v", err)
	}

	res, err := svc.Award(ctx, AwardRequest{UserID: "bob", Points: 300, OperationKey: "order:7:item:0"})
	if !errors.Is(err, ErrOperationKeyInUse) || !IsValidation(err) {
		t.Fatalf("expected ErrOperationKeyInUse, got %+v, %v", res, err)
	}
	if res.Replayed {
		t.Error("a foreign key must not be reported as a replay")
	}
	if _, err := store.GetAccount(ctx, "bob"); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("bob's account insert should be rolled back, got %v", err)
	}
	if bal, _ := svc.GetBalance(ctx, "alice"); bal.Balance != 120 {
		t.Errorf("alice balance: got %d, want 120", bal.Balance)
	}
	if n := len(store.Transactions()); n != 1 {
		t.Errorf("expected 1 log row, got %d", n)
	}
}

func TestAward_LogFailureRollsBack(t *testing.T) {
	mem := NewMemoryStore()
	failing := NewService(failingLogStore{MemoryStore: mem, failType: models.TransactionEarn}, nil)
	ctx := context.Background()

	_, err := failing.Award(ctx, AwardRequest{UserID: "u1", Points: 120, Description: "Certificate purchase"})
	if err == nil || IsValidation(err) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if _, err := mem.GetAccount(ctx, "u1"); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("lazily created account should be rolled back, got %v", err)
	}

	mustAward(t, NewService(mem, nil), "u1", 200)
	if _, err := failing.Award(ctx, AwardRequest{UserID: "u1", Points: 120}); err == nil {
		t.Fatal("expected second award to fail")
	}
	acc, err := mem.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.Balance != 200 || acc.TotalEarned != 200 {
		t.Errorf("balance should be untouched, got %+v", acc)
	}
	assertConsistent(t, mem, "u1")
}

func TestAward_ConcurrentNoLostUpdates(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	const workers = 40
	const points = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Award(ctx, AwardRequest{UserID: "u1", Points: points, OperationKey: fmt.Sprintf("order:%d:item:0", i)}); err != nil {
				t.Errorf("Award %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	bal, _ := svc.GetBalance(ctx, "u1")
	if bal.Balance != workers*points || bal.TotalEarned != workers*points {
		t.Errorf("balance after concurrent awards: %+v, want %d", bal, workers*points)
	}
	assertConsistent(t, store, "u1")
}

func TestGetBalance_NoAccount(t *testing.T) {
	svc, _ := newTestService(t)
	bal, err := svc.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal != (Balance{}) {
		t.Errorf("expected zero balance, got %+v", bal)
	}
}

// ---------------------------------------------------------------------------
// Redeem
// ---------------------------------------------------------------------------

func TestRedeem_IssuesCoupon(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	mustAward(t, svc, "u1", 120)

	res, err := svc.Redeem(ctx, "u1", "worksheet", 80)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if res.NewBalance != 40 {
		t.Errorf("new balance: got %d, want 40", res.NewBalance)
	}

	coupon, err := store.GetCouponByCode(ctx, res.CouponCode)
	if err != nil {
		t.Fatalf("coupon not stored: %v", err)
	}
	if coupon.ID != res.CouponID || coupon.Discount != 100 || coupon.CourseType != "worksheet" ||
		coupon.IsUsed || coupon.PointsCost != 80 || coupon.UserID != "u1" {
		t.Errorf("unexpected coupon: %+v", coupon)
	}

	txs := store.Transactions()
	last := txs[len(txs)-1]
	if last.Type != models.TransactionRedeem || last.Points != 80 || last.CouponID == nil || *last.CouponID != res.CouponID {
		t.Errorf("unexpected redeem entry: %+v", last)
	}

	bal, _ := svc.GetBalance(ctx, "u1")
	if bal != (Balance{Balance: 40, TotalEarned: 120, TotalRedeemed: 80}) {
		t.Errorf("balance after redeem: %+v", bal)
	}
	assertConsistent(t, store, "u1")
}

func TestRedeem_InsufficientPoints(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustAward(t, svc, "u1", 120)
	if _, err := svc.Redeem(ctx, "u1", "worksheet", 80); err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	_, err := svc.Redeem(ctx, "u1", "diploma", 500)
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	if got, want := Message(err), "Insufficient points. You have 40 points, but need 500"; got != want {
		t.Errorf("message: got %q, want %q", got, want)
	}
	bal, _ := svc.GetBalance(ctx, "u1")
	if bal.Balance != 40 {
		t.Errorf("balance should stay 40, got %d", bal.Balance)
	}
	if coupons, _ := svc.ListActiveCoupons(ctx, "u1"); len(coupons) != 1 {
		t.Errorf("expected only the first coupon, got %d", len(coupons))
	}
}

func TestRedeem_Rejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Redeem(ctx, "ghost", "worksheet", 80); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("no account: expected ErrAccountNotFound, got %v", err)
	}
	if _, err := svc.Redeem(ctx, "ghost", "worksheet", 0); !errors.Is(err, ErrInvalidPoints) {
		t.Errorf("zero points: expected ErrInvalidPoints, got %v", err)
	}
	if _, err := svc.Redeem(ctx, "ghost", "  ", 80); !errors.Is(err, ErrInvalidCourseType) {
		t.Errorf("blank course type: expected ErrInvalidCourseType, got %v", err)
	}
}

func TestRedeem_ConcurrentNoDoubleSpend(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	const balance = 300
	const workers = 25
	mustAward(t, svc, "u1", balance)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, insufficients := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(ctx, "u1", "certificate", balance)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientPoints):
				insufficients++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || insufficients != workers-1 {
		t.Errorf("got %d successes and %d insufficient, want 1 and %d", successes, insufficients, workers-1)
	}
	bal, _ := svc.GetBalance(ctx, "u1")
	if bal.Balance != 0 || bal.TotalRedeemed != balance {
		t.Errorf("balance after race: %+v", bal)
	}
	assertConsistent(t, store, "u1")
}

// failingLogStore fails the log append for one transaction type.
type failingLogStore struct {
	*MemoryStore
	failType string
}

func (f failingLogStore) InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.PointsTransaction) error {
	if t.Type == f.failType {
		return errors.New("connection reset by peer")
	}
	return f.MemoryStore.InsertTransaction(ctx, tx, t)
}

func TestRedeem_LogFailureRollsBack(t *testing.T) {
	mem := NewMemoryStore()
	svc := NewService(failingLogStore{MemoryStore: mem, failType: models.TransactionRedeem}, nil)
	ctx := context.Background()
	mustAward(t, svc, "u1", 120)

	_, err := svc.Redeem(ctx, "u1", "worksheet", 80)
	if err == nil || IsValidation(err) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	bal, _ := svc.GetBalance(ctx, "u1")
	if bal != (Balance{Balance: 120, TotalEarned: 120}) {
		t.Errorf("balance should be untouched, got %+v", bal)
	}
	if coupons, _ := svc.ListActiveCoupons(ctx, "u1"); len(coupons) != 0 {
		t.Errorf("coupon insert should be rolled back, found %d", len(coupons))
	}
	assertConsistent(t, mem, "u1")
}

// ---------------------------------------------------------------------------
// Coupons
// ---------------------------------------------------------------------------

func TestValidateCoupon(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	mustAward(t, svc, "alice", 200)
	res, err := svc.Redeem(ctx, "alice", "worksheet", 80)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	cases := []struct {
		name    string
		code    string
		userID  string
		wantErr error
		wantMsg string
	}{
		{"owner", res.CouponCode, "alice", nil, ""},
		{"preview without identity", res.CouponCode, "", nil, ""},
		{"lower-case input", " " + strings.ToLower(res.CouponCode), "alice", nil, ""},
		{"foreign account", res.CouponCode, "bob", ErrCouponNotOwned, "This coupon does not belong to your account"},
		{"unknown code", "MIND-NOPE", "alice", ErrCouponNotFound, "Invalid coupon code"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			view, err := svc.ValidateCoupon(ctx, tc.code, tc.userID)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) || Message(err) != tc.wantMsg {
					t.Fatalf("got %v (%q), want %v (%q)", err, Message(err), tc.wantErr, tc.wantMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateCoupon: %v", err)
			}
			want := CouponView{Code: res.CouponCode, CourseType: "worksheet", Discount: 100, PointsCost: 80}
			if view != want {
				t.Errorf("view: got %+v, want %+v", view, want)
			}
		})
	}

	// Validation never mutates.
	c, _ := store.GetCouponByCode(ctx, res.CouponCode)
	if c.IsUsed || c.UsedAt != nil {
		t.Errorf("validation mutated the coupon: %+v", c)
	}

	if err := svc.MarkCouponUsed(ctx, res.CouponCode, "order-1"); err != nil {
		t.Fatalf("MarkCouponUsed: %v", err)
	}
	_, err = svc.ValidateCoupon(ctx, res.CouponCode, "alice")
	if !errors.Is(err, ErrCouponUsed) || Message(err) != "This coupon has already been used" {
		t.Errorf("used coupon: got %v", err)
	}
}

func TestMarkCouponUsed_OnlyOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	mustAward(t, svc, "u1", 120)
	res, err := svc.Redeem(ctx, "u1", "worksheet", 80)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	if err := svc.MarkCouponUsed(ctx, res.CouponCode, "order-9"); err != nil {
		t.Fatalf("first MarkCouponUsed: %v", err)
	}
	first, _ := store.GetCouponByCode(ctx, res.CouponCode)
	if !first.IsUsed || first.UsedAt == nil || !first.UsedAt.Equal(fixedNow) {
		t.Fatalf("coupon not consumed: %+v", first)
	}
	if first.UsedOrderRef == nil || *first.UsedOrderRef != "order-9" {
		t.Errorf("order ref not recorded: %v", first.UsedOrderRef)
	}

	svc.now = func() time.Time { return fixedNow.Add(time.Hour) }
	err = svc.MarkCouponUsed(ctx, res.CouponCode, "order-10")
	if !errors.Is(err, ErrCouponUsed) || Message(err) != "Coupon already used" {
		t.Fatalf("second MarkCouponUsed: got %v", err)
	}
	second, _ := store.GetCouponByCode(ctx, res.CouponCode)
	if !second.UsedAt.Equal(*first.UsedAt) || *second.UsedOrderRef != "order-9" {
		t.Errorf("second call changed the coupon: %+v", second)
	}

	if err := svc.MarkCouponUsed(ctx, res.CouponCode, "order-9"); err != nil {
		t.Errorf("replay for the consuming order should succeed, got %v", err)
	}
	if err := svc.MarkCouponUsed(ctx, res.CouponCode, ""); !errors.Is(err, ErrCouponUsed) {
		t.Errorf("consumption without an order ref: got %v", err)
	}
	third, _ := store.GetCouponByCode(ctx, res.CouponCode)
	if !third.UsedAt.Equal(*first.UsedAt) {
		t.Errorf("replay changed used_at")
	}

	if coupons, _ := svc.ListActiveCoupons(ctx, "u1"); len(coupons) != 0 {
		t.Errorf("used coupon still listed as active")
	}

	err = svc.MarkCouponUsed(ctx, "MIND-MISSING", "")
	if !errors.Is(err, ErrCouponNotFound) || Message(err) != "Coupon not found" {
		t.Errorf("unknown coupon: got %v", err)
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestHistory_PaginatesNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if _, err := svc.Award(ctx, AwardRequest{UserID: "u1", Points: i, Description: fmt.Sprintf("award %d", i)}); err != nil {
			t.Fatalf("Award: %v", err)
		}
	}
	mustAward(t, svc, "other", 10)

	page, total, err := svc.History(ctx, "u1", 1, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("got %d of %d, want 2 of 5", len(page), total)
	}
	if page[0].Description != "award 5" || page[1].Description != "award 4" {
		t.Errorf("unexpected order: %q, %q", page[0].Description, page[1].Description)
	}

	last, _, _ := svc.History(ctx, "u1", 3, 2)
	if len(last) != 1 || last[0].Description != "award 1" {
		t.Errorf("last page: %+v", last)
	}
	beyond, _, _ := svc.History(ctx, "u1", 9, 2)
	if len(beyond) != 0 {
		t.Errorf("expected empty page, got %d", len(beyond))
	}
}

// ---------------------------------------------------------------------------
// Ledger integrity across a mixed sequence
// ---------------------------------------------------------------------------

func TestLedgerIntegrity(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	var lastEarned, lastRedeemed int
	steps := []func() error{
		func() error { _, err := svc.Award(ctx, AwardRequest{UserID: "u1", Points: 300}); return err },
		func() error { _, err := svc.Redeem(ctx, "u1", "masterclass", 150); return err },
		func() error { _, err := svc.Award(ctx, AwardRequest{UserID: "u1", Points: 60}); return err },
		func() error { _, err := svc.Redeem(ctx, "u1", "worksheet", 80); return err },
		func() error { _, err := svc.Redeem(ctx, "u1", "diploma", 1500); return err },
		func() error { _, err := svc.Award(ctx, AwardRequest{UserID: "u1", Points: 0}); return err },
	}
	for i, step := range steps {
		if err := step(); err != nil && !IsValidation(err) {
			t.Fatalf("step %d: %v", i, err)
		}
		acc, err := store.GetAccount(ctx, "u1")
		if err != nil {
			t.Fatalf("GetAccount: %v", err)
		}
		if acc.TotalEarned < lastEarned || acc.TotalRedeemed < lastRedeemed {
			t.Errorf("step %d: totals decreased", i)
		}
		lastEarned, lastRedeemed = acc.TotalEarned, acc.TotalRedeemed
		assertConsistent(t, store, "u1")
	}
	bal, _ := svc.GetBalance(ctx, "u1")
	if bal != (Balance{Balance: 130, TotalEarned: 360, TotalRedeemed: 230}) {
		t.Errorf("final balance: %+v", bal)
	}
}
