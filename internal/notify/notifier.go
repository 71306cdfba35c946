package notify

import (
	"context"
	"log/slog"
	"sync"
)

// InsertFunc enqueues a coupon email. Provided by main using river.Client.Insert.
type InsertFunc func(ctx context.Context, args CouponIssuedArgs) error

// Notifier hands coupon emails to the job queue. Enqueue failures are logged
// and never fail the redemption that triggered them.
type Notifier struct {
	mu     sync.Mutex
	insert InsertFunc
	log    *slog.Logger
}

func NewNotifier(log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{log: log}
}

// SetInsert wires the queue once the River client exists (breaks the init cycle).
func (n *Notifier) SetInsert(fn InsertFunc) {
	n.mu.Lock()
	n.insert = fn
	n.mu.Unlock()
}

func (n *Notifier) CouponIssued(ctx context.Context, args CouponIssuedArgs) {
	n.mu.Lock()
	fn := n.insert
	n.mu.Unlock()
	if fn == nil {
		n.log.Warn("coupon email not queued, queue not wired", "user_id", args.UserID)
		return
	}
	if err := fn(ctx, args); err != nil {
		n.log.Error("queue coupon email", "user_id", args.UserID, "error", err)
	}
}
