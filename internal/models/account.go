package models

import (
	"time"
)

// PointsAccount is the per-user Mind Points balance. One row per user,
// created lazily on the first award and never deleted.
type PointsAccount struct {
	UserID        string    `json:"user_id"`
	Balance       int       `json:"balance"`
	TotalEarned   int       `json:"total_earned"`
	TotalRedeemed int       `json:"total_redeemed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Consistent reports whether balance == total_earned - total_redeemed.
func (a *PointsAccount) Consistent() bool {
	return a.Balance == a.TotalEarned-a.TotalRedeemed && a.Balance >= 0
}
