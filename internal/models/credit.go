package models

import (
	"time"

	"github.com/google/uuid"
)

// Points transaction types.
const (
	TransactionEarn   = "earn"
	TransactionRedeem = "redeem"
)

// PointsTransaction is one immutable row of the transaction log. Points is
// always positive; the sign of the balance change is implied by Type.
type PointsTransaction struct {
	ID            uuid.UUID  `json:"id"`
	UserID        string     `json:"user_id"`
	Type          string     `json:"type"`
	Points        int        `json:"points"`
	Description   string     `json:"description"`
	EnrollmentRef *string    `json:"enrollment_ref,omitempty"`
	CouponID      *uuid.UUID `json:"coupon_id,omitempty"`
	OperationKey  *string    `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Delta returns the signed balance change the transaction represents.
func (t *PointsTransaction) Delta() int {
	if t.Type == TransactionRedeem {
		return -t.Points
	}
	return t.Points
}
