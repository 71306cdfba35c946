package models

import (
	"time"

	"github.com/google/uuid"
)

// FullDiscount is the only discount issued for redeemed points (percent).
const FullDiscount = 100

// Coupon is a single-use, owner-bound code produced by a points redemption.
type Coupon struct {
	ID           uuid.UUID  `json:"id"`
	Code         string     `json:"code"`
	UserID       string     `json:"-"`
	CourseType   string     `json:"course_type"`
	Discount     int        `json:"discount"`
	PointsCost   int        `json:"points_cost"`
	IsUsed       bool       `json:"is_used"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	UsedOrderRef *string    `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
}
