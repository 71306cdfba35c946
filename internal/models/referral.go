package models

import "time"

// Referral links a referred user to the user who referred them. The referrer
// is rewarded at most once, on the referred user's first qualifying purchase.
type Referral struct {
	ReferredUserID string     `json:"referred_user_id"`
	ReferrerUserID string     `json:"referrer_user_id"`
	RewardPoints   *int       `json:"reward_points,omitempty"`
	RewardedAt     *time.Time `json:"rewarded_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
