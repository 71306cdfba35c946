package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mindpoints/backend/internal/middleware"
	"github.com/mindpoints/backend/internal/models"
)

type ReferralRegistrar interface {
	Register(ctx context.Context, referredUserID, referrerUserID string) (*models.Referral, error)
}

type ReferralHandler struct {
	Referrals ReferralRegistrar
	Logger    *slog.Logger
}

type registerReferralRequest struct {
	ReferrerUserID string `json:"referrer_user_id" validate:"required,max=128"`
}

// Register handles POST /referrals: the caller names who referred them.
func (h *ReferralHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReferralRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Logger, "register referral", err)
		return
	}
	ref, err := h.Referrals.Register(r.Context(), middleware.UserIDFromCtx(r.Context()), req.ReferrerUserID)
	if err != nil {
		writeError(w, h.Logger, "register referral", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "referral": ref})
}
