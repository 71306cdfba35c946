package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mindpoints/backend/internal/checkout"
	"github.com/mindpoints/backend/internal/policy"
)

type OrderConfirmer interface {
	ConfirmOrder(ctx context.Context, order checkout.Order) (checkout.Confirmation, error)
}

// CheckoutHandler serves the payment flow's order confirmation callback.
type CheckoutHandler struct {
	Checkout OrderConfirmer
	Logger   *slog.Logger
}

type orderItemRequest struct {
	Category      string `json:"category" validate:"required,max=64"`
	Tier          string `json:"tier" validate:"omitempty,oneof=120 240"`
	Duration      string `json:"duration" validate:"max=128"`
	Title         string `json:"title" validate:"max=256"`
	EnrollmentRef string `json:"enrollment_ref" validate:"max=128"`
}

type confirmOrderRequest struct {
	OrderID    string             `json:"order_id" validate:"required,max=128"`
	UserID     string             `json:"user_id" validate:"required,max=128"`
	CouponCode string             `json:"coupon_code" validate:"max=64"`
	Items      []orderItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
}

type confirmOrderResponse struct {
	Success bool `json:"success"`
	checkout.Confirmation
}

// ConfirmOrder handles POST /checkout/confirm.
func (h *CheckoutHandler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var req confirmOrderRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Logger, "confirm order", err)
		return
	}
	order := checkout.Order{ID: req.OrderID, UserID: req.UserID, CouponCode: req.CouponCode}
	for _, it := range req.Items {
		item, err := parseItem(it.Category, it.Tier, it.Duration)
		if err != nil {
			// Unknown categories earn nothing but do not block the order.
			item = policy.Item{Category: policy.Category(it.Category)}
		}
		order.Items = append(order.Items, checkout.Item{Item: item, Title: it.Title, EnrollmentRef: it.EnrollmentRef})
	}

	conf, err := h.Checkout.ConfirmOrder(r.Context(), order)
	if err != nil {
		writeError(w, h.Logger, "confirm order", err)
		return
	}
	writeJSON(w, http.StatusOK, confirmOrderResponse{Success: true, Confirmation: conf})
}
