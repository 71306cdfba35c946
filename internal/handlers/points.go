package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mindpoints/backend/internal/ledger"
	"github.com/mindpoints/backend/internal/middleware"
	"github.com/mindpoints/backend/internal/models"
	"github.com/mindpoints/backend/internal/notify"
	"github.com/mindpoints/backend/internal/policy"
)

// PointsLedger is the subset of the ledger the account UI needs.
type PointsLedger interface {
	GetBalance(ctx context.Context, userID string) (ledger.Balance, error)
	History(ctx context.Context, userID string, page, limit int) ([]*models.PointsTransaction, int64, error)
	Redeem(ctx context.Context, userID, courseType string, pointsRequired int) (ledger.RedeemResult, error)
	ListActiveCoupons(ctx context.Context, userID string) ([]*models.Coupon, error)
	ValidateCoupon(ctx context.Context, code, userID string) (ledger.CouponView, error)
}

// CouponNotifier is told about every issued coupon.
type CouponNotifier interface {
	CouponIssued(ctx context.Context, args notify.CouponIssuedArgs)
}

// PointsHandler serves the account UI endpoints under /api/v1/points and /api/v1/coupons.
type PointsHandler struct {
	Ledger   PointsLedger
	Notifier CouponNotifier
	Logger   *slog.Logger
}

// --- GET /points/balance ---

type balanceResponse struct {
	Success bool `json:"success"`
	ledger.Balance
}

func (h *PointsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	bal, err := h.Ledger.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, h.Logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Success: true, Balance: bal})
}

// --- GET /points/transactions ---

type transactionsResponse struct {
	Success      bool                        `json:"success"`
	Transactions []*models.PointsTransaction `json:"transactions"`
	Page         int                         `json:"page"`
	Limit        int                         `json:"limit"`
	Total        int64                       `json:"total"`
}

func (h *PointsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	list, total, err := h.Ledger.History(r.Context(), userID, page, limit)
	if err != nil {
		writeError(w, h.Logger, "list transactions", err)
		return
	}
	if list == nil {
		list = []*models.PointsTransaction{}
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Success: true, Transactions: list, Page: page, Limit: limit, Total: total})
}

// --- GET /points/catalog (public) ---

func Catalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "catalog": policy.Catalog()})
}

// --- POST /points/redeem ---

type redeemRequest struct {
	CourseType string `json:"course_type" validate:"required,max=64"`
	Tier       string `json:"tier" validate:"omitempty,oneof=120 240"`
	Duration   string `json:"duration" validate:"max=128"`
}

type redeemResponse struct {
	Success bool `json:"success"`
	ledger.RedeemResult
	PointsCost int    `json:"points_cost"`
	CourseType string `json:"course_type"`
}

// Redeem prices the requested course from the policy tables, so the client
// never chooses how many points a coupon costs.
func (h *PointsHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	var req redeemRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Logger, "redeem", err)
		return
	}
	item, err := parseItem(req.CourseType, req.Tier, req.Duration)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid course type")
		return
	}
	cost, err := policy.RedeemPoints(item)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid course type")
		return
	}
	courseType, _ := policy.CourseType(item)

	res, err := h.Ledger.Redeem(r.Context(), id.UserID, courseType, cost)
	if err != nil {
		writeError(w, h.Logger, "redeem", err)
		return
	}
	if h.Notifier != nil {
		h.Notifier.CouponIssued(r.Context(), notify.CouponIssuedArgs{
			UserID:     id.UserID,
			Email:      id.Email,
			CouponCode: res.CouponCode,
			CourseType: courseType,
			PointsCost: cost,
			NewBalance: res.NewBalance,
		})
	}
	writeJSON(w, http.StatusOK, redeemResponse{Success: true, RedeemResult: res, PointsCost: cost, CourseType: courseType})
}

// --- GET /coupons ---

func (h *PointsHandler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	list, err := h.Ledger.ListActiveCoupons(r.Context(), userID)
	if err != nil {
		writeError(w, h.Logger, "list coupons", err)
		return
	}
	if list == nil {
		list = []*models.Coupon{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "coupons": list})
}

// --- GET /coupons/{code}/validate ---

type validateResponse struct {
	Valid  bool               `json:"valid"`
	Coupon *ledger.CouponView `json:"coupon,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func (h *PointsHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	view, err := h.Ledger.ValidateCoupon(r.Context(), r.PathValue("code"), userID)
	if err != nil {
		status, msg := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.Logger.Error("validate coupon", "error", err)
		}
		writeJSON(w, status, validateResponse{Valid: false, Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, Coupon: &view})
}

// --- helpers ---

// parseItem accepts a category ("internship") with an optional tier, or a
// table key ("internship_240").
func parseItem(courseType, tier, duration string) (policy.Item, error) {
	ct := strings.ToLower(strings.TrimSpace(courseType))
	if rest, ok := strings.CutPrefix(ct, string(policy.CategoryInternship)); ok && rest != "" {
		if t := policy.ParseTier(rest); t != policy.TierUnspecified {
			return policy.Item{Category: policy.CategoryInternship, Tier: t}, nil
		}
		return policy.Item{}, errors.New("unknown internship tier")
	}
	cat, err := policy.ParseCategory(ct)
	if err != nil {
		return policy.Item{}, err
	}
	return policy.Item{Category: cat, Tier: policy.ParseTier(tier), Duration: duration}, nil
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return def
	}
	return v
}
