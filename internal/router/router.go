package router

import (
	"net/http"

	"github.com/mindpoints/backend/internal/auth"
	"github.com/mindpoints/backend/internal/handlers"
	"github.com/mindpoints/backend/internal/middleware"
)

type Deps struct {
	Points        *handlers.PointsHandler
	Checkout      *handlers.CheckoutHandler
	Referrals     *handlers.ReferralHandler
	Verifier      auth.Verifier
	ServiceToken  string
	RedeemLimiter *middleware.UserLimiter
}

// New returns an http.Handler that serves the API under /api/v1.
// Middleware chains: RequireIdentity -> (RateLimit on redeem only) -> handler;
// ServiceToken -> handler for the payment flow.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	identity := middleware.RequireIdentity(d.Verifier)
	user := func(h http.HandlerFunc) http.Handler { return identity(h) }

	mux.HandleFunc("GET "+base+"/points/catalog", handlers.Catalog)
	mux.Handle("GET "+base+"/points/balance", user(d.Points.GetBalance))
	mux.Handle("GET "+base+"/points/transactions", user(d.Points.ListTransactions))
	mux.Handle("POST "+base+"/points/redeem", identity(middleware.RateLimit(d.RedeemLimiter)(http.HandlerFunc(d.Points.Redeem))))
	mux.Handle("GET "+base+"/coupons", user(d.Points.ListCoupons))
	mux.Handle("GET "+base+"/coupons/{code}/validate", user(d.Points.ValidateCoupon))
	mux.Handle("POST "+base+"/referrals", user(d.Referrals.Register))

	mux.Handle("POST "+base+"/checkout/confirm", middleware.ServiceToken(d.ServiceToken)(http.HandlerFunc(d.Checkout.ConfirmOrder)))

	return mux
}
