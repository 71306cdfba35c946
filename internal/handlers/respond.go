package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mindpoints/backend/internal/ledger"
	"github.com/mindpoints/backend/internal/referral"
)

const genericError = "Something went wrong, please try again"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

// writeError renders validation failures with their message and hides
// everything else behind a generic 500.
func writeError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	status, msg := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error(op, "error", err)
	}
	writeMessage(w, status, msg)
}

func errorStatus(err error) (int, string) {
	if !ledger.IsValidation(err) {
		return http.StatusInternalServerError, genericError
	}
	msg := ledger.Message(err)
	switch {
	case errors.Is(err, ledger.ErrInsufficientPoints):
		return http.StatusPaymentRequired, msg
	case errors.Is(err, ledger.ErrCouponNotFound):
		return http.StatusNotFound, msg
	case errors.Is(err, ledger.ErrCouponNotOwned):
		return http.StatusForbidden, msg
	case errors.Is(err, ledger.ErrCouponUsed), errors.Is(err, ledger.ErrOperationKeyInUse),
		errors.Is(err, referral.ErrAlreadyReferred), errors.Is(err, referral.ErrAlreadyPurchased):
		return http.StatusConflict, msg
	}
	return http.StatusBadRequest, msg
}

var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return &ledger.ValidationError{Err: errBadRequest, Message: msg}
}

// decode reads a JSON body into dst and runs struct validation.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("Invalid JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return badRequest("Invalid request: " + describe(verrs[0]))
		}
		return badRequest("Invalid request")
	}
	return nil
}

// describe names the offending field by its JSON path.
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " is too long"
	case "min":
		return field + " needs at least " + fe.Param()
	}
	return field + " is invalid"
}
