package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/muranga-mess/api/internal/service"
	"github.com/shopspring/decimal"
)

// errorResponse is the body of every non-2xx reply. Code is stable for
// clients; Error is for humans.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// serviceError maps a service sentinel to a status and error code.
type serviceError struct {
	err    error
	status int
	code   string
}

// Order matters: the first match wins.
var serviceErrors = []serviceError{
	{service.ErrValidation, http.StatusBadRequest, "validation_error"},
	{service.ErrPaymentInitiationFailed, http.StatusBadGateway, "payment_initiation_failed"},
	{service.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{service.ErrOrderingWindowClosed, http.StatusConflict, "ordering_window_closed"},
	{service.ErrNotConfirmed, http.StatusConflict, "not_confirmed"},
	{service.ErrOrderExpired, http.StatusConflict, "order_expired"},
	{service.ErrOutsideServingWindow, http.StatusConflict, "outside_serving_window"},
	{service.ErrAlreadyServed, http.StatusConflict, "already_served"},
	{service.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
	{service.ErrPaymentInProgress, http.StatusConflict, "payment_in_progress"},
	{service.ErrMenuExists, http.StatusConflict, "menu_exists"},
	{service.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{service.ErrMenuItemNotFound, http.StatusNotFound, "menu_item_not_found"},
	{service.ErrMenuNotFound, http.StatusNotFound, "menu_not_found"},
	{service.ErrMealPeriodNotFound, http.StatusNotFound, "meal_period_not_found"},
	{service.ErrFoodItemNotFound, http.StatusNotFound, "food_item_not_found"},
	{service.ErrAttemptNotFound, http.StatusNotFound, "payment_attempt_not_found"},
}

// writeServiceError replies with the mapped status, or 500 for anything
// unexpected, which is logged under op.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	for _, se := range serviceErrors {
		if errors.Is(err, se.err) {
			writeJSON(w, se.status, errorResponse{Error: err.Error(), Code: se.code})
			return
		}
	}
	log.Printf("ERROR: %s: %v", op, err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
