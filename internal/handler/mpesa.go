package handler

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/muranga-mess/api/internal/mpesa"
	"github.com/muranga-mess/api/internal/service"
)

// maxCallbackBytes caps the callback body; real notifications are well under 4 KiB.
const maxCallbackBytes = 64 << 10

// PaymentSettler is satisfied by *service.PaymentService.
type PaymentSettler interface {
	Settle(ctx context.Context, out service.Outcome) (*service.SettleResult, error)
}

// CallbackHandler receives STK push results from M-Pesa.
type CallbackHandler struct {
	payments PaymentSettler
	loc      *time.Location
}

// NewCallbackHandler creates a CallbackHandler. loc is used to read the
// gateway's zone-less transaction timestamps.
func NewCallbackHandler(payments PaymentSettler, loc *time.Location) *CallbackHandler {
	return &CallbackHandler{payments: payments, loc: loc}
}

func (h *CallbackHandler) RegisterRoutes(r chi.Router) {
	r.Post("/mpesa/callback", h.Callback)
}

// Callback handles POST /mpesa/callback. The gateway is always acknowledged
// with 200; it retries anything else and the outcome is already recorded or
// reported in the log.
func (h *CallbackHandler) Callback(w http.ResponseWriter, r *http.Request) {
	cb, err := mpesa.ParseCallback(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		log.Printf("WARN: rejected mpesa callback: %v", err)
		writeJSON(w, http.StatusOK, mpesa.Rejected("malformed callback"))
		return
	}

	res, err := h.payments.Settle(r.Context(), service.OutcomeFromCallback(cb, h.loc))
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		// Logged by the service.
	case err != nil:
		log.Printf("ERROR: settle checkout request %s: %v", cb.CheckoutRequestID, err)
	case res.Duplicate:
		log.Printf("mpesa callback %s redelivered", cb.CheckoutRequestID)
	default:
		log.Printf("mpesa callback %s: result %d, order %s is %s", cb.CheckoutRequestID, cb.ResultCode, res.Order.OrderCode, res.Order.Status)
	}
	writeJSON(w, http.StatusOK, mpesa.Accepted())
}
