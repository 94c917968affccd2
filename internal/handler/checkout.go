package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/muranga-mess/api/internal/database"
	"github.com/muranga-mess/api/internal/service"
)

// OrderServicer defines the order methods needed by checkout handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (*service.PlaceOrderResult, error)
	CheckStatus(ctx context.Context, code string) (database.Order, error)
	LookupOrder(ctx context.Context, code string) (*service.OrderDetails, error)
}

// PaymentReconciler is satisfied by *service.PaymentService.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, orderCode string) (*service.SettleResult, error)
}

// CheckoutHandler serves the student and guest checkout flow.
type CheckoutHandler struct {
	orders   OrderServicer
	payments PaymentReconciler
}

func NewCheckoutHandler(orders OrderServicer, payments PaymentReconciler) *CheckoutHandler {
	return &CheckoutHandler{orders: orders, payments: payments}
}

// RegisterRoutes mounts the read-only checkout endpoints. Place and
// QueryPayment are mounted by the router behind the rate limiter.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Get("/orders/{code}", h.Get)
	r.Get("/orders/{code}/status", h.Status)
}

// --- Request / Response types ---

type placeOrderRequest struct {
	Items []struct {
		MenuItemID string `json:"menu_item_id"`
		Quantity   int32  `json:"quantity"`
	} `json:"items"`
	PhoneNumber        string `json:"phone_number"`
	PayerName          string `json:"payer_name"`
	RegistrationNumber string `json:"registration_number"`
	StudentUserID      string `json:"student_user_id"`
}

type orderItemResponse struct {
	ID         uuid.UUID `json:"id"`
	MenuItemID uuid.UUID `json:"menu_item_id"`
	FoodName   string    `json:"food_name"`
	Quantity   int32     `json:"quantity"`
	UnitPrice  string    `json:"unit_price"`
	Subtotal   string    `json:"subtotal"`
}

type paymentResponse struct {
	CheckoutRequestID  string    `json:"checkout_request_id"`
	Status             string    `json:"status"`
	PhoneNumber        string    `json:"phone_number"`
	Amount             string    `json:"amount"`
	MpesaReceiptNumber *string   `json:"mpesa_receipt_number"`
	ResultDesc         *string   `json:"result_desc"`
	CreatedAt          time.Time `json:"created_at"`
}

type orderResponse struct {
	ID                 uuid.UUID           `json:"id"`
	OrderCode          string              `json:"order_code"`
	DailyMenuID        uuid.UUID           `json:"daily_menu_id"`
	Status             string              `json:"status"`
	PayerName          string              `json:"payer_name"`
	PayerPhone         string              `json:"payer_phone"`
	RegistrationNumber string              `json:"registration_number"`
	IsGuest            bool                `json:"is_guest"`
	TotalAmount        string              `json:"total_amount"`
	MpesaReceiptNumber *string             `json:"mpesa_receipt_number"`
	OrderedAt          time.Time           `json:"ordered_at"`
	ConfirmedAt        *time.Time          `json:"confirmed_at"`
	ServedAt           *time.Time          `json:"served_at"`
	ExpiresAt          time.Time           `json:"expires_at"`
	Items              []orderItemResponse `json:"items,omitempty"`
	Payment            *paymentResponse    `json:"payment,omitempty"`
}

type placeOrderResponse struct {
	orderResponse
	Message string `json:"message"`
}

type orderStatusResponse struct {
	OrderCode          string    `json:"order_code"`
	Status             string    `json:"status"`
	IsPaid             bool      `json:"is_paid"`
	MpesaReceiptNumber *string   `json:"mpesa_receipt_number"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// --- Handlers ---

// Place handles POST /orders.
func (h *CheckoutHandler) Place(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := service.PlaceOrderRequest{
		PayerPhone:         req.PhoneNumber,
		PayerName:          req.PayerName,
		RegistrationNumber: req.RegistrationNumber,
		StudentUserID:      req.StudentUserID,
	}
	for _, it := range req.Items {
		in.Selections = append(in.Selections, service.Selection{StockID: it.MenuItemID, Quantity: it.Quantity})
	}

	result, err := h.orders.PlaceOrder(r.Context(), in)
	if err != nil {
		writeServiceError(w, "place order", err)
		return
	}

	resp := placeOrderResponse{
		orderResponse: toOrderResponse(result.Order, result.Items, &result.Attempt),
		Message:       "Check your phone and enter your M-Pesa PIN to complete payment.",
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Get handles GET /orders/{code}.
func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.orders.LookupOrder(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(d.Order, d.Items, d.Attempt))
}

// Status handles GET /orders/{code}/status, the endpoint the payment page polls.
func (h *CheckoutHandler) Status(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.CheckStatus(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, "check order status", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(o))
}

// QueryPayment handles POST /orders/{code}/payment/query. It asks the gateway
// about a payment whose callback has not arrived yet.
func (h *CheckoutHandler) QueryPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.Reconcile(r.Context(), chi.URLParam(r, "code"))
	switch {
	case errors.Is(err, service.ErrPaymentPending):
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "pending",
			"message": "Payment is still being processed. Try again shortly.",
		})
		return
	case errors.Is(err, service.ErrAlreadyTerminal) && res != nil:
		writeJSON(w, http.StatusOK, toStatusResponse(res.Order))
		return
	case err != nil:
		writeServiceError(w, "query payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(res.Order))
}

// --- Helpers ---

func toOrderResponse(o database.Order, items []database.OrderItem, attempt *database.PaymentAttempt) orderResponse {
	resp := orderResponse{
		ID:                 o.ID,
		OrderCode:          o.OrderCode,
		DailyMenuID:        o.DailyMenuID,
		Status:             string(o.Status),
		PayerName:          o.PayerName,
		PayerPhone:         o.PayerPhone,
		RegistrationNumber: o.RegistrationNumber,
		IsGuest:            o.IsGuest,
		TotalAmount:        numericToString(o.TotalAmount),
		MpesaReceiptNumber: textPtr(o.MpesaReceiptNumber),
		OrderedAt:          o.OrderedAt,
		ConfirmedAt:        timePtr(o.ConfirmedAt),
		ServedAt:           timePtr(o.ServedAt),
		ExpiresAt:          o.ExpiresAt,
	}
	for _, it := range items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:         it.ID,
			MenuItemID: it.DailyMenuItemID,
			FoodName:   it.FoodName,
			Quantity:   it.Quantity,
			UnitPrice:  numericToString(it.UnitPrice),
			Subtotal:   numericToString(it.Subtotal),
		})
	}
	if attempt != nil {
		resp.Payment = &paymentResponse{
			CheckoutRequestID:  attempt.CheckoutRequestID,
			Status:             string(attempt.Status),
			PhoneNumber:        attempt.PhoneNumber,
			Amount:             numericToString(attempt.Amount),
			MpesaReceiptNumber: textPtr(attempt.MpesaReceiptNumber),
			ResultDesc:         textPtr(attempt.ResultDesc),
			CreatedAt:          attempt.CreatedAt,
		}
	}
	return resp
}

func toStatusResponse(o database.Order) orderStatusResponse {
	return orderStatusResponse{
		OrderCode:          o.OrderCode,
		Status:             string(o.Status),
		IsPaid:             o.Status == database.OrderStatusConfirmed || o.Status == database.OrderStatusServed,
		MpesaReceiptNumber: textPtr(o.MpesaReceiptNumber),
		ExpiresAt:          o.ExpiresAt,
	}
}
