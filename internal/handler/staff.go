package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/muranga-mess/api/internal/database"
	"github.com/muranga-mess/api/internal/middleware"
	"github.com/muranga-mess/api/internal/service"
)

// CounterServicer defines the order methods used at the serving counter.
// Satisfied by *service.OrderService.
type CounterServicer interface {
	LookupOrder(ctx context.Context, code string) (*service.OrderDetails, error)
	ServeOrder(ctx context.Context, code string, staffID uuid.UUID) (database.Order, error)
	ListMenuOrders(ctx context.Context, menuID uuid.UUID, status string, limit, offset int32) ([]database.Order, error)
	OrderHistory(ctx context.Context, registration string, limit, offset int32) ([]database.Order, error)
	MenuSummary(ctx context.Context, menuID uuid.UUID) (*service.MenuSummary, error)
}

// StaffHandler serves the counter and kitchen screens.
type StaffHandler struct {
	orders CounterServicer
}

func NewStaffHandler(orders CounterServicer) *StaffHandler {
	return &StaffHandler{orders: orders}
}

// RegisterRoutes mounts the staff endpoints. The caller applies auth.
func (h *StaffHandler) RegisterRoutes(r chi.Router) {
	r.Get("/orders", h.History)
	r.Get("/orders/{code}", h.GetOrder)
	r.Post("/orders/{code}/serve", h.Serve)
	r.Get("/menus/{id}/orders", h.ListOrders)
	r.Get("/menus/{id}/summary", h.Summary)
}

// GetOrder handles GET /staff/orders/{code}, the lookup after scanning a code.
func (h *StaffHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	d, err := h.orders.LookupOrder(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, "lookup order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(d.Order, d.Items, d.Attempt))
}

// Serve handles POST /staff/orders/{code}/serve.
func (h *StaffHandler) Serve(w http.ResponseWriter, r *http.Request) {
	staffID, ok := middleware.StaffID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	o, err := h.orders.ServeOrder(r.Context(), chi.URLParam(r, "code"), staffID)
	if err != nil {
		writeServiceError(w, "serve order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o, nil, nil))
}

// ListOrders handles GET /staff/menus/{id}/orders?status=&limit=&offset=.
func (h *StaffHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	menuID, ok := parseUUIDParam(w, r, "id", "invalid menu id")
	if !ok {
		return
	}

	q := r.URL.Query()
	status := q.Get("status")
	switch database.OrderStatus(status) {
	case "", database.OrderStatusPending, database.OrderStatusConfirmed, database.OrderStatusServed,
		database.OrderStatusExpired, database.OrderStatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListMenuOrders(r.Context(), menuID, status, limit, offset)
	if err != nil {
		writeServiceError(w, "list menu orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

// History handles GET /staff/orders?registration_number=&limit=&offset=, a
// student's past orders.
func (h *StaffHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.OrderHistory(r.Context(), r.URL.Query().Get("registration_number"), limit, offset)
	if err != nil {
		writeServiceError(w, "order history", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

func toOrderList(orders []database.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o, nil, nil))
	}
	return resp
}

func pageParams(w http.ResponseWriter, r *http.Request) (limit, offset int32, ok bool) {
	q := r.URL.Query()
	limit, err := queryInt32(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return 0, 0, false
	}
	offset, err = queryInt32(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return 0, 0, false
	}
	return limit, offset, true
}

// Summary handles GET /staff/menus/{id}/summary.
func (h *StaffHandler) Summary(w http.ResponseWriter, r *http.Request) {
	menuID, ok := parseUUIDParam(w, r, "id", "invalid menu id")
	if !ok {
		return
	}
	sum, err := h.orders.MenuSummary(r.Context(), menuID)
	if err != nil {
		writeServiceError(w, "menu summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func queryInt32(s string) (int32, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	return int32(n), err
}
