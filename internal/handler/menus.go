package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/muranga-mess/api/internal/middleware"
	"github.com/muranga-mess/api/internal/service"
)

// MenuServicer defines the menu methods needed by menu handlers.
// Satisfied by *service.MenuService.
type MenuServicer interface {
	PublishMenu(ctx context.Context, req service.PublishMenuRequest) (*service.MenuView, error)
	TodayMenus(ctx context.Context) ([]service.MenuView, error)
	Menu(ctx context.Context, id uuid.UUID) (*service.MenuView, error)
	ItemAvailability(ctx context.Context, stockID uuid.UUID) (*service.ItemStock, error)
	CurrentPeriod(ctx context.Context) (*service.PeriodStatus, bool, error)
}

// MenuHandler serves the public menu board and menu publishing.
type MenuHandler struct {
	menus MenuServicer
}

func NewMenuHandler(menus MenuServicer) *MenuHandler {
	return &MenuHandler{menus: menus}
}

// RegisterRoutes mounts the public menu endpoints.
func (h *MenuHandler) RegisterRoutes(r chi.Router) {
	r.Get("/menus/today", h.Today)
	r.Get("/menus/{id}", h.Get)
	r.Get("/menu-items/{id}/availability", h.Availability)
	r.Get("/meal-periods/current", h.CurrentPeriod)
}

// RegisterAdminRoutes mounts menu management. The caller applies auth.
func (h *MenuHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/menus", h.Publish)
}

type publishMenuRequest struct {
	MenuDate   string `json:"menu_date"`
	MealPeriod string `json:"meal_period"`
	Notes      string `json:"notes"`
	Publish    *bool  `json:"is_published"`
	Items      []struct {
		FoodItemID     string `json:"food_item_id"`
		BatchCount     int32  `json:"batch_count"`
		PlatesPerBatch int32  `json:"plates_per_batch"`
	} `json:"items"`
}

// Today handles GET /menus/today.
func (h *MenuHandler) Today(w http.ResponseWriter, r *http.Request) {
	menus, err := h.menus.TodayMenus(r.Context())
	if err != nil {
		writeServiceError(w, "list today's menus", err)
		return
	}
	writeJSON(w, http.StatusOK, menus)
}

func (h *MenuHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "invalid menu id")
	if !ok {
		return
	}
	menu, err := h.menus.Menu(r.Context(), id)
	if err != nil {
		writeServiceError(w, "get menu", err)
		return
	}
	writeJSON(w, http.StatusOK, menu)
}

// Availability handles GET /menu-items/{id}/availability.
func (h *MenuHandler) Availability(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "invalid menu item id")
	if !ok {
		return
	}
	stock, err := h.menus.ItemAvailability(r.Context(), id)
	if err != nil {
		writeServiceError(w, "item availability", err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

// CurrentPeriod handles GET /meal-periods/current. Outside every period the
// body is {"meal_period": null}.
func (h *MenuHandler) CurrentPeriod(w http.ResponseWriter, r *http.Request) {
	p, ok, err := h.menus.CurrentPeriod(r.Context())
	if err != nil {
		writeServiceError(w, "current meal period", err)
		return
	}
	if !ok {
		p = nil
	}
	writeJSON(w, http.StatusOK, map[string]*service.PeriodStatus{"meal_period": p})
}

// Publish handles POST /admin/menus.
func (h *MenuHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishMenuRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := service.PublishMenuRequest{
		Date:       req.MenuDate,
		MealPeriod: req.MealPeriod,
		Notes:      req.Notes,
		Publish:    req.Publish == nil || *req.Publish,
	}
	if staffID, ok := middleware.StaffID(r.Context()); ok {
		in.CreatedBy = staffID
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.MenuItemRequest{
			FoodItemID:     it.FoodItemID,
			BatchCount:     it.BatchCount,
			PlatesPerBatch: it.PlatesPerBatch,
		})
	}

	menu, err := h.menus.PublishMenu(r.Context(), in)
	if err != nil {
		writeServiceError(w, "publish menu", err)
		return
	}
	writeJSON(w, http.StatusCreated, menu)
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, msg)
		return uuid.Nil, false
	}
	return id, true
}
