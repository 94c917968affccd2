package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/muranga-mess/api/internal/clock"
	"github.com/muranga-mess/api/internal/database"
	"github.com/muranga-mess/api/internal/mealtime"
	"github.com/shopspring/decimal"
)

// MaxPlatesPerItem bounds batch count x plates per batch for one dish.
const MaxPlatesPerItem = 10000

// MenuItemRequest is one dish on a menu being published.
type MenuItemRequest struct {
	FoodItemID     string
	BatchCount     int32
	PlatesPerBatch int32
}

// PublishMenuRequest creates a daily menu for one date and meal period.
type PublishMenuRequest struct {
	Date       string // YYYY-MM-DD
	MealPeriod string
	Notes      string
	Publish    bool
	CreatedBy  uuid.UUID
	Items      []MenuItemRequest
}

// MenuItemView is a menu item as the checkout page shows it.
type MenuItemView struct {
	ItemStock
	FoodItemID    uuid.UUID       `json:"food_item_id"`
	PricePerPlate decimal.Decimal `json:"price_per_plate"`
}

// MenuView is a daily menu with its items and current window state.
type MenuView struct {
	ID           uuid.UUID      `json:"id"`
	Date         string         `json:"menu_date"`
	MealPeriod   string         `json:"meal_period"`
	Notes        string         `json:"notes,omitempty"`
	OrderingOpen bool           `json:"is_ordering_open"`
	ServingTime  bool           `json:"is_serving_time"`
	OrderingEnd  string         `json:"ordering_end_time"`
	ServingEnd   string         `json:"serving_end_time"`
	Items        []MenuItemView `json:"items"`
}

// PeriodStatus describes the meal period in progress.
type PeriodStatus struct {
	Name         string `json:"period_name"`
	OrderingOpen bool   `json:"is_ordering_open"`
	ServingTime  bool   `json:"is_serving_time"`
	OrderingEnd  string `json:"ordering_end_time"`
}

// MenuService publishes daily menus and answers availability queries.
type MenuService struct {
	pool     DB
	newStore NewMenuStore
	gate     *mealtime.Gatekeeper
	clock    clock.Clock
}

func NewMenuService(pool DB, newStore NewMenuStore, gate *mealtime.Gatekeeper, clk clock.Clock) *MenuService {
	return &MenuService{pool: pool, newStore: newStore, gate: gate, clock: clk}
}

// PublishMenu creates a daily menu and one stock row per dish with
// batch count x plates per batch plates.
func (s *MenuService) PublishMenu(ctx context.Context, req PublishMenuRequest) (*MenuView, error) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, ErrInvalidMenuDate
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}
	foodIDs := make([]uuid.UUID, len(req.Items))
	seen := make(map[uuid.UUID]bool, len(req.Items))
	for i, it := range req.Items {
		id, err := uuid.Parse(it.FoodItemID)
		if err != nil {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidFoodItemID)
		}
		if seen[id] {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrDuplicateItem)
		}
		if it.BatchCount < 1 || it.PlatesPerBatch < 1 {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidBatch)
		}
		if int64(it.BatchCount)*int64(it.PlatesPerBatch) > MaxPlatesPerItem {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrTooManyPlates)
		}
		seen[id] = true
		foodIDs[i] = id
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	period, err := store.GetMealPeriodByName(ctx, req.MealPeriod)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMealPeriodNotFound
		}
		return nil, fmt.Errorf("get meal period: %w", err)
	}
	if err := periodFromModel(period).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	createdBy := pgtype.UUID{}
	if req.CreatedBy != uuid.Nil {
		createdBy = pgtype.UUID{Bytes: req.CreatedBy, Valid: true}
	}
	menu, err := store.CreateDailyMenu(ctx, database.CreateDailyMenuParams{
		MenuDate:     pgtype.Date{Time: date, Valid: true},
		MealPeriodID: period.ID,
		IsPublished:  req.Publish,
		Notes:        textOrNull(req.Notes),
		CreatedBy:    createdBy,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrMenuExists
		}
		return nil, fmt.Errorf("create menu: %w", err)
	}

	for i, it := range req.Items {
		food, err := store.GetFoodItem(ctx, foodIDs[i])
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("item[%d]: %w", i, ErrFoodItemNotFound)
			}
			return nil, fmt.Errorf("get food item: %w", err)
		}
		if !food.IsActive {
			return nil, fmt.Errorf("item[%d] %s: %w", i, food.Name, ErrFoodItemNotFound)
		}
		total := it.BatchCount * it.PlatesPerBatch
		if _, err := store.CreateDailyMenuItem(ctx, database.CreateDailyMenuItemParams{
			DailyMenuID:    menu.ID,
			FoodItemID:     food.ID,
			BatchCount:     it.BatchCount,
			PlatesPerBatch: it.PlatesPerBatch,
			TotalPlates:    total,
			SoldOut:        total == 0,
		}); err != nil {
			return nil, fmt.Errorf("create menu item: %w", err)
		}
	}

	view, err := s.menuView(ctx, store, menu.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return view, nil
}

// TodayMenus lists the published menus for today's local date.
func (s *MenuService) TodayMenus(ctx context.Context) ([]MenuView, error) {
	store := s.newStore(s.pool)
	today := s.gate.Today(s.clock.Now())
	menus, err := store.ListPublishedMenusByDate(ctx, pgtype.Date{Time: today, Valid: true})
	if err != nil {
		return nil, fmt.Errorf("list menus: %w", err)
	}
	views := make([]MenuView, 0, len(menus))
	for _, m := range menus {
		v, err := s.menuView(ctx, store, m.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// Menu returns a single daily menu.
func (s *MenuService) Menu(ctx context.Context, id uuid.UUID) (*MenuView, error) {
	return s.menuView(ctx, s.newStore(s.pool), id)
}

func (s *MenuService) menuView(ctx context.Context, store MenuStore, id uuid.UUID) (*MenuView, error) {
	row, err := store.GetDailyMenuWithPeriod(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMenuNotFound
		}
		return nil, fmt.Errorf("get menu: %w", err)
	}
	stock, err := store.ListMenuItemStockByMenu(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}

	now := s.clock.Now()
	m := menuFromRow(row)
	v := &MenuView{
		ID:           row.ID,
		Date:         row.MenuDate.Time.Format("2006-01-02"),
		MealPeriod:   row.PeriodName,
		Notes:        row.Notes.String,
		OrderingOpen: s.gate.OrderingAllowed(m, now),
		ServingTime:  s.gate.Today(now).Equal(m.Date) && s.gate.IsServingTime(m.Period, now),
		OrderingEnd:  m.Period.Ordering.End.String(),
		ServingEnd:   m.Period.Serving.End.String(),
		Items:        make([]MenuItemView, 0, len(stock)),
	}
	for _, r := range stock {
		v.Items = append(v.Items, MenuItemView{
			ItemStock:     stockView(r),
			FoodItemID:    r.FoodItemID,
			PricePerPlate: numericToDecimal(r.PricePerPlate),
		})
	}
	return v, nil
}

// ItemAvailability reports the live plate count of one menu item.
func (s *MenuService) ItemAvailability(ctx context.Context, stockID uuid.UUID) (*ItemStock, error) {
	row, err := s.newStore(s.pool).GetMenuItemStock(ctx, stockID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMenuItemNotFound
		}
		return nil, fmt.Errorf("get stock: %w", err)
	}
	v := stockView(row)
	return &v, nil
}

// CurrentPeriod finds the active meal period whose overall window contains now.
func (s *MenuService) CurrentPeriod(ctx context.Context) (*PeriodStatus, bool, error) {
	periods, err := s.newStore(s.pool).ListActiveMealPeriods(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("list meal periods: %w", err)
	}
	candidates := make([]mealtime.Period, 0, len(periods))
	for _, p := range periods {
		candidates = append(candidates, periodFromModel(p))
	}

	now := s.clock.Now()
	p, ok := s.gate.Current(candidates, now)
	if !ok {
		return nil, false, nil
	}
	return &PeriodStatus{
		Name:         p.Name,
		OrderingOpen: s.gate.IsOrderingOpen(p, now),
		ServingTime:  s.gate.IsServingTime(p, now),
		OrderingEnd:  p.Ordering.End.String(),
	}, true, nil
}
