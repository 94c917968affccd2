package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
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

const maxOrderCodeRetries = 3

var phonePattern = regexp.MustCompile(`^254\d{9}$`)

// PaymentInitiator starts the push payment for a freshly placed order.
type PaymentInitiator interface {
	Initiate(ctx context.Context, order database.Order) (database.PaymentAttempt, error)
}

// Selection is one cart line. Quantity 0 means 1.
type Selection struct {
	StockID  string
	Quantity int32
}

// PlaceOrderRequest is the checkout input: the cart and who is paying.
type PlaceOrderRequest struct {
	Selections         []Selection
	PayerPhone         string
	PayerName          string
	RegistrationNumber string
	StudentUserID      string // empty for guests
}

// OrderDetails is an order with its line items.
type OrderDetails struct {
	Order   database.Order
	Items   []database.OrderItem
	Attempt *database.PaymentAttempt
}

// PlaceOrderResult is a pending order whose payment prompt was sent.
type PlaceOrderResult struct {
	Order   database.Order
	Items   []database.OrderItem
	Attempt database.PaymentAttempt
}

// OrderService places, inspects and serves orders.
type OrderService struct {
	lifecycle
	gate     *mealtime.Gatekeeper
	payments PaymentInitiator
}

func NewOrderService(pool DB, newStore NewOrderStore, ledger *Ledger, gate *mealtime.Gatekeeper, payments PaymentInitiator, clk clock.Clock, opts ...Option) *OrderService {
	return &OrderService{
		lifecycle: newLifecycle(pool, newStore, ledger, clk, opts),
		gate:      gate,
		payments:  payments,
	}
}

// NewOrderCode returns 12 upper-case hex characters from a random UUID.
func NewOrderCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
}

type validSelection struct {
	stockID  uuid.UUID
	quantity int32
}

func validatePlaceOrder(req *PlaceOrderRequest) ([]validSelection, pgtype.UUID, error) {
	if len(req.Selections) == 0 {
		return nil, pgtype.UUID{}, ErrEmptyCart
	}
	req.PayerPhone = strings.TrimSpace(req.PayerPhone)
	req.PayerName = strings.TrimSpace(req.PayerName)
	req.RegistrationNumber = strings.ToUpper(strings.TrimSpace(req.RegistrationNumber))
	if req.PayerName == "" || req.RegistrationNumber == "" {
		return nil, pgtype.UUID{}, ErrMissingIdentity
	}
	if !phonePattern.MatchString(req.PayerPhone) {
		return nil, pgtype.UUID{}, ErrInvalidPhone
	}

	student := pgtype.UUID{}
	if req.StudentUserID != "" {
		id, err := uuid.Parse(req.StudentUserID)
		if err != nil {
			return nil, pgtype.UUID{}, ErrInvalidStudentID
		}
		student = pgtype.UUID{Bytes: id, Valid: true}
	}

	seen := make(map[uuid.UUID]bool, len(req.Selections))
	out := make([]validSelection, 0, len(req.Selections))
	for i, sel := range req.Selections {
		id, err := uuid.Parse(sel.StockID)
		if err != nil {
			return nil, pgtype.UUID{}, fmt.Errorf("item[%d]: %w", i, ErrInvalidStockID)
		}
		qty := sel.Quantity
		if qty == 0 {
			qty = 1
		}
		if qty != 1 {
			return nil, pgtype.UUID{}, fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity)
		}
		if seen[id] {
			return nil, pgtype.UUID{}, fmt.Errorf("item[%d]: %w", i, ErrDuplicateItem)
		}
		seen[id] = true
		out = append(out, validSelection{stockID: id, quantity: qty})
	}

	// Lock stock rows in a stable order so concurrent checkouts cannot deadlock.
	sort.Slice(out, func(i, j int) bool { return uuidLess(out[i].stockID, out[j].stockID) })
	return out, student, nil
}

// PlaceOrder reserves stock, creates a pending order and sends the payment
// prompt. If the prompt cannot be sent the order and its reservations are
// rolled back before returning.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	selections, student, err := validatePlaceOrder(&req)
	if err != nil {
		return nil, err
	}

	var (
		order database.Order
		items []database.OrderItem
	)
	for attempt := 0; attempt < maxOrderCodeRetries; attempt++ {
		order, items, err = s.placeOrderTx(ctx, req, selections, student)
		if err == nil || !isOrderCodeConflict(err) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	paymentAttempt, err := s.payments.Initiate(ctx, order)
	if err != nil {
		if rbErr := s.rollbackPlacement(context.WithoutCancel(ctx), order.ID); rbErr != nil {
			log.Printf("ERROR: roll back order %s after failed payment initiation: %v", order.OrderCode, rbErr)
		}
		if !errors.Is(err, ErrPaymentInitiationFailed) {
			err = fmt.Errorf("%w: %w", ErrPaymentInitiationFailed, err)
		}
		return nil, err
	}
	s.publish(order, order.OrderedAt)

	return &PlaceOrderResult{Order: order, Items: items, Attempt: paymentAttempt}, nil
}

// isOrderCodeConflict checks for a unique violation on the order code.
func isOrderCodeConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_order_code_key"
	}
	return false
}

func (s *OrderService) placeOrderTx(ctx context.Context, req PlaceOrderRequest, selections []validSelection, student pgtype.UUID) (database.Order, []database.OrderItem, error) {
	now := s.clock.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- Reserve stock ---
	rows := make([]database.MenuItemStockRow, 0, len(selections))
	total := decimal.Zero
	for _, sel := range selections {
		row, err := s.ledger.Reserve(ctx, store, sel.stockID, sel.quantity, now)
		if err != nil {
			return database.Order{}, nil, err
		}
		if len(rows) > 0 && row.DailyMenuID != rows[0].DailyMenuID {
			return database.Order{}, nil, ErrMixedMenus
		}
		rows = append(rows, row)
		total = total.Add(numericToDecimal(row.PricePerPlate).Mul(decimal.NewFromInt32(sel.quantity)))
	}

	// --- Insert order ---
	first := rows[0]
	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		OrderCode:          NewOrderCode(),
		DailyMenuID:        first.DailyMenuID,
		StudentUserID:      student,
		RegistrationNumber: req.RegistrationNumber,
		PayerName:          req.PayerName,
		PayerPhone:         req.PayerPhone,
		IsGuest:            !student.Valid,
		TotalAmount:        decimalToNumeric(total),
		OrderedAt:          now,
		ExpiresAt:          s.gate.ServingEnd(first.MenuDate.Time, periodFromStock(first)),
	})
	if err != nil {
		return database.Order{}, nil, fmt.Errorf("create order: %w", err)
	}

	// --- Insert items ---
	items := make([]database.OrderItem, 0, len(rows))
	for i, row := range rows {
		price := numericToDecimal(row.PricePerPlate)
		qty := selections[i].quantity
		item, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
			OrderID:         order.ID,
			DailyMenuItemID: row.ID,
			FoodItemID:      row.FoodItemID,
			FoodName:        row.FoodName,
			Quantity:        qty,
			UnitPrice:       decimalToNumeric(price),
			Subtotal:        decimalToNumeric(price.Mul(decimal.NewFromInt32(qty))),
		})
		if err != nil {
			return database.Order{}, nil, fmt.Errorf("create order item: %w", err)
		}
		items = append(items, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, nil, fmt.Errorf("commit tx: %w", err)
	}
	return order, items, nil
}

// rollbackPlacement undoes a placement whose payment prompt failed. The order
// was never announced, so nothing is published.
func (s *OrderService) rollbackPlacement(ctx context.Context, orderID uuid.UUID) error {
	now := s.clock.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return fmt.Errorf("lock order: %w", err)
	}
	if order.Status != database.OrderStatusPending {
		return nil
	}
	if _, err := s.ledger.ReleaseOrder(ctx, store, order.ID, now); err != nil {
		return err
	}
	if err := store.DeleteOrder(ctx, order.ID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CheckStatus returns the order, expiring it first if its deadline passed.
func (s *OrderService) CheckStatus(ctx context.Context, code string) (database.Order, error) {
	order, err := s.newStore(s.pool).GetOrderByCode(ctx, normalizeCode(code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	if expirable(order, s.clock.Now()) {
		order, _, err = s.expire(ctx, order.ID)
		if err != nil {
			return database.Order{}, err
		}
	}
	return order, nil
}

// LookupOrder is CheckStatus plus line items and the latest payment attempt.
func (s *OrderService) LookupOrder(ctx context.Context, code string) (*OrderDetails, error) {
	order, err := s.CheckStatus(ctx, code)
	if err != nil {
		return nil, err
	}
	store := s.newStore(s.pool)
	items, err := store.ListOrderItemsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	details := &OrderDetails{Order: order, Items: items}
	attempt, err := store.GetLatestAttemptByOrder(ctx, order.ID)
	switch {
	case err == nil:
		details.Attempt = &attempt
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get payment attempt: %w", err)
	}
	return details, nil
}

// ServeOrder hands a paid order over at the counter.
func (s *OrderService) ServeOrder(ctx context.Context, code string, staffID uuid.UUID) (database.Order, error) {
	now := s.clock.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	order, err := store.GetOrderByCodeForUpdate(ctx, normalizeCode(code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("lock order: %w", err)
	}

	switch {
	case order.Status == database.OrderStatusServed:
		return order, ErrAlreadyServed
	case order.Status == database.OrderStatusExpired:
		return order, ErrOrderExpired
	case expirable(order, now):
		expired, err := expireLocked(ctx, store, s.ledger, order, now)
		if err != nil {
			return database.Order{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return database.Order{}, fmt.Errorf("commit tx: %w", err)
		}
		s.publish(expired, now)
		return expired, ErrOrderExpired
	case order.Status != database.OrderStatusConfirmed:
		return order, ErrNotConfirmed
	}

	menu, err := store.GetDailyMenuWithPeriod(ctx, order.DailyMenuID)
	if err != nil {
		return database.Order{}, fmt.Errorf("get menu: %w", err)
	}
	m := menuFromRow(menu)
	if !s.gate.Today(now).Equal(m.Date) || !s.gate.IsServingTime(m.Period, now) {
		return order, ErrOutsideServingWindow
	}

	served, err := store.ServeOrder(ctx, database.ServeOrderParams{ID: order.ID, ServedBy: staffID, ServedAt: now})
	if err != nil {
		return database.Order{}, fmt.Errorf("serve order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}
	s.publish(served, now)
	return served, nil
}

// ListMenuOrders pages through the orders of one daily menu, newest first.
func (s *OrderService) ListMenuOrders(ctx context.Context, menuID uuid.UUID, status string, limit, offset int32) ([]database.Order, error) {
	limit, offset = page(limit, offset)
	orders, err := s.newStore(s.pool).ListOrdersByMenu(ctx, database.ListOrdersByMenuParams{
		DailyMenuID: menuID,
		Status:      textOrNull(status),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// OrderHistory lists the orders placed under one registration number, newest
// first.
func (s *OrderService) OrderHistory(ctx context.Context, registration string, limit, offset int32) ([]database.Order, error) {
	registration = strings.ToUpper(strings.TrimSpace(registration))
	if registration == "" {
		return nil, ErrMissingRegNumber
	}
	limit, offset = page(limit, offset)
	orders, err := s.newStore(s.pool).ListOrdersByRegistration(ctx, database.ListOrdersByRegistrationParams{
		RegistrationNumber: registration,
		Limit:              limit,
		Offset:             offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list orders by registration: %w", err)
	}
	return orders, nil
}

func page(limit, offset int32) (int32, int32) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// StatusCount is the number and value of a menu's orders in one status.
type StatusCount struct {
	Status database.OrderStatus `json:"status"`
	Count  int64                `json:"count"`
	Amount decimal.Decimal      `json:"amount"`
}

// ItemStock is the plate position of one menu item.
type ItemStock struct {
	StockID   uuid.UUID `json:"stock_id"`
	FoodName  string    `json:"food_name"`
	Total     int32     `json:"total_plates"`
	Reserved  int32     `json:"reserved_plates"`
	Available int32     `json:"available_plates"`
	Enabled   bool      `json:"is_enabled"`
}

// MenuSummary is the staff dashboard for one daily menu.
type MenuSummary struct {
	MenuID   uuid.UUID       `json:"menu_id"`
	Period   string          `json:"meal_period"`
	Date     time.Time       `json:"menu_date"`
	Statuses []StatusCount   `json:"statuses"`
	Revenue  decimal.Decimal `json:"revenue"`
	Items    []ItemStock     `json:"items"`
}

func (s *OrderService) MenuSummary(ctx context.Context, menuID uuid.UUID) (*MenuSummary, error) {
	store := s.newStore(s.pool)
	menu, err := store.GetDailyMenuWithPeriod(ctx, menuID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMenuNotFound
		}
		return nil, fmt.Errorf("get menu: %w", err)
	}
	counts, err := store.CountOrdersByStatus(ctx, menuID)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	stock, err := store.ListMenuItemStockByMenu(ctx, menuID)
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}

	sum := &MenuSummary{MenuID: menu.ID, Period: menu.PeriodName, Date: menu.MenuDate.Time, Revenue: decimal.Zero}
	for _, c := range counts {
		amt := numericToDecimal(c.TotalAmount)
		sum.Statuses = append(sum.Statuses, StatusCount{Status: c.Status, Count: c.OrderCount, Amount: amt})
		if c.Status == database.OrderStatusConfirmed || c.Status == database.OrderStatusServed {
			sum.Revenue = sum.Revenue.Add(amt)
		}
	}
	for _, row := range stock {
		sum.Items = append(sum.Items, stockView(row))
	}
	return sum, nil
}

func stockView(row database.MenuItemStockRow) ItemStock {
	return ItemStock{
		StockID:   row.ID,
		FoodName:  row.FoodName,
		Total:     row.TotalPlates,
		Reserved:  row.ReservedPlates,
		Available: Available(row.TotalPlates, row.ReservedPlates),
		Enabled:   Enabled(row),
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
