package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/muranga-mess/api/internal/clock"
	"github.com/muranga-mess/api/internal/database"
	"github.com/muranga-mess/api/internal/mealtime"
	"github.com/muranga-mess/api/internal/mpesa"
	"github.com/shopspring/decimal"
)

// --- fakeDB: an in-memory store with per-row locks ---

// fakeDB keeps rows in maps. Rows read "for update" are locked until the
// owning fakeTx commits or rolls back; rollback replays an undo journal.
type fakeDB struct {
	mu       sync.Mutex
	locks    map[uuid.UUID]*sync.Mutex
	stock    map[uuid.UUID]*database.MenuItemStockRow
	menus    map[uuid.UUID]database.DailyMenuWithPeriodRow
	periods  map[string]database.MealPeriod
	foods    map[uuid.UUID]database.FoodItem
	orders   map[uuid.UUID]*database.Order
	items    map[uuid.UUID]*database.OrderItem
	attempts map[uuid.UUID]*database.PaymentAttempt
	seq      int64
	beginErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		locks:    make(map[uuid.UUID]*sync.Mutex),
		stock:    make(map[uuid.UUID]*database.MenuItemStockRow),
		menus:    make(map[uuid.UUID]database.DailyMenuWithPeriodRow),
		periods:  make(map[string]database.MealPeriod),
		foods:    make(map[uuid.UUID]database.FoodItem),
		orders:   make(map[uuid.UUID]*database.Order),
		items:    make(map[uuid.UUID]*database.OrderItem),
		attempts: make(map[uuid.UUID]*database.PaymentAttempt),
	}
}

func (db *fakeDB) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (db *fakeDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	panic("not implemented")
}
func (db *fakeDB) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	panic("not implemented")
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return &fakeTx{db: db, held: make(map[uuid.UUID]bool)}, nil
}

func (db *fakeDB) rowLock(id uuid.UUID) *sync.Mutex {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.locks[id]
	if !ok {
		m = &sync.Mutex{}
		db.locks[id] = m
	}
	return m
}

func (db *fakeDB) next() int64 {
	db.seq++
	return db.seq
}

// fakeTx implements pgx.Tx. Unused methods panic so accidental calls surface.
type fakeTx struct {
	db    *fakeDB
	held  map[uuid.UUID]bool
	order []uuid.UUID
	undo  []func()
	done  bool
}

func (tx *fakeTx) lock(id uuid.UUID) {
	if tx.held[id] {
		return
	}
	tx.db.rowLock(id).Lock()
	tx.held[id] = true
	tx.order = append(tx.order, id)
}

func (tx *fakeTx) finish(rollback bool) {
	if tx.done {
		return
	}
	tx.done = true
	if rollback {
		tx.db.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		tx.db.mu.Unlock()
	}
	for _, id := range tx.order {
		tx.db.rowLock(id).Unlock()
	}
}

func (tx *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (tx *fakeTx) Commit(ctx context.Context) error          { tx.finish(false); return nil }
func (tx *fakeTx) Rollback(ctx context.Context) error        { tx.finish(true); return nil }
func (tx *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (tx *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (tx *fakeTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (tx *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (tx *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (tx *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (tx *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (tx *fakeTx) Conn() *pgx.Conn { panic("not implemented") }

// fakeStore implements PaymentStore and MenuStore over a fakeDB, optionally
// bound to a transaction.
type fakeStore struct {
	db *fakeDB
	tx *fakeTx
}

func (db *fakeDB) store(dbtx database.DBTX) *fakeStore {
	tx, _ := dbtx.(*fakeTx)
	return &fakeStore{db: db, tx: tx}
}

func (db *fakeDB) orderStore(dbtx database.DBTX) OrderStore     { return db.store(dbtx) }
func (db *fakeDB) paymentStore(dbtx database.DBTX) PaymentStore { return db.store(dbtx) }
func (db *fakeDB) menuStore(dbtx database.DBTX) MenuStore       { return db.store(dbtx) }

// journal records an undo step. Callers hold db.mu.
func (s *fakeStore) journal(fn func()) {
	if s.tx != nil {
		s.tx.undo = append(s.tx.undo, fn)
	}
}

func (s *fakeStore) lock(id uuid.UUID) {
	if s.tx != nil {
		s.tx.lock(id)
	}
}

// --- LedgerStore ---

func (s *fakeStore) GetMenuItemStock(ctx context.Context, id uuid.UUID) (database.MenuItemStockRow, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.stock[id]
	if !ok {
		return database.MenuItemStockRow{}, pgx.ErrNoRows
	}
	return *r, nil
}

func (s *fakeStore) GetMenuItemStockForUpdate(ctx context.Context, id uuid.UUID) (database.MenuItemStockRow, error) {
	s.lock(id)
	return s.GetMenuItemStock(ctx, id)
}

func (s *fakeStore) UpdateMenuItemReservation(ctx context.Context, arg database.UpdateMenuItemReservationParams) (database.DailyMenuItem, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.stock[arg.ID]
	if !ok {
		return database.DailyMenuItem{}, pgx.ErrNoRows
	}
	if arg.ReservedPlates < 0 || arg.ReservedPlates > r.TotalPlates {
		return database.DailyMenuItem{}, &pgconn.PgError{Code: "23514", Message: "reserved_plates out of range"}
	}
	prev := *r
	s.journal(func() { *r = prev })
	r.ReservedPlates = arg.ReservedPlates
	r.SoldOut = arg.SoldOut
	return database.DailyMenuItem{
		ID:             r.ID,
		DailyMenuID:    r.DailyMenuID,
		FoodItemID:     r.FoodItemID,
		TotalPlates:    r.TotalPlates,
		ReservedPlates: r.ReservedPlates,
		IsAvailable:    r.IsAvailable,
		SoldOut:        r.SoldOut,
	}, nil
}

func (s *fakeStore) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []database.OrderItem
	for _, it := range s.db.items {
		if it.OrderID == orderID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FoodName < out[j].FoodName })
	return out, nil
}

func (s *fakeStore) MarkOrderItemReleased(ctx context.Context, arg database.MarkOrderItemReleasedParams) (database.OrderItem, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	it, ok := s.db.items[arg.ID]
	if !ok || it.ReleasedAt.Valid {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	prev := *it
	s.journal(func() { *it = prev })
	it.ReleasedAt = timestamptz(arg.ReleasedAt)
	return *it, nil
}

// --- OrderStore ---

func (s *fakeStore) GetDailyMenuWithPeriod(ctx context.Context, id uuid.UUID) (database.DailyMenuWithPeriodRow, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.menus[id]
	if !ok {
		return database.DailyMenuWithPeriodRow{}, pgx.ErrNoRows
	}
	return m, nil
}

func (s *fakeStore) ListMenuItemStockByMenu(ctx context.Context, menuID uuid.UUID) ([]database.MenuItemStockRow, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []database.MenuItemStockRow
	for _, r := range s.db.stock {
		if r.DailyMenuID == menuID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FoodName < out[j].FoodName })
	return out, nil
}

func (s *fakeStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o := &database.Order{
		ID:                 uuid.New(),
		OrderCode:          arg.OrderCode,
		DailyMenuID:        arg.DailyMenuID,
		StudentUserID:      arg.StudentUserID,
		RegistrationNumber: arg.RegistrationNumber,
		PayerName:          arg.PayerName,
		PayerPhone:         arg.PayerPhone,
		IsGuest:            arg.IsGuest,
		TotalAmount:        arg.TotalAmount,
		Status:             database.OrderStatusPending,
		OrderedAt:          arg.OrderedAt,
		ExpiresAt:          arg.ExpiresAt,
		UpdatedAt:          arg.OrderedAt,
	}
	s.db.orders[o.ID] = o
	s.journal(func() { delete(s.db.orders, o.ID) })
	return *o, nil
}

func (s *fakeStore) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	it := &database.OrderItem{
		ID:              uuid.New(),
		OrderID:         arg.OrderID,
		DailyMenuItemID: arg.DailyMenuItemID,
		FoodItemID:      arg.FoodItemID,
		FoodName:        arg.FoodName,
		Quantity:        arg.Quantity,
		UnitPrice:       arg.UnitPrice,
		Subtotal:        arg.Subtotal,
	}
	s.db.items[it.ID] = it
	s.journal(func() { delete(s.db.items, it.ID) })
	return *it, nil
}

func (s *fakeStore) findOrderID(code string) (uuid.UUID, bool) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for id, o := range s.db.orders {
		if o.OrderCode == code {
			return id, true
		}
	}
	return uuid.Nil, false
}

func (s *fakeStore) getOrder(id uuid.UUID) (database.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	return *o, nil
}

func (s *fakeStore) GetOrderByCode(ctx context.Context, code string) (database.Order, error) {
	id, ok := s.findOrderID(code)
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	return s.getOrder(id)
}

func (s *fakeStore) GetOrderByCodeForUpdate(ctx context.Context, code string) (database.Order, error) {
	id, ok := s.findOrderID(code)
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	s.lock(id)
	return s.getOrder(id)
}

func (s *fakeStore) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error) {
	s.lock(id)
	return s.getOrder(id)
}

// transition applies fn to an order whose status is one of from.
func (s *fakeStore) transition(id uuid.UUID, from []database.OrderStatus, fn func(o *database.Order)) (database.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	allowed := false
	for _, st := range from {
		if o.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return database.Order{}, pgx.ErrNoRows
	}
	prev := *o
	s.journal(func() { *o = prev })
	fn(o)
	return *o, nil
}

func (s *fakeStore) ConfirmOrder(ctx context.Context, arg database.ConfirmOrderParams) (database.Order, error) {
	return s.transition(arg.ID, []database.OrderStatus{database.OrderStatusPending}, func(o *database.Order) {
		o.Status = database.OrderStatusConfirmed
		o.MpesaReceiptNumber = arg.MpesaReceiptNumber
		o.MpesaCheckoutRequestID = arg.MpesaCheckoutRequestID
		o.PaymentDate = timestamptz(arg.ConfirmedAt)
		o.ConfirmedAt = timestamptz(arg.ConfirmedAt)
		o.UpdatedAt = arg.ConfirmedAt
	})
}

func (s *fakeStore) CancelOrder(ctx context.Context, arg database.CancelOrderParams) (database.Order, error) {
	return s.transition(arg.ID, []database.OrderStatus{database.OrderStatusPending}, func(o *database.Order) {
		o.Status = database.OrderStatusCancelled
		o.CancelledAt = timestamptz(arg.CancelledAt)
		o.UpdatedAt = arg.CancelledAt
	})
}

func (s *fakeStore) ExpireOrder(ctx context.Context, arg database.ExpireOrderParams) (database.Order, error) {
	from := []database.OrderStatus{database.OrderStatusPending, database.OrderStatusConfirmed}
	return s.transition(arg.ID, from, func(o *database.Order) {
		o.Status = database.OrderStatusExpired
		o.ExpiredAt = timestamptz(arg.ExpiredAt)
		o.UpdatedAt = arg.ExpiredAt
	})
}

func (s *fakeStore) ServeOrder(ctx context.Context, arg database.ServeOrderParams) (database.Order, error) {
	return s.transition(arg.ID, []database.OrderStatus{database.OrderStatusConfirmed}, func(o *database.Order) {
		o.Status = database.OrderStatusServed
		o.ServedAt = timestamptz(arg.ServedAt)
		o.ServedBy = pgtype.UUID{Bytes: arg.ServedBy, Valid: true}
		o.UpdatedAt = arg.ServedAt
	})
}

func (s *fakeStore) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok || o.Status != database.OrderStatusPending {
		return nil
	}
	delete(s.db.orders, id)
	removed := map[uuid.UUID]*database.OrderItem{}
	for itemID, it := range s.db.items {
		if it.OrderID == id {
			removed[itemID] = it
			delete(s.db.items, itemID)
		}
	}
	s.journal(func() {
		s.db.orders[id] = o
		for itemID, it := range removed {
			s.db.items[itemID] = it
		}
	})
	return nil
}

func (s *fakeStore) ListExpirableOrders(ctx context.Context, arg database.ListExpirableOrdersParams) ([]database.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []database.Order
	for _, o := range s.db.orders {
		if (o.Status == database.OrderStatusPending || o.Status == database.OrderStatusConfirmed) && o.ExpiresAt.Before(arg.Now) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > int(arg.Limit) {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (s *fakeStore) ListOrdersByMenu(ctx context.Context, arg database.ListOrdersByMenuParams) ([]database.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []database.Order
	for _, o := range s.db.orders {
		if o.DailyMenuID != arg.DailyMenuID {
			continue
		}
		if arg.Status.Valid && string(o.Status) != arg.Status.String {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderedAt.After(out[j].OrderedAt) })
	if int(arg.Offset) >= len(out) {
		return nil, nil
	}
	out = out[arg.Offset:]
	if len(out) > int(arg.Limit) {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (s *fakeStore) ListOrdersByRegistration(ctx context.Context, arg database.ListOrdersByRegistrationParams) ([]database.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []database.Order
	for _, o := range s.db.orders {
		if o.RegistrationNumber == arg.RegistrationNumber {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderedAt.After(out[j].OrderedAt) })
	if int(arg.Offset) >= len(out) {
		return nil, nil
	}
	out = out[arg.Offset:]
	if len(out) > int(arg.Limit) {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (s *fakeStore) CountOrdersByStatus(ctx context.Context, menuID uuid.UUID) ([]database.CountOrdersByStatusRow, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	counts := map[database.OrderStatus]int64{}
	sums := map[database.OrderStatus]decimal.Decimal{}
	for _, o := range s.db.orders {
		if o.DailyMenuID != menuID {
			continue
		}
		counts[o.Status]++
		sums[o.Status] = sums[o.Status].Add(numericToDecimal(o.TotalAmount))
	}
	var out []database.CountOrdersByStatusRow
	for st, n := range counts {
		out = append(out, database.CountOrdersByStatusRow{Status: st, OrderCount: n, TotalAmount: decimalToNumeric(sums[st])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (s *fakeStore) GetLatestAttemptByOrder(ctx context.Context, orderID uuid.UUID) (database.PaymentAttempt, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var latest *database.PaymentAttempt
	for _, a := range s.db.attempts {
		if a.OrderID == orderID && (latest == nil || a.CreatedAt.After(latest.CreatedAt)) {
			latest = a
		}
	}
	if latest == nil {
		return database.PaymentAttempt{}, pgx.ErrNoRows
	}
	return *latest, nil
}

// --- PaymentStore ---

func (s *fakeStore) CreatePaymentAttempt(ctx context.Context, arg database.CreatePaymentAttemptParams) (database.PaymentAttempt, error) {
	// pgx fails queries on a cancelled context.
	if err := ctx.Err(); err != nil {
		return database.PaymentAttempt{}, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, a := range s.db.attempts {
		if a.OrderID == arg.OrderID && !a.Status.Terminal() {
			return database.PaymentAttempt{}, &pgconn.PgError{Code: "23505", ConstraintName: "payment_attempts_one_live_per_order"}
		}
	}
	a := &database.PaymentAttempt{
		ID:                uuid.New(),
		OrderID:           arg.OrderID,
		MerchantRequestID: arg.MerchantRequestID,
		CheckoutRequestID: arg.CheckoutRequestID,
		PhoneNumber:       arg.PhoneNumber,
		Amount:            arg.Amount,
		Status:            database.PaymentStatusPending,
		CreatedAt:         time.Unix(s.db.next(), 0),
	}
	s.db.attempts[a.ID] = a
	s.journal(func() { delete(s.db.attempts, a.ID) })
	return *a, nil
}

func (s *fakeStore) GetPaymentAttemptByCheckoutIDForUpdate(ctx context.Context, checkoutID string) (database.PaymentAttempt, error) {
	s.db.mu.Lock()
	var id uuid.UUID
	for aid, a := range s.db.attempts {
		if a.CheckoutRequestID == checkoutID {
			id = aid
		}
	}
	s.db.mu.Unlock()
	if id == uuid.Nil {
		return database.PaymentAttempt{}, pgx.ErrNoRows
	}
	s.lock(id)
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return *s.db.attempts[id], nil
}

func (s *fakeStore) settleAttempt(id uuid.UUID, fn func(a *database.PaymentAttempt)) (database.PaymentAttempt, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.attempts[id]
	if !ok || a.Status.Terminal() {
		return database.PaymentAttempt{}, pgx.ErrNoRows
	}
	prev := *a
	s.journal(func() { *a = prev })
	fn(a)
	return *a, nil
}

func (s *fakeStore) CompletePaymentAttempt(ctx context.Context, arg database.CompletePaymentAttemptParams) (database.PaymentAttempt, error) {
	return s.settleAttempt(arg.ID, func(a *database.PaymentAttempt) {
		a.Status = database.PaymentStatusCompleted
		a.MpesaReceiptNumber = arg.MpesaReceiptNumber
		a.TransactionDate = arg.TransactionDate
		a.ResultCode = textOrNull(arg.ResultCode)
		a.ResultDesc = textOrNull(arg.ResultDesc)
		a.UpdatedAt = arg.UpdatedAt
	})
}

func (s *fakeStore) FailPaymentAttempt(ctx context.Context, arg database.FailPaymentAttemptParams) (database.PaymentAttempt, error) {
	return s.settleAttempt(arg.ID, func(a *database.PaymentAttempt) {
		a.Status = arg.Status
		a.ResultCode = textOrNull(arg.ResultCode)
		a.ResultDesc = textOrNull(arg.ResultDesc)
		a.UpdatedAt = arg.UpdatedAt
	})
}

// --- MenuStore ---

func (s *fakeStore) GetMealPeriodByName(ctx context.Context, name string) (database.MealPeriod, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.periods[name]
	if !ok {
		return database.MealPeriod{}, pgx.ErrNoRows
	}
	return p, nil
}

func (s *fakeStore) ListActiveMealPeriods(ctx context.Context) ([]database.MealPeriod, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []database.MealPeriod
	for _, p := range s.db.periods {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Microseconds < out[j].StartTime.Microseconds })
	return out, nil
}

func (s *fakeStore) GetFoodItem(ctx context.Context, id uuid.UUID) (database.FoodItem, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	f, ok := s.db.foods[id]
	if !ok {
		return database.FoodItem{}, pgx.ErrNoRows
	}
	return f, nil
}

func (s *fakeStore) CreateDailyMenu(ctx context.Context, arg database.CreateDailyMenuParams) (database.DailyMenu, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var period *database.MealPeriod
	for _, p := range s.db.periods {
		if p.ID == arg.MealPeriodID {
			p := p
			period = &p
		}
	}
	if period == nil {
		return database.DailyMenu{}, errors.New("foreign key violation")
	}
	for _, m := range s.db.menus {
		if m.MealPeriodID == arg.MealPeriodID && m.MenuDate.Time.Equal(arg.MenuDate.Time) {
			return database.DailyMenu{}, &pgconn.PgError{Code: "23505", ConstraintName: "daily_menus_menu_date_meal_period_id_key"}
		}
	}
	row := database.DailyMenuWithPeriodRow{
		ID:                uuid.New(),
		MenuDate:          arg.MenuDate,
		MealPeriodID:      period.ID,
		IsActive:          true,
		IsPublished:       arg.IsPublished,
		Notes:             arg.Notes,
		PeriodName:        period.Name,
		OrderingStartTime: period.OrderingStartTime,
		OrderingEndTime:   period.OrderingEndTime,
		ServingStartTime:  period.ServingStartTime,
		ServingEndTime:    period.ServingEndTime,
	}
	s.db.menus[row.ID] = row
	s.journal(func() { delete(s.db.menus, row.ID) })
	return database.DailyMenu{
		ID:           row.ID,
		MenuDate:     row.MenuDate,
		MealPeriodID: row.MealPeriodID,
		IsActive:     true,
		IsPublished:  row.IsPublished,
		Notes:        row.Notes,
		CreatedBy:    arg.CreatedBy,
	}, nil
}

func (s *fakeStore) CreateDailyMenuItem(ctx context.Context, arg database.CreateDailyMenuItemParams) (database.DailyMenuItem, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	menu, ok := s.db.menus[arg.DailyMenuID]
	if !ok {
		return database.DailyMenuItem{}, errors.New("foreign key violation")
	}
	food := s.db.foods[arg.FoodItemID]
	r := stockRow(menu, food, arg.TotalPlates)
	r.BatchCount = arg.BatchCount
	r.PlatesPerBatch = arg.PlatesPerBatch
	r.SoldOut = arg.SoldOut
	s.db.stock[r.ID] = r
	s.journal(func() { delete(s.db.stock, r.ID) })
	return database.DailyMenuItem{
		ID:             r.ID,
		DailyMenuID:    r.DailyMenuID,
		FoodItemID:     r.FoodItemID,
		BatchCount:     r.BatchCount,
		PlatesPerBatch: r.PlatesPerBatch,
		TotalPlates:    r.TotalPlates,
		IsAvailable:    true,
		SoldOut:        r.SoldOut,
	}, nil
}

func (s *fakeStore) ListPublishedMenusByDate(ctx context.Context, date pgtype.Date) ([]database.DailyMenuWithPeriodRow, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []database.DailyMenuWithPeriodRow
	for _, m := range s.db.menus {
		if m.IsPublished && m.IsActive && m.MenuDate.Time.Equal(date.Time) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodName < out[j].PeriodName })
	return out, nil
}

func stockRow(menu database.DailyMenuWithPeriodRow, food database.FoodItem, total int32) *database.MenuItemStockRow {
	return &database.MenuItemStockRow{
		ID:                uuid.New(),
		DailyMenuID:       menu.ID,
		FoodItemID:        food.ID,
		BatchCount:        1,
		PlatesPerBatch:    total,
		TotalPlates:       total,
		IsAvailable:       true,
		FoodName:          food.Name,
		PricePerPlate:     food.PricePerPlate,
		MenuDate:          menu.MenuDate,
		MenuIsActive:      menu.IsActive,
		MenuIsPublished:   menu.IsPublished,
		MealPeriodID:      menu.MealPeriodID,
		PeriodName:        menu.PeriodName,
		OrderingStartTime: menu.OrderingStartTime,
		OrderingEndTime:   menu.OrderingEndTime,
		ServingStartTime:  menu.ServingStartTime,
		ServingEndTime:    menu.ServingEndTime,
	}
}

// --- Gateway and notifier doubles ---

type fakeGateway struct {
	mu        sync.Mutex
	pushErr   error
	pushes    []mpesa.STKPushRequest
	queryResp *mpesa.STKQueryResponse
	queryErr  error
	afterPush func()
	n         int
}

func (g *fakeGateway) STKPush(ctx context.Context, in mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, in)
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	g.n++
	if g.afterPush != nil {
		g.afterPush()
	}
	return &mpesa.STKPushResponse{
		MerchantRequestID: "m-" + in.AccountReference,
		CheckoutRequestID: "ws_CO_" + in.AccountReference,
		ResponseCode:      "0",
	}, nil
}

func (g *fakeGateway) QuerySTKStatus(ctx context.Context, checkoutID string) (*mpesa.STKQueryResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	resp := *g.queryResp
	resp.CheckoutRequestID = checkoutID
	return &resp, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (r *recordingNotifier) OrderChanged(ev OrderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) statuses(code string) []database.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []database.OrderStatus
	for _, ev := range r.events {
		if ev.OrderCode == code {
			out = append(out, ev.Status)
		}
	}
	return out
}

// --- Fixture ---

var nairobi = time.FixedZone("EAT", 3*60*60)

var menuDate = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func eat(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, nairobi)
}

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

type fixture struct {
	db       *fakeDB
	clock    *clock.Manual
	gate     *mealtime.Gatekeeper
	ledger   *Ledger
	gateway  *fakeGateway
	notes    *recordingNotifier
	orders   *OrderService
	payments *PaymentService
	expiry   *ExpiryService
	menus    *MenuService
	lunch    database.MealPeriod
	menuID   uuid.UUID
	stew     uuid.UUID
	chapati  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newFakeDB()
	f := &fixture{
		db:      db,
		clock:   clock.NewManual(eat(10, 0)),
		gate:    mealtime.NewGatekeeper(nairobi),
		gateway: &fakeGateway{},
		notes:   &recordingNotifier{},
	}
	f.ledger = NewLedger(f.gate)
	f.payments = NewPaymentService(db, db.paymentStore, f.ledger, f.gateway, f.clock, WithNotifier(f.notes))
	f.orders = NewOrderService(db, db.orderStore, f.ledger, f.gate, f.payments, f.clock, WithNotifier(f.notes))
	f.expiry = NewExpiryService(db, db.orderStore, f.ledger, f.clock, WithNotifier(f.notes))
	f.menus = NewMenuService(db, db.menuStore, f.gate, f.clock)

	f.lunch = f.addPeriod("lunch", f.lunchWindows())
	f.menuID = f.addMenu(f.lunch, menuDate)
	f.stew = f.addStock(f.menuID, "Beef Stew", "150.00", 1)
	f.chapati = f.addStock(f.menuID, "Chapati", "20.00", 10)
	return f
}

func (f *fixture) lunchWindows() [6]mealtime.TimeOfDay {
	return [6]mealtime.TimeOfDay{
		mealtime.Clock(12, 0, 0), mealtime.Clock(15, 0, 0),
		mealtime.Clock(4, 0, 0), mealtime.Clock(14, 0, 0),
		mealtime.Clock(12, 30, 0), mealtime.Clock(15, 0, 0),
	}
}

// addPeriod takes overall, ordering and serving start/end pairs.
func (f *fixture) addPeriod(name string, w [6]mealtime.TimeOfDay) database.MealPeriod {
	p := database.MealPeriod{
		ID:                uuid.New(),
		Name:              name,
		StartTime:         w[0].PgTime(),
		EndTime:           w[1].PgTime(),
		OrderingStartTime: w[2].PgTime(),
		OrderingEndTime:   w[3].PgTime(),
		ServingStartTime:  w[4].PgTime(),
		ServingEndTime:    w[5].PgTime(),
		IsActive:          true,
	}
	f.db.periods[name] = p
	return p
}

func (f *fixture) addMenu(p database.MealPeriod, date time.Time) uuid.UUID {
	m := database.DailyMenuWithPeriodRow{
		ID:                uuid.New(),
		MenuDate:          pgtype.Date{Time: date, Valid: true},
		MealPeriodID:      p.ID,
		IsActive:          true,
		IsPublished:       true,
		PeriodName:        p.Name,
		OrderingStartTime: p.OrderingStartTime,
		OrderingEndTime:   p.OrderingEndTime,
		ServingStartTime:  p.ServingStartTime,
		ServingEndTime:    p.ServingEndTime,
	}
	f.db.menus[m.ID] = m
	return m.ID
}

func (f *fixture) addFood(name, price string) database.FoodItem {
	food := database.FoodItem{ID: uuid.New(), Name: name, PricePerPlate: makeNumeric(price), IsActive: true}
	f.db.foods[food.ID] = food
	return food
}

func (f *fixture) addStock(menuID uuid.UUID, name, price string, total int32) uuid.UUID {
	r := stockRow(f.db.menus[menuID], f.addFood(name, price), total)
	f.db.stock[r.ID] = r
	return r.ID
}

func (f *fixture) stock(id uuid.UUID) database.MenuItemStockRow {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return *f.db.stock[id]
}

func (f *fixture) order(t *testing.T, code string) database.Order {
	t.Helper()
	o, err := f.db.store(nil).GetOrderByCode(context.Background(), code)
	if err != nil {
		t.Fatalf("order %s: %v", code, err)
	}
	return o
}

func (f *fixture) placeReq(stockIDs ...uuid.UUID) PlaceOrderRequest {
	req := PlaceOrderRequest{
		PayerPhone:         "254712345678",
		PayerName:          "Wanjiku Kamau",
		RegistrationNumber: "sc211/0001/2023",
	}
	for _, id := range stockIDs {
		req.Selections = append(req.Selections, Selection{StockID: id.String()})
	}
	return req
}

func (f *fixture) place(t *testing.T, stockIDs ...uuid.UUID) *PlaceOrderResult {
	t.Helper()
	res, err := f.orders.PlaceOrder(context.Background(), f.placeReq(stockIDs...))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return res
}

func successOutcome(checkoutID, receipt string) Outcome {
	return Outcome{
		CheckoutRequestID: checkoutID,
		MerchantRequestID: "m-1",
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		Receipt:           receipt,
	}
}

func failureOutcome(checkoutID string, code int) Outcome {
	return Outcome{CheckoutRequestID: checkoutID, ResultCode: code, ResultDesc: "Request cancelled by user"}
}

// confirm places an order for ids and settles it successfully.
func (f *fixture) confirm(t *testing.T, ids ...uuid.UUID) *PlaceOrderResult {
	t.Helper()
	res := f.place(t, ids...)
	if _, err := f.payments.Settle(context.Background(), successOutcome(res.Attempt.CheckoutRequestID, "QWE123")); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	return res
}
