package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/muranga-mess/api/internal/database"
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB is a pool that can also start transactions. Satisfied by *pgxpool.Pool.
type DB interface {
	database.DBTX
	TxBeginner
}

// LedgerStore is what the inventory ledger needs. Satisfied by *database.Queries.
type LedgerStore interface {
	GetMenuItemStockForUpdate(ctx context.Context, id uuid.UUID) (database.MenuItemStockRow, error)
	UpdateMenuItemReservation(ctx context.Context, arg database.UpdateMenuItemReservationParams) (database.DailyMenuItem, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	MarkOrderItemReleased(ctx context.Context, arg database.MarkOrderItemReleasedParams) (database.OrderItem, error)
}

// OrderStore defines the DB methods the order lifecycle needs.
type OrderStore interface {
	LedgerStore
	GetDailyMenuWithPeriod(ctx context.Context, id uuid.UUID) (database.DailyMenuWithPeriodRow, error)
	ListMenuItemStockByMenu(ctx context.Context, dailyMenuID uuid.UUID) ([]database.MenuItemStockRow, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	GetOrderByCode(ctx context.Context, orderCode string) (database.Order, error)
	GetOrderByCodeForUpdate(ctx context.Context, orderCode string) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error)
	ConfirmOrder(ctx context.Context, arg database.ConfirmOrderParams) (database.Order, error)
	CancelOrder(ctx context.Context, arg database.CancelOrderParams) (database.Order, error)
	ExpireOrder(ctx context.Context, arg database.ExpireOrderParams) (database.Order, error)
	ServeOrder(ctx context.Context, arg database.ServeOrderParams) (database.Order, error)
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	ListExpirableOrders(ctx context.Context, arg database.ListExpirableOrdersParams) ([]database.Order, error)
	ListOrdersByMenu(ctx context.Context, arg database.ListOrdersByMenuParams) ([]database.Order, error)
	ListOrdersByRegistration(ctx context.Context, arg database.ListOrdersByRegistrationParams) ([]database.Order, error)
	CountOrdersByStatus(ctx context.Context, dailyMenuID uuid.UUID) ([]database.CountOrdersByStatusRow, error)
	GetLatestAttemptByOrder(ctx context.Context, orderID uuid.UUID) (database.PaymentAttempt, error)
}

// PaymentStore adds payment attempt bookkeeping to OrderStore.
type PaymentStore interface {
	OrderStore
	CreatePaymentAttempt(ctx context.Context, arg database.CreatePaymentAttemptParams) (database.PaymentAttempt, error)
	GetPaymentAttemptByCheckoutIDForUpdate(ctx context.Context, checkoutRequestID string) (database.PaymentAttempt, error)
	CompletePaymentAttempt(ctx context.Context, arg database.CompletePaymentAttemptParams) (database.PaymentAttempt, error)
	FailPaymentAttempt(ctx context.Context, arg database.FailPaymentAttemptParams) (database.PaymentAttempt, error)
}

// MenuStore defines the DB methods for publishing and browsing menus.
type MenuStore interface {
	GetMealPeriodByName(ctx context.Context, name string) (database.MealPeriod, error)
	ListActiveMealPeriods(ctx context.Context) ([]database.MealPeriod, error)
	GetFoodItem(ctx context.Context, id uuid.UUID) (database.FoodItem, error)
	CreateDailyMenu(ctx context.Context, arg database.CreateDailyMenuParams) (database.DailyMenu, error)
	CreateDailyMenuItem(ctx context.Context, arg database.CreateDailyMenuItemParams) (database.DailyMenuItem, error)
	GetDailyMenuWithPeriod(ctx context.Context, id uuid.UUID) (database.DailyMenuWithPeriodRow, error)
	ListPublishedMenusByDate(ctx context.Context, menuDate pgtype.Date) ([]database.DailyMenuWithPeriodRow, error)
	GetMenuItemStock(ctx context.Context, id uuid.UUID) (database.MenuItemStockRow, error)
	ListMenuItemStockByMenu(ctx context.Context, dailyMenuID uuid.UUID) ([]database.MenuItemStockRow, error)
}

// Store factories build a store from a pool or a transaction.
type (
	NewOrderStore   func(db database.DBTX) OrderStore
	NewPaymentStore func(db database.DBTX) PaymentStore
	NewMenuStore    func(db database.DBTX) MenuStore
)

var _ PaymentStore = (*database.Queries)(nil)
var _ MenuStore = (*database.Queries)(nil)

// Queries-backed factories used outside of tests.
func OrderStoreFor(db database.DBTX) OrderStore     { return database.New(db) }
func PaymentStoreFor(db database.DBTX) PaymentStore { return database.New(db) }
func MenuStoreFor(db database.DBTX) MenuStore       { return database.New(db) }
