//go:build integration

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/muranga-mess/api/internal/clock"
	"github.com/muranga-mess/api/internal/database"
	"github.com/muranga-mess/api/internal/enum"
	"github.com/muranga-mess/api/internal/mealtime"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("mess_test"),
		tcpostgres.WithUsername("mess"),
		tcpostgres.WithPassword("mess"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := migrateTwice(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// migrateTwice proves a rerun is a no-op.
func migrateTwice(ctx context.Context, pool *pgxpool.Pool) error {
	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	return database.Migrate(ctx, pool)
}

// TestIntegrationLastPlates races buyers for three plates through real row
// locks, then settles two of the winners.
func TestIntegrationLastPlates(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	q := database.New(pool)

	lunch := mealtime.Period{
		Name:     enum.MealLunch,
		Overall:  mealtime.Window{Start: mealtime.Clock(12, 0, 0), End: mealtime.Clock(15, 0, 0)},
		Ordering: mealtime.Window{Start: mealtime.Clock(4, 0, 0), End: mealtime.Clock(14, 0, 0)},
		Serving:  mealtime.Window{Start: mealtime.Clock(12, 30, 0), End: mealtime.Clock(15, 0, 0)},
	}
	if _, err := q.UpsertMealPeriod(ctx, database.UpsertMealPeriodParams{
		Name:              lunch.Name,
		StartTime:         lunch.Overall.Start.PgTime(),
		EndTime:           lunch.Overall.End.PgTime(),
		OrderingStartTime: lunch.Ordering.Start.PgTime(),
		OrderingEndTime:   lunch.Ordering.End.PgTime(),
		ServingStartTime:  lunch.Serving.Start.PgTime(),
		ServingEndTime:    lunch.Serving.End.PgTime(),
	}); err != nil {
		t.Fatalf("upsert meal period: %v", err)
	}
	stew, err := q.UpsertFoodItem(ctx, database.UpsertFoodItemParams{Name: "Beef Stew", PricePerPlate: makeNumeric("150.00")})
	if err != nil {
		t.Fatalf("upsert food item: %v", err)
	}

	clk := clock.NewManual(eat(9, 0))
	gate := mealtime.NewGatekeeper(nairobi)
	ledger := NewLedger(gate)
	gateway := &fakeGateway{}

	menus := NewMenuService(pool, MenuStoreFor, gate, clk)
	view, err := menus.PublishMenu(ctx, PublishMenuRequest{
		Date:       "2026-03-02",
		MealPeriod: enum.MealLunch,
		Publish:    true,
		Items:      []MenuItemRequest{{FoodItemID: stew.ID.String(), BatchCount: 1, PlatesPerBatch: 3}},
	})
	if err != nil {
		t.Fatalf("publish menu: %v", err)
	}
	stockID := view.Items[0].StockID

	payments := NewPaymentService(pool, PaymentStoreFor, ledger, gateway, clk)
	orders := NewOrderService(pool, OrderStoreFor, ledger, gate, payments, clk)

	const buyers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		placed  []*PlaceOrderResult
		soldOut int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := orders.PlaceOrder(ctx, PlaceOrderRequest{
				Selections:         []Selection{{StockID: stockID.String(), Quantity: 1}},
				PayerPhone:         fmt.Sprintf("2547%08d", i),
				PayerName:          fmt.Sprintf("Buyer %d", i),
				RegistrationNumber: fmt.Sprintf("SC211/%04d/2023", i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed = append(placed, res)
			case errors.Is(err, ErrInsufficientStock):
				soldOut++
			default:
				t.Errorf("buyer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if len(placed) != 3 || soldOut != buyers-3 {
		t.Fatalf("placed %d, sold out %d; want 3 and %d", len(placed), soldOut, buyers-3)
	}
	stock, err := menus.ItemAvailability(ctx, stockID)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if stock.Reserved != 3 || stock.Available != 0 || stock.Enabled {
		t.Fatalf("stock after race: %+v", stock)
	}

	paid := placed[0]
	res, err := payments.Settle(ctx, Outcome{
		CheckoutRequestID: paid.Attempt.CheckoutRequestID,
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		Receipt:           "QWE123RTY0",
		TransactionDate:   eat(9, 1),
	})
	if err != nil {
		t.Fatalf("settle success: %v", err)
	}
	if res.Order.Status != database.OrderStatusConfirmed {
		t.Errorf("paid order status: got %s, want confirmed", res.Order.Status)
	}
	again, err := payments.Settle(ctx, Outcome{CheckoutRequestID: paid.Attempt.CheckoutRequestID, ResultCode: 0, Receipt: "QWE123RTY0"})
	if err != nil || !again.Duplicate {
		t.Errorf("redelivered callback: res=%+v err=%v", again, err)
	}

	cancelled := placed[1]
	res, err = payments.Settle(ctx, Outcome{
		CheckoutRequestID: cancelled.Attempt.CheckoutRequestID,
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	})
	if err != nil {
		t.Fatalf("settle cancel: %v", err)
	}
	if res.Order.Status != database.OrderStatusCancelled {
		t.Errorf("cancelled order status: got %s, want cancelled", res.Order.Status)
	}

	stock, err = menus.ItemAvailability(ctx, stockID)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if stock.Reserved != 2 || stock.Available != 1 || !stock.Enabled {
		t.Errorf("stock after cancel: %+v", stock)
	}

	// The remaining pending order lapses at the end of serving.
	clk.Set(eat(15, 1))
	expiry := NewExpiryService(pool, OrderStoreFor, ledger, clk)
	n, err := expiry.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("swept %d orders, want 2 (one pending, one confirmed but unserved)", n)
	}
}
