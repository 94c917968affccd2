package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/muranga-mess/api/internal/database"
	"github.com/muranga-mess/api/internal/mealtime"
)

// Ledger reserves and releases plates on daily menu stock rows. Every method
// runs inside the caller's transaction and locks the rows it touches.
type Ledger struct {
	gate *mealtime.Gatekeeper
}

func NewLedger(gate *mealtime.Gatekeeper) *Ledger {
	return &Ledger{gate: gate}
}

// Available is total minus reserved, never negative.
func Available(total, reserved int32) int32 {
	if reserved >= total {
		return 0
	}
	return total - reserved
}

// Enabled reports whether the row can take new reservations.
func Enabled(row database.MenuItemStockRow) bool {
	return row.IsAvailable && !row.SoldOut && Available(row.TotalPlates, row.ReservedPlates) > 0
}

// Reserve takes quantity plates from the stock row. The row stays locked
// until the surrounding transaction ends, so two reservations for the last
// plate cannot both succeed.
func (l *Ledger) Reserve(ctx context.Context, store LedgerStore, stockID uuid.UUID, quantity int32, now time.Time) (database.MenuItemStockRow, error) {
	if quantity <= 0 {
		return database.MenuItemStockRow{}, ErrInvalidQuantity
	}

	row, err := store.GetMenuItemStockForUpdate(ctx, stockID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.MenuItemStockRow{}, ErrMenuItemNotFound
		}
		return database.MenuItemStockRow{}, fmt.Errorf("lock stock %s: %w", stockID, err)
	}

	if !l.gate.OrderingAllowed(menuFromStock(row), now) {
		return row, ErrOrderingWindowClosed
	}
	if !row.IsAvailable || row.SoldOut || Available(row.TotalPlates, row.ReservedPlates) < quantity {
		return row, fmt.Errorf("%s: %w", row.FoodName, ErrInsufficientStock)
	}

	reserved := row.ReservedPlates + quantity
	soldOut := Available(row.TotalPlates, reserved) == 0
	if _, err := store.UpdateMenuItemReservation(ctx, database.UpdateMenuItemReservationParams{
		ID:             row.ID,
		ReservedPlates: reserved,
		SoldOut:        soldOut,
	}); err != nil {
		return row, fmt.Errorf("update stock %s: %w", stockID, err)
	}
	row.ReservedPlates = reserved
	row.SoldOut = soldOut
	return row, nil
}

// Release hands back the plates held by one order item. The item is the
// reservation token: it is consumed with a conditional update and stock is
// only decremented when that update took effect, so releasing twice is a no-op.
func (l *Ledger) Release(ctx context.Context, store LedgerStore, item database.OrderItem, now time.Time) (bool, error) {
	if item.ReleasedAt.Valid {
		return false, nil
	}
	if _, err := store.MarkOrderItemReleased(ctx, database.MarkOrderItemReleasedParams{
		ID:         item.ID,
		ReleasedAt: now,
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("mark item %s released: %w", item.ID, err)
	}

	row, err := store.GetMenuItemStockForUpdate(ctx, item.DailyMenuItemID)
	if err != nil {
		return false, fmt.Errorf("lock stock %s: %w", item.DailyMenuItemID, err)
	}
	reserved := row.ReservedPlates - item.Quantity
	if reserved < 0 {
		reserved = 0
	}
	if _, err := store.UpdateMenuItemReservation(ctx, database.UpdateMenuItemReservationParams{
		ID:             row.ID,
		ReservedPlates: reserved,
		SoldOut:        Available(row.TotalPlates, reserved) == 0,
	}); err != nil {
		return false, fmt.Errorf("update stock %s: %w", row.ID, err)
	}
	return true, nil
}

// ReleaseOrder releases every outstanding reservation of an order, locking
// stock rows in ascending id order.
func (l *Ledger) ReleaseOrder(ctx context.Context, store LedgerStore, orderID uuid.UUID, now time.Time) (int, error) {
	items, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("list order items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool {
		return uuidLess(items[i].DailyMenuItemID, items[j].DailyMenuItemID)
	})

	released := 0
	for _, it := range items {
		ok, err := l.Release(ctx, store, it, now)
		if err != nil {
			return released, err
		}
		if ok {
			released++
		}
	}
	return released, nil
}

func uuidLess(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
