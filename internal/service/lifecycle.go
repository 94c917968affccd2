package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/muranga-mess/api/internal/clock"
	"github.com/muranga-mess/api/internal/database"
)

// lifecycle carries what every order-mutating service shares.
type lifecycle struct {
	pool     DB
	newStore NewOrderStore
	ledger   *Ledger
	clock    clock.Clock
	notifier Notifier
}

// Option configures a service.
type Option func(*lifecycle)

// WithNotifier publishes committed order transitions to n.
func WithNotifier(n Notifier) Option {
	return func(l *lifecycle) {
		if n != nil {
			l.notifier = n
		}
	}
}

func newLifecycle(pool DB, newStore NewOrderStore, ledger *Ledger, clk clock.Clock, opts []Option) lifecycle {
	l := lifecycle{
		pool:     pool,
		newStore: newStore,
		ledger:   ledger,
		clock:    clk,
		notifier: nopNotifier{},
	}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

func (l *lifecycle) publish(o database.Order, at time.Time) {
	l.notifier.OrderChanged(eventFor(o, at))
}

// expire re-reads the order under lock and expires it if it is still due.
func (l *lifecycle) expire(ctx context.Context, orderID uuid.UUID) (database.Order, bool, error) {
	now := l.clock.Now()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := l.newStore(tx)
	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, false, ErrOrderNotFound
		}
		return database.Order{}, false, fmt.Errorf("lock order: %w", err)
	}
	if !expirable(order, now) {
		return order, false, nil
	}

	order, err = expireLocked(ctx, store, l.ledger, order, now)
	if err != nil {
		return database.Order{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, false, fmt.Errorf("commit tx: %w", err)
	}
	l.publish(order, now)
	return order, true, nil
}

// expireLocked moves a locked order to expired and releases its stock.
func expireLocked(ctx context.Context, store OrderStore, ledger *Ledger, order database.Order, now time.Time) (database.Order, error) {
	n, err := ledger.ReleaseOrder(ctx, store, order.ID, now)
	if err != nil {
		return order, fmt.Errorf("release order %s: %w", order.OrderCode, err)
	}
	expired, err := store.ExpireOrder(ctx, database.ExpireOrderParams{ID: order.ID, ExpiredAt: now})
	if err != nil {
		return order, fmt.Errorf("expire order %s: %w", order.OrderCode, err)
	}
	log.Printf("order %s expired from %s, released %d plate(s)", order.OrderCode, order.Status, n)
	return expired, nil
}

// cancelLocked moves a locked pending order to cancelled and releases its stock.
func cancelLocked(ctx context.Context, store OrderStore, ledger *Ledger, order database.Order, now time.Time) (database.Order, error) {
	if _, err := ledger.ReleaseOrder(ctx, store, order.ID, now); err != nil {
		return order, fmt.Errorf("release order %s: %w", order.OrderCode, err)
	}
	cancelled, err := store.CancelOrder(ctx, database.CancelOrderParams{ID: order.ID, CancelledAt: now})
	if err != nil {
		return order, fmt.Errorf("cancel order %s: %w", order.OrderCode, err)
	}
	return cancelled, nil
}
