package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/muranga-mess/api/internal/clock"
	"github.com/muranga-mess/api/internal/database"
)

const defaultSweepBatch = 100

// ExpiryService expires pending and confirmed orders whose meal has ended
// and returns their plates to stock.
type ExpiryService struct {
	lifecycle
	batch int32
}

func NewExpiryService(pool DB, newStore NewOrderStore, ledger *Ledger, clk clock.Clock, opts ...Option) *ExpiryService {
	return &ExpiryService{
		lifecycle: newLifecycle(pool, newStore, ledger, clk, opts),
		batch:     defaultSweepBatch,
	}
}

// Sweep expires every overdue order and reports how many it expired.
func (s *ExpiryService) Sweep(ctx context.Context) (int, error) {
	store := s.newStore(s.pool)
	expired := 0
	for {
		due, err := store.ListExpirableOrders(ctx, database.ListExpirableOrdersParams{
			Now:   s.clock.Now(),
			Limit: s.batch,
		})
		if err != nil {
			return expired, fmt.Errorf("list expirable orders: %w", err)
		}

		progressed := 0
		for _, o := range due {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			_, ok, err := s.expire(ctx, o.ID)
			if err != nil {
				log.Printf("ERROR: expire order %s: %v", o.OrderCode, err)
				continue
			}
			progressed++
			if ok {
				expired++
			}
		}
		if len(due) < int(s.batch) || progressed == 0 {
			return expired, nil
		}
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *ExpiryService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				log.Printf("ERROR: expiry sweep: %v", err)
			}
			if n > 0 {
				log.Printf("expiry sweep: expired %d order(s)", n)
			}
		}
	}
}
