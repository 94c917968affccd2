package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/muranga-mess/api/internal/database"
)

// OrderEvent describes one committed order transition.
type OrderEvent struct {
	OrderCode   string               `json:"order_code"`
	DailyMenuID uuid.UUID            `json:"daily_menu_id"`
	Status      database.OrderStatus `json:"status"`
	At          time.Time            `json:"at"`
}

// Notifier receives order transitions after they commit. Implementations
// must not block.
type Notifier interface {
	OrderChanged(ev OrderEvent)
}

type nopNotifier struct{}

func (nopNotifier) OrderChanged(OrderEvent) {}

func eventFor(o database.Order, at time.Time) OrderEvent {
	return OrderEvent{OrderCode: o.OrderCode, DailyMenuID: o.DailyMenuID, Status: o.Status, At: at}
}
