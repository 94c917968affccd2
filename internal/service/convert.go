package service

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/muranga-mess/api/internal/database"
	"github.com/muranga-mess/api/internal/mealtime"
	"github.com/shopspring/decimal"
)

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func periodFromStock(row database.MenuItemStockRow) mealtime.Period {
	return mealtime.Period{
		Name: row.PeriodName,
		Ordering: mealtime.Window{
			Start: mealtime.FromPgTime(row.OrderingStartTime),
			End:   mealtime.FromPgTime(row.OrderingEndTime),
		},
		Serving: mealtime.Window{
			Start: mealtime.FromPgTime(row.ServingStartTime),
			End:   mealtime.FromPgTime(row.ServingEndTime),
		},
	}
}

func menuFromStock(row database.MenuItemStockRow) mealtime.Menu {
	return mealtime.Menu{
		Date:        row.MenuDate.Time,
		IsActive:    row.MenuIsActive,
		IsPublished: row.MenuIsPublished,
		Period:      periodFromStock(row),
	}
}

func menuFromRow(row database.DailyMenuWithPeriodRow) mealtime.Menu {
	return mealtime.Menu{
		Date:        row.MenuDate.Time,
		IsActive:    row.IsActive,
		IsPublished: row.IsPublished,
		Period: mealtime.Period{
			Name: row.PeriodName,
			Ordering: mealtime.Window{
				Start: mealtime.FromPgTime(row.OrderingStartTime),
				End:   mealtime.FromPgTime(row.OrderingEndTime),
			},
			Serving: mealtime.Window{
				Start: mealtime.FromPgTime(row.ServingStartTime),
				End:   mealtime.FromPgTime(row.ServingEndTime),
			},
		},
	}
}

func periodFromModel(p database.MealPeriod) mealtime.Period {
	return mealtime.Period{
		Name: p.Name,
		Overall: mealtime.Window{
			Start: mealtime.FromPgTime(p.StartTime),
			End:   mealtime.FromPgTime(p.EndTime),
		},
		Ordering: mealtime.Window{
			Start: mealtime.FromPgTime(p.OrderingStartTime),
			End:   mealtime.FromPgTime(p.OrderingEndTime),
		},
		Serving: mealtime.Window{
			Start: mealtime.FromPgTime(p.ServingStartTime),
			End:   mealtime.FromPgTime(p.ServingEndTime),
		},
	}
}

// expirable reports whether the order should be expired at now.
func expirable(o database.Order, now time.Time) bool {
	if o.Status != database.OrderStatusPending && o.Status != database.OrderStatusConfirmed {
		return false
	}
	return now.After(o.ExpiresAt)
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}
