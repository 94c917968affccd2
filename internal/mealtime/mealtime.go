// Package mealtime holds the time-of-day rules that gate ordering and serving
// for a meal period. Every comparison is done on local wall-clock time in the
// canteen's configured location.
package mealtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

var (
	ErrCrossMidnight = errors.New("window crosses midnight")
	ErrBadTimeOfDay  = errors.New("invalid time of day")
)

// TimeOfDay is a wall-clock time expressed as seconds since midnight.
type TimeOfDay int32

const secondsPerDay = 24 * 60 * 60

func Clock(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// Of returns the time of day of t in t's own location.
func Of(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return Clock(h, m, s)
}

// Parse accepts "HH:MM" or "HH:MM:SS".
func Parse(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Of(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrBadTimeOfDay, s)
}

func FromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Second/time.Microsecond))
}

func (t TimeOfDay) PgTime() pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Second/time.Microsecond), Valid: true}
}

func (t TimeOfDay) Hour() int   { return int(t) / 3600 }
func (t TimeOfDay) Minute() int { return int(t) % 3600 / 60 }
func (t TimeOfDay) Second() int { return int(t) % 60 }

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < secondsPerDay
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Window is an inclusive [Start, End] time-of-day range within one day.
type Window struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (w Window) Contains(t TimeOfDay) bool {
	return w.Start <= t && t <= w.End
}

// Validate rejects windows whose end falls before their start. Those would
// only make sense across midnight, which the naive comparison cannot express.
func (w Window) Validate() error {
	if !w.Start.Valid() || !w.End.Valid() {
		return ErrBadTimeOfDay
	}
	if w.End < w.Start {
		return fmt.Errorf("%w: %s-%s", ErrCrossMidnight, w.Start, w.End)
	}
	return nil
}

// Period is a named meal with its overall, ordering and serving windows.
type Period struct {
	Name     string `json:"name"`
	Overall  Window `json:"overall"`
	Ordering Window `json:"ordering"`
	Serving  Window `json:"serving"`
}

func (p Period) Validate() error {
	for label, w := range map[string]Window{"period": p.Overall, "ordering": p.Ordering, "serving": p.Serving} {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("%s %s window: %w", p.Name, label, err)
		}
	}
	return nil
}

// Menu is the subset of a daily menu the gatekeeper needs.
type Menu struct {
	Date        time.Time
	IsActive    bool
	IsPublished bool
	Period      Period
}

// Gatekeeper evaluates windows in a fixed location.
type Gatekeeper struct {
	loc *time.Location
}

func NewGatekeeper(loc *time.Location) *Gatekeeper {
	if loc == nil {
		loc = time.UTC
	}
	return &Gatekeeper{loc: loc}
}

func (g *Gatekeeper) Location() *time.Location { return g.loc }

// Local converts an instant to the canteen's wall clock.
func (g *Gatekeeper) Local(now time.Time) time.Time {
	return now.In(g.loc)
}

// Today returns the local calendar date of now as midnight UTC, the shape
// Postgres DATE values are scanned into.
func (g *Gatekeeper) Today(now time.Time) time.Time {
	y, m, d := g.Local(now).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (g *Gatekeeper) IsOrderingOpen(p Period, now time.Time) bool {
	return p.Ordering.Contains(Of(g.Local(now)))
}

func (g *Gatekeeper) IsServingTime(p Period, now time.Time) bool {
	return p.Serving.Contains(Of(g.Local(now)))
}

// OrderingAllowed reports whether new orders may be placed against m right now.
func (g *Gatekeeper) OrderingAllowed(m Menu, now time.Time) bool {
	if !m.IsPublished || !m.IsActive {
		return false
	}
	if !sameDate(m.Date, g.Local(now)) {
		return false
	}
	return g.IsOrderingOpen(m.Period, now)
}

// ServingEnd is the instant the serving window of p closes on date.
func (g *Gatekeeper) ServingEnd(date time.Time, p Period) time.Time {
	y, m, d := date.Date()
	end := p.Serving.End
	return time.Date(y, m, d, end.Hour(), end.Minute(), end.Second(), 0, g.loc)
}

// MealOver reports whether the serving window of p on date has already closed.
func (g *Gatekeeper) MealOver(date time.Time, p Period, now time.Time) bool {
	return now.After(g.ServingEnd(date, p))
}

// Current returns the first period whose overall window contains now.
func (g *Gatekeeper) Current(periods []Period, now time.Time) (Period, bool) {
	tod := Of(g.Local(now))
	for _, p := range periods {
		if p.Overall.Contains(tod) {
			return p, true
		}
	}
	return Period{}, false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
