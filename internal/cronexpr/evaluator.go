package cronexpr

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Sentinel errors for callers that branch on the failure kind.
var (
	ErrInvalidCron     = errors.New("invalid cron expression")
	ErrUnknownTimezone = errors.New("unknown timezone")
)

// parser accepts standard 5-field cron expressions (minute hour dom month dow)
// including descriptors like @daily.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Evaluator computes firing instants for cron expressions interpreted in a
// named IANA timezone. Purely deterministic; no I/O.
//
// DST policy: a local instant skipped by a spring-forward transition rolls
// over to the first valid instant after the gap; an instant duplicated by a
// fall-back transition resolves to the earlier occurrence. Both follow from
// evaluating the expression over the zone's wall clock.
type Evaluator struct{}

func New() *Evaluator {
	return &Evaluator{}
}

// Validate checks the expression and timezone without computing anything.
func (e *Evaluator) Validate(expr, timezone string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	if _, err := loadLocation(timezone); err != nil {
		return err
	}
	return nil
}

// Next returns the first instant strictly after from at which the expression
// fires, evaluated on the wall clock of the named timezone.
func (e *Evaluator) Next(expr, timezone string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}

	next := schedule.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires after %v", ErrInvalidCron, expr, from)
	}
	return next, nil
}

// NextN enumerates the next n firings after from, for calendar previews.
func (e *Evaluator) NextN(expr, timezone string, from time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}

	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, err
	}

	firings := make([]time.Time, 0, n)
	cursor := from.In(loc)
	for i := 0; i < n; i++ {
		cursor = schedule.Next(cursor)
		if cursor.IsZero() {
			break
		}
		firings = append(firings, cursor)
	}
	return firings, nil
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, timezone)
	}
	return loc, nil
}
