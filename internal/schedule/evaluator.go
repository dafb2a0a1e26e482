// Package schedule decides whether "now" falls inside the configured
// business-hours window and which message template a lead should receive.
package schedule

import (
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"leadrelay_backend/platform/apperr"
	"leadrelay_backend/platform/config"
)

// Window is an open interval of a single day, in minutes since midnight.
// StartMinute == EndMinute means open the whole day. StartMinute > EndMinute
// wraps past midnight (e.g., 22:00-06:00).
type Window struct {
	StartMinute int
	EndMinute   int
}

// Contains reports whether the given minute-of-day falls inside the window.
func (w Window) Contains(minute int) bool {
	switch {
	case w.StartMinute == w.EndMinute:
		return true
	case w.StartMinute < w.EndMinute:
		return minute >= w.StartMinute && minute < w.EndMinute
	default:
		return minute >= w.StartMinute || minute < w.EndMinute
	}
}

// Week maps weekdays (0=Sunday .. 6=Saturday) to an optional window.
// A nil entry means closed that day.
type Week [7]*Window

var weekdayNames = map[string]int{
	"sunday":    0,
	"monday":    1,
	"tuesday":   2,
	"wednesday": 3,
	"thursday":  4,
	"friday":    5,
	"saturday":  6,
}

// ParseWeek builds a Week from weekday-name → "HH:MM-HH:MM" entries.
// Missing or empty entries mean closed.
func ParseWeek(entries map[string]string) (Week, error) {
	var week Week

	for name, spec := range entries {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return week, fmt.Errorf("unknown weekday %q in schedule", name)
		}
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		window, err := parseWindow(spec)
		if err != nil {
			return week, fmt.Errorf("weekday %s: %w", name, err)
		}
		week[day] = &window
	}

	return week, nil
}

func parseWindow(spec string) (Window, error) {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("window %q must be HH:MM-HH:MM", spec)
	}

	start, err := parseMinute(parts[0])
	if err != nil {
		return Window{}, err
	}
	end, err := parseMinute(parts[1])
	if err != nil {
		return Window{}, err
	}

	return Window{StartMinute: start, EndMinute: end}, nil
}

func parseMinute(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", value, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Snapshot is the result of a single evaluation.
type Snapshot struct {
	Weekday     int
	MinuteOfDay int
	Open        bool
}

// Evaluator evaluates business hours in a target timezone and selects
// message templates. Safe for concurrent use.
type Evaluator struct {
	week          Week
	loc           *time.Location
	inHours       []string
	offHours      string
	deterministic bool
	cursor        atomic.Uint64

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewEvaluator builds an Evaluator from configuration.
func NewEvaluator(cfg config.ScheduleConfig) (*Evaluator, error) {
	loc, err := time.LoadLocation(cfg.GetTimezone())
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.GetTimezone(), err)
	}

	week, err := ParseWeek(cfg.GetWeekSchedule())
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		week:          week,
		loc:           loc,
		inHours:       cfg.GetTemplatesInHours(),
		offHours:      cfg.GetTemplateOffHours(),
		deterministic: cfg.GetTemplateDeterministic(),
		now:           time.Now,
	}, nil
}

// WithClock replaces the evaluator's clock. Test hook.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate computes the business-hours snapshot for the current instant.
func (e *Evaluator) Evaluate() Snapshot {
	local := e.now().In(e.loc)
	weekday := int(local.Weekday())
	minute := local.Hour()*60 + local.Minute()

	window := e.week[weekday]
	return Snapshot{
		Weekday:     weekday,
		MinuteOfDay: minute,
		Open:        window != nil && window.Contains(minute),
	}
}

// TemplateID selects the template for the current instant: one of the
// in-hours pool while open, the off-hours template otherwise.
func (e *Evaluator) TemplateID() (string, error) {
	if e.Evaluate().Open {
		return e.pickInHours()
	}
	if e.offHours == "" {
		return "", apperr.Config("no off-hours template configured")
	}
	return e.offHours, nil
}

func (e *Evaluator) pickInHours() (string, error) {
	if len(e.inHours) == 0 {
		return "", apperr.Config("no in-hours templates configured")
	}
	if e.deterministic {
		n := e.cursor.Add(1) - 1
		return e.inHours[n%uint64(len(e.inHours))], nil
	}
	return e.inHours[rand.Intn(len(e.inHours))], nil
}
