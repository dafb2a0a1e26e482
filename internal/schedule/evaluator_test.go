package schedule

import (
	"testing"
	"time"

	"leadrelay_backend/platform/apperr"
)

type fakeScheduleConfig struct {
	timezone      string
	inHours       []string
	offHours      string
	deterministic bool
	week          map[string]string
}

func (f fakeScheduleConfig) GetTimezone() string                { return f.timezone }
func (f fakeScheduleConfig) GetTemplatesInHours() []string      { return f.inHours }
func (f fakeScheduleConfig) GetTemplateOffHours() string        { return f.offHours }
func (f fakeScheduleConfig) GetTemplateDeterministic() bool     { return f.deterministic }
func (f fakeScheduleConfig) GetWeekSchedule() map[string]string { return f.week }

func weekdaysNineToEight() map[string]string {
	return map[string]string{
		"monday":    "09:00-20:00",
		"tuesday":   "09:00-20:00",
		"wednesday": "09:00-20:00",
		"thursday":  "09:00-20:00",
		"friday":    "09:00-20:00",
	}
}

func newEvaluatorAt(t *testing.T, cfg fakeScheduleConfig, at time.Time) *Evaluator {
	t.Helper()
	if cfg.timezone == "" {
		cfg.timezone = "UTC"
	}
	ev, err := NewEvaluator(cfg)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return ev.WithClock(func() time.Time { return at })
}

func TestEvaluate_BusinessHoursBoundary(t *testing.T) {
	cfg := fakeScheduleConfig{week: weekdaysNineToEight(), inHours: []string{"t1"}, offHours: "t0"}

	// Monday 2026-01-05.
	before := time.Date(2026, 1, 5, 8, 59, 0, 0, time.UTC)
	ev := newEvaluatorAt(t, cfg, before)
	if snap := ev.Evaluate(); snap.Open {
		t.Fatalf("expected closed at 08:59, got open (snapshot %+v)", snap)
	}

	atOpen := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	ev = newEvaluatorAt(t, cfg, atOpen)
	snap := ev.Evaluate()
	if !snap.Open {
		t.Fatalf("expected open at 09:00, got closed")
	}
	if snap.Weekday != 1 {
		t.Fatalf("expected weekday 1 (Monday), got %d", snap.Weekday)
	}

	atClose := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)
	ev = newEvaluatorAt(t, cfg, atClose)
	if ev.Evaluate().Open {
		t.Fatalf("expected closed at 20:00 (end exclusive)")
	}
}

func TestEvaluate_WrapAroundWindow(t *testing.T) {
	cfg := fakeScheduleConfig{
		week:     map[string]string{"monday": "22:00-06:00"},
		inHours:  []string{"t1"},
		offHours: "t0",
	}

	cases := []struct {
		hour int
		want bool
	}{
		{23, true},
		{5, true},
		{12, false},
	}
	for _, tc := range cases {
		at := time.Date(2026, 1, 5, tc.hour, 0, 0, 0, time.UTC)
		ev := newEvaluatorAt(t, cfg, at)
		if got := ev.Evaluate().Open; got != tc.want {
			t.Errorf("hour %02d: open=%v, want %v", tc.hour, got, tc.want)
		}
	}
}

func TestEvaluate_EqualStartEndAlwaysOpen(t *testing.T) {
	cfg := fakeScheduleConfig{
		week:     map[string]string{"monday": "00:00-00:00"},
		inHours:  []string{"t1"},
		offHours: "t0",
	}
	at := time.Date(2026, 1, 5, 3, 17, 0, 0, time.UTC)
	if !newEvaluatorAt(t, cfg, at).Evaluate().Open {
		t.Fatalf("equal start/end should be always open")
	}
}

func TestEvaluate_MissingDayIsClosed(t *testing.T) {
	cfg := fakeScheduleConfig{week: weekdaysNineToEight(), inHours: []string{"t1"}, offHours: "t0"}
	// Sunday 2026-01-04, mid-day.
	at := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC)
	ev := newEvaluatorAt(t, cfg, at)
	if ev.Evaluate().Open {
		t.Fatalf("expected Sunday closed")
	}
	id, err := ev.TemplateID()
	if err != nil {
		t.Fatalf("TemplateID: %v", err)
	}
	if id != "t0" {
		t.Fatalf("expected off-hours template t0, got %s", id)
	}
}

func TestEvaluate_Timezone(t *testing.T) {
	cfg := fakeScheduleConfig{
		timezone: "America/Sao_Paulo",
		week:     weekdaysNineToEight(),
		inHours:  []string{"t1"},
		offHours: "t0",
	}
	// 11:30 UTC on a Monday is 08:30 in Sao Paulo (UTC-3): still closed.
	at := time.Date(2026, 1, 5, 11, 30, 0, 0, time.UTC)
	if newEvaluatorAt(t, cfg, at).Evaluate().Open {
		t.Fatalf("expected closed at 08:30 local time")
	}
}

func TestTemplateID_InHoursPool(t *testing.T) {
	cfg := fakeScheduleConfig{
		week:     weekdaysNineToEight(),
		inHours:  []string{"a", "b", "c"},
		offHours: "t0",
	}
	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	ev := newEvaluatorAt(t, cfg, at)

	pool := map[string]bool{"a": true, "b": true, "c": true}
	for i := 0; i < 20; i++ {
		id, err := ev.TemplateID()
		if err != nil {
			t.Fatalf("TemplateID: %v", err)
		}
		if !pool[id] {
			t.Fatalf("template %q not in configured pool", id)
		}
	}
}

func TestTemplateID_DeterministicRotation(t *testing.T) {
	cfg := fakeScheduleConfig{
		week:          weekdaysNineToEight(),
		inHours:       []string{"a", "b"},
		offHours:      "t0",
		deterministic: true,
	}
	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	ev := newEvaluatorAt(t, cfg, at)

	want := []string{"a", "b", "a", "b"}
	for i, expected := range want {
		id, err := ev.TemplateID()
		if err != nil {
			t.Fatalf("TemplateID: %v", err)
		}
		if id != expected {
			t.Fatalf("pick %d: got %s, want %s", i, id, expected)
		}
	}
}

func TestTemplateID_NoTemplateIsConfigError(t *testing.T) {
	cfg := fakeScheduleConfig{week: weekdaysNineToEight(), inHours: nil, offHours: ""}
	cfg.inHours = []string{"x"}
	at := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC) // Sunday: off hours, no template
	_, err := newEvaluatorAt(t, cfg, at).TemplateID()
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	if !apperr.Is(err, apperr.KindConfig) {
		t.Fatalf("expected KindConfig, got %v", err)
	}
}

func TestParseWeek_RejectsUnknownDay(t *testing.T) {
	if _, err := ParseWeek(map[string]string{"funday": "09:00-17:00"}); err == nil {
		t.Fatalf("expected error for unknown weekday")
	}
}
