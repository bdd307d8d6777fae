package windows

import (
	"testing"
	"time"
)

// at builds a timestamp on the given 2025 weekday (June 1 2025 is a Sunday).
func at(t *testing.T, day time.Weekday, hour, minute int) time.Time {
	t.Helper()
	base := time.Date(2025, time.June, 1, hour, minute, 0, 0, time.UTC)
	return base.AddDate(0, 0, int(day))
}

func TestNewReturnsNilWithoutExpressions(t *testing.T) {
	eval, err := New(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval != nil {
		t.Fatal("expected nil evaluator for empty expression list")
	}
	if denied, _ := eval.Denied(time.Now()); denied {
		t.Fatal("nil evaluator must never deny")
	}
}

func TestDailyWindow(t *testing.T) {
	eval, err := New([]string{"02:00-04:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if denied, expr := eval.Denied(at(t, time.Wednesday, 3, 0)); !denied || expr != "02:00-04:00" {
		t.Fatalf("expected 03:00 to be denied by the daily window, got denied=%v expr=%q", denied, expr)
	}
	if denied, _ := eval.Denied(at(t, time.Wednesday, 4, 0)); denied {
		t.Fatal("expected the window end to be exclusive")
	}
	if denied, _ := eval.Denied(at(t, time.Sunday, 2, 0)); !denied {
		t.Fatal("expected a day-less window to apply on every day")
	}
}

func TestDayRangeWindow(t *testing.T) {
	eval, err := New([]string{"Mon-Fri 09:00-17:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if denied, _ := eval.Denied(at(t, time.Tuesday, 12, 30)); !denied {
		t.Fatal("expected Tuesday noon to be denied")
	}
	if denied, _ := eval.Denied(at(t, time.Saturday, 12, 30)); denied {
		t.Fatal("expected Saturday noon to be allowed")
	}
	if denied, _ := eval.Denied(at(t, time.Monday, 8, 59)); denied {
		t.Fatal("expected Monday 08:59 to be allowed")
	}
}

func TestOvernightWrap(t *testing.T) {
	eval, err := New([]string{"Sat 22:00-06:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if denied, _ := eval.Denied(at(t, time.Saturday, 23, 0)); !denied {
		t.Fatal("expected Saturday 23:00 to be denied")
	}
	if denied, _ := eval.Denied(at(t, time.Sunday, 5, 59)); !denied {
		t.Fatal("expected the wrap to extend into Sunday morning")
	}
	if denied, _ := eval.Denied(at(t, time.Sunday, 6, 0)); denied {
		t.Fatal("expected Sunday 06:00 to be allowed")
	}
	if denied, _ := eval.Denied(at(t, time.Friday, 23, 0)); denied {
		t.Fatal("expected Friday night to be allowed")
	}
}

func TestDayRangeWrapsAroundWeekend(t *testing.T) {
	eval, err := New([]string{"Fri-Mon 00:00-01:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, day := range []time.Weekday{time.Friday, time.Saturday, time.Sunday, time.Monday} {
		if denied, _ := eval.Denied(at(t, day, 0, 30)); !denied {
			t.Fatalf("expected %s 00:30 to be denied", day)
		}
	}
	if denied, _ := eval.Denied(at(t, time.Tuesday, 0, 30)); denied {
		t.Fatal("expected Tuesday 00:30 to be allowed")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"Mon",
		"Mon-Funday 09:00-17:00",
		"09:00",
		"25:00-26:00",
		"09:60-10:00",
		"Mon Tue 09:00-17:00",
	}
	for _, expr := range cases {
		if _, err := New([]string{expr}); err == nil {
			t.Fatalf("expected expression %q to be rejected", expr)
		}
	}
}
