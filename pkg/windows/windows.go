// Package windows evaluates deny windows during which the recovery monitor
// must not restart the stack, e.g. while a nightly batch job is running.
//
// An expression is either "HH:MM-HH:MM", which applies every day, or a day
// spec followed by a time range, e.g. "Sat 00:00-08:00" or
// "Mon-Fri 09:00-17:00". A range whose end is not after its start wraps past
// midnight into the following day.
package windows

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	minutesPerDay  = 24 * 60
	minutesPerWeek = 7 * minutesPerDay
)

// span is a half-open interval of minutes since the start of the week
// (Sunday 00:00). Overnight ranges are split into two spans at parse time.
type span struct {
	start int
	end   int
	expr  string
}

// Evaluator checks timestamps against a set of parsed deny windows.
type Evaluator struct {
	deny []span
}

// New parses deny expressions into an evaluator. It returns nil when exprs is
// empty so callers can skip the check entirely.
func New(exprs []string) (*Evaluator, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	eval := &Evaluator{}
	for idx, expr := range exprs {
		trimmed := strings.TrimSpace(expr)
		if trimmed == "" {
			return nil, fmt.Errorf("deny_windows[%d]: expression must not be empty", idx)
		}
		spans, err := parseExpression(trimmed)
		if err != nil {
			return nil, fmt.Errorf("deny_windows[%d]: %w", idx, err)
		}
		eval.deny = append(eval.deny, spans...)
	}
	return eval, nil
}

// Denied reports whether t falls inside any deny window, and if so which
// expression matched.
func (e *Evaluator) Denied(t time.Time) (bool, string) {
	if e == nil {
		return false, ""
	}
	minute := int(t.Weekday())*minutesPerDay + t.Hour()*60 + t.Minute()
	for _, s := range e.deny {
		if minute >= s.start && minute < s.end {
			return true, s.expr
		}
	}
	return false, ""
}

func parseExpression(expr string) ([]span, error) {
	days := []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}
	timePart := expr
	if fields := strings.Fields(expr); len(fields) == 2 {
		parsed, err := parseDaySpec(fields[0])
		if err != nil {
			return nil, err
		}
		days = parsed
		timePart = fields[1]
	} else if len(fields) != 1 {
		return nil, fmt.Errorf("expected [days] HH:MM-HH:MM, got %q", expr)
	}

	startMinute, endMinute, err := parseTimeRange(timePart)
	if err != nil {
		return nil, err
	}

	var spans []span
	for _, day := range days {
		base := int(day) * minutesPerDay
		if endMinute > startMinute {
			spans = append(spans, span{start: base + startMinute, end: base + endMinute, expr: expr})
			continue
		}
		// Overnight: run to midnight, then resume on the following day.
		spans = append(spans, span{start: base + startMinute, end: base + minutesPerDay, expr: expr})
		next := (base + minutesPerDay) % minutesPerWeek
		spans = append(spans, span{start: next, end: next + endMinute, expr: expr})
	}
	return spans, nil
}

func parseDaySpec(spec string) ([]time.Weekday, error) {
	if spec == "*" {
		return []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		}, nil
	}
	if start, end, ok := strings.Cut(spec, "-"); ok {
		from, err := parseDay(start)
		if err != nil {
			return nil, err
		}
		to, err := parseDay(end)
		if err != nil {
			return nil, err
		}
		days := []time.Weekday{from}
		for day := from; day != to; {
			day = (day + 1) % 7
			days = append(days, day)
		}
		return days, nil
	}
	day, err := parseDay(spec)
	if err != nil {
		return nil, err
	}
	return []time.Weekday{day}, nil
}

func parseDay(value string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "sun", "sunday":
		return time.Sunday, nil
	case "mon", "monday":
		return time.Monday, nil
	case "tue", "tuesday":
		return time.Tuesday, nil
	case "wed", "wednesday":
		return time.Wednesday, nil
	case "thu", "thursday":
		return time.Thursday, nil
	case "fri", "friday":
		return time.Friday, nil
	case "sat", "saturday":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("unknown day %q", value)
}

func parseTimeRange(value string) (int, int, error) {
	start, end, ok := strings.Cut(value, "-")
	if !ok {
		return 0, 0, fmt.Errorf("time range %q must look like HH:MM-HH:MM", value)
	}
	startMinute, err := parseTimeOfDay(start)
	if err != nil {
		return 0, 0, err
	}
	endMinute, err := parseTimeOfDay(end)
	if err != nil {
		return 0, 0, err
	}
	return startMinute, endMinute, nil
}

func parseTimeOfDay(value string) (int, error) {
	hourPart, minutePart, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, fmt.Errorf("time %q must look like HH:MM", value)
	}
	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("time %q has an invalid hour", value)
	}
	minute, err := strconv.Atoi(minutePart)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time %q has an invalid minute", value)
	}
	return hour*60 + minute, nil
}
