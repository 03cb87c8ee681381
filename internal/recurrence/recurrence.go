package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Frequency identifies how a schedule repeats
type Frequency string

const (
	// OneShot fires once at an absolute instant
	OneShot Frequency = "one_shot"
	Once    Frequency = "once"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Hourly  Frequency = "hourly"
	// Custom is a five-field cron expression (descriptors like @daily are
	// accepted). A missing or unparsable expression falls back to the
	// hourly rule.
	Custom Frequency = "custom"
)

// maxWeeklySteps bounds the day-by-day search for a weekly occurrence.
// Any non-empty day set matches within 8 steps, well under the cap.
const maxWeeklySteps = 14

var (
	ErrEmptyWeekdays    = errors.New("weekly schedule has no days selected")
	ErrInvalidWeekday   = errors.New("weekday must be between 1 (Sunday) and 7 (Saturday)")
	ErrInvalidTime      = errors.New("hour must be 0-23 and minute 0-59")
	ErrNoOccurrence     = errors.New("schedule has no future occurrence")
	ErrUnknownFrequency = errors.New("unknown frequency")
)

// Schedule describes when a task is due.
//
// Days uses 1-7 ordinals with Sunday = 1. At is the absolute instant for
// OneShot schedules and the calendar day for Once schedules.
type Schedule struct {
	Frequency Frequency
	Hour      int
	Minute    int
	Days      []int
	At        time.Time
	Cron      string
}

// Next returns the first trigger instant strictly after now.
func Next(s Schedule, now time.Time) (time.Time, error) {
	if s.Frequency != OneShot {
		if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
			return time.Time{}, ErrInvalidTime
		}
	}

	switch s.Frequency {
	case OneShot:
		if s.At.After(now) {
			return s.At, nil
		}
		// The moment already passed; fire an hour from now rather than in the past.
		return now.Add(time.Hour), nil

	case Once:
		day := s.At
		if day.IsZero() {
			day = now
		}
		day = day.In(now.Location())
		next := atClock(day, s.Hour, s.Minute)
		for !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case Daily:
		next := atClock(now, s.Hour, s.Minute)
		for !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case Weekly:
		return nextWeekly(s, now)

	case Hourly:
		return nextHourly(s, now), nil

	case Custom:
		if sched, err := ParseCron(s.Cron); err == nil {
			next := sched.Next(now)
			if next.IsZero() {
				return time.Time{}, ErrNoOccurrence
			}
			return next, nil
		}
		return nextHourly(s, now), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, s.Frequency)
}

func nextWeekly(s Schedule, now time.Time) (time.Time, error) {
	if len(s.Days) == 0 {
		return time.Time{}, ErrEmptyWeekdays
	}
	allowed := make(map[int]bool, len(s.Days))
	for _, d := range s.Days {
		if d < 1 || d > 7 {
			return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidWeekday, d)
		}
		allowed[d] = true
	}

	next := atClock(now, s.Hour, s.Minute)
	for i := 0; i < maxWeeklySteps; i++ {
		if next.After(now) && allowed[Ordinal(next.Weekday())] {
			return next, nil
		}
		next = next.AddDate(0, 0, 1)
	}
	return time.Time{}, ErrNoOccurrence
}

// nextHourly starts from today's hour:minute baseline and steps forward in whole hours.
func nextHourly(s Schedule, now time.Time) time.Time {
	next := atClock(now, s.Hour, s.Minute)
	if next.After(now) {
		return next
	}
	steps := now.Sub(next)/time.Hour + 1
	return next.Add(steps * time.Hour)
}

func atClock(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// ParseCron parses a standard five-field cron expression or descriptor such as "@daily".
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("empty cron expression")
	}
	return cron.ParseStandard(expr)
}

// Ordinal converts a weekday to the 1-7 ordinal used by Schedule.Days.
func Ordinal(d time.Weekday) int {
	return int(d) + 1
}

// FromMondayFirst converts a Monday-first label index (Monday = 1 ... Sunday = 7)
// to the Sunday = 1 ordinal.
func FromMondayFirst(day int) (int, error) {
	if day < 1 || day > 7 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidWeekday, day)
	}
	return day%7 + 1, nil
}

// ParseDays parses a comma separated list of ordinals such as "2,4,6".
func ParseDays(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	seen := make(map[int]bool)
	var days []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid weekday %q: %w", part, err)
		}
		if d < 1 || d > 7 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidWeekday, d)
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)
	return days, nil
}

// FormatDays is the inverse of ParseDays.
func FormatDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

var dayNames = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Describe renders a short human readable form of the schedule.
func Describe(s Schedule) string {
	clock := fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
	switch s.Frequency {
	case OneShot:
		if s.At.IsZero() {
			return "once"
		}
		return "once at " + s.At.Format("Jan 02 15:04")
	case Once:
		return "once at " + clock
	case Daily:
		return "daily at " + clock
	case Weekly:
		names := make([]string, 0, len(s.Days))
		for _, d := range s.Days {
			if d >= 1 && d <= 7 {
				names = append(names, dayNames[d-1])
			}
		}
		return fmt.Sprintf("weekly %s at %s", strings.Join(names, ","), clock)
	case Hourly:
		return fmt.Sprintf("hourly at :%02d", s.Minute)
	case Custom:
		if s.Cron != "" {
			return "cron " + s.Cron
		}
		return "custom (hourly)"
	}
	return string(s.Frequency)
}
