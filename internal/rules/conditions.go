package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/vigilo/vigilo/internal/database"
	"github.com/vigilo/vigilo/internal/models"
)

var validDays = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// ValidateConditions checks a rule's condition predicate at
// configuration-load time, so evaluation never sees a malformed rule
func ValidateConditions(c database.RuleConditions) error {
	for _, cat := range c.Categories {
		if !models.ValidCategory(cat) {
			return fmt.Errorf("unknown category %q", cat)
		}
	}

	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 100) {
		return fmt.Errorf("min confidence must be 0..100, got %d", *c.MinConfidence)
	}

	if (c.TimeOfDayStart == "") != (c.TimeOfDayEnd == "") {
		return fmt.Errorf("time-of-day window requires both start and end")
	}
	if c.TimeOfDayStart != "" {
		if _, err := parseClock(c.TimeOfDayStart); err != nil {
			return fmt.Errorf("time-of-day start: %w", err)
		}
		if _, err := parseClock(c.TimeOfDayEnd); err != nil {
			return fmt.Errorf("time-of-day end: %w", err)
		}
	}

	for _, day := range c.DaysOfWeek {
		if !lo.Contains(validDays, strings.ToLower(day)) {
			return fmt.Errorf("unknown day of week %q", day)
		}
	}

	return nil
}

// Matches tests the condition predicate against an event with AND
// semantics: every specified sub-condition must hold, unspecified ones
// are vacuously true.
func Matches(c database.RuleConditions, event *database.SemanticEvent) bool {
	if len(c.Categories) > 0 {
		overlap := lo.Intersect(c.Categories, []string(event.Categories))
		if len(overlap) == 0 && !lo.Contains(c.Categories, event.TriggerCategory) {
			return false
		}
	}

	if c.MinConfidence != nil && event.Confidence < *c.MinConfidence {
		return false
	}

	if len(c.Sources) > 0 && !lo.Contains(c.Sources, event.SourceUUID) {
		return false
	}

	ts := event.Timestamp
	if len(c.DaysOfWeek) > 0 {
		day := strings.ToLower(ts.Weekday().String())
		if !lo.Contains(lo.Map(c.DaysOfWeek, func(d string, _ int) string {
			return strings.ToLower(d)
		}), day) {
			return false
		}
	}

	if c.TimeOfDayStart != "" && c.TimeOfDayEnd != "" {
		start, err1 := parseClock(c.TimeOfDayStart)
		end, err2 := parseClock(c.TimeOfDayEnd)
		if err1 != nil || err2 != nil {
			// Validated at load; treat a corrupt window as non-matching
			return false
		}
		minute := ts.Hour()*60 + ts.Minute()
		if !inClockWindow(minute, start, end) {
			return false
		}
	}

	return true
}

// parseClock parses "HH:MM" into minutes since midnight
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// inClockWindow handles windows that wrap midnight (e.g. 22:00-06:00)
func inClockWindow(minute, start, end int) bool {
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}
