package rules

import (
	"testing"
	"time"

	"github.com/vigilo/vigilo/internal/database"
)

func intPtr(v int) *int { return &v }

func TestValidateConditions(t *testing.T) {
	tests := []struct {
		name       string
		conditions database.RuleConditions
		wantErr    bool
	}{
		{
			name:       "empty conditions",
			conditions: database.RuleConditions{},
			wantErr:    false,
		},
		{
			name:       "known categories",
			conditions: database.RuleConditions{Categories: []string{"person", "vehicle"}},
			wantErr:    false,
		},
		{
			name:       "unknown category",
			conditions: database.RuleConditions{Categories: []string{"dinosaur"}},
			wantErr:    true,
		},
		{
			name:       "confidence in range",
			conditions: database.RuleConditions{MinConfidence: intPtr(70)},
			wantErr:    false,
		},
		{
			name:       "confidence out of range",
			conditions: database.RuleConditions{MinConfidence: intPtr(101)},
			wantErr:    true,
		},
		{
			name:       "time window missing end",
			conditions: database.RuleConditions{TimeOfDayStart: "22:00"},
			wantErr:    true,
		},
		{
			name:       "valid time window",
			conditions: database.RuleConditions{TimeOfDayStart: "22:00", TimeOfDayEnd: "06:00"},
			wantErr:    false,
		},
		{
			name:       "malformed clock",
			conditions: database.RuleConditions{TimeOfDayStart: "25:00", TimeOfDayEnd: "06:00"},
			wantErr:    true,
		},
		{
			name:       "valid days",
			conditions: database.RuleConditions{DaysOfWeek: []string{"Monday", "sunday"}},
			wantErr:    false,
		},
		{
			name:       "unknown day",
			conditions: database.RuleConditions{DaysOfWeek: []string{"someday"}},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConditions(tt.conditions)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConditions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	// Friday 2026-05-01, 23:30 local
	night := time.Date(2026, 5, 1, 23, 30, 0, 0, time.UTC)
	morning := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	event := &database.SemanticEvent{
		SourceUUID:      "src-1",
		TriggerCategory: "motion",
		Confidence:      80,
		Categories:      database.StringList{"person", "package"},
		Timestamp:       night,
	}

	tests := []struct {
		name       string
		conditions database.RuleConditions
		event      *database.SemanticEvent
		want       bool
	}{
		{
			name:       "empty conditions match everything",
			conditions: database.RuleConditions{},
			event:      event,
			want:       true,
		},
		{
			name:       "category overlap",
			conditions: database.RuleConditions{Categories: []string{"person"}},
			event:      event,
			want:       true,
		},
		{
			name:       "no category overlap",
			conditions: database.RuleConditions{Categories: []string{"vehicle"}},
			event:      event,
			want:       false,
		},
		{
			name:       "trigger category counts when detected categories miss",
			conditions: database.RuleConditions{Categories: []string{"motion"}},
			event:      event,
			want:       true,
		},
		{
			name:       "confidence at threshold",
			conditions: database.RuleConditions{MinConfidence: intPtr(80)},
			event:      event,
			want:       true,
		},
		{
			name:       "confidence below threshold",
			conditions: database.RuleConditions{MinConfidence: intPtr(81)},
			event:      event,
			want:       false,
		},
		{
			name:       "source subset includes event",
			conditions: database.RuleConditions{Sources: []string{"src-1", "src-2"}},
			event:      event,
			want:       true,
		},
		{
			name:       "source subset excludes event",
			conditions: database.RuleConditions{Sources: []string{"src-2"}},
			event:      event,
			want:       false,
		},
		{
			name:       "day of week matches",
			conditions: database.RuleConditions{DaysOfWeek: []string{"friday"}},
			event:      event,
			want:       true,
		},
		{
			name:       "day of week mismatch",
			conditions: database.RuleConditions{DaysOfWeek: []string{"saturday"}},
			event:      event,
			want:       false,
		},
		{
			name:       "night window wrapping midnight includes 23:30",
			conditions: database.RuleConditions{TimeOfDayStart: "22:00", TimeOfDayEnd: "06:00"},
			event:      event,
			want:       true,
		},
		{
			name:       "night window wrapping midnight excludes 09:00",
			conditions: database.RuleConditions{TimeOfDayStart: "22:00", TimeOfDayEnd: "06:00"},
			event:      &database.SemanticEvent{Timestamp: morning, Categories: database.StringList{"person"}},
			want:       false,
		},
		{
			name:       "daytime window includes 09:00",
			conditions: database.RuleConditions{TimeOfDayStart: "08:00", TimeOfDayEnd: "18:00"},
			event:      &database.SemanticEvent{Timestamp: morning},
			want:       true,
		},
		{
			name: "all conditions must hold",
			conditions: database.RuleConditions{
				Categories:    []string{"person"},
				MinConfidence: intPtr(90),
			},
			event: event,
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.conditions, tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
