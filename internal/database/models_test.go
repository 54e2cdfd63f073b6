package database

import (
	"testing"
	"time"
)

func TestStringList_Scan(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		want    int
		wantErr bool
	}{
		{
			name:    "nil value",
			input:   nil,
			want:    0,
			wantErr: false,
		},
		{
			name:    "valid JSON array",
			input:   []byte(`["person","vehicle"]`),
			want:    2,
			wantErr: false,
		},
		{
			name:    "invalid JSON",
			input:   []byte(`not json`),
			wantErr: true,
		},
		{
			name:    "wrong type",
			input:   42,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l StringList
			err := l.Scan(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Scan() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(l) != tt.want {
				t.Errorf("Scan() len = %d, want %d", len(l), tt.want)
			}
		})
	}
}

func TestStringList_Value(t *testing.T) {
	var nilList StringList
	value, err := nilList.Value()
	if err != nil {
		t.Errorf("Value() error = %v", err)
	}
	if value != nil {
		t.Errorf("Value() = %v, want nil for nil list", value)
	}

	list := StringList{"person"}
	value, err = list.Value()
	if err != nil {
		t.Errorf("Value() error = %v", err)
	}
	if string(value.([]byte)) != `["person"]` {
		t.Errorf("Value() = %s, want [\"person\"]", value)
	}
}

func TestSource_AcceptsCategory(t *testing.T) {
	tests := []struct {
		name     string
		filter   StringList
		category string
		want     bool
	}{
		{
			name:     "empty filter accepts everything",
			filter:   nil,
			category: "person",
			want:     true,
		},
		{
			name:     "category in filter",
			filter:   StringList{"person", "vehicle"},
			category: "vehicle",
			want:     true,
		},
		{
			name:     "category not in filter",
			filter:   StringList{"person"},
			category: "animal",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &Source{TriggerFilter: tt.filter}
			if got := source.AcceptsCategory(tt.category); got != tt.want {
				t.Errorf("AcceptsCategory(%s) = %v, want %v", tt.category, got, tt.want)
			}
		})
	}
}

func TestAlertRule_InCooldown(t *testing.T) {
	now := time.Now()
	recent := now.Add(-30 * time.Second)
	old := now.Add(-5 * time.Minute)

	tests := []struct {
		name        string
		lastFiredAt *time.Time
		cooldown    int
		want        bool
	}{
		{
			name:        "never fired",
			lastFiredAt: nil,
			cooldown:    60,
			want:        false,
		},
		{
			name:        "fired inside cooldown",
			lastFiredAt: &recent,
			cooldown:    60,
			want:        true,
		},
		{
			name:        "fired outside cooldown",
			lastFiredAt: &old,
			cooldown:    60,
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &AlertRule{LastFiredAt: tt.lastFiredAt, CooldownSeconds: tt.cooldown}
			if got := rule.InCooldown(now); got != tt.want {
				t.Errorf("InCooldown() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRuleConditions_RoundTrip(t *testing.T) {
	minConf := 70
	conditions := RuleConditions{
		Categories:    []string{"person"},
		MinConfidence: &minConf,
		DaysOfWeek:    []string{"monday", "friday"},
	}

	value, err := conditions.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var scanned RuleConditions
	if err := scanned.Scan(value); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(scanned.Categories) != 1 || scanned.Categories[0] != "person" {
		t.Errorf("categories = %v, want [person]", scanned.Categories)
	}
	if scanned.MinConfidence == nil || *scanned.MinConfidence != 70 {
		t.Errorf("min confidence = %v, want 70", scanned.MinConfidence)
	}
	if len(scanned.DaysOfWeek) != 2 {
		t.Errorf("days of week = %v, want 2 entries", scanned.DaysOfWeek)
	}
}
