package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// StringList is a JSONB-backed list of strings (categories, source subsets)
type StringList []string

// Scan implements the sql.Scanner interface
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Contains reports whether the list contains s
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// Source represents a camera/controller endpoint
type Source struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UUID            string     `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Name            string     `gorm:"uniqueIndex;size:128;not null" json:"name"`
	StreamURL       string     `gorm:"type:text;not null" json:"stream_url"`
	SnapshotURL     string     `gorm:"type:text" json:"snapshot_url"`
	TriggerFilter   StringList `gorm:"type:jsonb" json:"trigger_filter"` // empty = accept all categories
	CooldownSeconds int        `gorm:"default:30" json:"cooldown_seconds"`
	Enabled         bool       `gorm:"default:true" json:"enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Source) TableName() string {
	return "sources"
}

// Cooldown returns the per-source trigger cooldown as a duration
func (s *Source) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}

// AcceptsCategory applies the per-source trigger filter
func (s *Source) AcceptsCategory(category string) bool {
	if len(s.TriggerFilter) == 0 {
		return true
	}
	return s.TriggerFilter.Contains(category)
}

// SemanticEvent is the durable, described record produced from a trigger.
// Description and Provider are immutable once set, except through the
// transactional reanalysis in EventStore.ReanalyzeEvent.
type SemanticEvent struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UUID               string     `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	SourceUUID         string     `gorm:"size:36;not null;index" json:"source_uuid"`
	SourceName         string     `gorm:"size:128" json:"source_name"`
	Timestamp          time.Time  `gorm:"index" json:"timestamp"`
	TriggerCategory    string     `gorm:"size:32" json:"trigger_category"`
	Description        string     `gorm:"type:text" json:"description"`
	Confidence         int        `json:"confidence"` // 0-100
	Categories         StringList `gorm:"type:jsonb" json:"categories"`
	Provider           string     `gorm:"size:64" json:"provider"`
	CorrelationGroupID *string    `gorm:"size:36;index" json:"correlation_group_id,omitempty"`
	AlertTriggered     bool       `gorm:"default:false" json:"alert_triggered"`
	Unavailable        bool       `gorm:"default:false" json:"unavailable"`
	ErrorReason        string     `gorm:"type:text" json:"error_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (SemanticEvent) TableName() string {
	return "semantic_events"
}

// RuleConditions is the typed condition predicate for an alert rule.
// Unset fields are vacuously true; set fields are ANDed together.
// Validated at configuration load, not at evaluation time.
type RuleConditions struct {
	Categories     []string `json:"categories,omitempty"`
	MinConfidence  *int     `json:"min_confidence,omitempty"`
	TimeOfDayStart string   `json:"time_of_day_start,omitempty"` // "HH:MM"
	TimeOfDayEnd   string   `json:"time_of_day_end,omitempty"`
	DaysOfWeek     []string `json:"days_of_week,omitempty"` // "monday".."sunday"
	Sources        []string `json:"sources,omitempty"`      // source UUIDs
}

// Scan implements the sql.Scanner interface
func (c *RuleConditions) Scan(value interface{}) error {
	if value == nil {
		*c = RuleConditions{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, c)
}

// Value implements the driver.Valuer interface
func (c RuleConditions) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// RuleActions describes what a matched rule does
type RuleActions struct {
	Notify         bool              `json:"notify,omitempty"`
	WebhookURL     string            `json:"webhook_url,omitempty"`
	WebhookHeaders map[string]string `json:"webhook_headers,omitempty"`
	SlackChannel   string            `json:"slack_channel,omitempty"`
}

// Scan implements the sql.Scanner interface
func (a *RuleActions) Scan(value interface{}) error {
	if value == nil {
		*a = RuleActions{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, a)
}

// Value implements the driver.Valuer interface
func (a RuleActions) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// AlertRule fires actions when a newly persisted event matches its
// conditions, at most once per cooldown window
type AlertRule struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	UUID            string         `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Name            string         `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Enabled         bool           `gorm:"default:true" json:"enabled"`
	Conditions      RuleConditions `gorm:"type:jsonb" json:"conditions"`
	Actions         RuleActions    `gorm:"type:jsonb" json:"actions"`
	CooldownSeconds int            `gorm:"default:60" json:"cooldown_seconds"`
	LastFiredAt     *time.Time     `json:"last_fired_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (AlertRule) TableName() string {
	return "alert_rules"
}

// Cooldown returns the per-rule fire cooldown as a duration
func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// InCooldown reports whether the rule fired within its cooldown window
func (r *AlertRule) InCooldown(now time.Time) bool {
	if r.LastFiredAt == nil {
		return false
	}
	return now.Sub(*r.LastFiredAt) < r.Cooldown()
}

// WebhookDeliveryAttempt records one outbound webhook POST attempt.
// Attempt numbers are monotonically increasing per event/target and
// stop at success or at the attempt cap.
type WebhookDeliveryAttempt struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventUUID  string    `gorm:"size:36;index" json:"event_uuid"`
	RuleName   string    `gorm:"size:128" json:"rule_name"`
	TargetURL  string    `gorm:"type:text;not null" json:"target_url"`
	Attempt    int       `gorm:"not null" json:"attempt"`
	StatusCode int       `json:"status_code"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Succeeded  bool      `gorm:"default:false" json:"succeeded"`
	CreatedAt  time.Time `json:"created_at"`
}

func (WebhookDeliveryAttempt) TableName() string {
	return "webhook_delivery_attempts"
}

// CorrelationGroup labels a set of events believed to represent one
// real-world occurrence. Membership lives on the events themselves
// (correlation_group_id), with reverse lookup by group UUID.
type CorrelationGroup struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UUID      string    `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CorrelationGroup) TableName() string {
	return "correlation_groups"
}
