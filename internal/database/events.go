package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventStore is the persistence boundary for the pipeline. It is
// injected into the orchestrator and the downstream services at
// construction time.
type EventStore struct {
	db *gorm.DB
}

// NewEventStore creates a new EventStore
func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// ========== Semantic Event Operations ==========

// CreateEvent persists a new semantic event, generating its UUID if unset
func (s *EventStore) CreateEvent(event *SemanticEvent) error {
	if event.UUID == "" {
		event.UUID = uuid.New().String()
	}
	return s.db.Create(event).Error
}

// GetEventByUUID retrieves an event by UUID
func (s *EventStore) GetEventByUUID(eventUUID string) (*SemanticEvent, error) {
	var event SemanticEvent
	if err := s.db.Where("uuid = ?", eventUUID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ReanalyzeEvent transactionally replaces the description, confidence,
// categories and provider of an event. This is the only path that may
// touch description/provider after creation.
func (s *EventStore) ReanalyzeEvent(eventUUID, description string, confidence int, categories StringList, provider string, unavailable bool, errorReason string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var event SemanticEvent
		if err := tx.Where("uuid = ?", eventUUID).First(&event).Error; err != nil {
			return fmt.Errorf("event %s not found: %w", eventUUID, err)
		}
		return tx.Model(&event).Updates(map[string]interface{}{
			"description":  description,
			"confidence":   confidence,
			"categories":   categories,
			"provider":     provider,
			"unavailable":  unavailable,
			"error_reason": errorReason,
		}).Error
	})
}

// MarkAlertTriggered sets the alert-triggered flag on an event
func (s *EventStore) MarkAlertTriggered(eventUUID string) error {
	return s.db.Model(&SemanticEvent{}).Where("uuid = ?", eventUUID).
		Update("alert_triggered", true).Error
}

// ========== Correlation Operations ==========

// AssignGroup puts an event into a correlation group, creating the
// group row if it does not exist yet
func (s *EventStore) AssignGroup(eventUUID, groupUUID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		group := CorrelationGroup{UUID: groupUUID}
		if err := tx.Where("uuid = ?", groupUUID).FirstOrCreate(&group).Error; err != nil {
			return err
		}
		return tx.Model(&SemanticEvent{}).Where("uuid = ?", eventUUID).
			Update("correlation_group_id", groupUUID).Error
	})
}

// RelabelGroup moves all events from one group to another and removes
// the emptied group row. Used when two existing groups merge.
func (s *EventStore) RelabelGroup(fromUUID, toUUID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&SemanticEvent{}).Where("correlation_group_id = ?", fromUUID).
			Update("correlation_group_id", toUUID).Error; err != nil {
			return err
		}
		return tx.Where("uuid = ?", fromUUID).Delete(&CorrelationGroup{}).Error
	})
}

// ListGroupEvents returns all events in a correlation group, oldest first
func (s *EventStore) ListGroupEvents(groupUUID string) ([]SemanticEvent, error) {
	var events []SemanticEvent
	err := s.db.Where("correlation_group_id = ?", groupUUID).
		Order("timestamp ASC").Find(&events).Error
	return events, err
}

// ========== Webhook Delivery Operations ==========

// RecordDeliveryAttempt persists one webhook delivery attempt
func (s *EventStore) RecordDeliveryAttempt(attempt *WebhookDeliveryAttempt) error {
	return s.db.Create(attempt).Error
}

// ListDeliveryAttempts returns attempts for an event/target in order
func (s *EventStore) ListDeliveryAttempts(eventUUID, targetURL string) ([]WebhookDeliveryAttempt, error) {
	var attempts []WebhookDeliveryAttempt
	err := s.db.Where("event_uuid = ? AND target_url = ?", eventUUID, targetURL).
		Order("attempt ASC").Find(&attempts).Error
	return attempts, err
}

// ========== Alert Rule Operations ==========

// ListEnabledRules returns all enabled alert rules
func (s *EventStore) ListEnabledRules() ([]AlertRule, error) {
	var rules []AlertRule
	err := s.db.Where("enabled = ?", true).Order("id ASC").Find(&rules).Error
	return rules, err
}

// UpdateRuleLastFired records when a rule last fired
func (s *EventStore) UpdateRuleLastFired(ruleID uint, firedAt time.Time) error {
	return s.db.Model(&AlertRule{}).Where("id = ?", ruleID).
		Update("last_fired_at", firedAt).Error
}

// EnsureRule creates or updates a rule by name (startup seeding)
func (s *EventStore) EnsureRule(rule *AlertRule) error {
	if rule.UUID == "" {
		rule.UUID = uuid.New().String()
	}

	var existing AlertRule
	result := s.db.Where("name = ?", rule.Name).First(&existing)
	if result.Error != nil {
		return s.db.Create(rule).Error
	}

	return s.db.Model(&existing).Updates(map[string]interface{}{
		"enabled":          rule.Enabled,
		"conditions":       rule.Conditions,
		"actions":          rule.Actions,
		"cooldown_seconds": rule.CooldownSeconds,
	}).Error
}

// ========== Source Operations ==========

// ListEnabledSources returns all enabled sources
func (s *EventStore) ListEnabledSources() ([]Source, error) {
	var sources []Source
	err := s.db.Where("enabled = ?", true).Order("id ASC").Find(&sources).Error
	return sources, err
}

// GetSourceByUUID retrieves a source by UUID
func (s *EventStore) GetSourceByUUID(sourceUUID string) (*Source, error) {
	var source Source
	if err := s.db.Where("uuid = ?", sourceUUID).First(&source).Error; err != nil {
		return nil, err
	}
	return &source, nil
}

// EnsureSource creates or updates a source by name (startup seeding)
func (s *EventStore) EnsureSource(source *Source) error {
	if source.UUID == "" {
		source.UUID = uuid.New().String()
	}

	var existing Source
	result := s.db.Where("name = ?", source.Name).First(&existing)
	if result.Error != nil {
		return s.db.Create(source).Error
	}

	return s.db.Model(&existing).Updates(map[string]interface{}{
		"stream_url":       source.StreamURL,
		"snapshot_url":     source.SnapshotURL,
		"trigger_filter":   source.TriggerFilter,
		"cooldown_seconds": source.CooldownSeconds,
		"enabled":          source.Enabled,
	}).Error
}
