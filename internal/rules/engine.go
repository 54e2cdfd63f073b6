package rules

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/vigilo/vigilo/internal/broadcast"
	"github.com/vigilo/vigilo/internal/database"
	"github.com/vigilo/vigilo/internal/webhook"
)

// Store is the persistence surface the engine needs
type Store interface {
	ListEnabledRules() ([]database.AlertRule, error)
	UpdateRuleLastFired(ruleID uint, firedAt time.Time) error
	MarkAlertTriggered(eventUUID string) error
}

// WebhookSender delivers a webhook action's payload
type WebhookSender interface {
	Deliver(ctx context.Context, target webhook.Target, payload webhook.Payload) error
}

// Notifier posts an alert to a chat channel
type Notifier interface {
	Notify(channel, text string) error
}

// Publisher fans out realtime messages
type Publisher interface {
	Publish(messageType broadcast.MessageType, payload interface{})
}

// Engine evaluates stored alert rules against newly persisted events
// and executes their actions. It is invoked fire-and-forget after
// persistence and never blocks the orchestrator.
type Engine struct {
	store      Store
	dispatcher WebhookSender
	publisher  Publisher
	notifier   Notifier // nil when Slack is not configured
	now        func() time.Time

	// Concurrent evaluations load the same rule snapshot, so the
	// cooldown check-and-set must be one atomic step here, not a
	// read-then-write against the snapshot
	cooldownMu sync.Mutex
	lastFired  map[uint]time.Time
}

// NewEngine creates a rule engine. notifier may be nil.
func NewEngine(store Store, dispatcher WebhookSender, publisher Publisher, notifier Notifier) *Engine {
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		publisher:  publisher,
		notifier:   notifier,
		now:        time.Now,
		lastFired:  make(map[uint]time.Time),
	}
}

// AlertPayload is the realtime message published when a rule fires
type AlertPayload struct {
	RuleName    string    `json:"rule_name"`
	EventID     string    `json:"event_id"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	Confidence  int       `json:"confidence"`
	Categories  []string  `json:"categories"`
	Timestamp   time.Time `json:"timestamp"`
}

// Evaluate tests every enabled rule against the event and fires the
// matching ones. A rule inside its cooldown window is skipped. Returns
// the rules that fired.
func (e *Engine) Evaluate(ctx context.Context, event *database.SemanticEvent) []database.AlertRule {
	enabled, err := e.store.ListEnabledRules()
	if err != nil {
		log.Printf("Rule evaluation: failed to load rules: %v", err)
		return nil
	}

	now := e.now()
	var triggered []database.AlertRule

	for _, rule := range enabled {
		if !Matches(rule.Conditions, event) {
			continue
		}
		if !e.passCooldown(&rule, now) {
			continue
		}

		if err := e.store.UpdateRuleLastFired(rule.ID, now); err != nil {
			log.Printf("Rule %s: failed to update last-fired: %v", rule.Name, err)
			continue
		}
		fired := rule
		fired.LastFiredAt = &now
		triggered = append(triggered, fired)

		log.Printf("Rule %s fired for event %s", rule.Name, event.UUID)
		e.execute(ctx, fired, event)
	}

	if len(triggered) > 0 {
		if err := e.store.MarkAlertTriggered(event.UUID); err != nil {
			log.Printf("Failed to mark event %s alert-triggered: %v", event.UUID, err)
		}
	}

	return triggered
}

// passCooldown reserves the rule's cooldown window, returning false when
// a prior firing is still within it. The in-memory last-fired time wins
// over the stored snapshot because concurrent evaluations may have fired
// the rule after the snapshot was loaded.
func (e *Engine) passCooldown(rule *database.AlertRule, now time.Time) bool {
	e.cooldownMu.Lock()
	defer e.cooldownMu.Unlock()

	last, ok := e.lastFired[rule.ID]
	if !ok && rule.LastFiredAt != nil {
		last = *rule.LastFiredAt
		ok = true
	}
	if ok && now.Sub(last) < rule.Cooldown() {
		return false
	}
	e.lastFired[rule.ID] = now
	return true
}

// execute runs a fired rule's actions. Webhook deliveries run in their
// own goroutines so retry delays never hold up other rules.
func (e *Engine) execute(ctx context.Context, rule database.AlertRule, event *database.SemanticEvent) {
	if rule.Actions.Notify {
		e.publisher.Publish(broadcast.MessageTypeAlertTriggered, AlertPayload{
			RuleName:    rule.Name,
			EventID:     event.UUID,
			Source:      event.SourceName,
			Description: event.Description,
			Confidence:  event.Confidence,
			Categories:  event.Categories,
			Timestamp:   event.Timestamp,
		})
	}

	if rule.Actions.WebhookURL != "" {
		target := webhook.Target{
			URL:     rule.Actions.WebhookURL,
			Headers: rule.Actions.WebhookHeaders,
		}
		payload := webhook.Payload{
			EventID:     event.UUID,
			Timestamp:   event.Timestamp,
			Source:      event.SourceName,
			Description: event.Description,
			Confidence:  event.Confidence,
			Categories:  event.Categories,
			RuleName:    rule.Name,
		}
		go func() {
			if err := e.dispatcher.Deliver(ctx, target, payload); err != nil {
				log.Printf("Rule %s: webhook delivery permanently failed: %v", rule.Name, err)
			}
		}()
	}

	if rule.Actions.SlackChannel != "" && e.notifier != nil {
		channel := rule.Actions.SlackChannel
		text := formatSlackAlert(rule.Name, event)
		go func() {
			if err := e.notifier.Notify(channel, text); err != nil {
				log.Printf("Rule %s: Slack notification failed: %v", rule.Name, err)
			}
		}()
	}
}
