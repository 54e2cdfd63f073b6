package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vigilo/vigilo/internal/broadcast"
	"github.com/vigilo/vigilo/internal/database"
	"github.com/vigilo/vigilo/internal/frames"
	"github.com/vigilo/vigilo/internal/models"
	"github.com/vigilo/vigilo/internal/vision"
)

// Store is the persistence surface the orchestrator needs
type Store interface {
	CreateEvent(event *database.SemanticEvent) error
	GetEventByUUID(eventUUID string) (*database.SemanticEvent, error)
	GetSourceByUUID(sourceUUID string) (*database.Source, error)
	ReanalyzeEvent(eventUUID, description string, confidence int, categories database.StringList, provider string, unavailable bool, errorReason string) error
}

// Sampler extracts frames from a motion window
type Sampler interface {
	Sample(ctx context.Context, window frames.Window, targetCount int, strategy frames.Strategy) (*frames.FrameSet, error)
}

// Describer produces a semantic description for a frame set
type Describer interface {
	Describe(ctx context.Context, frameSet *frames.FrameSet, promptCtx vision.PromptContext) *vision.Result
}

// RuleEvaluator evaluates alert rules against a persisted event
type RuleEvaluator interface {
	Evaluate(ctx context.Context, event *database.SemanticEvent) []database.AlertRule
}

// Correlator links a persisted event across sources
type Correlator interface {
	Check(event *database.SemanticEvent) string
}

// Archiver stores sampled frames for later inspection
type Archiver interface {
	ArchiveFrames(ctx context.Context, eventUUID string, frameSet *frames.FrameSet) error
}

// Publisher fans out realtime messages
type Publisher interface {
	Publish(messageType broadcast.MessageType, payload interface{})
}

// Options configures an orchestrator
type Options struct {
	QueueCapacity  int
	Workers        int
	TargetCount    int
	Strategy       frames.Strategy
	WindowDuration time.Duration
}

// EventPayload is the realtime message published for a created event
type EventPayload struct {
	EventID     string    `json:"event_id"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Confidence  int       `json:"confidence"`
	Categories  []string  `json:"categories"`
	Provider    string    `json:"provider"`
	Unavailable bool      `json:"unavailable,omitempty"`
}

// ProcessingPayload is the realtime message for pipeline progress
type ProcessingPayload struct {
	Source   string `json:"source"`
	Category string `json:"category"`
	Stage    string `json:"stage"`
}

// Orchestrator runs triggers through the pipeline: sample frames,
// describe, persist, then fan out to rule evaluation, correlation,
// archiving and the broadcaster. A bounded queue feeds a fixed worker
// pool; per-source cooldowns guarantee at most one event per source
// per cooldown window.
type Orchestrator struct {
	queue      chan models.DetectionTrigger
	store      Store
	sampler    Sampler
	describer  Describer
	rules      RuleEvaluator
	correlator Correlator
	archiver   Archiver // nil when archiving is not configured
	publisher  Publisher
	opts       Options

	cooldownMu    sync.Mutex
	lastProcessed map[string]time.Time

	ctx        context.Context
	cancel     context.CancelFunc
	procCtx    context.Context
	procCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// New creates an orchestrator. archiver may be nil.
func New(store Store, sampler Sampler, describer Describer, rules RuleEvaluator, correlator Correlator, archiver Archiver, publisher Publisher, opts Options) *Orchestrator {
	if opts.QueueCapacity < 1 {
		opts.QueueCapacity = 50
	}
	if opts.Workers < 1 {
		opts.Workers = 2
	}
	if opts.TargetCount < 1 {
		opts.TargetCount = 10
	}
	if opts.Strategy == "" {
		opts.Strategy = frames.StrategyHybrid
	}
	if opts.WindowDuration <= 0 {
		opts.WindowDuration = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	procCtx, procCancel := context.WithCancel(context.Background())

	return &Orchestrator{
		queue:         make(chan models.DetectionTrigger, opts.QueueCapacity),
		store:         store,
		sampler:       sampler,
		describer:     describer,
		rules:         rules,
		correlator:    correlator,
		archiver:      archiver,
		publisher:     publisher,
		opts:          opts,
		lastProcessed: make(map[string]time.Time),
		ctx:           ctx,
		cancel:        cancel,
		procCtx:       procCtx,
		procCancel:    procCancel,
	}
}

// Start launches the worker pool
func (o *Orchestrator) Start() {
	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.worker()
		}()
	}
	log.Printf("Orchestrator started with %d workers, queue capacity %d", o.opts.Workers, o.opts.QueueCapacity)
}

// Stop shuts the pipeline down: new triggers are refused immediately,
// in-flight work gets until the timeout to finish, then it is cut off.
func (o *Orchestrator) Stop(timeout time.Duration) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("Orchestrator: shutdown timeout after %v, cancelling in-flight work", timeout)
		o.procCancel()
		<-done
	}
	o.procCancel()
	log.Println("Orchestrator stopped")
}

// Enqueue accepts a trigger from a source connection. A trigger inside
// its source's cooldown window is dropped silently; when the queue is
// full the oldest queued trigger is dropped in favor of the new one.
// Never blocks.
func (o *Orchestrator) Enqueue(trigger models.DetectionTrigger) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if !o.passCooldown(trigger) {
		return
	}

	select {
	case o.queue <- trigger:
		return
	default:
	}

	// Queue full: new triggers beat stale ones
	select {
	case dropped := <-o.queue:
		log.Printf("Warning: trigger queue full, dropped oldest trigger from %s (%s)", dropped.SourceName, dropped.Category)
	default:
	}
	select {
	case o.queue <- trigger:
	default:
	}
}

// QueueLen returns the number of queued triggers
func (o *Orchestrator) QueueLen() int {
	return len(o.queue)
}

// passCooldown reserves the source's cooldown slot for this trigger.
// The check and the timestamp update are one atomic step, so
// concurrent triggers from the same source cannot both pass.
func (o *Orchestrator) passCooldown(trigger models.DetectionTrigger) bool {
	source, err := o.store.GetSourceByUUID(trigger.SourceUUID)
	if err != nil {
		log.Printf("Cooldown check: unknown source %s: %v", trigger.SourceUUID, err)
		return false
	}

	o.cooldownMu.Lock()
	defer o.cooldownMu.Unlock()

	if last, ok := o.lastProcessed[trigger.SourceUUID]; ok {
		if trigger.Timestamp.Sub(last) < source.Cooldown() {
			return false
		}
	}
	o.lastProcessed[trigger.SourceUUID] = trigger.Timestamp
	return true
}

func (o *Orchestrator) worker() {
	for {
		select {
		case trigger := <-o.queue:
			o.process(trigger)
		case <-o.ctx.Done():
			return
		}
	}
}

// process runs one trigger through the full stage sequence
func (o *Orchestrator) process(trigger models.DetectionTrigger) {
	start := time.Now()
	o.publisher.Publish(broadcast.MessageTypeProcessing, ProcessingPayload{
		Source:   trigger.SourceName,
		Category: string(trigger.Category),
		Stage:    "started",
	})

	source, err := o.store.GetSourceByUUID(trigger.SourceUUID)
	if err != nil {
		log.Printf("Pipeline: source %s vanished: %v", trigger.SourceUUID, err)
		return
	}

	window := frames.Window{
		SourceUUID:  source.UUID,
		SnapshotURL: source.SnapshotURL,
		Start:       trigger.Timestamp,
		Duration:    o.opts.WindowDuration,
	}
	frameSet, err := o.sampler.Sample(o.procCtx, window, o.opts.TargetCount, o.opts.Strategy)
	if err != nil {
		log.Printf("Pipeline: sampling failed for %s, skipping trigger: %v", source.Name, err)
		o.publisher.Publish(broadcast.MessageTypeProcessing, ProcessingPayload{
			Source:   trigger.SourceName,
			Category: string(trigger.Category),
			Stage:    "skipped",
		})
		return
	}

	result := o.describer.Describe(o.procCtx, frameSet, vision.PromptContext{
		SourceName:      source.Name,
		Timestamp:       trigger.Timestamp,
		TriggerCategory: string(trigger.Category),
	})

	event := &database.SemanticEvent{
		SourceUUID:      source.UUID,
		SourceName:      source.Name,
		Timestamp:       trigger.Timestamp,
		TriggerCategory: string(trigger.Category),
		Description:     result.Description,
		Confidence:      result.Confidence,
		Categories:      result.Categories,
		Provider:        result.ProviderUsed,
		Unavailable:     result.Unavailable,
		ErrorReason:     result.ErrorReason,
	}
	if err := o.store.CreateEvent(event); err != nil {
		log.Printf("Pipeline: failed to persist event for %s: %v", source.Name, err)
		return
	}

	// Downstream stages run detached; none of them may hold up the
	// worker
	go o.rules.Evaluate(o.procCtx, event)
	go o.correlator.Check(event)
	if o.archiver != nil {
		go func() {
			if err := o.archiver.ArchiveFrames(o.procCtx, event.UUID, frameSet); err != nil {
				log.Printf("Pipeline: frame archive failed for event %s: %v", event.UUID, err)
			}
		}()
	}

	o.publisher.Publish(broadcast.MessageTypeEventCreated, EventPayload{
		EventID:     event.UUID,
		Source:      event.SourceName,
		Timestamp:   event.Timestamp,
		Category:    event.TriggerCategory,
		Description: event.Description,
		Confidence:  event.Confidence,
		Categories:  event.Categories,
		Provider:    event.Provider,
		Unavailable: event.Unavailable,
	})

	log.Printf("Pipeline: event %s from %s processed in %v", event.UUID, source.Name, time.Since(start))
}

// Reanalyze re-runs the vision chain for an existing event and
// replaces its description transactionally. Progress is published as a
// long-running job.
func (o *Orchestrator) Reanalyze(ctx context.Context, eventUUID string) error {
	event, err := o.store.GetEventByUUID(eventUUID)
	if err != nil {
		return fmt.Errorf("event %s not found: %w", eventUUID, err)
	}
	source, err := o.store.GetSourceByUUID(event.SourceUUID)
	if err != nil {
		return fmt.Errorf("source %s not found: %w", event.SourceUUID, err)
	}

	o.publisher.Publish(broadcast.MessageTypeJobProgress, map[string]interface{}{
		"job":      "reanalyze",
		"event_id": eventUUID,
		"stage":    "started",
	})

	window := frames.Window{
		SourceUUID:  source.UUID,
		SnapshotURL: source.SnapshotURL,
		Start:       time.Now(),
		Duration:    o.opts.WindowDuration,
	}
	frameSet, err := o.sampler.Sample(ctx, window, o.opts.TargetCount, o.opts.Strategy)
	if err != nil {
		return fmt.Errorf("sampling for reanalysis: %w", err)
	}

	result := o.describer.Describe(ctx, frameSet, vision.PromptContext{
		SourceName:      source.Name,
		Timestamp:       event.Timestamp,
		TriggerCategory: event.TriggerCategory,
	})

	if err := o.store.ReanalyzeEvent(eventUUID, result.Description, result.Confidence,
		result.Categories, result.ProviderUsed, result.Unavailable, result.ErrorReason); err != nil {
		return fmt.Errorf("replace description: %w", err)
	}

	o.publisher.Publish(broadcast.MessageTypeJobProgress, map[string]interface{}{
		"job":      "reanalyze",
		"event_id": eventUUID,
		"stage":    "completed",
	})
	return nil
}
