package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/vigilo/vigilo/internal/broadcast"
	"github.com/vigilo/vigilo/internal/config"
	"github.com/vigilo/vigilo/internal/correlation"
	"github.com/vigilo/vigilo/internal/database"
	"github.com/vigilo/vigilo/internal/frames"
	"github.com/vigilo/vigilo/internal/handlers"
	"github.com/vigilo/vigilo/internal/middleware"
	"github.com/vigilo/vigilo/internal/pipeline"
	"github.com/vigilo/vigilo/internal/rules"
	"github.com/vigilo/vigilo/internal/sources"
	"github.com/vigilo/vigilo/internal/storage"
	"github.com/vigilo/vigilo/internal/vision"
	"github.com/vigilo/vigilo/internal/webhook"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	configPath := os.Getenv("VIGILO_CONFIG")
	if configPath == "" {
		configPath = "vigilo.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting Vigilo...")

	// Initialize database connection
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Printf("Database connection established")

	db := database.GetDB()
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	store := database.NewEventStore(db)

	// Seed sources and rules from configuration
	if err := seedSources(store, cfg.Sources); err != nil {
		log.Fatalf("Failed to seed sources: %v", err)
	}
	if err := seedRules(store, cfg.Rules); err != nil {
		log.Fatalf("Failed to seed rules: %v", err)
	}

	// Realtime broadcaster
	hub := broadcast.NewHub(cfg.Broadcast.OutboxSize)
	log.Printf("Broadcast hub initialized (outbox size %d)", cfg.Broadcast.OutboxSize)

	// Frame sampling
	fetcher := frames.NewSnapshotClient(cfg.Sampling.SnapshotTimeout(), cfg.Sampling.SnapshotConcurrency)
	sampler := frames.NewSampler(fetcher, cfg.Sampling.SimilarityThreshold)
	strategy, err := frames.ParseStrategy(cfg.Sampling.Strategy)
	if err != nil {
		log.Fatalf("Invalid sampling strategy: %v", err)
	}

	// Vision provider chain
	describer := vision.NewEngineFromConfig(cfg.Vision)
	log.Printf("Vision engine initialized with %d provider(s)", len(cfg.Vision.Providers))

	// Optional frame archive
	var archiver pipeline.Archiver
	if cfg.Archive.Enabled() {
		frameArchiver, err := storage.NewFrameArchiver(cfg.Archive)
		if err != nil {
			log.Fatalf("Failed to initialize frame archiver: %v", err)
		}
		archiver = frameArchiver
		log.Printf("Frame archiving ENABLED (bucket %s)", cfg.Archive.Bucket)
	} else {
		log.Printf("Frame archiving DISABLED (configure archive.endpoint and archive.bucket)")
	}

	// Optional Slack notifications
	var notifier rules.Notifier
	if cfg.Slack.Enabled() {
		notifier = rules.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.Channel)
		log.Printf("Slack notifications ENABLED (default channel %s)", cfg.Slack.Channel)
	} else {
		log.Printf("Slack notifications DISABLED (configure slack.bot_token and slack.channel)")
	}

	// Alert rule engine
	dispatcher := webhook.NewDispatcher(store, cfg.Production)
	ruleEngine := rules.NewEngine(store, dispatcher, hub, notifier)
	if cfg.Production {
		log.Printf("Production mode: webhook targets restricted to public HTTPS")
	}

	// Cross-source correlation
	correlator := correlation.NewService(store, cfg.Correlation.Window(), cfg.Correlation.Retention())

	// Pipeline orchestrator
	orchestrator := pipeline.New(store, sampler, describer, ruleEngine, correlator, archiver, hub, pipeline.Options{
		QueueCapacity:  cfg.Pipeline.QueueCapacity,
		Workers:        cfg.Pipeline.Workers,
		TargetCount:    cfg.Sampling.TargetCount,
		Strategy:       strategy,
		WindowDuration: cfg.Sampling.WindowDuration(),
	})
	orchestrator.Start()
	log.Printf("Pipeline started (%d workers, queue capacity %d)", cfg.Pipeline.Workers, cfg.Pipeline.QueueCapacity)

	// Source connections
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := sources.NewManager(orchestrator, hub)
	enabled, err := store.ListEnabledSources()
	if err != nil {
		log.Fatalf("Failed to list sources: %v", err)
	}
	for _, source := range enabled {
		if err := manager.Connect(ctx, source); err != nil {
			log.Printf("Warning: Failed to connect source %s: %v", source.Name, err)
			continue
		}
		log.Printf("Source %s connecting to %s", source.Name, source.StreamURL)
	}

	// HTTP surface
	httpHandler := handlers.NewHTTPHandler(hub, orchestrator, manager)
	mux := http.NewServeMux()
	httpHandler.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: middleware.NewCORS().Wrap(middleware.RequestID(mux)),
	}

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("Vigilo is running! Press Ctrl+C to exit.")
	log.Printf("Health check endpoint: http://localhost:%d/health", cfg.HTTPPort)
	log.Printf("Realtime endpoint: ws://localhost:%d/ws", cfg.HTTPPort)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal, cleaning up...")

	// Stop accepting triggers, then drain in-flight work
	cancel()
	manager.Close()
	log.Println("Source connections closed")

	orchestrator.Stop(time.Duration(cfg.Pipeline.ShutdownTimeout) * time.Second)
	log.Println("Pipeline drained")

	if err := httpServer.Close(); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	hub.Close()

	log.Println("Shutdown complete")
}

func seedSources(store *database.EventStore, configs []config.SourceConfig) error {
	for _, sc := range configs {
		enabled := true
		if sc.Enabled != nil {
			enabled = *sc.Enabled
		}
		source := &database.Source{
			UUID:            sc.UUID,
			Name:            sc.Name,
			StreamURL:       sc.StreamURL,
			SnapshotURL:     sc.SnapshotURL,
			TriggerFilter:   database.StringList(sc.TriggerFilter),
			CooldownSeconds: sc.CooldownSeconds,
			Enabled:         enabled,
		}
		if err := store.EnsureSource(source); err != nil {
			return fmt.Errorf("source %q: %w", sc.Name, err)
		}
		log.Printf("Source configured: %s", sc.Name)
	}
	return nil
}

func seedRules(store *database.EventStore, configs []config.RuleConfig) error {
	for _, rc := range configs {
		conditions := database.RuleConditions{
			Categories:     rc.Categories,
			MinConfidence:  rc.MinConfidence,
			TimeOfDayStart: rc.TimeOfDayStart,
			TimeOfDayEnd:   rc.TimeOfDayEnd,
			DaysOfWeek:     rc.DaysOfWeek,
			Sources:        rc.Sources,
		}
		if err := rules.ValidateConditions(conditions); err != nil {
			return fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		rule := &database.AlertRule{
			UUID:       rc.UUID,
			Name:       rc.Name,
			Enabled:    true,
			Conditions: conditions,
			Actions: database.RuleActions{
				Notify:         rc.Notify,
				WebhookURL:     rc.WebhookURL,
				WebhookHeaders: rc.WebhookHeaders,
				SlackChannel:   rc.SlackChannel,
			},
			CooldownSeconds: rc.CooldownSeconds,
		}
		if err := store.EnsureRule(rule); err != nil {
			return fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		log.Printf("Alert rule configured: %s", rc.Name)
	}
	return nil
}
