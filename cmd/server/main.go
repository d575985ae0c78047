package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"btmonitor/internal/database"
	"btmonitor/internal/dispatcher"
	"btmonitor/internal/driver"
	"btmonitor/internal/ingest"
	"btmonitor/internal/models"
	"btmonitor/internal/mqtt"
	"btmonitor/internal/policy"
	"btmonitor/internal/registry"
	"btmonitor/internal/session"
	"btmonitor/pkg/config"
)

func main() {
	log.Println("Starting BT Link Monitor Service...")

	// Load configuration
	cfg := config.Load()

	// Initialize ClickHouse database (optional archive)
	var db *database.ClickHouseDB
	if cfg.ClickHouseEnabled {
		var err error
		db, err = database.NewClickHouseDB(
			cfg.ClickHouseAddr,
			cfg.ClickHouseDB,
			cfg.ClickHouseUser,
			cfg.ClickHousePass,
		)
		if err != nil {
			log.Fatalf("Failed to initialize ClickHouse: %v", err)
		}
		defer db.Close()
	} else {
		log.Println("ClickHouse archive disabled")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Core state ===
	reg := registry.New()
	collector := ingest.NewCollector(reg, cfg.SampleChannelSize)

	// === Policy engine: model-scored with rule fallback ===
	rules := policy.NewRuleEngine(policy.Thresholds{
		WeakSignalDbm: cfg.WeakSignalDbm,
		AudioRateBps:  cfg.AudioRateThresholdBps,
		Capacity:      cfg.CapacityThreshold,
		BurstFactor:   cfg.BurstFactor,
		BurstFloorBps: cfg.BurstFloorBps,
	})
	engine := policy.NewModelEngine(cfg.ModelPath, rules)

	// === Channel Creation ===
	presenceChan := make(chan *models.PresenceEvent, cfg.PresenceChannelSize)
	snapshotChan := make(chan *models.StatusSnapshot, cfg.SnapshotChannelSize)

	// === Initialize MQTT Client ===
	log.Println("Connecting to MQTT broker...")
	mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	})
	if err != nil {
		log.Fatalf("Failed to initialize MQTT client: %v", err)
	}
	defer mqttClient.Close()

	// === Initialize MQTT Subscriber ===
	subscriber := mqtt.NewSubscriber(
		mqttClient.GetNativeClient(),
		mqtt.SubscriberConfig{
			TelemetryTopic: cfg.MQTTTopicTelemetry,
			PresenceTopic:  cfg.MQTTTopicPresence,
		},
		collector.SampleChan,
		presenceChan,
	)
	if err := subscriber.SubscribeAll(); err != nil {
		log.Fatalf("Failed to subscribe to MQTT topics: %v", err)
	}

	// === Initialize MQTT Publisher (driver + observation boundary) ===
	publisher := mqtt.NewPublisher(
		mqttClient.GetNativeClient(),
		mqtt.PublisherConfig{
			ActionTopic: cfg.MQTTTopicAction,
			StatusTopic: cfg.MQTTTopicStatus,
		},
		snapshotChan,
	)
	go publisher.Start(ctx)

	// === Driver boundary: bounded queue in front of the MQTT sink ===
	forwarder := driver.NewQueuedForwarder(publisher, cfg.DriverQueueSize)
	go forwarder.Start(ctx)

	// === Dispatcher ===
	disp := dispatcher.New(reg, forwarder, cfg.ActionLogSize)

	// === Session Loop ===
	var archiver session.Archiver
	if db != nil {
		archiver = db
	}
	loop := session.NewLoop(session.Config{
		TickInterval:      time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		StaleTimeout:      time.Duration(cfg.StaleTimeoutMs) * time.Millisecond,
		DisconnectTimeout: time.Duration(cfg.DisconnectTimeoutMs) * time.Millisecond,
		WeakSignalDbm:     cfg.WeakSignalDbm,
	}, reg, collector, engine, disp, archiver)

	// Bridge session snapshots to the MQTT observation boundary
	go bridgeSnapshots(ctx, loop.SnapshotChan, snapshotChan)

	// Start telemetry collector and presence handling
	go collector.Start(ctx)
	go handlePresenceLoop(ctx, presenceChan, reg, rules, db)

	// Start session loop
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- loop.Run(ctx)
	}()

	// === Log startup info ===
	log.Println("=== BT Link Monitor Service is running ===")
	log.Printf("Tick interval: %dms, weak signal line: %ddBm, capacity: %d devices",
		cfg.TickIntervalMs, cfg.WeakSignalDbm, cfg.CapacityThreshold)
	log.Printf("MQTT Topics:")
	log.Printf("  - Telemetry: %s", cfg.MQTTTopicTelemetry)
	log.Printf("  - Presence:  %s", cfg.MQTTTopicPresence)
	log.Printf("  - Action:    %s", cfg.MQTTTopicAction)
	log.Printf("  - Status:    %s", cfg.MQTTTopicStatus)
	log.Println("Press Ctrl+C to exit...")

	// === Wait for interrupt signal ===
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// === Graceful shutdown ===
	log.Println("Shutdown signal received, stopping services...")
	cancel()

	select {
	case <-loopDone:
	case <-time.After(2 * time.Second):
		log.Println("Timed out waiting for session loop to stop")
	}

	log.Println("Shutdown complete. Goodbye!")
}

// bridgeSnapshots forwards session snapshots to the MQTT publisher channel
// without ever blocking the session side.
func bridgeSnapshots(ctx context.Context, in <-chan *models.StatusSnapshot, out chan<- *models.StatusSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- snap:
			default:
				// Publisher lagging; snapshots are advisory
			}
		}
	}
}

// handlePresenceLoop applies connect/disconnect announcements from the radio
// layer to the registry.
func handlePresenceLoop(ctx context.Context, presenceChan chan *models.PresenceEvent, reg *registry.Registry, rules *policy.RuleEngine, db *database.ClickHouseDB) {
	log.Println("PresenceService: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Println("PresenceService: Shutting down...")
			return

		case event, ok := <-presenceChan:
			if !ok {
				return
			}
			handlePresence(event, reg, rules, db)
		}
	}
}

func handlePresence(event *models.PresenceEvent, reg *registry.Registry, rules *policy.RuleEngine, db *database.ClickHouseDB) {
	if event.Online {
		dev, err := reg.Connect(event.Address, event.Name, event.Class)
		if err != nil {
			if errors.Is(err, registry.ErrDuplicateAddress) {
				log.Printf("PresenceService: %s already connected, ignoring announce", event.Address)
				return
			}
			log.Printf("PresenceService: connect %s failed: %v", event.Address, err)
			return
		}
		log.Printf("PresenceService: connected %s (%s, class=%s)", dev.Name, dev.Address, dev.Class)

		if db != nil {
			if err := db.UpsertDevice(&dev); err != nil {
				log.Printf("PresenceService: error registering device %s: %v", dev.Address, err)
			}
		}
		return
	}

	if err := reg.Disconnect(event.Address); err != nil {
		log.Printf("PresenceService: disconnect %s failed: %v", event.Address, err)
		return
	}
	rules.Forget(event.Address)
	log.Printf("PresenceService: disconnected %s", event.Address)
}
