package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"btmonitor/internal/models"
)

// Publisher pushes optimization actions to the driver boundary and status
// snapshots to the observation boundary. It implements driver.Sink.
type Publisher struct {
	client mqtt.Client

	// SnapshotChan carries one snapshot per tick from the session loop.
	SnapshotChan chan *models.StatusSnapshot

	actionTopic string // e.g., "btlink/{address}/action"
	statusTopic string // e.g., "btlink/status"
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	ActionTopic string // e.g., "btlink/{address}/action"
	StatusTopic string // e.g., "btlink/status"
}

// NewPublisher creates a new MQTT publisher
func NewPublisher(
	client mqtt.Client,
	config PublisherConfig,
	snapshotChan chan *models.StatusSnapshot,
) *Publisher {
	return &Publisher{
		client:       client,
		SnapshotChan: snapshotChan,
		actionTopic:  config.ActionTopic,
		statusTopic:  config.StatusTopic,
	}
}

// Start publishes status snapshots from the channel until the context is
// cancelled or the channel is closed.
func (p *Publisher) Start(ctx context.Context) {
	log.Println("MQTT Publisher: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Println("MQTT Publisher: Context cancelled, shutting down...")
			return

		case snap, ok := <-p.SnapshotChan:
			if !ok {
				log.Println("MQTT Publisher: Snapshot channel closed, shutting down...")
				return
			}

			if err := p.publishSnapshot(snap); err != nil {
				log.Printf("Error publishing status snapshot: %v", err)
			}
		}
	}
}

// Deliver publishes one optimization action to the actuation layer.
// Delivery is best-effort; receivers must be idempotent-safe.
func (p *Publisher) Deliver(action models.OptimizationAction) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	topic := formatTopic(p.actionTopic, action.TargetAddress)

	token := p.client.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish action: %w", token.Error())
	}

	log.Printf("Published %s for device %s to topic: %s", action.Kind, action.TargetAddress, topic)
	return nil
}

// publishSnapshot publishes a status snapshot for external dashboards
func (p *Publisher) publishSnapshot(snap *models.StatusSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	token := p.client.Publish(p.statusTopic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish snapshot: %w", token.Error())
	}

	return nil
}

// formatTopic replaces {address} placeholder with the device address
func formatTopic(topicPattern, address string) string {
	return strings.ReplaceAll(topicPattern, "{address}", address)
}
