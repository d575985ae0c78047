package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"btmonitor/internal/models"
)

// Subscriber handles MQTT subscriptions and writes messages to channels.
// Telemetry and presence arrive from the radio/driver layer; the session
// loop and registry consume them through the channels.
type Subscriber struct {
	client mqtt.Client

	// Output channels (written by subscriber, read by the core)
	SampleChan   chan *models.TelemetrySample
	PresenceChan chan *models.PresenceEvent

	telemetryTopic string
	presenceTopic  string
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	TelemetryTopic string // e.g., "btlink/+/telemetry"
	PresenceTopic  string // e.g., "btlink/+/presence"
}

// NewSubscriber creates a new MQTT subscriber with channels
func NewSubscriber(
	client mqtt.Client,
	config SubscriberConfig,
	sampleChan chan *models.TelemetrySample,
	presenceChan chan *models.PresenceEvent,
) *Subscriber {
	return &Subscriber{
		client:         client,
		SampleChan:     sampleChan,
		PresenceChan:   presenceChan,
		telemetryTopic: config.TelemetryTopic,
		presenceTopic:  config.PresenceTopic,
	}
}

// SubscribeAll subscribes to all configured topics
func (s *Subscriber) SubscribeAll() error {
	if s.telemetryTopic != "" {
		if err := s.subscribeToTopic(s.telemetryTopic, s.handleTelemetry); err != nil {
			return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
		}
		log.Printf("Subscribed to telemetry topic: %s", s.telemetryTopic)
	}

	if s.presenceTopic != "" {
		if err := s.subscribeToTopic(s.presenceTopic, s.handlePresence); err != nil {
			return fmt.Errorf("failed to subscribe to presence topic: %w", err)
		}
		log.Printf("Subscribed to presence topic: %s", s.presenceTopic)
	}

	return nil
}

// subscribeToTopic is a helper function to subscribe to a topic with a handler
func (s *Subscriber) subscribeToTopic(topic string, handler mqtt.MessageHandler) error {
	token := s.client.Subscribe(topic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// handleTelemetry processes link telemetry messages and writes to channel
func (s *Subscriber) handleTelemetry(client mqtt.Client, msg mqtt.Message) {
	var payload struct {
		SignalDbm      int     `json:"signal_dbm"`
		Bytes          uint64  `json:"bytes"`
		ElapsedSeconds float64 `json:"elapsed_seconds"`
	}

	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling telemetry data: %v", err)
		return
	}

	// Extract device address from topic (btlink/{address}/telemetry)
	address := extractAddress(msg.Topic())
	if address == "" {
		log.Printf("Could not extract device address from topic: %s", msg.Topic())
		return
	}

	sample := &models.TelemetrySample{
		Address:        address,
		SignalDbm:      payload.SignalDbm,
		BytesSinceLast: payload.Bytes,
		ElapsedSeconds: payload.ElapsedSeconds,
		ReceivedAt:     time.Now(),
	}

	// Write to channel (non-blocking with timeout)
	select {
	case s.SampleChan <- sample:
		// Successfully sent
	case <-time.After(1 * time.Second):
		log.Printf("Warning: Telemetry channel full, dropping sample from %s", address)
	}
}

// handlePresence processes connect/disconnect announcements and writes to channel
func (s *Subscriber) handlePresence(client mqtt.Client, msg mqtt.Message) {
	var payload struct {
		Name   string `json:"name"`
		Class  string `json:"class"`
		Online bool   `json:"online"`
	}

	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling presence data: %v", err)
		return
	}

	// Extract device address from topic (btlink/{address}/presence)
	address := extractAddress(msg.Topic())
	if address == "" {
		log.Printf("Could not extract device address from topic: %s", msg.Topic())
		return
	}

	event := &models.PresenceEvent{
		Address: address,
		Name:    payload.Name,
		Class:   models.ParseDeviceClass(payload.Class),
		Online:  payload.Online,
	}

	log.Printf("Received presence for %s: online=%v class=%s", address, event.Online, event.Class)

	// Write to channel (non-blocking with timeout)
	select {
	case s.PresenceChan <- event:
		// Successfully sent
	case <-time.After(1 * time.Second):
		log.Printf("Warning: Presence channel full, dropping event for %s", address)
	}
}

// extractAddress extracts the device address from an MQTT topic
// Example: "btlink/AA:BB:CC:DD:EE:FF/telemetry" -> "AA:BB:CC:DD:EE:FF"
func extractAddress(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
