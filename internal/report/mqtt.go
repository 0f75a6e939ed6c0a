package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/family_locator/internal/location"
)

// Topics names where MQTTReporter publishes each kind of event.
type Topics struct {
	Fix         string
	Denied      string
	Error       string
	AutoEnabled string
}

// FixMessage is the payload published for every fix.
type FixMessage struct {
	DeviceID string `json:"device_id"`
	location.Fix
}

type DeniedMessage struct {
	DeviceID  string    `json:"device_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorMessage struct {
	DeviceID  string           `json:"device_id"`
	Kind      string           `json:"kind"`
	Stage     location.StageID `json:"stage"`
	Timestamp time.Time        `json:"timestamp"`
}

type AutoEnabledMessage struct {
	DeviceID  string           `json:"device_id"`
	Stage     location.StageID `json:"stage"`
	Timestamp time.Time        `json:"timestamp"`
}

// MQTTReporter publishes events as JSON. The last fix is retained so a
// console that connects late still sees where the device was.
type MQTTReporter struct {
	client mqtt.Client
	topics Topics
	now    func() time.Time
}

func NewMQTTReporter(client mqtt.Client, topics Topics) *MQTTReporter {
	return &MQTTReporter{client: client, topics: topics, now: time.Now}
}

func (m *MQTTReporter) ReportFix(ctx context.Context, fix location.Fix, deviceID string) error {
	return m.publish(ctx, m.topics.Fix, true, FixMessage{DeviceID: deviceID, Fix: fix})
}

func (m *MQTTReporter) ReportDenied(ctx context.Context, deviceID, reason string) error {
	return m.publish(ctx, m.topics.Denied, false, DeniedMessage{
		DeviceID:  deviceID,
		Reason:    reason,
		Timestamp: m.now(),
	})
}

func (m *MQTTReporter) ReportError(ctx context.Context, deviceID string, kind location.ErrorKind, stage location.StageID) error {
	return m.publish(ctx, m.topics.Error, false, ErrorMessage{
		DeviceID:  deviceID,
		Kind:      kind.String(),
		Stage:     stage,
		Timestamp: m.now(),
	})
}

func (m *MQTTReporter) ReportAutoEnabled(ctx context.Context, deviceID string, stage location.StageID) error {
	return m.publish(ctx, m.topics.AutoEnabled, false, AutoEnabledMessage{
		DeviceID:  deviceID,
		Stage:     stage,
		Timestamp: m.now(),
	})
}

func (m *MQTTReporter) publish(ctx context.Context, topic string, retained bool, v any) error {
	if topic == "" {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := m.client.Publish(topic, 0, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}
