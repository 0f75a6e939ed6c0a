// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package trigger starts auto-enable tracking when a parent asks for the
// device's location, either through the dashboard or over MQTT.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Starter begins an auto-enable session. It returns false when a session
// is already running.
type Starter interface {
	AutoEnable() bool
}

// RequestChecker asks the dashboard whether a request is pending.
type RequestChecker interface {
	LocationRequested(ctx context.Context, deviceID string) (bool, error)
}

// Poller checks the dashboard on a fixed interval.
type Poller struct {
	checker  RequestChecker
	starter  Starter
	deviceID string
	interval time.Duration
}

func NewPoller(checker RequestChecker, starter Starter, deviceID string, interval time.Duration) *Poller {
	return &Poller{
		checker:  checker,
		starter:  starter,
		deviceID: deviceID,
		interval: interval,
	}
}

// Run polls until ctx is done. Check failures are logged and retried on the
// next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	log.Printf("trigger: polling for location requests every %s", p.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	pending, err := p.checker.LocationRequested(ctx, p.deviceID)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("trigger: %v", err)
		}
		return
	}
	if !pending {
		return
	}
	if p.starter.AutoEnable() {
		log.Printf("trigger: location request from dashboard, auto-enabling tracking")
	}
}

// Request is the payload accepted on the MQTT request topic. An empty
// device id addresses every device.
type Request struct {
	DeviceID string `json:"device_id"`
}

// MQTTListener starts tracking when a request arrives on a topic.
type MQTTListener struct {
	client   mqtt.Client
	topic    string
	deviceID string
	starter  Starter
}

func NewMQTTListener(client mqtt.Client, topic, deviceID string, starter Starter) *MQTTListener {
	return &MQTTListener{client: client, topic: topic, deviceID: deviceID, starter: starter}
}

func (l *MQTTListener) Start() error {
	token := l.client.Subscribe(l.topic, 1, l.handle)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", l.topic, token.Error())
	}
	log.Printf("trigger: listening for location requests on %s", l.topic)
	return nil
}

func (l *MQTTListener) Stop() {
	token := l.client.Unsubscribe(l.topic)
	token.Wait()
}

func (l *MQTTListener) handle(_ mqtt.Client, msg mqtt.Message) {
	var req Request
	if len(msg.Payload()) > 0 {
		if err := json.Unmarshal(msg.Payload(), &req); err != nil {
			log.Printf("trigger: bad request payload: %v", err)
			return
		}
	}
	if req.DeviceID != "" && req.DeviceID != l.deviceID {
		return
	}
	// runs on paho's router goroutine; AutoEnable returns as soon as the
	// cascade has accepted or rejected the start
	if l.starter.AutoEnable() {
		log.Printf("trigger: location request over MQTT, auto-enabling tracking")
	}
}
