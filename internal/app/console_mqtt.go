package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/family_locator/internal/config"
	"github.com/relabs-tech/family_locator/internal/report"
)

// RunConsoleMQTT prints every locator event published on the broker until
// interrupted.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialized")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	if err := subscribeConsole(client, cfg); err != nil {
		return err
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func subscribeConsole(client mqtt.Client, cfg *config.Config) error {
	handlers := []struct {
		topic  string
		handle func(payload []byte) (string, error)
	}{
		{cfg.TopicFix, formatFix},
		{cfg.TopicDenied, formatDenied},
		{cfg.TopicError, formatError},
		{cfg.TopicAutoEnable, formatAutoEnabled},
	}

	for _, h := range handlers {
		h := h
		token := client.Subscribe(h.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			line, err := h.handle(msg.Payload())
			if err != nil {
				log.Printf("console: %s unmarshal error: %v", h.topic, err)
				return
			}
			fmt.Println(line)
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", h.topic)
	}
	return nil
}

func formatFix(payload []byte) (string, error) {
	var m report.FixMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	acc := "?"
	if m.Accuracy != nil {
		acc = fmt.Sprintf("%.0fm", *m.Accuracy)
	}
	return fmt.Sprintf(
		"[FIX ]  device=%s lat=%.6f lon=%.6f acc=%s method=%s time=%s",
		m.DeviceID, m.Latitude, m.Longitude, acc, m.Source, m.Timestamp.Format("15:04:05"),
	), nil
}

func formatDenied(payload []byte) (string, error) {
	var m report.DeniedMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	return fmt.Sprintf("[DENY]  device=%s reason=%q", m.DeviceID, m.Reason), nil
}

func formatError(payload []byte) (string, error) {
	var m report.ErrorMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	return fmt.Sprintf("[FAIL]  device=%s all location methods failed (%s at %s)", m.DeviceID, m.Kind, m.Stage), nil
}

func formatAutoEnabled(payload []byte) (string, error) {
	var m report.AutoEnabledMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	return fmt.Sprintf("[AUTO]  device=%s tracking via %s", m.DeviceID, m.Stage), nil
}
