package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/family_locator/internal/config"
	"github.com/relabs-tech/family_locator/internal/location"
	"github.com/relabs-tech/family_locator/internal/positioning"
)

// RunGPSProducer opens the GPS serial port, parses NMEA sentences, and
// publishes fixes as JSON to "<TOPIC_FEED_PREFIX>/gps", where a locator
// without its own receiver picks them up.
func RunGPSProducer() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialized")
	}
	if cfg.GPSSerialPort == "" {
		return errors.New("GPS_SERIAL_PORT is required for the GPS producer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- 1) Connect to MQTT broker ----
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDGPS)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("GPS producer connected to MQTT broker at %s", cfg.MQTTBroker)
	defer client.Disconnect(250)

	// ---- 2) Open GPS serial port ----
	port, err := positioning.OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate)
	if err != nil {
		return err
	}
	defer port.Close()

	// ---- 3) Forward every fix the receiver produces ----
	gps := positioning.NewProvider(positioning.GPS)
	manager := positioning.NewManager(gps)
	pub := newGPSPublisher(client, cfg.TopicFeedPrefix)
	if _, err := manager.Subscribe(positioning.GPS, 0, 0, pub); err != nil {
		return err
	}
	pub.publishStatus(true)

	err = positioning.NewNMEAReceiver(gps).Run(ctx, port)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Println("GPS producer shutting down")
	return err
}

// gpsPublisher is a positioning.Listener that mirrors a provider onto the
// topics read by positioning.MQTTFeed.
type gpsPublisher struct {
	client      mqtt.Client
	fixTopic    string
	statusTopic string
}

func newGPSPublisher(client mqtt.Client, prefix string) *gpsPublisher {
	topic := prefix + "/" + string(positioning.GPS)
	return &gpsPublisher{client: client, fixTopic: topic, statusTopic: topic + "/status"}
}

func (p *gpsPublisher) OnFix(fix location.Fix) {
	payload, err := json.Marshal(fix)
	if err != nil {
		log.Printf("GPS JSON marshal error: %v", err)
		return
	}
	token := p.client.Publish(p.fixTopic, 0, true, payload)
	token.Wait()
	if token.Error() != nil {
		log.Printf("GPS publish error: %v", token.Error())
		return
	}
	log.Printf("published GPS fix: %.6f, %.6f", fix.Latitude, fix.Longitude)
}

func (p *gpsPublisher) OnProviderDisabled(positioning.ProviderID) {
	p.publishStatus(false)
}

func (p *gpsPublisher) publishStatus(enabled bool) {
	status := "disabled"
	if enabled {
		status = "enabled"
	}
	token := p.client.Publish(p.statusTopic, 1, true, status)
	token.Wait()
	if token.Error() != nil {
		log.Printf("GPS status publish error: %v", token.Error())
	}
}
