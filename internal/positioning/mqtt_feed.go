package positioning

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/family_locator/internal/location"
)

// MQTTFeed drives providers from broker topics. For a provider with ID id it
// reads JSON fixes from "<prefix>/<id>" and "enabled"/"disabled" from
// "<prefix>/<id>/status".
type MQTTFeed struct {
	client    mqtt.Client
	prefix    string
	providers []*Provider
}

func NewMQTTFeed(client mqtt.Client, prefix string, providers ...*Provider) *MQTTFeed {
	return &MQTTFeed{
		client:    client,
		prefix:    strings.TrimSuffix(prefix, "/"),
		providers: providers,
	}
}

func (f *MQTTFeed) fixTopic(p *Provider) string    { return f.prefix + "/" + string(p.ID()) }
func (f *MQTTFeed) statusTopic(p *Provider) string { return f.fixTopic(p) + "/status" }

// Start subscribes to every provider's topics.
func (f *MQTTFeed) Start() error {
	for _, p := range f.providers {
		if err := f.subscribe(f.fixTopic(p), f.handleFix(p)); err != nil {
			return err
		}
		if err := f.subscribe(f.statusTopic(p), f.handleStatus(p)); err != nil {
			return err
		}
		log.Printf("feed: provider %s bound to %s", p.ID(), f.fixTopic(p))
	}
	return nil
}

// Stop unsubscribes and marks every provider disabled.
func (f *MQTTFeed) Stop() {
	topics := make([]string, 0, 2*len(f.providers))
	for _, p := range f.providers {
		topics = append(topics, f.fixTopic(p), f.statusTopic(p))
	}
	token := f.client.Unsubscribe(topics...)
	token.Wait()
	if token.Error() != nil {
		log.Printf("feed: unsubscribe error: %v", token.Error())
	}
	f.ConnectionLost()
}

// ConnectionLost disables every provider; a broker outage means no readings.
func (f *MQTTFeed) ConnectionLost() {
	for _, p := range f.providers {
		p.SetEnabled(false)
	}
}

func (f *MQTTFeed) subscribe(topic string, handler mqtt.MessageHandler) error {
	token := f.client.Subscribe(topic, 0, handler)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

func (f *MQTTFeed) handleFix(p *Provider) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var fix location.Fix
		if err := json.Unmarshal(msg.Payload(), &fix); err != nil {
			log.Printf("feed: %s fix unmarshal error: %v", p.ID(), err)
			return
		}
		if err := fix.Validate(); err != nil {
			log.Printf("feed: %s fix rejected: %v", p.ID(), err)
			return
		}
		p.Publish(fix)
	}
}

func (f *MQTTFeed) handleStatus(p *Provider) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		switch strings.ToLower(strings.TrimSpace(string(msg.Payload()))) {
		case "enabled", "on", "1", "true":
			p.SetEnabled(true)
		case "disabled", "off", "0", "false":
			p.SetEnabled(false)
		default:
			log.Printf("feed: %s unknown status payload %q", p.ID(), msg.Payload())
		}
	}
}
