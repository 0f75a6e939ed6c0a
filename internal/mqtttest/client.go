// Package mqtttest provides an in-memory stand-in for a paho MQTT client.
package mqtttest

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Published is one recorded Publish call.
type Published struct {
	Topic    string
	Retained bool
	Payload  []byte
}

// Client records publishes and routes Deliver calls to subscribed handlers.
// Methods it does not implement panic through the embedded nil interface.
type Client struct {
	mqtt.Client

	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []Published

	// SubscribeErr, when set, fails every Subscribe.
	SubscribeErr error
	// PublishErr, when set, fails every Publish.
	PublishErr error
}

func NewClient() *Client {
	return &Client{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *Client) IsConnected() bool      { return true }
func (c *Client) IsConnectionOpen() bool { return true }
func (c *Client) Connect() mqtt.Token    { return &Token{} }
func (c *Client) Disconnect(uint)        {}

func (c *Client) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	if c.PublishErr != nil {
		return &Token{err: c.PublishErr}
	}
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = append([]byte(nil), p...)
	case string:
		b = []byte(p)
	default:
		return &Token{err: fmt.Errorf("unsupported payload type %T", payload)}
	}
	c.mu.Lock()
	c.published = append(c.published, Published{Topic: topic, Retained: retained, Payload: b})
	c.mu.Unlock()
	return &Token{}
}

func (c *Client) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	if c.SubscribeErr != nil {
		return &Token{err: c.SubscribeErr}
	}
	c.mu.Lock()
	c.handlers[topic] = cb
	c.mu.Unlock()
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	c.mu.Unlock()
	return &Token{}
}

// Subscribed reports whether a handler is registered for topic.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

// Deliver invokes the handler subscribed to topic. It returns false when
// nothing is subscribed.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, &Message{topic: topic, payload: payload})
	return true
}

// Published returns every message published to topic, oldest first.
func (c *Client) Published(topic string) []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Published
	for _, p := range c.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Token is an already-completed mqtt.Token.
type Token struct {
	err error
}

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Error() error                   { return t.err }

func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Message is a minimal mqtt.Message.
type Message struct {
	topic   string
	payload []byte
}

func NewMessage(topic string, payload []byte) *Message {
	return &Message{topic: topic, payload: payload}
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 0 }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.topic }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Ack()              {}
