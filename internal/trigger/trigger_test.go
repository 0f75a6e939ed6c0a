package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relabs-tech/family_locator/internal/mqtttest"
)

type countingStarter struct {
	calls atomic.Int32
}

func (s *countingStarter) AutoEnable() bool {
	s.calls.Add(1)
	return true
}

type scriptedChecker struct {
	answers chan bool
	fail    bool
}

func (c *scriptedChecker) LocationRequested(ctx context.Context, deviceID string) (bool, error) {
	if c.fail {
		return false, errors.New("dashboard unreachable")
	}
	select {
	case v := <-c.answers:
		return v, nil
	default:
		return false, nil
	}
}

func TestPollerStartsOnPendingRequest(t *testing.T) {
	checker := &scriptedChecker{answers: make(chan bool, 2)}
	checker.answers <- false
	checker.answers <- true
	starter := &countingStarter{}
	p := NewPoller(checker, starter, "kid-phone", time.Millisecond)

	p.poll(context.Background())
	if n := starter.calls.Load(); n != 0 {
		t.Fatalf("started %d times without a request", n)
	}
	p.poll(context.Background())
	if n := starter.calls.Load(); n != 1 {
		t.Fatalf("started %d times, want 1", n)
	}
}

func TestPollerIgnoresErrors(t *testing.T) {
	starter := &countingStarter{}
	p := NewPoller(&scriptedChecker{fail: true}, starter, "d", time.Millisecond)
	p.poll(context.Background())
	if n := starter.calls.Load(); n != 0 {
		t.Fatalf("started %d times after a failed check", n)
	}
}

func TestPollerRunStopsWithContext(t *testing.T) {
	checker := &scriptedChecker{answers: make(chan bool, 1)}
	checker.answers <- true
	starter := &countingStarter{}
	p := NewPoller(checker, starter, "d", time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for starter.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if starter.calls.Load() != 1 {
		t.Fatalf("started %d times, want 1", starter.calls.Load())
	}
}

func TestMQTTListener(t *testing.T) {
	client := mqtttest.NewClient()
	starter := &countingStarter{}
	l := NewMQTTListener(client, "locator/request", "kid-phone", starter)
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client.Deliver("locator/request", []byte(`{"device_id":"other"}`))
	client.Deliver("locator/request", []byte(`not json`))
	if n := starter.calls.Load(); n != 0 {
		t.Fatalf("started %d times for foreign or bad requests", n)
	}

	client.Deliver("locator/request", []byte(`{"device_id":"kid-phone"}`))
	client.Deliver("locator/request", nil)
	if n := starter.calls.Load(); n != 2 {
		t.Fatalf("started %d times, want 2", n)
	}

	l.Stop()
	if client.Subscribed("locator/request") {
		t.Fatalf("still subscribed after Stop")
	}
}

func TestMQTTListenerSubscribeError(t *testing.T) {
	client := mqtttest.NewClient()
	client.SubscribeErr = errors.New("not connected")
	if err := NewMQTTListener(client, "t", "d", &countingStarter{}).Start(); err == nil {
		t.Fatalf("expected subscribe error")
	}
}
