package positioning

import (
	"testing"

	"github.com/relabs-tech/family_locator/internal/mqtttest"
)

func TestMQTTFeedPublishesFixesAndStatus(t *testing.T) {
	client := mqtttest.NewClient()
	network := NewProvider(Network)
	feed := NewMQTTFeed(client, "locator/provider/", network)
	if err := feed.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m := NewManager(network)
	l := &recordingListener{}
	if _, err := m.Subscribe(Network, 0, 0, l); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if !client.Deliver("locator/provider/network/status", []byte("enabled")) {
		t.Fatalf("status topic not subscribed")
	}
	if !m.IsProviderEnabled(Network) {
		t.Fatalf("network provider not enabled")
	}

	client.Deliver("locator/provider/network", []byte(`{"latitude":12.9,"longitude":77.6,"accuracy":20}`))
	client.Deliver("locator/provider/network", []byte(`{"latitude":"north"}`))
	client.Deliver("locator/provider/network", []byte(`{"latitude":123,"longitude":0}`))

	if fixes, _ := l.counts(); fixes != 1 {
		t.Fatalf("fixes = %d, want 1", fixes)
	}
	if l.fixes[0].Accuracy == nil || *l.fixes[0].Accuracy != 20 {
		t.Fatalf("accuracy = %v, want 20", l.fixes[0].Accuracy)
	}

	client.Deliver("locator/provider/network/status", []byte("disabled"))
	if _, disabled := l.counts(); disabled != 1 {
		t.Fatalf("disabled notifications = %d, want 1", disabled)
	}

	feed.Stop()
	if client.Subscribed("locator/provider/network") {
		t.Fatalf("fix topic still subscribed after Stop")
	}
}
