//go:build integration

package mqtt

import (
	"sync/atomic"
	"testing"
	"time"
)

// Integration tests against a live broker.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func integrationOptions(clientID string) Options {
	return Options{
		BrokerURL:             "tcp://127.0.0.1:1883",
		ClientID:              clientID,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     5 * time.Second,
	}
}

func TestIntegration_ConnectAndClose(t *testing.T) {
	client, err := Connect(integrationOptions("test/int-connect"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	o := integrationOptions("test/int-refused")
	o.BrokerURL = "tcp://127.0.0.1:19999"

	if _, err := Connect(o); err == nil {
		t.Fatal("Connect() expected error for unreachable broker")
	}
}

func TestIntegration_OnConnectFiresOnStart(t *testing.T) {
	client := New(integrationOptions("test/int-onconnect"))

	var calls atomic.Int32
	client.SetOnConnect(func() { calls.Add(1) })

	if err := client.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() != 1 {
		t.Errorf("onConnect calls = %d, want 1", calls.Load())
	}
}

func TestIntegration_PropertyRoundtrip(t *testing.T) {
	topics := NewTopics("test", "int-roundtrip")

	pub, err := Connect(integrationOptions("test/int-roundtrip-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(integrationOptions("test/int-roundtrip-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	type message struct {
		topic   string
		payload []byte
	}
	received := make(chan message, 1)

	err = sub.Subscribe(topics.InterfaceWildcard("com.example.Config"), 1, func(topic string, payload []byte) error {
		received <- message{topic, payload}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(topics.InterfaceWildcard("com.example.Config")) {
		t.Error("HasSubscription() = false after Subscribe()")
	}

	// Give subscription time to register
	time.Sleep(100 * time.Millisecond)

	want := topics.Interface("com.example.Config", "/led/on")
	if err := pub.Publish(want, []byte{0x01}, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg.topic != want {
			t.Errorf("topic = %q, want %q", msg.topic, want)
		}
		if len(msg.payload) != 1 || msg.payload[0] != 0x01 {
			t.Errorf("payload = %v, want [1]", msg.payload)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for message")
	}

	if err := sub.Unsubscribe(topics.InterfaceWildcard("com.example.Config")); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if sub.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Unsubscribe(), want 0", sub.SubscriptionCount())
	}
}
