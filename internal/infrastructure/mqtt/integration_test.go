//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_RetainedStateRoundtrip(t *testing.T) {
	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := Topics{}.State("test.0.integration")
	received := make(chan []byte, 1)

	if err := client.PublishRetained(topic, []byte(`{"val":true,"ts":1}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}
	if err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		select {
		case received <- payload:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"val":true,"ts":1}` {
			t.Errorf("payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained state not delivered")
	}

	// Clear the retained message.
	_ = client.Publish(topic, nil, 1, true)
}
