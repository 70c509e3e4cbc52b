package mqtt

import (
	"fmt"
	"strings"
)

// maxPayloadSize caps a single message (1MB), in line with typical broker limits.
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified topic.
//
// Request and response messages are published with retained=false; state
// and object topics are retained so late subscribers see the current value.
//
// Parameters:
//   - topic: The topic to publish to (no wildcards)
//   - payload: The message payload (JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker keeps the message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	topic := mqtt.Topics{}.Request("zigbee.0")
//	err := client.Publish(topic, envelope, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	// Validate inputs
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	// Check connection state
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Publish and wait for the broker
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishRetained publishes a retained message with the configured default QoS.
//
// Used for state and object topics, so that a console connecting later
// reads the current value straight from the broker.
//
// Example:
//
//	topic := mqtt.Topics{}.State("system.adapter.zigbee.0.alive")
//	err := client.PublishRetained(topic, []byte(`{"val":true,"ack":true}`))
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// validatePublishTopic rejects empty topics and topics containing the
// subscription wildcards, which brokers refuse on publish.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
