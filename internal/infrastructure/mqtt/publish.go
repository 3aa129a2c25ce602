package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps a single message. Gateway events and audit entries are
// a few hundred bytes; anything near this is a bug upstream.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker acknowledgement
// (up to defaultPublishTimeout for QoS 1 and 2).
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d byte payload over the %d byte limit", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}

	tok := c.client.Publish(topic, qos, retained, payload)
	if !tok.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: no ack within %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishJSON publishes v as a non-retained JSON message at the configured
// QoS. Gateway events and audit entries go through here.
func (c *Client) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %s payload: %w", ErrPublishFailed, topic, err)
	}
	return c.Publish(topic, payload, c.qos(), false)
}
