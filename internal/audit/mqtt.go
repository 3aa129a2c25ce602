package audit

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
)

// JSONPublisher is the subset of *mqtt.Client the MQTT sink needs.
type JSONPublisher interface {
	PublishJSON(topic string, v any) error
}

// MQTTSink publishes each entry to graylogic/gateway/audit/<action>.
type MQTTSink struct {
	pub JSONPublisher
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub JSONPublisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

// Log implements Sink.
func (s *MQTTSink) Log(_ context.Context, entry *Entry) error {
	if err := s.pub.PublishJSON(mqtt.Topics{}.GatewayAudit(entry.Action), entry); err != nil {
		return fmt.Errorf("publishing audit entry: %w", err)
	}
	return nil
}
