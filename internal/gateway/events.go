package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
)

// Fanout delivers an encoded frame to every connected session that match
// accepts. The WebSocket hub implements it.
type Fanout interface {
	Broadcast(frame []byte, match func(*Session) bool)
}

// EventPublisher forwards events off-box. *mqtt.Client implements it.
type EventPublisher interface {
	PublishJSON(topic string, v any) error
}

// Events broadcasts gateway events to sessions and, except for ticks, to MQTT.
type Events struct {
	fanout Fanout
	bus    EventPublisher
	logger *logging.Logger
	seq    atomic.Uint64
}

// NewEvents creates an event emitter. bus may be nil.
func NewEvents(fanout Fanout, bus EventPublisher, logger *logging.Logger) *Events {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Events{fanout: fanout, bus: bus, logger: logger.Component("events")}
}

// Emit sends event to sessions holding perm (everyone when perm is empty).
func (e *Events) Emit(event string, payload any, perm auth.Permission) {
	if e == nil {
		return
	}
	frame := EventFrame{Type: FrameEvent, Event: event, Payload: payload, Seq: e.seq.Add(1)}
	data, err := json.Marshal(frame)
	if err != nil {
		e.logger.Error("encoding event", "event", event, "error", err)
		return
	}

	if e.fanout != nil {
		e.fanout.Broadcast(data, func(s *Session) bool { return s.Can(perm) })
	}

	if e.bus != nil && event != EventTick {
		if err := e.bus.PublishJSON(mqtt.Topics{}.GatewayEvent(event), frame); err != nil {
			e.logger.Debug("event not forwarded to mqtt", "event", event, "error", err)
		}
	}
}

// RunTicker emits a tick event every interval until ctx is cancelled.
func (e *Events) RunTicker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			e.Emit(EventTick, map[string]int64{"ts": t.UnixMilli()}, "")
		}
	}
}
