package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (p *capturePublisher) PublishJSON(topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return p.err
}

func TestEvents_EmitSequencesAndForwards(t *testing.T) {
	fan := &captureFanout{}
	pub := &capturePublisher{}
	ev := NewEvents(fan, pub, logging.Discard())

	ev.Emit(EventPairRequested, map[string]string{"requestId": "r1"}, auth.PermDevicePairManage)
	ev.Emit(EventTick, map[string]int64{"ts": 1}, "")

	if len(fan.frames) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(fan.frames))
	}
	if fan.frames[0].frame.Seq != 1 || fan.frames[1].frame.Seq != 2 {
		t.Errorf("seq = %d, %d, want 1, 2", fan.frames[0].frame.Seq, fan.frames[1].frame.Seq)
	}
	if !fan.frames[1].match(sessionWithRole(auth.RoleChatOnly)) {
		t.Error("tick should reach every session")
	}
	if len(pub.topics) != 1 || pub.topics[0] != "graylogic/gateway/event/device.pair.requested" {
		t.Errorf("mqtt topics = %v, want only the pairing event", pub.topics)
	}
}

func TestEvents_PublishFailureIsNotFatal(t *testing.T) {
	fan := &captureFanout{}
	ev := NewEvents(fan, &capturePublisher{err: errors.New("not connected")}, logging.Discard())
	ev.Emit(EventPresence, nil, "")
	if len(fan.frames) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(fan.frames))
	}
}

func TestEvents_NilIsSafe(t *testing.T) {
	var ev *Events
	ev.Emit(EventTick, nil, "")
}

func TestEvents_RunTicker(t *testing.T) {
	fan := &captureFanout{}
	ev := NewEvents(fan, nil, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		ev.RunTicker(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(fan.events(EventTick)) < 2 {
		select {
		case <-deadline:
			t.Fatal("no ticks emitted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunTicker did not stop on cancel")
	}
}
