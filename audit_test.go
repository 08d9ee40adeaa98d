package authgate

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
)

type collectSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *collectSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) all() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}

// blockSink parks on its first delivery until released, so tests can hold
// the dispatcher worker busy deterministically.
type blockSink struct {
	started chan struct{}
	release chan struct{}
	inner   collectSink
	once    sync.Once
}

func newBlockSink() *blockSink {
	return &blockSink{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *blockSink) Emit(ctx context.Context, event AuditEvent) {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	s.inner.Emit(ctx, event)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &collectSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8, DropIfFull: true}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), newAuditEvent(EventLoginSuccess, true))
	}
	d.Close()

	if got := len(sink.all()); got != 5 {
		t.Fatalf("delivered %d events, want 5", got)
	}
	if d.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", d.Dropped())
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := newBlockSink()
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event reaches the sink and parks the worker there.
	d.Emit(context.Background(), newAuditEvent(EventLoginSuccess, true))
	<-sink.started

	// Second fills the one-slot buffer, third has nowhere to go.
	d.Emit(context.Background(), newAuditEvent(EventLoginFailure, false))
	d.Emit(context.Background(), newAuditEvent(EventLogout, true))

	if d.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", d.Dropped())
	}

	close(sink.release)
	d.Close()

	if got := len(sink.inner.all()); got != 2 {
		t.Fatalf("delivered %d events, want 2", got)
	}
}

func TestDisabledDispatcherIsInert(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, nil)
	if d != nil {
		t.Fatal("disabled audit should yield a nil dispatcher")
	}
	// Nil receivers are safe on every method.
	d.Emit(context.Background(), newAuditEvent(EventLogout, true))
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
	d.Close()
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	event := newAuditEvent(EventRefreshReplay, false)
	event.Username = "alice"
	event.FamilyID = "fam-1"
	sink.Emit(context.Background(), event)

	line := bytes.TrimSpace(buf.Bytes())
	var decoded AuditEvent
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("unmarshal sink output: %v", err)
	}
	if decoded.EventType != EventRefreshReplay || decoded.Username != "alice" || decoded.FamilyID != "fam-1" {
		t.Fatalf("unexpected event %+v", decoded)
	}
	if decoded.ID == "" || decoded.Timestamp.IsZero() {
		t.Fatal("event missing id or timestamp")
	}
}

func TestChannelSinkBuffers(t *testing.T) {
	sink := NewChannelSink(2)
	sink.Emit(context.Background(), newAuditEvent(EventLoginSuccess, true))

	select {
	case event := <-sink.Events():
		if event.EventType != EventLoginSuccess {
			t.Fatalf("event type = %q", event.EventType)
		}
	default:
		t.Fatal("no event buffered")
	}
}
