package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type countingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *countingSink) Emit(_ context.Context, e Event) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Kind: "login_success"})
	}
	d.Close()
	if got := sink.count(); got != 10 {
		t.Fatalf("expected 10 delivered events, got %d", got)
	}
	d.Emit(context.Background(), Event{Kind: "after_close"})
	if got := sink.count(); got != 10 {
		t.Fatalf("emit after close must be ignored, got %d", got)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &countingSink{block: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{Kind: "login_failure"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a blocked sink")
	}
	close(sink.block)
	d.Close()
}

func TestDisabledDispatcherIsNilSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports no drops")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{Kind: "logout", UserID: 7, Success: true})

	var got Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != "logout" || got.UserID != 7 || !got.Success {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{
		Timestamp: time.Now(),
		Kind:      "login_failure",
		Username:  "alice",
		Failure:   "invalid_credentials",
	})
	out := buf.String()
	for _, want := range []string{"level=WARN", "kind=login_failure", "username=alice", "failure=invalid_credentials"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

type panicSink struct{}

func (panicSink) Emit(context.Context, Event) { panic("sink exploded") }

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, panicSink{})
	d.Emit(context.Background(), Event{Kind: "logout"})
	d.Emit(context.Background(), Event{Kind: "logout"})
	d.Close()
	if got := d.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}

type ctxKey struct{}

func TestDispatcherDetachesRequestCancellation(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))
	d.Emit(ctx, Event{Kind: "login_success"})
	cancel()
	d.Close()

	select {
	case ev := <-sink.Events():
		if ev.Kind != "login_success" || ev.Timestamp.IsZero() {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("event was not delivered after the caller context ended")
	}
}

func TestDispatcherSinkTimeout(t *testing.T) {
	// A full channel sink blocks until its context ends.
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, SinkTimeout: 10 * time.Millisecond}, sink)
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{Kind: "refresh_success"})
	}

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on a blocked sink")
	}
	if got := len(sink.Events()); got != 1 {
		t.Fatalf("buffered events = %d, want 1", got)
	}
}
