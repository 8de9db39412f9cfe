package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is the canonical audit record.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Kind       string            `json:"kind"`
	UserID     int64             `json:"user_id,omitempty"`
	Username   string            `json:"username,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	AuthSource string            `json:"auth_source,omitempty"`
	Success    bool              `json:"success"`
	Failure    string            `json:"failure,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(append(data, '\n'))
}

// SlogSink writes each event as one structured log record. Failures log at Warn.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("kind", event.Kind),
		slog.Bool("success", event.Success),
		slog.Time("at", event.Timestamp),
	}
	if event.UserID != 0 {
		attrs = append(attrs, slog.String("user_id", strconv.FormatInt(event.UserID, 10)))
	}
	if event.Username != "" {
		attrs = append(attrs, slog.String("username", event.Username))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.IP != "" {
		attrs = append(attrs, slog.String("ip", event.IP))
	}
	if event.AuthSource != "" {
		attrs = append(attrs, slog.String("auth_source", event.AuthSource))
	}
	if event.Failure != "" {
		attrs = append(attrs, slog.String("failure", event.Failure))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta."+k, v))
	}

	s.logger.LogAttrs(ctx, level, "audit", attrs...)
}
