// Package audit records security events: an append-only trail of
// authentication outcomes and MFA state changes. Every event is emitted
// as a structured JSON log line and, when a sink is configured,
// persisted to the security_events table.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/foliohq/folio/internal/auth"
	"github.com/foliohq/folio/internal/ids"
	"github.com/foliohq/folio/internal/obs"
)

// Appender persists security events. Implemented by the pg store.
type Appender interface {
	AppendSecurityEvent(ctx context.Context, event auth.Event) error
}

// Broadcaster pushes events to live subscribers. Implemented by the
// stream hub.
type Broadcaster interface {
	Publish(event auth.Event)
}

// Recorder implements auth.Recorder.
type Recorder struct {
	sink      Appender
	broadcast Broadcaster
	now       func() time.Time
}

// Option configures Recorder.
type Option func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithBroadcaster mirrors every recorded event onto a live feed.
func WithBroadcaster(b Broadcaster) Option {
	return func(r *Recorder) {
		r.broadcast = b
	}
}

// NewRecorder builds a recorder. A nil sink keeps the JSON log trail
// only.
func NewRecorder(sink Appender, opts ...Option) *Recorder {
	r := &Recorder{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ auth.Recorder = (*Recorder)(nil)

// Record emits the event as a JSON audit line and appends it to the
// sink. The log line is written even when the sink fails, so the trail
// is never silently empty.
func (r *Recorder) Record(ctx context.Context, event auth.Event) error {
	if strings.TrimSpace(event.Type) == "" {
		return errors.New("event type is required")
	}
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}

	r.logLine(event)
	if r.broadcast != nil {
		r.broadcast.Publish(event)
	}

	if r.sink == nil {
		return nil
	}
	return r.sink.AppendSecurityEvent(ctx, event)
}

func (r *Recorder) logLine(event auth.Event) {
	entry := map[string]any{
		"ts":    event.OccurredAt.Format(time.RFC3339Nano),
		"type":  "security_event",
		"event": event.Type,
		"id":    event.ID,
	}
	if event.UserID != "" {
		entry["user_id"] = event.UserID
	}
	if event.SiteID != "" {
		entry["site_id"] = event.SiteID
	}
	if event.SourceIP != "" {
		entry["source_ip"] = event.SourceIP
	}
	if event.UserAgent != "" {
		entry["user_agent"] = event.UserAgent
	}
	if len(event.Metadata) > 0 {
		entry["fields"] = event.Metadata
	}
	data, err := json.Marshal(entry)
	if err != nil {
		obs.Logger().Println(`{"level":"error","msg":"security event marshal failed"}`)
		return
	}
	obs.Logger().Println(string(data))
}
