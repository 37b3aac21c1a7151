package audit

import (
	"context"
	"errors"
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/geo"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/ids"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/obs"
)

// EventStore is the durable append-only backend.
type EventStore interface {
	Append(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Sink records security events. Record never returns an error to the caller:
// a decision must always attempt its audit write, and a failing audit write
// must never abort the decision. Persist failures are retried once, then the
// event goes to the fallback JSON log channel.
type Sink struct {
	store    EventStore
	resolver geo.Resolver
	now      func() time.Time
}

// SinkOption configures Sink behavior.
type SinkOption func(*Sink)

// WithResolver sets the geo enrichment provider.
func WithResolver(r geo.Resolver) SinkOption {
	return func(s *Sink) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) SinkOption {
	return func(s *Sink) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSink constructs the audit sink.
func NewSink(store EventStore, opts ...SinkOption) (*Sink, error) {
	if store == nil {
		return nil, errors.New("audit: event store is required")
	}
	s := &Sink{
		store:    store,
		resolver: geo.Noop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Record enriches and persists one event, returning its id. The returned id
// is empty only when the primary store rejected the event twice; the event is
// then still visible on the fallback channel.
func (s *Sink) Record(ctx context.Context, event Event) string {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if event.IP != "" && event.Geo == nil {
		s.enrich(ctx, &event)
	}

	if err := s.store.Append(ctx, &event); err != nil {
		if retryErr := s.store.Append(ctx, &event); retryErr != nil {
			s.fallback(event, retryErr)
			return ""
		}
	}
	return event.ID
}

// List exposes the admin query surface over persisted events.
func (s *Sink) List(ctx context.Context, filter Filter) ([]Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.List(ctx, filter)
}

func (s *Sink) enrich(ctx context.Context, event *Event) {
	loc, err := s.resolver.Resolve(ctx, event.IP)
	if err != nil {
		// enrichment is best-effort: the event proceeds with geo=null
		obs.Emit(map[string]any{
			"ts":    s.now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "geo_enrichment_failed",
			"ip":    event.IP,
			"error": err.Error(),
		})
		return
	}
	event.Geo = loc
}

func (s *Sink) fallback(event Event, cause error) {
	obs.Emit(map[string]any{
		"ts":    s.now().UTC().Format(time.RFC3339Nano),
		"level": "error",
		"msg":   "audit_store_failed",
		"error": cause.Error(),
		"event": event,
	})
}
