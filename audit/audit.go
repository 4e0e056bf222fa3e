// Package audit records security events raised by the sign-in flow and the
// session manager.
//
// Events are built with NewEvent and handed to a Recorder, which stamps an id
// and writes them to a Store. Recording never fails the operation that raised
// the event; store errors are logged and dropped.
//
//	rec := audit.NewRecorder(gormstore.NewAuditStore(db), audit.WithLogger(log))
//	rec.Record(ctx, audit.NewEvent(audit.EventSignInStarted).Subject(id).Success())
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RiskLevel categorizes the severity of an event.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Event statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusBlocked = "blocked"
)

// Event types.
const (
	EventSignInStarted     = "auth.signin.started"
	EventSignInCompleted   = "auth.signin.completed"
	EventSignInFailed      = "auth.signin.failed"
	EventSignInRateLimited = "security.signin.rate_limited"
	EventIdentityCreated   = "identity.created"
	EventSessionIssued     = "auth.session.issued"
	EventSessionRefreshed  = "auth.session.refreshed"
	EventSignOut           = "auth.signout"
	EventEmailFailed       = "notify.email.failed"
)

// Event is a structured security event record.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	SubjectID string         `json:"subject_id,omitempty"`
	Email     string         `json:"email,omitempty"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Risk      RiskLevel      `json:"risk,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store persists events.
type Store interface {
	SaveEvent(ctx context.Context, event *Event) error
}

// EventBuilder is a fluent constructor for events.
type EventBuilder struct {
	event *Event
}

// NewEvent starts building an event of the given type.
func NewEvent(eventType string) *EventBuilder {
	return &EventBuilder{event: &Event{
		Type:      eventType,
		CreatedAt: time.Now(),
		Risk:      RiskLow,
	}}
}

func (b *EventBuilder) Subject(id string) *EventBuilder {
	b.event.SubjectID = id
	return b
}

func (b *EventBuilder) Email(email string) *EventBuilder {
	b.event.Email = email
	return b
}

func (b *EventBuilder) Success() *EventBuilder {
	b.event.Status = StatusSuccess
	return b
}

func (b *EventBuilder) Failure(err error) *EventBuilder {
	b.event.Status = StatusFailure
	if err != nil {
		b.event.Message = err.Error()
	}
	return b
}

func (b *EventBuilder) Blocked() *EventBuilder {
	b.event.Status = StatusBlocked
	b.event.Risk = RiskMedium
	return b
}

func (b *EventBuilder) Message(msg string) *EventBuilder {
	b.event.Message = msg
	return b
}

func (b *EventBuilder) Risk(level RiskLevel) *EventBuilder {
	b.event.Risk = level
	return b
}

func (b *EventBuilder) Client(ip, userAgent string) *EventBuilder {
	b.event.IPAddress = ip
	b.event.UserAgent = userAgent
	return b
}

func (b *EventBuilder) Meta(key string, value any) *EventBuilder {
	if b.event.Metadata == nil {
		b.event.Metadata = map[string]any{}
	}
	b.event.Metadata[key] = value
	return b
}

// Build returns the constructed event.
func (b *EventBuilder) Build() *Event {
	return b.event
}

// Recorder stamps and persists events.
type Recorder struct {
	store Store
	log   *zap.Logger
	idGen func() string
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the logger used to report store failures.
func WithLogger(l *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(gen func() string) RecorderOption {
	return func(r *Recorder) { r.idGen = gen }
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, log: zap.NewNop(), idGen: uuid.NewString}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record persists the event built by b. A nil Recorder discards events.
func (r *Recorder) Record(ctx context.Context, b *EventBuilder) {
	if r == nil || r.store == nil || b == nil {
		return
	}
	event := b.Build()
	if event.ID == "" {
		event.ID = r.idGen()
	}
	if err := r.store.SaveEvent(ctx, event); err != nil {
		r.log.Warn("failed to save audit event",
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
}

// LogStore writes events to a zap logger.
type LogStore struct {
	log *zap.Logger
}

// NewLogStore creates a Store that logs every event at info level.
func NewLogStore(l *zap.Logger) *LogStore {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogStore{log: l.Named("audit")}
}

func (s *LogStore) SaveEvent(ctx context.Context, event *Event) error {
	s.log.Info(event.Type,
		zap.String("id", event.ID),
		zap.String("status", event.Status),
		zap.String("subject_id", event.SubjectID),
		zap.String("email", event.Email),
		zap.String("message", event.Message),
		zap.String("risk", string(event.Risk)),
		zap.Any("metadata", event.Metadata),
		zap.Time("created_at", event.CreatedAt),
	)
	return nil
}

// MemoryStore keeps events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemoryStore) SaveEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

// Events returns a copy of the recorded events.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Types returns the recorded event types in order.
func (s *MemoryStore) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, len(s.events))
	for i, e := range s.events {
		types[i] = e.Type
	}
	return types
}
