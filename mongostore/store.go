// Package mongostore is a MongoDB-backed identity gateway and audit store.
package mongostore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/blueauth/blueauth/audit"
	"github.com/blueauth/blueauth/identity"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// DefaultDatabase is the database used when none is given.
	DefaultDatabase = "blueauth"

	// IdentitiesCollection holds identity documents.
	IdentitiesCollection = "identities"

	// EventsCollection holds audit events.
	EventsCollection = "audit_events"
)

type identityDoc struct {
	ID        string          `bson:"_id"`
	Email     string          `bson:"email,omitempty"`
	Traits    identity.Traits `bson:"traits,omitempty"`
	CreatedAt time.Time       `bson:"created_at"`
}

type eventDoc struct {
	ID        string         `bson:"_id"`
	Type      string         `bson:"type"`
	SubjectID string         `bson:"subject_id,omitempty"`
	Email     string         `bson:"email,omitempty"`
	Status    string         `bson:"status"`
	Message   string         `bson:"message,omitempty"`
	Risk      string         `bson:"risk"`
	IPAddress string         `bson:"ip_address,omitempty"`
	UserAgent string         `bson:"user_agent,omitempty"`
	Metadata  map[string]any `bson:"metadata,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
}

// Store implements identity.Gateway and audit.Store on top of MongoDB.
type Store struct {
	client     *mongo.Client
	identities *mongo.Collection
	events     *mongo.Collection
	idGen      func() string
	now        func() time.Time
}

// Connect dials uri and returns a Store using database db.
func Connect(ctx context.Context, uri, db string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return New(client, db), nil
}

// New creates a Store on an existing client.
func New(client *mongo.Client, db string) *Store {
	if db == "" {
		db = DefaultDatabase
	}
	database := client.Database(db)
	return &Store{
		client:     client,
		identities: database.Collection(IdentitiesCollection),
		events:     database.Collection(EventsCollection),
		idGen:      uuid.NewString,
		now:        time.Now,
	}
}

// EnsureIndexes creates the unique email index and the event time index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.identities.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	})
	if err != nil {
		return err
	}
	_, err = s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	return err
}

// Ping checks the server connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// FindUnique returns the identity whose id or email matches query.
func (s *Store) FindUnique(ctx context.Context, query *identity.Identity) (*identity.Identity, error) {
	filter, ok := uniqueFilter(query)
	if !ok {
		return nil, identity.ErrNotFound
	}

	var doc identityDoc
	if err := s.identities.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return doc.identity(), nil
}

// Create inserts payload, assigning an id when it has none.
func (s *Store) Create(ctx context.Context, payload *identity.Identity) (*identity.Identity, error) {
	if payload == nil {
		return nil, errors.New("mongostore: nil identity")
	}
	doc := fromIdentity(payload, s.now())
	if doc.ID == "" {
		doc.ID = s.idGen()
	}

	if _, err := s.identities.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, identity.ErrDuplicate
		}
		return nil, err
	}
	return doc.identity(), nil
}

// SaveEvent persists an audit event.
func (s *Store) SaveEvent(ctx context.Context, e *audit.Event) error {
	_, err := s.events.InsertOne(ctx, fromEvent(e))
	return err
}

// Events returns the most recent audit events, newest first.
func (s *Store) Events(ctx context.Context, limit int) ([]audit.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.events.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	events := make([]audit.Event, len(docs))
	for i := range docs {
		events[i] = docs[i].event()
	}
	return events, nil
}

func uniqueFilter(query *identity.Identity) (bson.D, bool) {
	if query == nil {
		return nil, false
	}
	email := strings.ToLower(query.Email)
	switch {
	case query.ID != "" && email != "":
		return bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "_id", Value: query.ID}},
			bson.D{{Key: "email", Value: email}},
		}}}, true
	case query.ID != "":
		return bson.D{{Key: "_id", Value: query.ID}}, true
	case email != "":
		return bson.D{{Key: "email", Value: email}}, true
	}
	return nil, false
}

func fromIdentity(i *identity.Identity, now time.Time) *identityDoc {
	return &identityDoc{
		ID:        i.ID,
		Email:     strings.ToLower(i.Email),
		Traits:    i.Traits,
		CreatedAt: now.UTC(),
	}
}

func (d *identityDoc) identity() *identity.Identity {
	return &identity.Identity{ID: d.ID, Email: d.Email, Traits: d.Traits}
}

func fromEvent(e *audit.Event) *eventDoc {
	return &eventDoc{
		ID:        e.ID,
		Type:      e.Type,
		SubjectID: e.SubjectID,
		Email:     e.Email,
		Status:    e.Status,
		Message:   e.Message,
		Risk:      string(e.Risk),
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	}
}

func (d *eventDoc) event() audit.Event {
	return audit.Event{
		ID:        d.ID,
		Type:      d.Type,
		SubjectID: d.SubjectID,
		Email:     d.Email,
		Status:    d.Status,
		Message:   d.Message,
		Risk:      audit.RiskLevel(d.Risk),
		IPAddress: d.IPAddress,
		UserAgent: d.UserAgent,
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
	}
}
