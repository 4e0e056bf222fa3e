package mongostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/blueauth/blueauth/audit"
	"github.com/blueauth/blueauth/identity"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

func TestUniqueFilter(t *testing.T) {
	tests := []struct {
		name  string
		query *identity.Identity
		want  bson.D
		ok    bool
	}{
		{"nil", nil, nil, false},
		{"empty", &identity.Identity{}, nil, false},
		{"id", &identity.Identity{ID: "123"}, bson.D{{Key: "_id", Value: "123"}}, true},
		{"email", &identity.Identity{Email: "A@Example.com"}, bson.D{{Key: "email", Value: "a@example.com"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := uniqueFilter(tt.query)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i].Key != tt.want[i].Key || got[i].Value != tt.want[i].Value {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}

	both, ok := uniqueFilter(&identity.Identity{ID: "1", Email: "a@example.com"})
	if !ok || len(both) != 1 || both[0].Key != "$or" {
		t.Errorf("expected $or filter, got %v", both)
	}
}

func TestDocumentConversion(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := fromIdentity(&identity.Identity{ID: "1", Email: "Ann@Example.com", Traits: identity.Traits{"name": "Ann"}}, now)

	if doc.Email != "ann@example.com" || !doc.CreatedAt.Equal(now) {
		t.Errorf("unexpected doc %+v", doc)
	}
	ident := doc.identity()
	if ident.ID != "1" || ident.Email != "ann@example.com" || ident.Traits["name"] != "Ann" {
		t.Errorf("unexpected identity %+v", ident)
	}

	e := audit.NewEvent(audit.EventSignOut).Subject("1").Blocked().Build()
	e.ID = "evt"
	back := fromEvent(e).event()
	if back.ID != "evt" || back.Type != audit.EventSignOut || back.Risk != audit.RiskMedium || back.Status != audit.StatusBlocked {
		t.Errorf("unexpected event %+v", back)
	}
}

// Integration tests need a running server, e.g.
// MONGO_URI=mongodb://localhost:27017 go test ./mongostore
func TestStoreIntegration(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := Connect(ctx, uri, "blueauth_test_"+uuid.NewString()[:8])
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer func() {
		_ = store.identities.Database().Drop(ctx)
		_ = store.Close(ctx)
	}()

	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("failed to create indexes: %v", err)
	}

	if _, err := store.FindUnique(ctx, &identity.Identity{Email: "a@example.com"}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	created, err := store.Create(ctx, &identity.Identity{Email: "A@example.com"})
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if created.ID == "" {
		t.Error("expected generated id")
	}

	found, err := store.FindUnique(ctx, &identity.Identity{Email: "a@EXAMPLE.com"})
	if err != nil || found.ID != created.ID {
		t.Errorf("expected to find %s, got %v, %v", created.ID, found, err)
	}

	if _, err := store.Create(ctx, &identity.Identity{Email: "a@example.com"}); !errors.Is(err, identity.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	audit.NewRecorder(store).Record(ctx, audit.NewEvent(audit.EventIdentityCreated).Subject(created.ID).Success())
	events, err := store.Events(ctx, 5)
	if err != nil || len(events) != 1 || events[0].SubjectID != created.ID {
		t.Errorf("unexpected events %v, %v", events, err)
	}
}
