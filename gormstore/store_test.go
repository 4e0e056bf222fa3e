package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/blueauth/blueauth/audit"
	"github.com/blueauth/blueauth/identity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "blueauth.db"), nil)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	store := New(db)
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store
}

func TestIdentityGateway(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// 1. Miss reports ErrNotFound
	if _, err := store.FindUnique(ctx, &identity.Identity{Email: "123@example.com"}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.FindUnique(ctx, &identity.Identity{}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty query, got %v", err)
	}

	// 2. Create keeps the id and traits
	created, err := store.Create(ctx, &identity.Identity{
		ID:     "123",
		Email:  "123@Example.com",
		Traits: identity.Traits{"name": "Ann"},
	})
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if created.ID != "123" || created.Email != "123@example.com" {
		t.Errorf("unexpected created identity %+v", created)
	}

	// 3. Find by email (any case) and by id
	byEmail, err := store.FindUnique(ctx, &identity.Identity{Email: "123@EXAMPLE.COM"})
	if err != nil || byEmail.ID != "123" {
		t.Fatalf("expected to find by email, got %v, %v", byEmail, err)
	}
	if byEmail.Traits["name"] != "Ann" {
		t.Errorf("expected traits to round-trip, got %v", byEmail.Traits)
	}
	if byID, err := store.FindUnique(ctx, &identity.Identity{ID: "123"}); err != nil || byID.Email != "123@example.com" {
		t.Errorf("expected to find by id, got %v, %v", byID, err)
	}

	// 4. Generated ids
	store.idGen = func() string { return "generated" }
	gen, err := store.Create(ctx, &identity.Identity{Email: "other@example.com"})
	if err != nil || gen.ID != "generated" {
		t.Errorf("expected generated id, got %v, %v", gen, err)
	}

	// 5. Duplicate emails are rejected
	if _, err := store.Create(ctx, &identity.Identity{ID: "456", Email: "123@example.com"}); err == nil {
		t.Error("expected duplicate email to be rejected")
	}
}

func TestLookupThroughGateway(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	got, err := identity.Lookup(ctx, store, &identity.Identity{Email: "missing@example.com"})
	if err != nil || got != nil {
		t.Errorf("expected nil, nil on miss, got %v, %v", got, err)
	}
}

func TestAuditEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rec := audit.NewRecorder(store)

	rec.Record(ctx, audit.NewEvent(audit.EventSignInStarted).Subject("123").Email("123@example.com").Meta("redirect_url", "/app").Success())
	rec.Record(ctx, audit.NewEvent(audit.EventSignInRateLimited).Subject("123").Blocked())

	events, err := store.Events(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	var started *audit.Event
	for i := range events {
		if events[i].Type == audit.EventSignInStarted {
			started = &events[i]
		}
	}
	if started == nil {
		t.Fatal("expected sign-in started event")
	}
	if started.ID == "" || started.Status != audit.StatusSuccess || started.Metadata["redirect_url"] != "/app" {
		t.Errorf("unexpected event %+v", started)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "dsn", nil); err == nil {
		t.Error("expected error for unknown driver")
	}
	found := false
	for _, name := range Drivers() {
		if name == "mysql" {
			found = true
		}
	}
	if !found {
		t.Error("expected mysql driver to be registered")
	}
}

func TestPing(t *testing.T) {
	if err := newTestStore(t).Ping(context.Background()); err != nil {
		t.Errorf("expected ping to succeed, got %v", err)
	}
}
