package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/blueauth/blueauth/config"
	"github.com/blueauth/blueauth/health"
	"github.com/blueauth/blueauth/identity"
	"github.com/blueauth/blueauth/ratelimit"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		s    *config.Settings
	}{
		{"memory", &config.Settings{DBType: "memory"}},
		{"sqlite", &config.Settings{DBType: "sqlite", DSN: filepath.Join(t.TempDir(), "blueauth.db")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := openStore(ctx, tt.s)
			if err != nil {
				t.Fatalf("failed to open store: %v", err)
			}
			defer st.close()

			if err := st.ping(ctx); err != nil {
				t.Errorf("expected ping to succeed, got %v", err)
			}
			created, err := st.gateway.Create(ctx, &identity.Identity{Email: "a@example.com"})
			if err != nil {
				t.Fatalf("failed to create: %v", err)
			}
			found, err := st.gateway.FindUnique(ctx, &identity.Identity{Email: "a@example.com"})
			if err != nil || found.ID != created.ID {
				t.Errorf("expected %s, got %v, %v", created.ID, found, err)
			}
		})
	}

	if _, err := openStore(ctx, &config.Settings{DBType: "oracle"}); err == nil {
		t.Error("expected error for unknown DB_TYPE")
	}
}

func TestNewLimiterWithoutRedis(t *testing.T) {
	l, err := newLimiter(context.Background(), &config.Settings{}, health.NewManager("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.(*ratelimit.MemoryLimiter); !ok {
		t.Errorf("expected memory limiter, got %T", l)
	}
}
