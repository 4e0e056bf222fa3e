package main

import (
	"context"
	"fmt"

	"github.com/blueauth/blueauth/audit"
	"github.com/blueauth/blueauth/config"
	"github.com/blueauth/blueauth/gormstore"
	"github.com/blueauth/blueauth/identity"
	"github.com/blueauth/blueauth/logger"
	"github.com/blueauth/blueauth/mongostore"
)

// store bundles the identity gateway and audit sink picked by DB_TYPE.
type store struct {
	gateway identity.Gateway
	events  audit.Store
	ping    func(ctx context.Context) error
	close   func()
}

func openStore(ctx context.Context, s *config.Settings) (*store, error) {
	switch s.DBType {
	case "memory":
		return &store{
			gateway: identity.NewMemoryStore(),
			events:  audit.NewLogStore(logger.Log),
			ping:    func(context.Context) error { return nil },
			close:   func() {},
		}, nil

	case "mongo", "mongodb":
		ms, err := mongostore.Connect(ctx, s.DSN, "")
		if err != nil {
			return nil, err
		}
		if err := ms.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return &store{
			gateway: ms,
			events:  ms,
			ping:    ms.Ping,
			close:   func() { _ = ms.Close(context.Background()) },
		}, nil

	default:
		db, err := gormstore.Open(s.DBType, s.DSN, nil)
		if err != nil {
			return nil, err
		}
		gs := gormstore.New(db)
		if err := gs.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &store{
			gateway: gs,
			events:  gs,
			ping:    gs.Ping,
			close: func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			},
		}, nil
	}
}
