// Package gormstore is a GORM-backed identity gateway and audit store.
//
// SQLite, PostgreSQL and MySQL drivers are registered by default:
//
//	db, err := gormstore.Open("postgres", dsn, nil)
//	store := gormstore.New(db)
//	if err := store.AutoMigrate(); err != nil { ... }
//
//	cfg := config.Resolve(config.Options{Gateway: store, ...})
package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/blueauth/blueauth/audit"
	"github.com/blueauth/blueauth/identity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type identityModel struct {
	ID        string          `gorm:"primaryKey;size:64"`
	Email     *string         `gorm:"uniqueIndex;size:320"`
	Traits    identity.Traits `gorm:"serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (identityModel) TableName() string { return "identities" }

func fromIdentity(i *identity.Identity) *identityModel {
	m := &identityModel{ID: i.ID, Traits: i.Traits}
	if i.Email != "" {
		email := strings.ToLower(i.Email)
		m.Email = &email
	}
	return m
}

func (m *identityModel) identity() *identity.Identity {
	ident := &identity.Identity{ID: m.ID, Traits: m.Traits}
	if m.Email != nil {
		ident.Email = *m.Email
	}
	return ident
}

type auditModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Type      string `gorm:"index;size:64"`
	SubjectID string `gorm:"index;size:64"`
	Email     string `gorm:"size:320"`
	Status    string `gorm:"index;size:16"`
	Message   string
	Risk      string `gorm:"size:16"`
	IPAddress string `gorm:"size:64"`
	UserAgent string
	Metadata  map[string]any `gorm:"serializer:json"`
	CreatedAt time.Time      `gorm:"index"`
}

func (auditModel) TableName() string { return "audit_events" }

// Store implements identity.Gateway and audit.Store on top of GORM.
type Store struct {
	db    *gorm.DB
	idGen func() string
}

// New creates a Store using db.
func New(db *gorm.DB) *Store {
	return &Store{db: db, idGen: uuid.NewString}
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AutoMigrate creates or updates the identity and audit tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&identityModel{}, &auditModel{})
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// FindUnique returns the identity whose id or email matches query.
// Emails are compared case-insensitively.
func (s *Store) FindUnique(ctx context.Context, query *identity.Identity) (*identity.Identity, error) {
	if query == nil || (query.ID == "" && query.Email == "") {
		return nil, identity.ErrNotFound
	}

	tx := s.db.WithContext(ctx)
	switch {
	case query.ID != "" && query.Email != "":
		tx = tx.Where("id = ?", query.ID).Or("email = ?", strings.ToLower(query.Email))
	case query.ID != "":
		tx = tx.Where("id = ?", query.ID)
	default:
		tx = tx.Where("email = ?", strings.ToLower(query.Email))
	}

	var m identityModel
	if err := tx.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return m.identity(), nil
}

// Create inserts payload, assigning an id when it has none.
func (s *Store) Create(ctx context.Context, payload *identity.Identity) (*identity.Identity, error) {
	if payload == nil {
		return nil, errors.New("gormstore: nil identity")
	}
	m := fromIdentity(payload)
	if m.ID == "" {
		m.ID = s.idGen()
	}

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, identity.ErrDuplicate
		}
		return nil, err
	}
	return m.identity(), nil
}

// SaveEvent persists an audit event.
func (s *Store) SaveEvent(ctx context.Context, e *audit.Event) error {
	return s.db.WithContext(ctx).Create(&auditModel{
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
	}).Error
}

// Events returns the most recent audit events, newest first.
func (s *Store) Events(ctx context.Context, limit int) ([]audit.Event, error) {
	var rows []auditModel
	if err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]audit.Event, len(rows))
	for i, r := range rows {
		events[i] = audit.Event{
			ID:        r.ID,
			Type:      r.Type,
			SubjectID: r.SubjectID,
			Email:     r.Email,
			Status:    r.Status,
			Message:   r.Message,
			Risk:      audit.RiskLevel(r.Risk),
			IPAddress: r.IPAddress,
			UserAgent: r.UserAgent,
			Metadata:  r.Metadata,
			CreatedAt: r.CreatedAt,
		}
	}
	return events, nil
}
