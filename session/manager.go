package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/blueauth/blueauth/audit"
	"github.com/blueauth/blueauth/config"
	"github.com/blueauth/blueauth/identity"
	"github.com/blueauth/blueauth/token"
	"go.uber.org/zap"
)

// ErrReadOnly is returned when a reader is asked to issue a session.
var ErrReadOnly = errors.New("session: manager is read-only")

// ErrNoIdentityID is returned when issuing a session for an identity without id.
var ErrNoIdentityID = errors.New("session: identity has no id")

// Manager handles the session lifecycle. It is safe for concurrent use.
type Manager struct {
	cfg    *config.Config
	read   *config.ReadConfig
	codec  *token.Codec
	log    *zap.Logger
	audit  *audit.Recorder
	now    func() time.Time
	cookie config.CookieOptions
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Verification failures are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithAudit records session events.
func WithAudit(r *audit.Recorder) Option {
	return func(m *Manager) { m.audit = r }
}

// WithClock overrides the clock used to issue and verify tokens.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager that can issue, resolve and refresh sessions.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("session: config is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("session: identity gateway is required")
	}
	m, err := newManager(cfg.Read(), opts)
	if err != nil {
		return nil, err
	}
	m.cfg = cfg
	m.cookie = cfg.CookieOptions
	return m, nil
}

// NewReader creates a Manager that can only resolve the current identity.
func NewReader(rc *config.ReadConfig, opts ...Option) (*Manager, error) {
	if rc == nil {
		return nil, errors.New("session: read config is required")
	}
	if rc.Finder == nil {
		return nil, errors.New("session: identity finder is required")
	}
	return newManager(rc, opts)
}

func newManager(rc *config.ReadConfig, opts []Option) (*Manager, error) {
	m := &Manager{
		read:   rc,
		log:    zap.NewNop(),
		now:    time.Now,
		cookie: config.Defaults().CookieOptions,
	}
	for _, opt := range opts {
		opt(m)
	}

	codec, err := token.NewCodec(rc.Secret, token.WithClock(m.now))
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	m.codec = codec
	return m, nil
}

// CookieName is the name of the session cookie.
func (m *Manager) CookieName() string {
	return m.read.CookieName()
}

// Issue mints a session token for ident, valid for the configured lifespan.
func (m *Manager) Issue(ctx context.Context, ident *identity.Identity) (*Session, error) {
	if m.cfg == nil {
		return nil, ErrReadOnly
	}
	if ident == nil || ident.ID == "" {
		return nil, ErrNoIdentityID
	}

	claims := &token.SessionClaims{ID: ident.ID}
	signed, err := m.codec.Sign(claims, m.cfg.SessionLifespan)
	if err != nil {
		return nil, err
	}

	return &Session{
		Token:      signed,
		IdentityID: ident.ID,
		IssuedAt:   claims.Issued(),
		ExpiresAt:  claims.Expires(),
	}, nil
}

// ResolveCurrentIdentity returns the identity behind a session cookie value.
// It never fails: an empty, invalid or expired token, a token without an id,
// an unknown identity and a gateway error all resolve to nil.
func (m *Manager) ResolveCurrentIdentity(ctx context.Context, cookieValue string) *identity.Identity {
	if cookieValue == "" {
		return nil
	}

	var claims token.SessionClaims
	if err := m.codec.Verify(cookieValue, &claims); err != nil {
		m.log.Debug("session token rejected", zap.Error(err))
		return nil
	}
	if claims.ID == "" {
		m.log.Debug("session token has no identity id")
		return nil
	}

	ident, err := identity.Lookup(ctx, m.read.Finder, &identity.Identity{ID: claims.ID})
	if err != nil {
		m.log.Warn("failed to look up session identity",
			zap.String("identity_id", claims.ID),
			zap.Error(err),
		)
		return nil
	}
	if ident == nil {
		m.log.Debug("session identity no longer exists", zap.String("identity_id", claims.ID))
	}
	return ident
}

// RefreshIfConfigured re-issues a full-length session for ident when refresh
// is enabled. It returns nil, nil otherwise.
func (m *Manager) RefreshIfConfigured(ctx context.Context, ident *identity.Identity) (*Session, error) {
	if m.cfg == nil || !m.cfg.RefreshSession || ident == nil {
		return nil, nil
	}
	sess, err := m.Issue(ctx, ident)
	if err != nil {
		return nil, err
	}
	m.audit.Record(ctx, audit.NewEvent(audit.EventSessionRefreshed).Subject(ident.ID).Success())
	return sess, nil
}

// SignOut returns a cookie that clears the session. It always succeeds.
func (m *Manager) SignOut(ctx context.Context) *http.Cookie {
	m.audit.Record(ctx, audit.NewEvent(audit.EventSignOut).Success())
	return m.cookie.ClearCookie(m.CookieName())
}

// Cookie builds the session cookie carrying sess.
func (m *Manager) Cookie(sess *Session) *http.Cookie {
	return m.cookie.Cookie(m.CookieName(), sess.Token)
}

// FromRequest resolves the identity behind the session cookie of r.
func (m *Manager) FromRequest(r *http.Request) *identity.Identity {
	c, err := r.Cookie(m.CookieName())
	if err != nil {
		return nil
	}
	return m.ResolveCurrentIdentity(r.Context(), c.Value)
}
