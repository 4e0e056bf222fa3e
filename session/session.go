// Package session manages the signed session cookie.
//
// A session is nothing but a signed token carrying the identity id; no
// session state is stored on the server. A Manager issues sessions, resolves
// the identity behind a cookie and, when refresh is enabled, slides the expiry
// forward on every resolution.
//
// # Lifecycle
//
//	Absent --(sign-in completed)--> Active
//	Active --(resolve, refresh on)--> Active
//	Active --(expiry | bad signature | identity deleted)--> Absent
//
// # Usage
//
//	mgr, err := session.NewManager(cfg, session.WithLogger(log))
//	sess, err := mgr.Issue(ctx, ident)
//	http.SetCookie(w, mgr.Cookie(sess))
//
//	// on later requests
//	ident := mgr.FromRequest(r) // nil when signed out
//
// Read-only integration points that only need the current identity use
// NewReader with a config.ReadConfig.
package session

import (
	"time"
)

// Session is an issued session credential.
type Session struct {
	// Token is the signed session token stored in the cookie.
	Token      string
	IdentityID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Valid reports whether s has not yet expired at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Token != "" && now.Before(s.ExpiresAt)
}
