package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	secret := "some-secret"

	signed, err := Sign(&SignInClaims{Email: "123@example.com", RedirectURL: "/dashboard"}, secret, SignInLifespan)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	var claims SignInClaims
	if err := Verify(signed, secret, &claims); err != nil {
		t.Fatalf("failed to verify: %v", err)
	}
	if claims.Email != "123@example.com" {
		t.Errorf("expected email 123@example.com, got %q", claims.Email)
	}
	if claims.RedirectURL != "/dashboard" {
		t.Errorf("expected redirect /dashboard, got %q", claims.RedirectURL)
	}
	if got := claims.Expires().Sub(claims.Issued()); got != SignInLifespan {
		t.Errorf("expected lifespan %v, got %v", SignInLifespan, got)
	}
	if claims.ID == "" {
		t.Error("expected a token id to be stamped")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	codec, err := NewCodec("s1")
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	signed, err := codec.Sign(&SessionClaims{ID: "123"}, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	var claims SessionClaims
	if err := codec.Verify(signed, &claims); err != nil {
		t.Fatalf("failed to verify: %v", err)
	}
	if claims.ID != "123" {
		t.Errorf("expected id 123, got %q", claims.ID)
	}
}

func TestURLSafe(t *testing.T) {
	signed, err := Sign(&SignInClaims{Email: "a+b@example.com", RedirectURL: "https://x.test/?a=1&b=2"}, "k", time.Minute)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	for _, r := range signed {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_.", r)
		if !ok {
			t.Fatalf("token contains non URL-safe rune %q", r)
		}
	}
}

func TestVerifyErrors(t *testing.T) {
	good, err := Sign(&SessionClaims{ID: "123"}, "s1", time.Hour)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	expired, err := Sign(&SessionClaims{ID: "123"}, "s1", -time.Second)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	expiredOtherSecret, err := Sign(&SessionClaims{ID: "123"}, "s2", -time.Second)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	parts := strings.Split(good, ".")
	forged, err := Sign(&SessionClaims{ID: "999"}, "s1", time.Hour)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	tampered := parts[0] + "." + strings.Split(forged, ".")[1] + "." + parts[2]

	cases := []struct {
		title  string
		token  string
		secret string
		expErr error
	}{
		{title: "wrong-secret", token: good, secret: "s2", expErr: ErrSignature},
		{title: "tampered-payload", token: tampered, secret: "s1", expErr: ErrSignature},
		{title: "expired", token: expired, secret: "s1", expErr: ErrExpired},
		{title: "expired-wrong-secret", token: expiredOtherSecret, secret: "s1", expErr: ErrSignature},
		{title: "garbage", token: "not-a-token", secret: "s1", expErr: ErrMalformed},
		{title: "empty", token: "", secret: "s1", expErr: ErrMalformed},
		{title: "empty-secret", token: good, secret: "", expErr: ErrInvalidSecret},
	}

	for _, c := range cases {
		var claims SessionClaims
		err := Verify(c.token, c.secret, &claims)
		if !errors.Is(err, c.expErr) {
			t.Errorf("[%s] expected %v, got %v", c.title, c.expErr, err)
		}
	}
}

func TestNoneAlgorithmRejected(t *testing.T) {
	// {"alg":"none","typ":"JWT"} . {"id":"123","exp":9999999999}
	unsigned := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJpZCI6IjEyMyIsImV4cCI6OTk5OTk5OTk5OX0."
	var claims SessionClaims
	if err := Verify(unsigned, "s1", &claims); !errors.Is(err, ErrSignature) {
		t.Errorf("expected ErrSignature, got %v", err)
	}
}

func TestClock(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	codec, err := NewCodec("s1", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	signed, err := codec.Sign(&SignInClaims{Email: "a@example.com"}, SignInLifespan)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	now = now.Add(14 * time.Minute)
	if err := codec.Verify(signed, &SignInClaims{}); err != nil {
		t.Fatalf("expected token to be valid at 14 minutes, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := codec.Verify(signed, &SignInClaims{}); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at 16 minutes, got %v", err)
	}
}

func TestSignEmptySecret(t *testing.T) {
	if _, err := Sign(&SessionClaims{ID: "1"}, "", time.Hour); !errors.Is(err, ErrInvalidSecret) {
		t.Errorf("expected ErrInvalidSecret, got %v", err)
	}
}
