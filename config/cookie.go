package config

import (
	"net/http"
	"time"
)

// CookieOptions describe the session cookie policy.
// A nil field is unset and does not override the value it is merged over.
type CookieOptions struct {
	HTTPOnly *bool
	Secure   *bool
	SameSite *http.SameSite
	MaxAge   *int
	Path     *string
	Domain   *string
	Expires  *time.Time
}

// Merge returns o with every set field of over applied on top.
func (o CookieOptions) Merge(over CookieOptions) CookieOptions {
	if over.HTTPOnly != nil {
		o.HTTPOnly = over.HTTPOnly
	}
	if over.Secure != nil {
		o.Secure = over.Secure
	}
	if over.SameSite != nil {
		o.SameSite = over.SameSite
	}
	if over.MaxAge != nil {
		o.MaxAge = over.MaxAge
	}
	if over.Path != nil {
		o.Path = over.Path
	}
	if over.Domain != nil {
		o.Domain = over.Domain
	}
	if over.Expires != nil {
		o.Expires = over.Expires
	}
	return o
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Domain != nil && *o.Domain == localhost {
		o.Domain = nil
	}
	return o
}

// Cookie builds an http.Cookie carrying value under this policy.
func (o CookieOptions) Cookie(name, value string) *http.Cookie {
	c := &http.Cookie{Name: name, Value: value}
	if o.HTTPOnly != nil {
		c.HttpOnly = *o.HTTPOnly
	}
	if o.Secure != nil {
		c.Secure = *o.Secure
	}
	if o.SameSite != nil {
		c.SameSite = *o.SameSite
	}
	if o.MaxAge != nil {
		c.MaxAge = *o.MaxAge
	}
	if o.Path != nil {
		c.Path = *o.Path
	}
	if o.Domain != nil {
		c.Domain = *o.Domain
	}
	if o.Expires != nil {
		c.Expires = *o.Expires
	}
	return c
}

// ClearCookie builds a cookie that makes the browser drop name immediately.
func (o CookieOptions) ClearCookie(name string) *http.Cookie {
	c := o.Cookie(name, "")
	// net/http renders a negative MaxAge as "Max-Age=0".
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0).UTC()
	return c
}

// ParseSameSite converts "lax", "strict", "none" or "" into an http.SameSite.
func ParseSameSite(s string) (http.SameSite, bool) {
	switch s {
	case "lax", "Lax":
		return http.SameSiteLaxMode, true
	case "strict", "Strict":
		return http.SameSiteStrictMode, true
	case "none", "None":
		return http.SameSiteNoneMode, true
	case "":
		return http.SameSiteDefaultMode, true
	}
	return http.SameSiteDefaultMode, false
}
