package schemas

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// AnonymousPrincipal marks a session captured without credentials.
const AnonymousPrincipal = "anonymous"

// SessionKey identifies a logical session: the normalized origin of the
// application under test plus the authenticating principal. Two captures with
// the same key overwrite each other.
type SessionKey struct {
	Origin    string `json:"origin"`
	Principal string `json:"principal"`
}

// NewSessionKey normalizes a target URL down to scheme+host and pairs it with
// the principal. An empty principal becomes the anonymous marker.
func NewSessionKey(target, principal string) (SessionKey, error) {
	u, err := url.Parse(target)
	if err != nil {
		return SessionKey{}, fmt.Errorf("invalid target URL %q: %w", target, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return SessionKey{}, fmt.Errorf("target URL %q has no scheme or host", target)
	}
	if principal == "" {
		principal = AnonymousPrincipal
	}
	return SessionKey{
		Origin:    strings.ToLower(u.Scheme + "://" + u.Host),
		Principal: principal,
	}, nil
}

// Validate checks the key is usable as a store index.
func (k SessionKey) Validate() error {
	if k.Origin == "" {
		return fmt.Errorf("session key has empty origin")
	}
	if !strings.Contains(k.Origin, "://") {
		return fmt.Errorf("session key origin %q is not scheme://host", k.Origin)
	}
	if k.Principal == "" {
		return fmt.Errorf("session key has empty principal")
	}
	return nil
}

func (k SessionKey) String() string {
	return k.Origin + "|" + k.Principal
}

// Cookie mirrors the subset of browser cookie attributes that survives a
// capture/inject round trip.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
	SameSite string    `json:"same_site,omitempty"`
}

// SessionRecord is the captured authentication state for one SessionKey.
// Records are created by the capture adapter, read by the injector, and only
// ever mutated (invalidated) through the store.
type SessionRecord struct {
	Key            SessionKey        `json:"key"`
	Cookies        []Cookie          `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage"`
	SessionStorage map[string]string `json:"session_storage"`
	// AuthTokens is a best-effort scrape of recognizable token material from
	// cookies and storage. An empty map is normal.
	AuthTokens map[string]string `json:"auth_tokens"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Valid      bool              `json:"valid"`
}

// Expired reports whether the record is past its expiry at the given instant.
func (r *SessionRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Usable reports whether the record may be served as a cache hit.
func (r *SessionRecord) Usable(now time.Time) bool {
	return r.Valid && !r.Expired(now)
}

// State converts the record back into injectable browser state.
func (r *SessionRecord) State() BrowserState {
	return BrowserState{
		Cookies:        r.Cookies,
		LocalStorage:   r.LocalStorage,
		SessionStorage: r.SessionStorage,
	}
}
