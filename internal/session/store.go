package session

import (
	"context"
	"time"
)

// DefaultTTL is how long a session lives after its cookie is first issued.
const DefaultTTL = 30 * 24 * time.Hour

// Session is the per-visitor server-side state. Handlers mutate it only
// through its methods so the middleware knows whether to persist it.
type Session struct {
	ID           string    `json:"id"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	NextURI      string    `json:"next_uri,omitempty"`
	OAuthState   string    `json:"oauth_state,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`

	isNew    bool
	modified bool
}

// New returns an empty session whose expiry is fixed at now+ttl.
func New(id string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		isNew:     true,
	}
}

// HasTokenPair reports whether both tokens are present. An access token
// without a refresh token never counts as authenticated.
func (s *Session) HasTokenPair() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != ""
}

// SetTokens stores a token pair. An empty refresh token leaves the current
// one in place, since not every provider rotates it.
func (s *Session) SetTokens(accessToken, refreshToken string) {
	s.AccessToken = accessToken
	if refreshToken != "" {
		s.RefreshToken = refreshToken
	}
	s.modified = true
}

func (s *Session) SetNextURI(uri string) {
	s.NextURI = uri
	s.modified = true
}

// TakeNextURI returns the pending destination and clears it.
func (s *Session) TakeNextURI() string {
	uri := s.NextURI
	if uri != "" {
		s.NextURI = ""
		s.modified = true
	}
	return uri
}

func (s *Session) SetState(state string) {
	s.OAuthState = state
	s.modified = true
}

// TakeState returns the pending OAuth state and clears it.
func (s *Session) TakeState() string {
	state := s.OAuthState
	if state != "" {
		s.OAuthState = ""
		s.modified = true
	}
	return state
}

func (s *Session) SetUserID(id string) {
	s.UserID = id
	s.modified = true
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsNew reports whether the session was created during this request.
func (s *Session) IsNew() bool {
	return s.isNew
}

func (s *Session) Modified() bool {
	return s.modified
}

func (s *Session) markClean() {
	s.isNew = false
	s.modified = false
}

// Store defines how sessions are stored and retrieved.
// Get returns (nil, nil) when the session does not exist or has expired.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, sessionID string) error
}
