package api

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session holds the server access token. Tokens are JWTs; the client cannot
// verify the server signature, but it reads the expiry claim so an expired
// session fails fast as InvalidSession instead of burning a round trip.
type Session struct {
	mu    sync.Mutex
	token string
	now   func() time.Time
}

func NewSession() *Session {
	return &Session{now: time.Now}
}

func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Clear drops the token, as on sign-out.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// Expired reports whether the token carries an exp claim in the past. A
// missing or unparsable token is not considered expired; the server stays
// authoritative for those.
func (s *Session) Expired() bool {
	s.mu.Lock()
	token := s.token
	now := s.now()
	s.mu.Unlock()

	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
