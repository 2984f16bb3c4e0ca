package registry

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/encodefleet/encodefleet/internal/models"
)

// PairingTokenLength is the exact length of an agent pairing token.
const PairingTokenLength = 25

// Settings holds runtime-mutable controller settings: the set of accepted
// pairing tokens and the public base URL advertised in lease payloads.
type Settings struct {
	mu            sync.RWMutex
	tokens        map[string]struct{}
	publicBaseURL string
}

// NewSettings creates settings seeded with the given tokens and base URL.
// Seed tokens of the wrong length are dropped silently.
func NewSettings(tokens []string, publicBaseURL string) *Settings {
	s := &Settings{tokens: make(map[string]struct{})}
	for _, t := range tokens {
		if len(t) == PairingTokenLength {
			s.tokens[t] = struct{}{}
		}
	}
	s.publicBaseURL = strings.TrimRight(publicBaseURL, "/")
	return s
}

// AddToken admits a new pairing token. Tokens must be exactly
// PairingTokenLength characters.
func (s *Settings) AddToken(token string) error {
	if len(token) != PairingTokenLength {
		return fmt.Errorf("%w: want %d characters, got %d", models.ErrInvalidToken, PairingTokenLength, len(token))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = struct{}{}
	return nil
}

// HasToken reports whether a pairing token is accepted.
func (s *Settings) HasToken(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[token]
	return ok
}

// TokenCount returns the number of accepted pairing tokens.
func (s *Settings) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// PublicBaseURL returns the advertised base URL without a trailing slash.
func (s *Settings) PublicBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publicBaseURL
}

// SetPublicBaseURL validates and stores the advertised base URL. Only
// absolute http and https URLs are accepted.
func (s *Settings) SetPublicBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", models.ErrInvalidBaseURL, raw)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publicBaseURL = strings.TrimRight(raw, "/")
	return nil
}
