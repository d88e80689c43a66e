package lti

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Token kinds held by the store.
const (
	TokenKindState = "state"
	TokenKindNonce = "nonce"
)

// ErrTokenNotFound is returned for tokens that are missing, already redeemed,
// or expired. The three cases are deliberately indistinguishable so a caller
// probing the store learns nothing about which tokens ever existed.
var ErrTokenNotFound = errors.New("lti: token not found")

// PendingLogin is the payload bound to a state token at login initiation.
type PendingLogin struct {
	Issuer        string
	TargetLinkURI string
	ClientID      string
}

// TokenStore holds short-lived single-use state/nonce values. Implementations
// must be safe under concurrent issue/redeem: two concurrent redemptions of
// the same token must not both succeed.
type TokenStore interface {
	// Issue mints a random URL-safe token of the given kind and stores it
	// with the payload (nil for nonces) until ttl elapses.
	Issue(kind string, payload *PendingLogin, ttl time.Duration) (string, error)
	// Redeem deletes the token on first attempt regardless of outcome and
	// returns its payload, or ErrTokenNotFound.
	Redeem(kind, token string) (*PendingLogin, error)
}

type storeEntry struct {
	payload *PendingLogin
	expires time.Time
}

// MemoryTokenStore is a process-local TokenStore. The zero value is ready to
// use. It purges expired entries opportunistically on writes; redemption
// re-checks expiry itself, so the purge schedule does not affect correctness.
type MemoryTokenStore struct {
	mu      sync.Mutex
	entries map[string]storeEntry

	issueCount uint64
	purgeN     uint64

	// Now overrides the clock (tests).
	Now func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		entries: make(map[string]storeEntry, 64),
		purgeN:  1024,
	}
}

func (s *MemoryTokenStore) Issue(kind string, payload *PendingLogin, ttl time.Duration) (string, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "", errors.New("lti: token kind required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		s.entries = make(map[string]storeEntry, 64)
	}
	purgeN := s.purgeN
	if purgeN == 0 {
		purgeN = 1024
	}
	s.issueCount++
	if s.issueCount%purgeN == 0 {
		s.purgeLocked(now)
	}
	s.entries[kind+"|"+token] = storeEntry{payload: payload, expires: now.Add(ttl)}
	return token, nil
}

func (s *MemoryTokenStore) Redeem(kind, token string) (*PendingLogin, error) {
	if kind == "" || token == "" {
		return nil, ErrTokenNotFound
	}
	k := kind + "|" + token
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if ok {
		delete(s.entries, k)
	}
	if !ok || now.After(e.expires) {
		return nil, ErrTokenNotFound
	}
	return e.payload, nil
}

// StartSweep runs a background purge of expired entries until stop is closed.
func (s *MemoryTokenStore) StartSweep(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.purgeLocked(s.now())
				s.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (s *MemoryTokenStore) purgeLocked(now time.Time) {
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryTokenStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// randomToken returns 32 bytes of entropy, base64url without padding.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("lti: token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
