// Package pairingcode holds short-lived numeric pairing codes in memory.
//
// Codes are six digits, live for five minutes and are consumed exactly once.
// Nothing is persisted: a restart invalidates every outstanding code.
package pairingcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
)

const (
	// TTL is how long a generated code stays valid.
	TTL = 5 * time.Minute

	// SweepInterval is how often Run removes expired codes.
	SweepInterval = 60 * time.Second

	codeDigits          = 6
	maxGenerateAttempts = 10
)

var codeSpace = big.NewInt(1_000_000)

// ErrGenerationExhausted is returned when no free code was found.
var ErrGenerationExhausted = errors.New("pairing code generation exhausted")

// Code is an outstanding pairing code.
type Code struct {
	Code      string    `json:"code"`
	Role      auth.Role `json:"role"`
	CreatedBy string    `json:"created_by,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TTLRemaining returns how long the code stays valid from now.
func (c Code) TTLRemaining(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Store is the in-memory pairing code table.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	codes map[string]Code

	now  func() time.Time
	rand func() (int64, error)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		codes: make(map[string]Code),
		now:   time.Now,
		rand:  randomCode,
	}
}

func randomCode() (int64, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

// Generate issues a new code for role. It retries on collision with a live
// code and gives up after a bounded number of attempts.
func (s *Store) Generate(role auth.Role, createdBy string) (Code, error) {
	if !role.Valid() {
		return Code{}, fmt.Errorf("%w: %q", auth.ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		n, err := s.rand()
		if err != nil {
			return Code{}, fmt.Errorf("generating pairing code: %w", err)
		}
		code := fmt.Sprintf("%0*d", codeDigits, n)

		if existing, ok := s.codes[code]; ok && now.Before(existing.ExpiresAt) {
			continue
		}

		c := Code{Code: code, Role: role, CreatedBy: createdBy, ExpiresAt: now.Add(TTL)}
		s.codes[code] = c
		return c, nil
	}
	return Code{}, ErrGenerationExhausted
}

// Consume redeems code once. A second Consume of the same code fails.
func (s *Store) Consume(code string) (auth.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.lookupLocked(code)
	if !ok {
		return "", false
	}
	delete(s.codes, code)
	return c.Role, true
}

// Validate checks code without consuming it.
func (s *Store) Validate(code string) (auth.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.lookupLocked(code)
	if !ok {
		return "", false
	}
	return c.Role, true
}

// lookupLocked returns the live entry for code, dropping it if expired.
func (s *Store) lookupLocked(code string) (Code, bool) {
	c, ok := s.codes[code]
	if !ok {
		return Code{}, false
	}
	if !s.now().Before(c.ExpiresAt) {
		delete(s.codes, code)
		return Code{}, false
	}
	return c, true
}

// Sweep removes every expired code and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for code, c := range s.codes {
		if !now.Before(c.ExpiresAt) {
			delete(s.codes, code)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored codes, including expired ones not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// Run sweeps expired codes every SweepInterval until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	s.run(ctx, SweepInterval)
}

func (s *Store) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
