package auth

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxActiveSecrets is the size of the verification window: the current
	// secret plus the one it replaced.
	maxActiveSecrets = 2

	// secretBytes is the length of generated signing secrets (512-bit, the
	// HMAC-SHA256 block size).
	secretBytes = 64
)

// Secret is an HMAC signing key and the time it entered the window.
type Secret struct {
	Value     []byte
	CreatedAt time.Time
}

// SecretStore holds the rotating window of signing secrets.
//
// Readers load the current snapshot without locking. Rotation builds a new
// slice and swaps the pointer, so a snapshot is never modified after it has
// been published.
//
// Thread Safety: All methods are safe for concurrent use.
type SecretStore struct {
	window atomic.Pointer[[]Secret]

	// rotateMu serialises writers so two concurrent rotations cannot
	// both build on the same previous snapshot.
	rotateMu sync.Mutex

	random io.Reader
	now    func() time.Time
}

// NewSecretStore creates a store seeded with the externally configured secret.
// The system can sign and verify tokens immediately, before the first rotation.
func NewSecretStore(initial []byte) (*SecretStore, error) {
	if len(initial) == 0 {
		return nil, ErrNoInitialSecret
	}

	value := make([]byte, len(initial))
	copy(value, initial)

	s := &SecretStore{
		random: rand.Reader,
		now:    time.Now,
	}
	window := []Secret{{Value: value, CreatedAt: s.now()}}
	s.window.Store(&window)
	return s, nil
}

// Current returns the newest secret, used to sign new tokens.
func (s *SecretStore) Current() Secret {
	return (*s.window.Load())[0]
}

// Active returns the verification window, newest first, at most two entries.
// The returned slice is a published snapshot and must not be modified.
func (s *SecretStore) Active() []Secret {
	return *s.window.Load()
}

// Rotate generates a new random secret, makes it current and discards
// everything older than the secret it replaces.
//
// If randomness cannot be read the window is left untouched and an error
// wrapping ErrSecretRotation is returned.
func (s *SecretStore) Rotate() error {
	value := make([]byte, secretBytes)
	if _, err := io.ReadFull(s.random, value); err != nil {
		return fmt.Errorf("%w: generating secret: %w", ErrSecretRotation, err)
	}

	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	prev := *s.window.Load()
	keep := min(len(prev), maxActiveSecrets-1)

	next := make([]Secret, 0, maxActiveSecrets)
	next = append(next, Secret{Value: value, CreatedAt: s.now()})
	next = append(next, prev[:keep]...)

	s.window.Store(&next)
	return nil
}
