package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

// Password length bounds, counted in runes. The upper bound caps the
// work an attacker can make a single login attempt cost.
const (
	MinPasswordLength = 10
	MaxPasswordLength = 256
)

const (
	phcAlgorithm = "argon2id"
	saltLength   = 16
	keyLength    = 32
)

// errMalformedHash is returned for stored hashes that cannot be parsed.
var errMalformedHash = errors.New("malformed password hash")

// argonParams are the Argon2id cost parameters recorded in each hash.
type argonParams struct {
	memory  uint32 // KiB
	time    uint32
	threads uint8
}

// hashParams are used for every new hash. Stored hashes keep the
// parameters they were created with.
var hashParams = argonParams{memory: 64 * 1024, time: 3, threads: 1}

func (p argonParams) key(password string, salt []byte, length uint32) []byte {
	return argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, length)
}

// ValidatePassword checks a new password against the length policy.
func ValidatePassword(password string) error {
	switch n := utf8.RuneCountInString(password); {
	case n < MinPasswordLength:
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	case n > MaxPasswordLength:
		return fmt.Errorf("%w: must be at most %d characters", ErrWeakPassword, MaxPasswordLength)
	}
	return nil
}

// HashPassword returns an Argon2id hash of password in PHC string form,
// e.g. $argon2id$v=19$m=65536,t=3,p=1$<salt>$<key>.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := hashParams.key(password, salt, keyLength)

	var b strings.Builder
	fmt.Fprintf(&b, "$%s$v=%d$m=%d,t=%d,p=%d$", phcAlgorithm, argon2.Version,
		hashParams.memory, hashParams.time, hashParams.threads)
	b.WriteString(base64.RawStdEncoding.EncodeToString(salt))
	b.WriteByte('$')
	b.WriteString(base64.RawStdEncoding.EncodeToString(key))
	return b.String(), nil
}

// VerifyPassword reports whether password matches the stored hash. An
// error means the hash itself is unusable, not that the password is wrong.
func VerifyPassword(password, encodedHash string) (bool, error) {
	params, salt, key, err := parseHash(encodedHash)
	if err != nil {
		return false, err
	}
	candidate := params.key(password, salt, uint32(len(key))) //nolint:gosec // key length is tiny
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

// parseHash splits a PHC string into its parameters, salt and key.
func parseHash(encoded string) (argonParams, []byte, []byte, error) {
	var params argonParams

	// Leading "$" yields an empty first field.
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" { //nolint:mnd // "", alg, version, params, salt, key
		return params, nil, nil, errMalformedHash
	}
	if fields[1] != phcAlgorithm {
		return params, nil, nil, fmt.Errorf("%w: algorithm %q", errMalformedHash, fields[1])
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, fmt.Errorf("%w: version %q", errMalformedHash, fields[2])
	}
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return params, nil, nil, fmt.Errorf("%w: parameters: %w", errMalformedHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: salt: %w", errMalformedHash, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, fmt.Errorf("%w: key", errMalformedHash)
	}
	return params, salt, key, nil
}

// decoyHash is a hash of a random password nobody knows, created on first use.
var decoyHash = sync.OnceValue(func() string {
	h, err := HashPassword(rand.Text())
	if err != nil {
		return ""
	}
	return h
})

// SimulatePasswordCheck spends the same Argon2 work as VerifyPassword does
// for a real account. Login calls it for unknown or unregistered emails so
// response time does not reveal which accounts exist.
func SimulatePasswordCheck(password string) {
	_, _ = VerifyPassword(password, decoyHash()) //nolint:errcheck // result is discarded
}
