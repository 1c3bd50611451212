package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"

	"authcore.org/internal/obs"
)

// PasswordParams are the argon2id cost parameters. Memory is in KiB.
type PasswordParams struct {
	Memory      uint32 `yaml:"memory_kib" env:"MEMORY_KIB"`
	Iterations  uint32 `yaml:"iterations" env:"ITERATIONS"`
	Parallelism uint8  `yaml:"parallelism" env:"PARALLELISM"`
	KeyLength   uint32 `yaml:"key_length" env:"KEY_LENGTH"`
}

func DefaultPasswordParams() PasswordParams {
	return PasswordParams{
		Memory:      64 * 1024,
		Iterations:  2,
		Parallelism: 1,
		KeyLength:   32,
	}
}

var errMalformedHash = errors.New("auth: malformed password hash")

// Upper bounds for parameters read back from stored hashes.
const (
	maxHashMemoryKiB  = 1 << 20
	maxHashIterations = 64
)

// usable reports whether argon2 can run with p without panicking and
// without unbounded allocation.
func (p PasswordParams) usable() bool {
	return p.Iterations > 0 && p.Iterations <= maxHashIterations &&
		p.Parallelism > 0 &&
		p.Memory >= 8*uint32(p.Parallelism) && p.Memory <= maxHashMemoryKiB
}

// PasswordHasher derives argon2id hashes salted with the owning account id,
// so one password on two accounts never hashes the same. Concurrent
// derivations are capped; each one holds Memory KiB while it runs.
type PasswordHasher struct {
	params PasswordParams
	slots  *semaphore.Weighted
}

// NewPasswordHasher returns a hasher allowing at most concurrency parallel
// derivations (GOMAXPROCS when concurrency <= 0).
func NewPasswordHasher(params PasswordParams, concurrency int) *PasswordHasher {
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 || params.KeyLength == 0 {
		params = DefaultPasswordParams()
	}
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &PasswordHasher{params: params, slots: semaphore.NewWeighted(int64(concurrency))}
}

// Hash derives the stored form of plaintext for accountID.
func (h *PasswordHasher) Hash(ctx context.Context, accountID uuid.UUID, plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("auth: password is empty")
	}
	key, err := h.derive(ctx, plaintext, accountID[:], h.params)
	if err != nil {
		return "", err
	}
	return encodeHash(h.params, accountID[:], key), nil
}

// Verify recomputes the hash of plaintext for accountID with the parameters
// recorded in encoded and compares in constant time. Malformed input, a hash
// bound to another account and a cancelled ctx all report false.
func (h *PasswordHasher) Verify(ctx context.Context, encoded string, accountID uuid.UUID, plaintext string) bool {
	params, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false
	}
	got, err := h.derive(ctx, plaintext, accountID[:], params)
	if err != nil {
		return false
	}
	saltOK := subtle.ConstantTimeCompare(salt, accountID[:])
	keyOK := subtle.ConstantTimeCompare(got, want)
	return saltOK&keyOK == 1
}

func (h *PasswordHasher) derive(ctx context.Context, plaintext string, salt []byte, p PasswordParams) ([]byte, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.slots.Release(1)

	start := time.Now()
	key := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	obs.ObservePasswordHash(time.Since(start))
	return key, nil
}

func encodeHash(p PasswordParams, salt, key []byte) string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

func decodeHash(encoded string) (PasswordParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return PasswordParams{}, nil, nil, errMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return PasswordParams{}, nil, nil, errMalformedHash
	}
	var p PasswordParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil || !p.usable() {
		return PasswordParams{}, nil, nil, errMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return PasswordParams{}, nil, nil, errMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return PasswordParams{}, nil, nil, errMalformedHash
	}
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
