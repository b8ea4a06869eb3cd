// Package credential hashes and verifies account passwords. Hashes are PHC
// formatted Argon2id strings; bcrypt hashes from older deployments still
// verify and are reported as needing a rehash.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/labroster/pkg/config"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
	"github.com/noah-isme/labroster/pkg/jobs"
)

const (
	saltLength = 16
	keyLength  = 32
)

// Params are the Argon2id cost parameters.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams follows the OWASP minimum for Argon2id.
func DefaultParams() Params {
	return Params{MemoryKiB: 19456, Iterations: 2, Parallelism: 1}
}

// ParamsFromConfig maps password config onto hashing parameters, keeping
// defaults for unset values.
func ParamsFromConfig(cfg config.PasswordConfig) Params {
	params := DefaultParams()
	if cfg.MemoryKiB > 0 {
		params.MemoryKiB = cfg.MemoryKiB
	}
	if cfg.Iterations > 0 {
		params.Iterations = cfg.Iterations
	}
	if cfg.Parallelism > 0 {
		params.Parallelism = cfg.Parallelism
	}
	return params
}

// Observer receives the duration of every hash computation.
type Observer interface {
	ObservePasswordHash(duration time.Duration)
}

// Hasher computes and checks password hashes on a CPU worker pool.
type Hasher struct {
	params   Params
	pool     *jobs.Pool
	observer Observer
	logger   *zap.Logger
}

// NewHasher constructs a Hasher. With a nil pool the work runs on the
// calling goroutine.
func NewHasher(params Params, pool *jobs.Pool, observer Observer, logger *zap.Logger) *Hasher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hasher{params: params, pool: pool, observer: observer, logger: logger}
}

// Hash derives a new PHC string for password with a fresh salt.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", appErrors.WrapAs(appErrors.ErrHash, err, "")
	}

	var key []byte
	err := h.compute(ctx, func() {
		key = argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, keyLength)
	})
	if err != nil {
		return "", hashFailure(err)
	}

	return encode(h.params, salt, key), nil
}

// Verify checks password against encoded. It returns ErrInvalidHash when the
// stored string cannot be parsed and ErrMismatch when the password is wrong.
func (h *Hasher) Verify(ctx context.Context, password, encoded string) error {
	if isBcrypt(encoded) {
		var err error
		if cErr := h.compute(ctx, func() {
			err = bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		}); cErr != nil {
			return hashFailure(cErr)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return appErrors.ErrMismatch
		default:
			return appErrors.WrapAs(appErrors.ErrInvalidHash, err, "")
		}
	}

	params, salt, want, err := decode(encoded)
	if err != nil {
		return appErrors.WrapAs(appErrors.ErrInvalidHash, err, "")
	}

	var got []byte
	if err := h.compute(ctx, func() {
		got = argon2.IDKey([]byte(password), salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(want)))
	}); err != nil {
		return hashFailure(err)
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return appErrors.ErrMismatch
	}
	return nil
}

// NeedsRehash reports whether encoded was produced by an older algorithm or
// with parameters that differ from the current ones.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	params, _, key, err := decode(encoded)
	if err != nil {
		return true
	}
	return params != h.params || len(key) != keyLength
}

func (h *Hasher) compute(ctx context.Context, fn func()) error {
	start := time.Now()
	defer func() {
		if h.observer != nil {
			h.observer.ObservePasswordHash(time.Since(start))
		}
	}()

	if h.pool == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn()
		return nil
	}
	return h.pool.Do(ctx, func(context.Context) error {
		fn()
		return nil
	})
}

// hashFailure passes caller cancellation through untouched; anything else is
// a hashing failure.
func hashFailure(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return appErrors.WrapAs(appErrors.ErrHash, err, "")
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}

func encode(p Params, salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return Params{}, nil, nil, fmt.Errorf("expected 5 hash segments")
	}
	if parts[1] != "argon2id" {
		return Params{}, nil, nil, fmt.Errorf("unsupported algorithm %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, fmt.Errorf("parse version: %w", err)
	}
	if version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, fmt.Errorf("parse parameters: %w", err)
	}
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return Params{}, nil, nil, fmt.Errorf("zero cost parameter")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, fmt.Errorf("decode salt: %v", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, fmt.Errorf("decode digest: %v", err)
	}
	return p, salt, key, nil
}
