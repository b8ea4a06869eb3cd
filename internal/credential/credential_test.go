package credential

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/labroster/pkg/config"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
	"github.com/noah-isme/labroster/pkg/jobs"
)

// Cheap parameters keep the suite fast; production uses DefaultParams.
var testParams = Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1}

type countingObserver struct {
	mu    sync.Mutex
	calls int
}

func (o *countingObserver) ObservePasswordHash(time.Duration) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
}

func newPooledHasher(t *testing.T, observer Observer) *Hasher {
	t.Helper()
	pool := jobs.NewPool("hash", jobs.PoolConfig{Workers: 2})
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	return NewHasher(testParams, pool, observer, nil)
}

func TestHashAndVerify(t *testing.T) {
	observer := &countingObserver{}
	h := newPooledHasher(t, observer)
	ctx := context.Background()

	hash, err := h.Hash(ctx, "correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=64,t=1,p=1$"))

	assert.NoError(t, h.Verify(ctx, "correct horse", hash))
	assert.ErrorIs(t, h.Verify(ctx, "battery staple", hash), appErrors.ErrMismatch)
	assert.Equal(t, 3, observer.calls)
}

func TestHashUsesFreshSalt(t *testing.T) {
	h := NewHasher(testParams, nil, nil, nil)
	first, err := h.Hash(context.Background(), "same")
	require.NoError(t, err)
	second, err := h.Hash(context.Background(), "same")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := NewHasher(testParams, nil, nil, nil)
	cases := []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=64,t=1,p=1$c2FsdA$ZGlnZXN0",
		"$argon2id$v=16$m=64,t=1,p=1$c2FsdA$ZGlnZXN0",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$ZGlnZXN0",
		"$argon2id$v=19$m=64,t=1,p=1$!!!$ZGlnZXN0",
		"$argon2id$v=19$m=64,t=1,p=1$c2FsdA$",
	}
	for _, encoded := range cases {
		err := h.Verify(context.Background(), "pw", encoded)
		assert.ErrorIs(t, err, appErrors.ErrInvalidHash, encoded)
	}
}

func TestVerifyLegacyBcrypt(t *testing.T) {
	h := NewHasher(testParams, nil, nil, nil)
	legacy, err := bcrypt.GenerateFromPassword([]byte("old secret"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.NoError(t, h.Verify(context.Background(), "old secret", string(legacy)))
	assert.ErrorIs(t, h.Verify(context.Background(), "nope", string(legacy)), appErrors.ErrMismatch)
	assert.True(t, h.NeedsRehash(string(legacy)))
}

func TestNeedsRehash(t *testing.T) {
	h := NewHasher(testParams, nil, nil, nil)
	current, err := h.Hash(context.Background(), "pw")
	require.NoError(t, err)
	assert.False(t, h.NeedsRehash(current))

	stronger := NewHasher(Params{MemoryKiB: 128, Iterations: 1, Parallelism: 1}, nil, nil, nil)
	assert.True(t, stronger.NeedsRehash(current))
	assert.True(t, h.NeedsRehash("garbage"))
}

func TestHashHonoursCancelledContext(t *testing.T) {
	h := newPooledHasher(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Hash(ctx, "pw")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, appErrors.ErrHash)
}

func TestVerifyReportsDeadlineAsIs(t *testing.T) {
	h := newPooledHasher(t, nil)
	encoded, err := h.Hash(context.Background(), "pw")
	require.NoError(t, err)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err = h.Verify(ctx, "pw", encoded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, appErrors.ErrHash)
	assert.NotErrorIs(t, err, appErrors.ErrMismatch)
}

func TestHashFailureWrapsOtherErrors(t *testing.T) {
	err := hashFailure(jobs.ErrPoolStopped)
	assert.ErrorIs(t, err, appErrors.ErrHash)
	assert.ErrorIs(t, err, jobs.ErrPoolStopped)
}

func TestParamsFromConfig(t *testing.T) {
	assert.Equal(t, DefaultParams(), ParamsFromConfig(config.PasswordConfig{}))
	assert.Equal(t, Params{MemoryKiB: 65536, Iterations: 3, Parallelism: 2},
		ParamsFromConfig(config.PasswordConfig{MemoryKiB: 65536, Iterations: 3, Parallelism: 2}))
}
