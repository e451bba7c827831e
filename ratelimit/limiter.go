package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-custody/core"
)

const defaultIdleTTL = 10 * time.Minute

// ThrottledError reports a rejected call together with the wait before the
// key has a token again.
type ThrottledError struct {
	Key        string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: key %q throttled for %s", strings.TrimSpace(e.Key), e.RetryAfter)
}

func (e ThrottledError) Unwrap() error {
	return core.ErrRateLimited
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"key": strings.TrimSpace(e.Key),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.Wrap(e, goerrors.CategoryRateLimit, e.Error()).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.CustodyErrorRateLimited).
		WithMetadata(metadata)
}

// MapLimiter applies a token bucket per key and evicts idle keys every 512
// calls.
type MapLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*entry
	hits  uint64
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns nil when rps or burst is not positive; a nil limiter allows
// everything.
func New(rps float64, burst int, idleTTL time.Duration) *MapLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &MapLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byKey:   make(map[string]*entry),
	}
}

func FromConfig(cfg core.RateLimitConfig) *MapLimiter {
	if !cfg.Enabled() {
		return nil
	}
	return New(cfg.AgentRPS, cfg.AgentBurst, defaultIdleTTL)
}

func (l *MapLimiter) Allow(key string, now time.Time) bool {
	return l.Check(key, now) == nil
}

// Check consumes one token for key or returns a ThrottledError.
func (l *MapLimiter) Check(key string, now time.Time) error {
	if l == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	l.hits++
	if l.hits%512 == 0 {
		l.evictIdle(now)
	}

	if e.limiter.AllowN(now, 1) {
		return nil
	}
	retryAfter := time.Duration(float64(time.Second) / float64(l.limit))
	if tokens := e.limiter.TokensAt(now); tokens > 0 && tokens < 1 {
		retryAfter = time.Duration((1 - tokens) * float64(time.Second) / float64(l.limit))
	}
	return ThrottledError{Key: key, RetryAfter: retryAfter}
}

func (l *MapLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

func (l *MapLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for key, e := range l.byKey {
		if e.lastSeen.Before(cutoff) {
			delete(l.byKey, key)
		}
	}
}

var _ core.AgentLimiter = (*MapLimiter)(nil)
