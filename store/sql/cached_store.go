package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-custody/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const custodyCacheKeyPrefix = "go-custody::state::v1"

// CachedStore serves config and agent reads from a cache in front of another
// core.Store. Entries written by a committed transaction are evicted after
// the commit. Ledgers are always read through.
type CachedStore struct {
	base   core.Store
	cache  repositorycache.CacheService
	logger core.Logger
}

func NewCachedStore(base core.Store, cacheService repositorycache.CacheService) (*CachedStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base custody store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: custody cache service is required")
	}
	return &CachedStore{base: base, cache: cacheService, logger: glog.Nop()}, nil
}

// WithLogger sets the logger that reports failed evictions.
func (s *CachedStore) WithLogger(logger core.Logger) *CachedStore {
	s.logger = glog.Ensure(logger)
	return s
}

// CacheKey returns go-custody::state::v1::<kind>::<address> with the address
// URL-path escaped.
func CacheKey(kind string, address string) string {
	return strings.Join([]string{
		custodyCacheKeyPrefix,
		kind,
		url.PathEscape(strings.TrimSpace(address)),
	}, "::")
}

func (s *CachedStore) GetConfig(ctx context.Context) (core.GlobalConfig, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.GlobalConfig{}, fmt.Errorf("sqlstore: cached custody store is not configured")
	}
	return repositorycache.GetOrFetch(ctx, s.cache, CacheKey("config", "global"), func(ctx context.Context) (core.GlobalConfig, error) {
		return s.base.GetConfig(ctx)
	})
}

func (s *CachedStore) GetLedger(ctx context.Context, address string) (core.Ledger, error) {
	if s == nil || s.base == nil {
		return core.Ledger{}, fmt.Errorf("sqlstore: cached custody store is not configured")
	}
	return s.base.GetLedger(ctx, address)
}

func (s *CachedStore) GetAgent(ctx context.Context, address string) (core.AgentAuthorization, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.AgentAuthorization{}, fmt.Errorf("sqlstore: cached custody store is not configured")
	}
	return repositorycache.GetOrFetch(ctx, s.cache, CacheKey("agent", address), func(ctx context.Context) (core.AgentAuthorization, error) {
		return s.base.GetAgent(ctx, address)
	})
}

func (s *CachedStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx core.StoreTx) error) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached custody store is not configured")
	}
	var evict []string
	err := s.base.WithinTx(ctx, func(ctx context.Context, tx core.StoreTx) error {
		evict = evict[:0]
		return fn(ctx, &evictingTx{StoreTx: tx, evict: &evict})
	})
	if err != nil {
		return err
	}
	// The write is committed at this point; a stale entry expires with its TTL.
	for _, key := range evict {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn("custody cache eviction failed", "key", key, "error", err)
		}
	}
	return nil
}

type evictingTx struct {
	core.StoreTx
	evict *[]string
}

func (t *evictingTx) CreateConfig(ctx context.Context, cfg core.GlobalConfig) error {
	if err := t.StoreTx.CreateConfig(ctx, cfg); err != nil {
		return err
	}
	*t.evict = append(*t.evict, CacheKey("config", "global"))
	return nil
}

func (t *evictingTx) SaveAgent(ctx context.Context, agent core.AgentAuthorization) error {
	if err := t.StoreTx.SaveAgent(ctx, agent); err != nil {
		return err
	}
	*t.evict = append(*t.evict, CacheKey("agent", agent.Address))
	return nil
}
