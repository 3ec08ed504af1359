package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
	"github.com/next-trace/scg-tenant-bus/contract/stream"
)

const defaultCacheSize = 1024

// Store loads and persists tenant contexts over a KV backend with a bounded
// in-memory LRU cache. Tenants are never "not found": a first reference
// constructs, persists, and returns the default context.
type Store struct {
	kv     stream.KV
	cache  *lru.Cache[string, Context]
	logger *slog.Logger
}

// NewStore creates a Store. cacheSize <= 0 selects the default bound.
func NewStore(kv stream.KV, cacheSize int, logger *slog.Logger) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	c, err := lru.New[string, Context](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("tenant store cache: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Store{kv: kv, cache: c, logger: logger}, nil
}

// GetContext returns the tenant's policy: cache first, then KV, then a
// persisted default.
func (s *Store) GetContext(ctx context.Context, tenantID string) (Context, error) {
	if tc, ok := s.cache.Get(tenantID); ok {
		return tc, nil
	}

	data, ok, err := s.kv.Get(ctx, stream.TenantContextKey(tenantID))
	if err != nil {
		return Context{}, fmt.Errorf("load tenant context %s: %w", tenantID, errors.Join(berr.ErrStoreUnavailable, err))
	}

	if ok {
		tc, uerr := unmarshalContext(data)
		if uerr != nil {
			return Context{}, uerr
		}

		s.cache.Add(tenantID, tc)

		return tc, nil
	}

	tc := DefaultContext(tenantID)
	if err := s.StoreContext(ctx, tc); err != nil {
		return Context{}, err
	}

	s.logger.Info("created default tenant context", "tenant_id", tenantID)

	return tc, nil
}

// StoreContext persists the context and updates the cache.
func (s *Store) StoreContext(ctx context.Context, tc Context) error {
	if tc.TenantID == "" {
		return fmt.Errorf("store tenant context: empty tenant id: %w", berr.ErrTenantMismatch)
	}

	data, err := marshalContext(tc)
	if err != nil {
		return err
	}

	if err := s.kv.Set(ctx, stream.TenantContextKey(tc.TenantID), data, 0); err != nil {
		return fmt.Errorf("persist tenant context %s: %w", tc.TenantID, errors.Join(berr.ErrStoreUnavailable, err))
	}

	s.cache.Add(tc.TenantID, tc)

	return nil
}

// ClearCache drops the in-memory cache, forcing a reload from storage on the
// next access. Used by tests and operational tooling.
func (s *Store) ClearCache() {
	s.cache.Purge()
}
