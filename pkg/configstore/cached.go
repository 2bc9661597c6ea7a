package configstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/observability/metrics"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

// Cache is the byte cache behind CachedStore.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CachedStore serves latest-version and explicit-version loads from a cache. Versions
// are immutable so they are cached until evicted; the latest-version entry of an address
// is dropped whenever a new version is saved. Cache failures fall through to the store.
//
// A latest-version load only writes back if no save of the same address happened while
// it was reading, so a slow reader cannot restore an entry a save just dropped.
type CachedStore struct {
	Store
	cache Cache
	ttl   time.Duration

	mu          sync.Mutex
	generations map[string]uint64
}

func NewCachedStore(store Store, cache Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: store, cache: cache, ttl: ttl, generations: map[string]uint64{}}
}

func (s *CachedStore) Save(ctx context.Context, cfg *vendorconfig.VendorConfiguration) (string, error) {
	ref, err := s.Store.Save(ctx, cfg)
	if err != nil {
		return "", err
	}
	s.invalidate(ctx, cfg.Address)
	return ref, nil
}

func (s *CachedStore) SaveAs(ctx context.Context, cfg *vendorconfig.VendorConfiguration, name string) (string, *vendorconfig.VendorConfiguration, error) {
	ref, saved, err := s.Store.SaveAs(ctx, cfg, name)
	if err != nil {
		return "", nil, err
	}
	s.invalidate(ctx, cfg.Address)
	return ref, saved, nil
}

func (s *CachedStore) Load(ctx context.Context, ref string) (*vendorconfig.VendorConfiguration, error) {
	parsed, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}
	switch {
	case parsed.Version > 0:
		return s.LoadVersion(ctx, parsed.Address, parsed.Version)
	case parsed.Address.IsZero():
		return s.Store.Load(ctx, ref)
	}
	key := latestKey(parsed.Address)
	s.mu.Lock()
	gen := s.generations[key]
	s.mu.Unlock()
	return s.cached(ctx, key, func() (*vendorconfig.VendorConfiguration, error) {
		return s.Store.Load(ctx, ref)
	}, func(encoded []byte) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generations[key] != gen {
			return nil
		}
		return s.cache.Set(ctx, key, encoded, s.ttl)
	})
}

func (s *CachedStore) LoadVersion(ctx context.Context, addr vendorconfig.Address, version int) (*vendorconfig.VendorConfiguration, error) {
	key := versionKey(addr, version)
	return s.cached(ctx, key, func() (*vendorconfig.VendorConfiguration, error) {
		return s.Store.LoadVersion(ctx, addr, version)
	}, func(encoded []byte) error {
		return s.cache.Set(ctx, key, encoded, 0)
	})
}

func (s *CachedStore) cached(ctx context.Context, key string, load func() (*vendorconfig.VendorConfiguration, error), store func([]byte) error) (*vendorconfig.VendorConfiguration, error) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Log.WithError(err).WithField("key", key).Warn("Configuration cache read failed")
	}
	if ok {
		cfg, err := vendorconfig.Unmarshal(data)
		if err == nil {
			metrics.ObserveCache(true)
			return cfg, nil
		}
		logger.Log.WithError(err).WithField("key", key).Warn("Discarding unreadable cache entry")
	}
	metrics.ObserveCache(false)

	cfg, err := load()
	if err != nil {
		return nil, err
	}
	encoded, err := vendorconfig.Marshal(cfg)
	if err != nil {
		return cfg, nil
	}
	if err := store(encoded); err != nil {
		logger.Log.WithError(err).WithField("key", key).Warn("Configuration cache write failed")
	}
	return cfg, nil
}

func (s *CachedStore) invalidate(ctx context.Context, addr vendorconfig.Address) {
	key := latestKey(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[key]++
	if err := s.cache.Delete(ctx, key); err != nil {
		logger.Log.WithError(err).WithField("address", addr.String()).Warn("Configuration cache invalidation failed")
	}
}

func latestKey(addr vendorconfig.Address) string {
	return "vendorshape:config:latest:" + addr.String()
}

func versionKey(addr vendorconfig.Address, version int) string {
	return "vendorshape:config:version:" + VersionRef(addr, version)
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
