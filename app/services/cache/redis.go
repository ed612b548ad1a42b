package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store is what cache consumers depend on; the in-process Cache and the
// redis-backed store are interchangeable behind it.
type Store interface {
	Get(key string, typ EntryType) ([]byte, bool)
	Set(key string, typ EntryType, data []byte)
	Invalidate(types ...EntryType)
}

// RedisStore keeps cache entries in a shared redis so they survive
// orchestrator restarts. TTL enforcement is delegated to redis expiry.
type RedisStore struct {
	rdb *redis.Client
	log zerolog.Logger

	mu   sync.RWMutex
	ttls TTLs
}

func NewRedisStore(rdb *redis.Client, ttls TTLs, log zerolog.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, ttls: ttls, log: log.With().Str("component", "cache-redis").Logger()}
}

func (s *RedisStore) SetTTLs(ttls TTLs) {
	s.mu.Lock()
	s.ttls = ttls
	s.mu.Unlock()
}

func (s *RedisStore) ttlFor(typ EntryType) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttls.For(typ)
}

func redisKey(typ EntryType, key string) string {
	return "fleetward:cache:" + string(typ) + ":" + key
}

func (s *RedisStore) Get(key string, typ EntryType) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := s.rdb.Get(ctx, redisKey(typ, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.Warn().Err(err).Msg("redis get failed, treating as miss")
		}
		return nil, false
	}
	return raw, true
}

func (s *RedisStore) Set(key string, typ EntryType, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.rdb.Set(ctx, redisKey(typ, key), data, s.ttlFor(typ)).Err(); err != nil {
		s.log.Warn().Err(err).Msg("redis set failed")
	}
}

func (s *RedisStore) Invalidate(types ...EntryType) {
	if len(types) == 0 {
		types = []EntryType{TypeDeviceStatus, TypeInventory, TypeConfiguration}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, typ := range types {
		iter := s.rdb.Scan(ctx, 0, redisKey(typ, "*"), 100).Iterator()
		for iter.Next(ctx) {
			if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				s.log.Warn().Err(err).Msg("redis del failed")
			}
		}
		if err := iter.Err(); err != nil {
			s.log.Warn().Err(err).Msg("redis scan failed")
		}
	}
}
