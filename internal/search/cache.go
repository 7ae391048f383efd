package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"bookshelf/catalogservice/internal/domain"
	"bookshelf/catalogservice/internal/metrics"
)

// maxMemoryCacheEntries caps the in-process fallback cache. Entries past
// the cap are evicted oldest-expiry first.
const maxMemoryCacheEntries = 2000

// cacheWriteTimeout bounds the detached cache write so an unresponsive
// Redis cannot leak goroutines.
const cacheWriteTimeout = 2 * time.Second

type cachedResponse struct {
	Result    domain.AggregatedResult `json:"result"`
	ExpiresAt time.Time               `json:"expiresAt"`
}

func defaultContextTTLs() map[domain.SearchContext]time.Duration {
	return map[domain.SearchContext]time.Duration{
		domain.ContextTitle:   24 * time.Hour,
		domain.ContextAuthor:  7 * 24 * time.Hour,
		domain.ContextSubject: 72 * time.Hour,
		domain.ContextISBN:    72 * time.Hour,
	}
}

// buildCacheKey derives a deterministic key from the normalized query.
// Identical queries map to identical keys regardless of arrival order;
// a provider filter keys separately from the unrestricted fan-out.
func buildCacheKey(query domain.SearchQuery) string {
	key := fmt.Sprintf("%s:%s:%d:%d", query.Context, query.Text, query.MaxResults, query.Page)
	if len(query.Providers) == 0 {
		return key
	}
	names := make([]string, 0, len(query.Providers))
	for _, raw := range query.Providers {
		if name := normalizeProviderName(raw); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return key + ":" + strings.Join(names, ",")
}

func (s *Service) ttlFor(context domain.SearchContext) time.Duration {
	if ttl, ok := s.ttls[context]; ok && ttl > 0 {
		return ttl
	}
	return 24 * time.Hour
}

// cacheLookup consults Redis first and falls back to the in-process map.
// Expired entries count as misses and are dropped in place.
func (s *Service) cacheLookup(ctx context.Context, key string, queryContext domain.SearchContext, now time.Time) (domain.AggregatedResult, bool) {
	if s.redisCache != nil {
		var entry cachedResponse
		found, err := s.redisCache.Get(ctx, key, &entry)
		if err != nil {
			s.logger.Debug("redis cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		} else if found {
			if now.Before(entry.ExpiresAt) {
				metrics.CacheHitsTotal.WithLabelValues(string(queryContext)).Inc()
				return entry.Result, true
			}
			_ = s.redisCache.Delete(ctx, key)
		}
	}

	s.cacheMu.RLock()
	entry, ok := s.cache[key]
	s.cacheMu.RUnlock()
	if ok && now.Before(entry.ExpiresAt) {
		metrics.CacheHitsTotal.WithLabelValues(string(queryContext)).Inc()
		return entry.Result, true
	}
	if ok {
		s.cacheMu.Lock()
		delete(s.cache, key)
		s.cacheMu.Unlock()
	}

	metrics.CacheMissesTotal.WithLabelValues(string(queryContext)).Inc()
	return domain.AggregatedResult{}, false
}

// cacheStoreAsync persists a successful aggregation without blocking the
// response path. Write failures are logged and otherwise ignored.
func (s *Service) cacheStoreAsync(key string, queryContext domain.SearchContext, result domain.AggregatedResult) {
	ttl := s.ttlFor(queryContext)
	entry := &cachedResponse{
		Result:    result,
		ExpiresAt: time.Now().Add(ttl),
	}

	s.cacheMu.Lock()
	s.cache[key] = entry
	s.trimCacheLocked()
	s.cacheMu.Unlock()

	if s.redisCache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		if err := s.redisCache.Set(ctx, key, entry, ttl); err != nil {
			s.logger.Debug("redis cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}()
}

// trimCacheLocked evicts the entries closest to expiry once the map grows
// past the cap. Caller holds cacheMu.
func (s *Service) trimCacheLocked() {
	overflow := len(s.cache) - maxMemoryCacheEntries
	for ; overflow > 0; overflow-- {
		oldestKey := ""
		var oldestExpiry time.Time
		for key, entry := range s.cache {
			if oldestKey == "" || entry.ExpiresAt.Before(oldestExpiry) {
				oldestKey = key
				oldestExpiry = entry.ExpiresAt
			}
		}
		delete(s.cache, oldestKey)
	}
}
