// Package cache provides a Redis-backed response cache for Census API calls.
//
// The Census Data API serves immutable vintages: the 2016 ACS 5-year
// estimates never change once published. Caching responses therefore turns a
// rerun of the ETL into a replay and keeps the request budget for new work.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		Endpoint:    "/2016/acs/acs5",
//		QueryParams: url.Values{"get": {"B01001_001E"}, "for": {"block group:*"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then
//		_ = manager.Set(ctx, key, cache.NewEntry(http.StatusOK, body, resp.Header, 24*time.Hour))
//	}
//
// The API key query parameter is never part of a cache key.
//
// # Metrics
//
//   - census_cache_hits_total - Cache hits
//   - census_cache_misses_total - Cache misses
//   - census_cache_size_bytes - Bytes written to the cache
//   - census_cache_errors_total{operation} - Cache operation errors
package cache
