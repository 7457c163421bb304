package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sternrassler/census-etl/internal/config"
	"github.com/Sternrassler/census-etl/pkg/census"
	"github.com/Sternrassler/census-etl/pkg/client"
	"github.com/Sternrassler/census-etl/pkg/sink"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// newClient builds the API client. When Redis is configured it is pinged
// and handed to the client for caching and the shared pause window.
func newClient(ctx context.Context, cfg *config.Config) (*client.Client, *redis.Client, error) {
	ccfg := client.DefaultConfig(cfg.Census.APIKey)
	ccfg.BaseURL = cfg.Census.BaseURL
	ccfg.UserAgent = cfg.Census.UserAgent
	ccfg.Timeout = cfg.Census.Timeout
	ccfg.RateLimit = cfg.ClientRateLimit()
	ccfg.Retry = cfg.ClientRetry()

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		ccfg.Redis = rdb
		ccfg.CacheTTL = cfg.Redis.CacheTTL
	}

	api, err := client.New(ccfg)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, nil, err
	}
	return api, rdb, nil
}

// openSink opens the configured sink. The returned close function releases
// the sink and any connection pool behind it.
func openSink(ctx context.Context, cfg *config.Config, runID uuid.UUID) (sink.Sink, func(), error) {
	kind, err := sink.ParseKind(cfg.Output.Sink)
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case sink.KindMemory:
		out := sink.NewMemorySink()
		return out, func() { out.Close() }, nil

	case sink.KindCSV:
		out, err := sink.NewCSVSink(cfg.Output.Dir)
		if err != nil {
			return nil, nil, err
		}
		return out, func() { out.Close() }, nil

	case sink.KindPostgres:
		pool, err := sink.OpenPostgres(ctx, sink.PostgresConfig{
			URL:      cfg.Output.DatabaseURL,
			MaxConns: int32(cfg.Output.MaxConns),
		})
		if err != nil {
			return nil, nil, err
		}
		out, err := sink.NewPostgresSink(ctx, pool, runID, cfg.Dataset())
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return out, func() {
			out.Close()
			pool.Close()
		}, nil

	default:
		return sink.DiscardSink{}, func() {}, nil
	}
}

// selectGroups returns the requested groups, or every group of the catalog
// when none are requested. Unknown groups are an error.
func selectGroups(cat *census.Catalog, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return cat.Groups(), nil
	}

	seen := make(map[string]bool, len(requested))
	groups := make([]string, 0, len(requested))
	var unknown []string
	for _, g := range requested {
		g = strings.ToUpper(strings.TrimSpace(g))
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		if _, ok := cat.GroupInfo(g); !ok {
			unknown = append(unknown, g)
			continue
		}
		groups = append(groups, g)
	}

	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown groups: %s", strings.Join(unknown, ", "))
	}
	return groups, nil
}
