package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

// SummaryCache persists the latest position summaries in Redis so read paths
// never block on live chain calls. Each contract kind lives in one hash that
// is replaced wholesale per scan cycle, which also prunes summaries for
// positions no longer owned or tracked.
type SummaryCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewSummaryCache creates a new summary cache
func NewSummaryCache(cache *RedisCache, ttl time.Duration) *SummaryCache {
	return &SummaryCache{cache: cache, ttl: ttl}
}

func summaryHashKey(kind types.ContractKind) string {
	return "summaries:" + string(kind)
}

// ReplaceKind replaces the full summary set of one contract kind. Summaries
// absent from the new set disappear with the old hash.
func (c *SummaryCache) ReplaceKind(ctx context.Context, kind types.ContractKind, summaries []*models.PositionSummary) error {
	key := summaryHashKey(kind)

	fields := make(map[string]interface{}, len(summaries))
	for _, s := range summaries {
		encoded, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to encode summary %s: %w", s.Key(), err)
		}
		fields[s.Key()] = encoded
	}

	pipe := c.cache.Client().TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replace %s summaries: %w", kind, err)
	}
	return nil
}

// List returns the cached summaries of one kind, optionally filtered by user.
// An empty userID returns everything. Results are ordered by cache key for
// stable output.
func (c *SummaryCache) List(ctx context.Context, kind types.ContractKind, userID string) ([]*models.PositionSummary, error) {
	values, err := c.cache.Client().HGetAll(ctx, summaryHashKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s summaries: %w", kind, err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var summaries []*models.PositionSummary
	for _, k := range keys {
		var s models.PositionSummary
		if err := json.Unmarshal([]byte(values[k]), &s); err != nil {
			return nil, fmt.Errorf("failed to decode summary %s: %w", k, err)
		}
		if userID != "" && s.UserID != userID {
			continue
		}
		summaries = append(summaries, &s)
	}
	return summaries, nil
}
