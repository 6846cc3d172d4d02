package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/betslip-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertMarkets(ctx context.Context, markets []model.Market) error {
	if err := s.primary.UpsertMarkets(ctx, markets); err != nil {
		return err
	}
	keys := make([]string, 0, len(markets)+1)
	keys = append(keys, marketsKey)
	for _, m := range markets {
		keys = append(keys, marketKey(m.ID))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

func (s *CachedStore) InsertTransaction(ctx context.Context, rec *model.TransactionRecord) error {
	if err := s.primary.InsertTransaction(ctx, rec); err != nil {
		return err
	}
	s.cacheJSON(ctx, txKey(rec.ID), rec)
	return nil
}

func (s *CachedStore) UpdateTransactionStatus(ctx context.Context, id string, status model.TxStatus, errMsg string) error {
	if err := s.primary.UpdateTransactionStatus(ctx, id, status, errMsg); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, txKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.cached(ctx, marketKey(id), &m) {
		return &m, nil
	}

	// Cache miss: read from primary.
	fetched, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(id), fetched)
	return fetched, nil
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	var markets []model.Market
	if s.cached(ctx, marketsKey, &markets) {
		return markets, nil
	}

	markets, err := s.primary.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketsKey, markets)
	return markets, nil
}

func (s *CachedStore) GetTransaction(ctx context.Context, id string) (*model.TransactionRecord, error) {
	var rec model.TransactionRecord
	if s.cached(ctx, txKey(id), &rec) {
		return &rec, nil
	}

	fetched, err := s.primary.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, txKey(id), fetched)
	return fetched, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTransactionsBySession(ctx context.Context, sessionID string) ([]model.TransactionRecord, error) {
	return s.primary.ListTransactionsBySession(ctx, sessionID)
}

// --- Cache helpers ---

func (s *CachedStore) cached(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const marketsKey = "markets:all"

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func txKey(id string) string     { return fmt.Sprintf("tx:%s", id) }
