package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/atmx/betslip-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[string]model.Market
	txs     map[string]*model.TransactionRecord
	txOrder []string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]model.Market),
		txs:     make(map[string]*model.TransactionRecord),
	}
}

func (s *MemoryStore) UpsertMarkets(_ context.Context, markets []model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range markets {
		s.markets[m.ID] = m
	}
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return &m, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].Round != markets[j].Round {
			return markets[i].Round < markets[j].Round
		}
		return lessID(markets[i].ID, markets[j].ID)
	})
	return markets, nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, rec *model.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[rec.ID]; ok {
		return fmt.Errorf("transaction %s already exists", rec.ID)
	}

	// Store a copy to avoid external mutation.
	copy := cloneTransaction(rec)
	s.txs[rec.ID] = &copy
	s.txOrder = append(s.txOrder, rec.ID)
	return nil
}

func (s *MemoryStore) UpdateTransactionStatus(_ context.Context, id string, status model.TxStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	rec.Status = status
	rec.Error = errMsg
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	copy := cloneTransaction(rec)
	return &copy, nil
}

func (s *MemoryStore) ListTransactionsBySession(_ context.Context, sessionID string) ([]model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TransactionRecord
	for _, id := range s.txOrder {
		if rec := s.txs[id]; rec.SessionID == sessionID {
			result = append(result, cloneTransaction(rec))
		}
	}
	return result, nil
}

func cloneTransaction(rec *model.TransactionRecord) model.TransactionRecord {
	c := *rec
	c.Inputs = append([]string(nil), rec.Inputs...)
	return c
}

// lessID orders numeric market IDs numerically and falls back to string
// order otherwise.
func lessID(a, b string) bool {
	ai, errA := strconv.ParseUint(a, 10, 64)
	bi, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}
