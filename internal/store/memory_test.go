package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/betslip-engine/internal/model"
)

func market(id string, round int) model.Market {
	return model.Market{
		ID:       id,
		HomeTeam: "Home " + id,
		AwayTeam: "Away " + id,
		Odds: model.Odds{
			Home: decimal.RequireFromString("1.95"),
			Draw: decimal.RequireFromString("3.40"),
			Away: decimal.RequireFromString("2.20"),
		},
		Round: round,
	}
}

func TestMemoryStore_ListMarketsOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpsertMarkets(ctx, []model.Market{market("10", 1), market("2", 1), market("1", 2)}))

	got, err := s.ListMarkets(ctx)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"2", "10", "1"}, ids)
}

func TestMemoryStore_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	m := market("1", 1)
	require.NoError(t, s.UpsertMarkets(ctx, []model.Market{m}))
	m.Odds.Home = decimal.RequireFromString("2.05")
	require.NoError(t, s.UpsertMarkets(ctx, []model.Market{m}))

	got, err := s.GetMarket(ctx, "1")
	require.NoError(t, err)
	assert.True(t, got.Odds.Home.Equal(decimal.RequireFromString("2.05")), "home odds = %s", got.Odds.Home)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetMarket(ctx, "404")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetTransaction(ctx, "at1none")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateTransactionStatus(ctx, "at1none", model.TxConfirmed, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TransactionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	rec := &model.TransactionRecord{
		ID:        "at1first",
		SessionID: "alice",
		Operation: "place_multi_bet",
		Status:    model.TxSubmitted,
		Inputs:    []string{"1u8", "1u8"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.InsertTransaction(ctx, rec))
	assert.Error(t, s.InsertTransaction(ctx, rec), "duplicate insert")

	// Mutating the caller's record must not leak into the store.
	rec.Inputs[0] = "9u8"

	require.NoError(t, s.InsertTransaction(ctx, &model.TransactionRecord{ID: "at1other", SessionID: "bob"}))
	require.NoError(t, s.InsertTransaction(ctx, &model.TransactionRecord{ID: "at1second", SessionID: "alice"}))

	require.NoError(t, s.UpdateTransactionStatus(ctx, "at1first", model.TxTimedOut, "no confirmation"))

	got, err := s.GetTransaction(ctx, "at1first")
	require.NoError(t, err)
	assert.Equal(t, model.TxTimedOut, got.Status)
	assert.Equal(t, "no confirmation", got.Error)
	assert.Equal(t, []string{"1u8", "1u8"}, got.Inputs)

	list, err := s.ListTransactionsBySession(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "at1first", list[0].ID)
	assert.Equal(t, "at1second", list[1].ID)
}

func TestMemoryStore_ReadsDoNotShareInputs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.InsertTransaction(ctx, &model.TransactionRecord{
		ID:        "at1first",
		SessionID: "alice",
		Inputs:    []string{"1u8", "2u8"},
	}))

	got, err := s.GetTransaction(ctx, "at1first")
	require.NoError(t, err)
	got.Inputs[0] = "9u8"

	list, err := s.ListTransactionsBySession(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	list[0].Inputs[1] = "9u8"

	again, err := s.GetTransaction(ctx, "at1first")
	require.NoError(t, err)
	assert.Equal(t, []string{"1u8", "2u8"}, again.Inputs)
}
