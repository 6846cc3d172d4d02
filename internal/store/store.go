// Package store defines the persistence interface for the bet slip engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/atmx/betslip-engine/internal/model"
)

// ErrNotFound is returned when a market or transaction does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Markets are the inbound feed and are
// only read by the engine; transaction records are its own history.
type Store interface {
	// --- Market feed ---

	// UpsertMarkets replaces the snapshot of the given markets.
	UpsertMarkets(ctx context.Context, markets []model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets ordered by round, then ID.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// --- Transaction history ---

	// InsertTransaction persists a new transaction record.
	InsertTransaction(ctx context.Context, rec *model.TransactionRecord) error

	// UpdateTransactionStatus records a lifecycle transition.
	UpdateTransactionStatus(ctx context.Context, id string, status model.TxStatus, errMsg string) error

	// GetTransaction retrieves a transaction record by its ID.
	GetTransaction(ctx context.Context, id string) (*model.TransactionRecord, error)

	// ListTransactionsBySession returns a session's records, oldest first.
	ListTransactionsBySession(ctx context.Context, sessionID string) ([]model.TransactionRecord, error)
}
