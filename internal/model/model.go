// Package model defines the core domain types shared across the bet slip engine.
// All odds and token amounts use shopspring/decimal, never float64 for money.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is one of the three mutually exclusive results of a fixture.
type Outcome string

const (
	OutcomeHome Outcome = "HOME"
	OutcomeDraw Outcome = "DRAW"
	OutcomeAway Outcome = "AWAY"
)

// ErrUnknownOutcome is returned when an outcome is not HOME, DRAW or AWAY.
var ErrUnknownOutcome = errors.New("model: unknown outcome")

// Valid reports whether o is one of the supported outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeHome, OutcomeDraw, OutcomeAway:
		return true
	}
	return false
}

// Odds holds the three outcome prices of a market.
type Odds struct {
	Home decimal.Decimal `json:"home_win" yaml:"home_win"`
	Draw decimal.Decimal `json:"draw" yaml:"draw"`
	Away decimal.Decimal `json:"away_win" yaml:"away_win"`
}

// Market is a single fixture open for wagering. A Market value is a
// read-only snapshot of the inbound feed; the engine never mutates it.
type Market struct {
	ID        string          `json:"id" db:"id"` // positive decimal integer, encoded on-chain as a field
	HomeTeam  string          `json:"home_team" db:"home_team"`
	AwayTeam  string          `json:"away_team" db:"away_team"`
	Odds      Odds            `json:"odds"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`
	KickoffIn int64           `json:"time_until_kickoff" db:"kickoff_in"` // seconds
	Round     int             `json:"round" db:"round"`
}

// Price returns the market's price for outcome o.
func (m Market) Price(o Outcome) (decimal.Decimal, error) {
	switch o {
	case OutcomeHome:
		return m.Odds.Home, nil
	case OutcomeDraw:
		return m.Odds.Draw, nil
	case OutcomeAway:
		return m.Odds.Away, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownOutcome, o)
}

// Description renders the fixture as "Home vs Away".
func (m Market) Description() string {
	return m.HomeTeam + " vs " + m.AwayTeam
}

// Selection is a user's chosen outcome on one market. Price is captured
// when the selection is made and never re-fetched.
type Selection struct {
	MarketID    string          `json:"market_id"`
	Description string          `json:"description"`
	Outcome     Outcome         `json:"outcome"`
	Price       decimal.Decimal `json:"price"`
	Stake       decimal.Decimal `json:"stake,omitempty"` // optional per-selection stake
	AddedAt     time.Time       `json:"added_at"`
}

// Tier is one row of the parlay boost table.
type Tier struct {
	Level         int             `json:"level"`
	MinSelections int             `json:"min_selections"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	Reward        decimal.Decimal `json:"reward"`
}

// TxStatus is the lifecycle state of a submitted transaction.
type TxStatus string

const (
	TxSubmitted  TxStatus = "submitted"
	TxProcessing TxStatus = "processing"
	TxConfirmed  TxStatus = "confirmed"
	TxTimedOut   TxStatus = "timed-out"
	TxFailed     TxStatus = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s TxStatus) Terminal() bool {
	return s == TxConfirmed || s == TxTimedOut || s == TxFailed
}

// TransactionRecord tracks one submitted program call.
// Only the lifecycle monitor's callbacks change Status after creation.
type TransactionRecord struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Operation string    `json:"operation" db:"operation"` // "place_multi_bet" or "claim_winnings"
	Status    TxStatus  `json:"status" db:"status"`
	Program   string    `json:"program" db:"program"`
	Inputs    []string  `json:"inputs" db:"inputs"`
	Fee       uint64    `json:"fee" db:"fee"`
	Error     string    `json:"error,omitempty" db:"error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
