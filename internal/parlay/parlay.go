// Package parlay prices a subset of bet slip selections as a combined
// (parlay) wager with tiered boosts.
//
// Pricing is a pure function of the chosen selections and the stake:
//   - Base odds are the product of the captured prices (1 for no selections)
//   - The tier with the largest minimum count not above n sets the boost
//   - Single selections are never boosted; an empty subset has no position
//     and quotes zero multiplier, boosted and total odds
//
// All values use shopspring/decimal so that payouts are exact.
package parlay

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/betslip-engine/internal/model"
)

var (
	// ErrInvalidStake is returned when the stake is not a whole number of
	// at least 1.
	ErrInvalidStake = errors.New("parlay: stake must be a positive integer")

	// ErrInvalidTierTable is returned when a tier table is out of order or
	// carries a multiplier below 1 or a negative reward.
	ErrInvalidTierTable = errors.New("parlay: invalid tier table")

	one = decimal.NewFromInt(1)
)

// DefaultTiers is the boost table used when none is configured,
// in ascending minimum-count order.
var DefaultTiers = []model.Tier{
	{Level: 1, MinSelections: 2, Multiplier: decimal.RequireFromString("1.00"), Reward: decimal.Zero},
	{Level: 2, MinSelections: 3, Multiplier: decimal.RequireFromString("1.15"), Reward: decimal.NewFromInt(50)},
	{Level: 3, MinSelections: 4, Multiplier: decimal.RequireFromString("1.35"), Reward: decimal.NewFromInt(150)},
	{Level: 4, MinSelections: 5, Multiplier: decimal.RequireFromString("1.60"), Reward: decimal.NewFromInt(400)},
}

// Engine resolves tiers and computes quotes. It holds only the immutable
// tier table and is safe for concurrent use.
type Engine struct {
	tiers []model.Tier
}

// NewEngine creates an engine for the given tier table. The table must be
// strictly ascending by MinSelections, start at 2 or above, and carry
// multipliers >= 1 and rewards >= 0. A nil table selects DefaultTiers.
func NewEngine(tiers []model.Tier) (*Engine, error) {
	if tiers == nil {
		tiers = DefaultTiers
	}
	prev := 1
	for i, t := range tiers {
		if t.MinSelections <= prev {
			return nil, fmt.Errorf("%w: tier %d min_selections %d must exceed %d",
				ErrInvalidTierTable, i+1, t.MinSelections, prev)
		}
		if t.Multiplier.LessThan(one) {
			return nil, fmt.Errorf("%w: tier %d multiplier %s below 1",
				ErrInvalidTierTable, i+1, t.Multiplier)
		}
		if t.Reward.IsNegative() {
			return nil, fmt.Errorf("%w: tier %d reward %s is negative",
				ErrInvalidTierTable, i+1, t.Reward)
		}
		prev = t.MinSelections
	}

	table := make([]model.Tier, len(tiers))
	copy(table, tiers)
	for i := range table {
		if table[i].Level == 0 {
			table[i].Level = i + 1
		}
	}
	return &Engine{tiers: table}, nil
}

// Tiers returns a copy of the engine's tier table.
func (e *Engine) Tiers() []model.Tier {
	out := make([]model.Tier, len(e.tiers))
	copy(out, e.tiers)
	return out
}

// ResolveTier returns the tier with the largest minimum count <= n.
// The boolean is false when n is below every threshold.
func (e *Engine) ResolveTier(n int) (model.Tier, bool) {
	for i := len(e.tiers) - 1; i >= 0; i-- {
		if e.tiers[i].MinSelections <= n {
			return e.tiers[i], true
		}
	}
	return model.Tier{}, false
}

// NextTier returns the first tier that n selections have not yet reached.
func (e *Engine) NextTier(n int) (model.Tier, bool) {
	for _, t := range e.tiers {
		if t.MinSelections > n {
			return t, true
		}
	}
	return model.Tier{}, false
}

// Quote is the priced view of a selection subset.
type Quote struct {
	Selections  int             `json:"selections"`
	Stake       decimal.Decimal `json:"stake"`
	BaseOdds    decimal.Decimal `json:"base_odds"`
	Multiplier  decimal.Decimal `json:"multiplier"`
	BoostedOdds decimal.Decimal `json:"boosted_odds"`
	TotalOdds   decimal.Decimal `json:"total_odds"`
	Payout      decimal.Decimal `json:"potential_payout"`
	Reward      decimal.Decimal `json:"reward"` // informational, not part of Payout

	Tier                 *model.Tier `json:"tier,omitempty"`
	NextTier             *model.Tier `json:"next_tier,omitempty"`
	SelectionsToNextTier int         `json:"selections_to_next_tier,omitempty"`
}

// BaseOdds returns the product of the selections' captured prices.
// The product over no selections is 1. Order does not matter.
func BaseOdds(selections []model.Selection) decimal.Decimal {
	acc := one
	for _, s := range selections {
		acc = acc.Mul(s.Price)
	}
	return acc
}

// Quote prices selections as a parlay for the given stake.
func (e *Engine) Quote(selections []model.Selection, stake decimal.Decimal) (Quote, error) {
	if stake.LessThan(one) || !stake.IsInteger() {
		return Quote{}, fmt.Errorf("%w: %s", ErrInvalidStake, stake)
	}

	n := len(selections)
	base := BaseOdds(selections)

	q := Quote{
		Selections:  n,
		Stake:       stake,
		BaseOdds:    base,
		Multiplier:  one,
		BoostedOdds: base,
		Reward:      decimal.Zero,
	}

	// Tiering only applies to combined wagers.
	if n >= 2 {
		if tier, ok := e.ResolveTier(n); ok {
			q.Tier = &tier
			q.Multiplier = tier.Multiplier
			q.BoostedOdds = base.Mul(tier.Multiplier)
			q.Reward = tier.Reward
		}
	}

	switch {
	case n == 0:
		q.Multiplier = decimal.Zero
		q.BoostedOdds = decimal.Zero
		q.TotalOdds = decimal.Zero
	case n == 1:
		q.TotalOdds = base
	default:
		q.TotalOdds = q.BoostedOdds
	}
	q.Payout = stake.Mul(q.TotalOdds)

	if next, ok := e.NextTier(n); ok {
		q.NextTier = &next
		q.SelectionsToNextTier = next.MinSelections - n
	}
	return q, nil
}
