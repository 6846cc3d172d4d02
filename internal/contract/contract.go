// Package contract builds the parameters for calls into the on-chain
// betting program. The program's calling convention fixes every bet array
// at MaxBets entries; the true count travels separately in NumBets.
//
// Builders are pure transforms: they validate, encode and return a
// serializable record. Signing and broadcast belong to an external signer.
package contract

import (
	"errors"
	"fmt"
	"math"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/atmx/betslip-engine/internal/model"
)

// MaxBets is the fixed arity of the program's bet arrays.
const MaxBets = 4

// Program function names.
const (
	FunctionPlaceMultiBet = "place_multi_bet"
	FunctionClaimWinnings = "claim_winnings"
)

// Defaults for the deployed betting program.
const (
	DefaultProgram        = "premier_league_betting.aleo"
	DefaultNetwork        = "testnetbeta"
	DefaultFee     uint64 = 100
)

// OddsScale converts decimal odds into the program's u64 fixed-point form.
// 1.95 is encoded as 195u64.
const OddsScale int32 = 2

var (
	// ErrInvalidInput is the parent of every builder validation error.
	ErrInvalidInput = errors.New("contract: invalid input")

	ErrTooManyBets      = fmt.Errorf("%w: more than %d bets", ErrInvalidInput, MaxBets)
	ErrInvalidOutcome   = fmt.Errorf("%w: unsupported outcome", ErrInvalidInput)
	ErrInvalidStake     = fmt.Errorf("%w: stake must be a positive integer within u64", ErrInvalidInput)
	ErrOutOfRange       = fmt.Errorf("%w: value outside u8 range", ErrInvalidInput)
	ErrInvalidMarketRef = fmt.Errorf("%w: market id must be a positive integer", ErrInvalidInput)
	ErrInvalidOdds      = fmt.Errorf("%w: odds must be positive with at most %d decimals", ErrInvalidInput, OddsScale)
)

// marketIDRegex matches 1-indexed market identifiers. Zero is reserved for
// unused slots.
var marketIDRegex = regexp.MustCompile(`^[1-9][0-9]*$`)

// Field is an opaque field literal such as "3field".
type Field string

// EmptyField fills unused slots.
const EmptyField Field = "0field"

// FieldRef encodes a market identifier as a field literal.
func FieldRef(marketID string) (Field, error) {
	if !marketIDRegex.MatchString(marketID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMarketRef, marketID)
	}
	return Field(marketID + "field"), nil
}

// OutcomeCode maps an outcome to the program's u8 bet type.
func OutcomeCode(o model.Outcome) (uint8, error) {
	switch o {
	case model.OutcomeHome:
		return 1, nil
	case model.OutcomeDraw:
		return 2, nil
	case model.OutcomeAway:
		return 3, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOutcome, o)
}

// Target identifies the program a call is addressed to.
type Target struct {
	Program string `json:"program"`
	Network string `json:"network"`
	Fee     uint64 `json:"fee"`
}

// DefaultTarget returns the deployed betting program on the default network.
func DefaultTarget() Target {
	return Target{Program: DefaultProgram, Network: DefaultNetwork, Fee: DefaultFee}
}

// Call is the envelope handed to the signer.
type Call struct {
	Program  string   `json:"program"`
	Network  string   `json:"network"`
	Function string   `json:"function"`
	Inputs   []string `json:"inputs"`
	Fee      uint64   `json:"fee"`
}

// BetSlots is the fixed-width bet array pair. Slots at index >= NumBets
// hold EmptyField and 0. Use NewBetSlots to construct one.
type BetSlots struct {
	MatchIDs [MaxBets]Field `json:"match_ids"`
	BetTypes [MaxBets]uint8 `json:"bet_types"`
	NumBets  uint8          `json:"num_bets"`
}

// NewBetSlots encodes up to MaxBets selections in order.
func NewBetSlots(selections []model.Selection) (BetSlots, error) {
	if len(selections) > MaxBets {
		return BetSlots{}, fmt.Errorf("%w: got %d", ErrTooManyBets, len(selections))
	}

	var s BetSlots
	for i := range s.MatchIDs {
		s.MatchIDs[i] = EmptyField
	}
	for i, sel := range selections {
		ref, err := FieldRef(sel.MarketID)
		if err != nil {
			return BetSlots{}, err
		}
		code, err := OutcomeCode(sel.Outcome)
		if err != nil {
			return BetSlots{}, err
		}
		s.MatchIDs[i] = ref
		s.BetTypes[i] = code
	}
	s.NumBets = uint8(len(selections))
	return s, nil
}

// PlaceBetParams are the inputs of place_multi_bet.
type PlaceBetParams struct {
	SeasonID    uint8 `json:"season_id"`
	RoundNumber uint8 `json:"round_number"`
	BetSlots
	TotalStake uint64 `json:"total_stake"`
	HasBadge   bool   `json:"has_badge"`
}

// BuildPlaceBet validates and encodes a multi-bet placement.
func BuildPlaceBet(selections []model.Selection, stake decimal.Decimal, seasonID, roundNumber int, hasBadge bool) (PlaceBetParams, error) {
	slots, err := NewBetSlots(selections)
	if err != nil {
		return PlaceBetParams{}, err
	}
	total, err := stakeU64(stake)
	if err != nil {
		return PlaceBetParams{}, err
	}
	season, err := u8("season id", seasonID)
	if err != nil {
		return PlaceBetParams{}, err
	}
	round, err := u8("round number", roundNumber)
	if err != nil {
		return PlaceBetParams{}, err
	}

	return PlaceBetParams{
		SeasonID:    season,
		RoundNumber: round,
		BetSlots:    slots,
		TotalStake:  total,
		HasBadge:    hasBadge,
	}, nil
}

// Inputs renders the parameters as program input literals, in the order
// place_multi_bet declares them.
func (p PlaceBetParams) Inputs() []string {
	ids := make([]string, MaxBets)
	types := make([]string, MaxBets)
	for i := 0; i < MaxBets; i++ {
		ids[i] = string(p.MatchIDs[i])
		types[i] = u8Literal(p.BetTypes[i])
	}
	return []string{
		u8Literal(p.SeasonID),
		u8Literal(p.RoundNumber),
		arrayLiteral(ids),
		arrayLiteral(types),
		u8Literal(p.NumBets),
		u64Literal(p.TotalStake),
		boolLiteral(p.HasBadge),
	}
}

// Call wraps the parameters for the signer.
func (p PlaceBetParams) Call(t Target) Call {
	return Call{
		Program:  t.Program,
		Network:  t.Network,
		Function: FunctionPlaceMultiBet,
		Inputs:   p.Inputs(),
		Fee:      t.Fee,
	}
}

// ClaimBet is one slot of a claim: the original bet, carried unchanged so
// the program can verify it against stored state.
type ClaimBet struct {
	MatchID Field           `json:"match_id"`
	BetType uint8           `json:"bet_type"`
	Odds    decimal.Decimal `json:"odds"`
	OddsU64 uint64          `json:"odds_u64"`
}

// ClaimWinningsParams are the inputs of claim_winnings.
type ClaimWinningsParams struct {
	SeasonID    uint8             `json:"season_id"`
	RoundNumber uint8             `json:"round_number"`
	Bets        [MaxBets]ClaimBet `json:"bets"`
	NumBets     uint8             `json:"num_bets"`
	TotalStake  uint64            `json:"total_stake"`
}

// BuildClaimWinnings validates and encodes a claim for a settled slip.
// Each selection's outcome and captured price are the bet being claimed.
func BuildClaimWinnings(selections []model.Selection, seasonID, roundNumber int, stake decimal.Decimal) (ClaimWinningsParams, error) {
	if len(selections) > MaxBets {
		return ClaimWinningsParams{}, fmt.Errorf("%w: got %d", ErrTooManyBets, len(selections))
	}

	var bets [MaxBets]ClaimBet
	for i := range bets {
		bets[i] = ClaimBet{MatchID: EmptyField, Odds: decimal.Zero}
	}
	for i, sel := range selections {
		ref, err := FieldRef(sel.MarketID)
		if err != nil {
			return ClaimWinningsParams{}, err
		}
		code, err := OutcomeCode(sel.Outcome)
		if err != nil {
			return ClaimWinningsParams{}, err
		}
		fixed, err := oddsU64(sel.Price)
		if err != nil {
			return ClaimWinningsParams{}, err
		}
		bets[i] = ClaimBet{MatchID: ref, BetType: code, Odds: sel.Price, OddsU64: fixed}
	}

	total, err := stakeU64(stake)
	if err != nil {
		return ClaimWinningsParams{}, err
	}
	season, err := u8("season id", seasonID)
	if err != nil {
		return ClaimWinningsParams{}, err
	}
	round, err := u8("round number", roundNumber)
	if err != nil {
		return ClaimWinningsParams{}, err
	}

	return ClaimWinningsParams{
		SeasonID:    season,
		RoundNumber: round,
		Bets:        bets,
		NumBets:     uint8(len(selections)),
		TotalStake:  total,
	}, nil
}

// Inputs renders the parameters as program input literals.
func (p ClaimWinningsParams) Inputs() []string {
	bets := make([]string, MaxBets)
	for i, b := range p.Bets {
		bets[i] = fmt.Sprintf("{match_id: %s, bet_type: %s, odds: %s}",
			b.MatchID, u8Literal(b.BetType), u64Literal(b.OddsU64))
	}
	return []string{
		u8Literal(p.SeasonID),
		u8Literal(p.RoundNumber),
		arrayLiteral(bets),
		u8Literal(p.NumBets),
		u64Literal(p.TotalStake),
	}
}

// Call wraps the parameters for the signer.
func (p ClaimWinningsParams) Call(t Target) Call {
	return Call{
		Program:  t.Program,
		Network:  t.Network,
		Function: FunctionClaimWinnings,
		Inputs:   p.Inputs(),
		Fee:      t.Fee,
	}
}

// stakeU64 accepts positive integral stakes that fit in a u64.
func stakeU64(stake decimal.Decimal) (uint64, error) {
	if !stake.IsPositive() || !stake.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStake, stake)
	}
	bi := stake.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStake, stake)
	}
	return bi.Uint64(), nil
}

func oddsU64(odds decimal.Decimal) (uint64, error) {
	scaled := odds.Shift(OddsScale)
	if !odds.IsPositive() || !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidOdds, odds)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidOdds, odds)
	}
	return bi.Uint64(), nil
}

func u8(name string, v int) (uint8, error) {
	if v < 0 || v > math.MaxUint8 {
		return 0, fmt.Errorf("%w: %s %d", ErrOutOfRange, name, v)
	}
	return uint8(v), nil
}
