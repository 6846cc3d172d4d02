package contract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/betslip-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sel(id string, o model.Outcome, price string) model.Selection {
	return model.Selection{MarketID: id, Outcome: o, Price: d(price)}
}

func TestOutcomeCode(t *testing.T) {
	tests := []struct {
		outcome model.Outcome
		code    uint8
	}{
		{model.OutcomeHome, 1},
		{model.OutcomeDraw, 2},
		{model.OutcomeAway, 3},
	}
	for _, tt := range tests {
		code, err := OutcomeCode(tt.outcome)
		require.NoError(t, err, "outcome %s", tt.outcome)
		assert.Equal(t, tt.code, code, "outcome %s", tt.outcome)
	}

	for _, bad := range []model.Outcome{"", "home", "WIN"} {
		_, err := OutcomeCode(bad)
		assert.ErrorIs(t, err, ErrInvalidOutcome, "outcome %q", bad)
	}
}

func TestFieldRef(t *testing.T) {
	f, err := FieldRef("12")
	require.NoError(t, err)
	assert.Equal(t, Field("12field"), f)

	for _, bad := range []string{"", "0", "007", "-1", "abc", "1field"} {
		_, err := FieldRef(bad)
		assert.ErrorIs(t, err, ErrInvalidMarketRef, "ref %q", bad)
	}
}

func TestBuildPlaceBet_RoundTrip(t *testing.T) {
	all := []model.Selection{
		sel("1", model.OutcomeHome, "1.95"),
		sel("2", model.OutcomeDraw, "3.20"),
		sel("3", model.OutcomeAway, "3.30"),
		sel("4", model.OutcomeHome, "2.35"),
	}
	wantCodes := []uint8{1, 2, 3, 1}

	for k := 0; k <= MaxBets; k++ {
		p, err := BuildPlaceBet(all[:k], d("25"), 1, 1, false)
		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, k, int(p.NumBets), "k=%d num_bets", k)

		for i := 0; i < MaxBets; i++ {
			if i < k {
				assert.Equal(t, wantCodes[i], p.BetTypes[i], "k=%d slot %d code", k, i)
				assert.Equal(t, Field(all[i].MarketID+"field"), p.MatchIDs[i], "k=%d slot %d match", k, i)
				continue
			}
			assert.Zero(t, p.BetTypes[i], "k=%d slot %d code", k, i)
			assert.Equal(t, EmptyField, p.MatchIDs[i], "k=%d slot %d match", k, i)
		}
	}
}

func TestBuildPlaceBet_TooManyBets(t *testing.T) {
	legs := []model.Selection{
		sel("1", model.OutcomeHome, "2"),
		sel("2", model.OutcomeHome, "2"),
		sel("3", model.OutcomeHome, "2"),
		sel("4", model.OutcomeHome, "2"),
		sel("5", model.OutcomeHome, "2"),
	}
	p, err := BuildPlaceBet(legs, d("10"), 1, 1, false)
	require.ErrorIs(t, err, ErrTooManyBets)
	assert.ErrorIs(t, err, ErrInvalidInput, "arity violation is an input error")
	assert.Equal(t, PlaceBetParams{}, p, "no partial encoding")
}

func TestBuildPlaceBet_InvalidStake(t *testing.T) {
	legs := []model.Selection{sel("1", model.OutcomeHome, "2")}
	for _, stake := range []string{"0", "-10", "10.5", "18446744073709551616"} {
		_, err := BuildPlaceBet(legs, d(stake), 1, 1, false)
		assert.ErrorIs(t, err, ErrInvalidStake, "stake %s", stake)
	}

	p, err := BuildPlaceBet(legs, d("18446744073709551615"), 1, 1, false)
	require.NoError(t, err, "max u64 stake should be accepted")
	assert.Equal(t, uint64(18446744073709551615), p.TotalStake)
}

func TestBuildPlaceBet_ByteRange(t *testing.T) {
	legs := []model.Selection{sel("1", model.OutcomeHome, "2")}
	tests := []struct {
		season, round int
		ok            bool
	}{
		{0, 0, true},
		{255, 255, true},
		{256, 1, false},
		{1, -1, false},
	}
	for _, tt := range tests {
		_, err := BuildPlaceBet(legs, d("1"), tt.season, tt.round, false)
		if tt.ok {
			assert.NoError(t, err, "season=%d round=%d", tt.season, tt.round)
			continue
		}
		assert.ErrorIs(t, err, ErrOutOfRange, "season=%d round=%d", tt.season, tt.round)
	}
}

func TestBuildPlaceBet_InvalidOutcome(t *testing.T) {
	legs := []model.Selection{
		sel("1", model.OutcomeHome, "2"),
		sel("2", "OVER", "2"),
	}
	_, err := BuildPlaceBet(legs, d("10"), 1, 1, false)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestPlaceBetParams_Call(t *testing.T) {
	p, err := BuildPlaceBet([]model.Selection{
		sel("1", model.OutcomeHome, "1.95"),
		sel("3", model.OutcomeAway, "3.30"),
	}, d("100"), 1, 2, true)
	require.NoError(t, err)

	call := p.Call(DefaultTarget())
	assert.Equal(t, FunctionPlaceMultiBet, call.Function)
	assert.Equal(t, DefaultProgram, call.Program)
	assert.Equal(t, DefaultFee, call.Fee)
	assert.Equal(t, []string{
		"1u8",
		"2u8",
		"[1field, 3field, 0field, 0field]",
		"[1u8, 3u8, 0u8, 0u8]",
		"2u8",
		"100u64",
		"true",
	}, call.Inputs)
}

func TestBuildClaimWinnings(t *testing.T) {
	p, err := BuildClaimWinnings([]model.Selection{
		sel("2", model.OutcomeDraw, "3.20"),
		sel("5", model.OutcomeHome, "1.85"),
	}, 1, 1, d("50"))
	require.NoError(t, err)

	assert.EqualValues(t, 2, p.NumBets)
	assert.EqualValues(t, 50, p.TotalStake)
	assert.True(t, p.Bets[0].Odds.Equal(d("3.20")), "odds carried through: %+v", p.Bets[0])
	assert.EqualValues(t, 320, p.Bets[0].OddsU64)
	assert.EqualValues(t, 1, p.Bets[1].BetType)
	assert.Equal(t, Field("5field"), p.Bets[1].MatchID)
	assert.Equal(t, EmptyField, p.Bets[3].MatchID)
	assert.Zero(t, p.Bets[3].BetType)

	call := p.Call(DefaultTarget())
	assert.Equal(t, FunctionClaimWinnings, call.Function)
	wantBets := "[{match_id: 2field, bet_type: 2u8, odds: 320u64}, " +
		"{match_id: 5field, bet_type: 1u8, odds: 185u64}, " +
		"{match_id: 0field, bet_type: 0u8, odds: 0u64}, " +
		"{match_id: 0field, bet_type: 0u8, odds: 0u64}]"
	assert.Equal(t, wantBets, call.Inputs[2])
}

func TestBuildClaimWinnings_Validation(t *testing.T) {
	five := make([]model.Selection, 5)
	for i := range five {
		five[i] = sel("1", model.OutcomeHome, "2")
	}
	_, err := BuildClaimWinnings(five, 1, 1, d("10"))
	assert.ErrorIs(t, err, ErrTooManyBets)

	for _, odds := range []string{"0", "-1.5", "1.955"} {
		legs := []model.Selection{sel("1", model.OutcomeHome, odds)}
		_, err := BuildClaimWinnings(legs, 1, 1, d("10"))
		assert.ErrorIs(t, err, ErrInvalidOdds, "odds %s", odds)
	}

	legs := []model.Selection{sel("1", model.OutcomeHome, "2")}
	_, err = BuildClaimWinnings(legs, 1, 1, d("2.5"))
	assert.ErrorIs(t, err, ErrInvalidStake)
}
