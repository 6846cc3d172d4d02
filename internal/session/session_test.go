package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/betslip-engine/internal/contract"
	"github.com/atmx/betslip-engine/internal/model"
	"github.com/atmx/betslip-engine/internal/monitor"
	"github.com/atmx/betslip-engine/internal/parlay"
	"github.com/atmx/betslip-engine/internal/session"
	"github.com/atmx/betslip-engine/internal/signer"
	"github.com/atmx/betslip-engine/internal/slip"
	"github.com/atmx/betslip-engine/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// gateSource confirms a transaction once release is closed.
type gateSource struct{ release chan struct{} }

func (g gateSource) AwaitConfirmation(ctx context.Context, _ string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.release:
		return nil
	}
}

// callLog records signer calls.
type callLog struct {
	mu    sync.Mutex
	calls []contract.Call
	err   error
}

func (c *callLog) RequestTransaction(_ context.Context, call contract.Call) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.calls = append(c.calls, call)
	return signer.NewTxID(), nil
}

func (c *callLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type statusLog struct {
	mu       sync.Mutex
	statuses []model.TxStatus
}

func (l *statusLog) listen(_, _ string, status model.TxStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, status)
}

func (l *statusLog) get() []model.TxStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.TxStatus(nil), l.statuses...)
}

type env struct {
	sess   *session.Session
	signer *callLog
	store  *store.MemoryStore
	gate   chan struct{}
	status *statusLog
}

func newEnv(t *testing.T, timeout time.Duration) *env {
	t.Helper()
	engine, err := parlay.NewEngine(nil)
	require.NoError(t, err)

	e := &env{
		signer: &callLog{},
		store:  store.NewMemoryStore(),
		gate:   make(chan struct{}),
		status: &statusLog{},
	}
	e.sess = session.New("alice", session.Deps{
		Engine:   engine,
		Signer:   e.signer,
		Monitor:  monitor.New(gateSource{release: e.gate}, timeout, nil),
		Recorder: e.store,
		OnStatus: e.status.listen,
	})
	t.Cleanup(e.sess.Close)
	return e
}

func (e *env) seed() {
	s := e.sess.Slip()
	s.Add("1", "Manchester United vs Liverpool", model.OutcomeHome, dec("1.95"))
	s.Add("2", "Arsenal vs Chelsea", model.OutcomeDraw, dec("3.40"))
	s.Add("3", "Manchester City vs Tottenham", model.OutcomeAway, dec("2.20"))
}

func TestQuote_WholeSlipAndSubset(t *testing.T) {
	e := newEnv(t, time.Second)
	e.seed()

	q, err := e.sess.Quote(nil, dec("100"))
	require.NoError(t, err)
	assert.True(t, q.Payout.Equal(dec("1677.39")), "payout %s", q.Payout)

	q, err = e.sess.Quote([]string{"1", "2"}, dec("10"))
	require.NoError(t, err)
	assert.True(t, q.TotalOdds.Equal(dec("6.63")), "total %s", q.TotalOdds)

	_, err = e.sess.Quote([]string{"9"}, dec("10"))
	assert.ErrorIs(t, err, slip.ErrUnknownSelection)
}

func TestPlaceBet_SubmitsAndClearsSlip(t *testing.T) {
	e := newEnv(t, time.Second)
	e.seed()

	sub, err := e.sess.PlaceBet(context.Background(), session.PlaceBetRequest{
		Stake: dec("100"), SeasonID: 1, RoundNumber: 3,
	})
	require.NoError(t, err)
	require.NotNil(t, sub.Quote)
	assert.True(t, sub.Quote.Payout.Equal(dec("1677.39")))
	assert.Equal(t, contract.FunctionPlaceMultiBet, sub.Record.Operation)
	assert.Equal(t, 0, e.sess.Slip().Len(), "slip cleared after signing")
	assert.True(t, e.sess.InFlight())

	require.Equal(t, 1, e.signer.count())
	call := e.signer.calls[0]
	assert.Equal(t, contract.DefaultProgram, call.Program)
	assert.Equal(t, []string{
		"1u8", "3u8",
		"[1field, 2field, 3field, 0field]",
		"[1u8, 2u8, 3u8, 0u8]",
		"3u8", "100u64", "false",
	}, call.Inputs)

	close(e.gate)
	require.Eventually(t, func() bool { return !e.sess.InFlight() }, time.Second, 5*time.Millisecond)

	rec, err := e.sess.Transaction(context.Background(), sub.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxConfirmed, rec.Status)
	assert.Equal(t, []model.TxStatus{model.TxSubmitted, model.TxProcessing, model.TxConfirmed}, e.status.get())
}

func TestPlaceBet_SubsetClearsWholeSlip(t *testing.T) {
	e := newEnv(t, time.Second)
	e.seed()

	var events []slip.Event
	e.sess.Slip().OnChange(func(ev slip.Event) { events = append(events, ev) })

	_, err := e.sess.PlaceBet(context.Background(), session.PlaceBetRequest{
		MarketIDs: []string{"1", "3"}, Stake: dec("50"), SeasonID: 1, RoundNumber: 1,
	})
	require.NoError(t, err)

	require.Equal(t, 1, e.signer.count())
	assert.Equal(t, []string{
		"1u8", "1u8",
		"[1field, 3field, 0field, 0field]",
		"[1u8, 3u8, 0u8, 0u8]",
		"2u8", "50u64", "false",
	}, e.signer.calls[0].Inputs, "only the chosen legs are submitted")
	assert.Equal(t, 0, e.sess.Slip().Len(), "unsubmitted selections are cleared too")
	require.Len(t, events, 1)
	assert.Equal(t, slip.EventCleared, events[0].Kind)
}

func TestPlaceBet_Preconditions(t *testing.T) {
	e := newEnv(t, time.Second)

	_, err := e.sess.PlaceBet(context.Background(), session.PlaceBetRequest{Stake: dec("10")})
	assert.ErrorIs(t, err, session.ErrNoSelections)
	assert.ErrorIs(t, err, session.ErrPrecondition)
	assert.Zero(t, e.signer.count(), "signer never called on precondition failure")

	e.seed()
	_, err = e.sess.PlaceBet(context.Background(), session.PlaceBetRequest{Stake: dec("10"), SeasonID: 1, RoundNumber: 1})
	require.NoError(t, err)

	e.sess.Slip().Add("4", "Newcastle vs Brighton", model.OutcomeHome, dec("2.10"))
	_, err = e.sess.PlaceBet(context.Background(), session.PlaceBetRequest{Stake: dec("10"), SeasonID: 1, RoundNumber: 1})
	assert.ErrorIs(t, err, session.ErrSubmissionInFlight)

	_, err = e.sess.ClaimWinnings(context.Background(), session.ClaimRequest{
		Bets:  []model.Selection{{MarketID: "1", Outcome: model.OutcomeHome, Price: dec("1.95")}},
		Stake: dec("10"), SeasonID: 1, RoundNumber: 1,
	})
	assert.ErrorIs(t, err, session.ErrSubmissionInFlight, "claims share the in-flight slot")
	assert.Equal(t, 1, e.signer.count())
	assert.Equal(t, 1, e.sess.Slip().Len(), "rejected submission leaves the slip untouched")
}

func TestPlaceBet_ValidationLeavesSessionClean(t *testing.T) {
	e := newEnv(t, time.Second)
	e.seed()
	e.sess.Slip().Add("4", "Newcastle vs Brighton", model.OutcomeHome, dec("2.10"))
	e.sess.Slip().Add("5", "Aston Villa vs West Ham", model.OutcomeAway, dec("3.10"))

	_, err := e.sess.PlaceBet(context.Background(), session.PlaceBetRequest{Stake: dec("10"), SeasonID: 1, RoundNumber: 1})
	assert.ErrorIs(t, err, contract.ErrTooManyBets)
	assert.False(t, e.sess.InFlight())
	assert.Equal(t, 5, e.sess.Slip().Len())

	_, err = e.sess.PlaceBet(context.Background(), session.PlaceBetRequest{
		MarketIDs: []string{"1"}, Stake: dec("10.5"), SeasonID: 1, RoundNumber: 1,
	})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.Zero(t, e.signer.count())
}

func TestPlaceBet_SignerFailure(t *testing.T) {
	e := newEnv(t, time.Second)
	e.seed()
	e.signer.err = errors.New("user rejected the request")

	_, err := e.sess.PlaceBet(context.Background(), session.PlaceBetRequest{Stake: dec("10"), SeasonID: 1, RoundNumber: 1})

	var ext *session.ExternalError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "user rejected the request", ext.Error())
	assert.False(t, e.sess.InFlight())
	assert.Equal(t, 3, e.sess.Slip().Len(), "slip kept when signing fails")
}

func TestExternalError_DefaultMessages(t *testing.T) {
	place := &session.ExternalError{Function: contract.FunctionPlaceMultiBet, Err: errors.New("")}
	claim := &session.ExternalError{Function: contract.FunctionClaimWinnings}

	assert.Equal(t, "failed to place bet", place.Error())
	assert.Equal(t, "failed to claim winnings", claim.Error())
}

func TestClaimWinnings_TimesOut(t *testing.T) {
	e := newEnv(t, 50*time.Millisecond)
	e.seed()

	sub, err := e.sess.ClaimWinnings(context.Background(), session.ClaimRequest{
		Bets: []model.Selection{
			{MarketID: "2", Outcome: model.OutcomeAway, Price: dec("3.20")},
		},
		Stake: dec("25"), SeasonID: 1, RoundNumber: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, e.sess.Slip().Len(), "claims do not touch the slip")

	require.Eventually(t, func() bool { return !e.sess.InFlight() }, time.Second, 5*time.Millisecond)
	rec, err := e.sess.Transaction(context.Background(), sub.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxTimedOut, rec.Status)
	assert.NotEmpty(t, rec.Error)

	_, err = e.sess.ClaimWinnings(context.Background(), session.ClaimRequest{Stake: dec("25")})
	assert.ErrorIs(t, err, session.ErrNoSelections)
}

func TestClose_DetachesAndRejects(t *testing.T) {
	e := newEnv(t, time.Minute)
	e.seed()

	sub, err := e.sess.PlaceBet(context.Background(), session.PlaceBetRequest{Stake: dec("10"), SeasonID: 1, RoundNumber: 1})
	require.NoError(t, err)

	e.sess.Close()
	require.Eventually(t, func() bool { return !e.sess.InFlight() }, time.Second, 5*time.Millisecond)

	rec, err := e.sess.Transaction(context.Background(), sub.Record.ID)
	require.NoError(t, err)
	assert.False(t, rec.Status.Terminal(), "detached watch records no terminal status")

	e.sess.Slip().Add("4", "Newcastle vs Brighton", model.OutcomeHome, dec("2.10"))
	_, err = e.sess.PlaceBet(context.Background(), session.PlaceBetRequest{Stake: dec("10"), SeasonID: 1, RoundNumber: 1})
	assert.ErrorIs(t, err, session.ErrSessionClosed)
}

func TestTransaction_OtherSession(t *testing.T) {
	e := newEnv(t, time.Second)
	now := time.Now().UTC()
	require.NoError(t, e.store.InsertTransaction(context.Background(), &model.TransactionRecord{
		ID: "at1bob", SessionID: "bob", CreatedAt: now, UpdatedAt: now,
	}))

	_, err := e.sess.Transaction(context.Background(), "at1bob")
	assert.ErrorIs(t, err, session.ErrUnknownTransaction)
}

func TestNoSigner(t *testing.T) {
	engine, err := parlay.NewEngine(nil)
	require.NoError(t, err)
	sess := session.New("carol", session.Deps{
		Engine:   engine,
		Monitor:  monitor.New(monitor.DelayedSource{}, time.Second, nil),
		Recorder: store.NewMemoryStore(),
	})
	defer sess.Close()
	sess.Slip().Add("1", "Manchester United vs Liverpool", model.OutcomeHome, dec("1.95"))

	_, err = sess.PlaceBet(context.Background(), session.PlaceBetRequest{Stake: dec("10"), SeasonID: 1, RoundNumber: 1})
	assert.ErrorIs(t, err, session.ErrSignerUnavailable)
}
