// Package session runs one user's betting flow: it owns a selection slip,
// prices it, hands built calls to an external signer and follows the
// resulting transactions until they resolve.
//
// A session allows one submission in flight at a time, shared by bet
// placement and claims. Errors never retry and never leave the session
// half-updated: the slip is only cleared after the signer accepts a call.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/betslip-engine/internal/contract"
	"github.com/atmx/betslip-engine/internal/metrics"
	"github.com/atmx/betslip-engine/internal/model"
	"github.com/atmx/betslip-engine/internal/monitor"
	"github.com/atmx/betslip-engine/internal/parlay"
	"github.com/atmx/betslip-engine/internal/slip"
)

var (
	// ErrPrecondition is the parent of every error returned before any
	// external call is attempted because the session is not in a state to
	// submit.
	ErrPrecondition = errors.New("session: precondition failed")

	ErrNoSelections       = fmt.Errorf("%w: no selections to submit", ErrPrecondition)
	ErrSubmissionInFlight = fmt.Errorf("%w: a transaction is already in flight", ErrPrecondition)
	ErrSessionClosed      = fmt.Errorf("%w: session closed", ErrPrecondition)
	ErrSignerUnavailable  = fmt.Errorf("%w: no signer connected", ErrPrecondition)

	// ErrUnknownTransaction is returned for a transaction ID that does not
	// belong to the session.
	ErrUnknownTransaction = errors.New("session: unknown transaction")
)

// ExternalError reports a failure of the signer. Its message is the
// cause's message, or a default for the operation when the cause has none.
type ExternalError struct {
	Function string
	Err      error
}

func (e *ExternalError) Error() string {
	if e.Err != nil && e.Err.Error() != "" {
		return e.Err.Error()
	}
	switch e.Function {
	case contract.FunctionClaimWinnings:
		return "failed to claim winnings"
	default:
		return "failed to place bet"
	}
}

func (e *ExternalError) Unwrap() error { return e.Err }

// Signer obtains user authorization for a call and broadcasts it,
// returning the transaction ID.
type Signer interface {
	RequestTransaction(ctx context.Context, call contract.Call) (string, error)
}

// Recorder persists transaction history. store.Store satisfies it.
type Recorder interface {
	InsertTransaction(ctx context.Context, rec *model.TransactionRecord) error
	UpdateTransactionStatus(ctx context.Context, id string, status model.TxStatus, errMsg string) error
	GetTransaction(ctx context.Context, id string) (*model.TransactionRecord, error)
	ListTransactionsBySession(ctx context.Context, sessionID string) ([]model.TransactionRecord, error)
}

// StatusListener is told about every lifecycle transition of a session's
// transactions.
type StatusListener func(sessionID, txID string, status model.TxStatus)

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Engine   *parlay.Engine
	Signer   Signer
	Monitor  *monitor.Monitor
	Recorder Recorder
	Target   contract.Target
	OnStatus StatusListener
	Logger   *slog.Logger
}

// PlaceBetRequest selects the legs and stake of a parlay submission.
// An empty MarketIDs submits the whole slip.
type PlaceBetRequest struct {
	MarketIDs   []string        `json:"market_ids,omitempty"`
	Stake       decimal.Decimal `json:"stake"`
	SeasonID    int             `json:"season_id"`
	RoundNumber int             `json:"round_number"`
	HasBadge    bool            `json:"has_badge"`
}

// ClaimRequest identifies a settled bet to claim. Each leg carries the
// outcome and odds the bet was placed at.
type ClaimRequest struct {
	Bets        []model.Selection `json:"bets"`
	Stake       decimal.Decimal   `json:"stake"`
	SeasonID    int               `json:"season_id"`
	RoundNumber int               `json:"round_number"`
}

// Submission is the result of a call accepted by the signer.
type Submission struct {
	Record model.TransactionRecord `json:"transaction"`
	Quote  *parlay.Quote           `json:"quote,omitempty"`
}

// Session is one user's slip and submission state.
type Session struct {
	id     string
	slip   *slip.Slip
	deps   Deps
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inFlight string // function name of the in-flight call, empty when idle
	watches  map[string]*monitor.Watch
}

// New creates a session. Engine, Monitor and Recorder are required.
func New(id string, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Target == (contract.Target{}) {
		deps.Target = contract.DefaultTarget()
	}
	ctx, cancel := context.WithCancel(context.Background())
	metrics.ActiveSessions.Inc()
	return &Session{
		id:      id,
		slip:    slip.New(),
		deps:    deps,
		logger:  deps.Logger.With("session_id", id),
		ctx:     ctx,
		cancel:  cancel,
		watches: make(map[string]*monitor.Watch),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Slip returns the session's selection set.
func (s *Session) Slip() *slip.Slip { return s.slip }

// InFlight reports whether a submission is awaiting a terminal status.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight != ""
}

// Quote prices the chosen selections. An empty marketIDs prices the slip.
func (s *Session) Quote(marketIDs []string, stake decimal.Decimal) (parlay.Quote, error) {
	selections, err := s.slip.Subset(marketIDs)
	if err != nil {
		return parlay.Quote{}, err
	}
	q, err := s.deps.Engine.Quote(selections, stake)
	if err != nil {
		return parlay.Quote{}, err
	}
	metrics.QuotesTotal.WithLabelValues(strconv.Itoa(q.Selections)).Inc()
	return q, nil
}

// PlaceBet submits the chosen selections as one parlay. On success the
// slip is cleared, including selections outside the submitted subset, and
// the transaction is watched until it resolves.
func (s *Session) PlaceBet(ctx context.Context, req PlaceBetRequest) (*Submission, error) {
	const fn = contract.FunctionPlaceMultiBet

	if err := s.checkOpen(); err != nil {
		return nil, s.reject(fn, err)
	}
	selections, err := s.slip.Subset(req.MarketIDs)
	if err != nil {
		return nil, s.reject(fn, err)
	}
	if len(selections) == 0 {
		return nil, s.reject(fn, ErrNoSelections)
	}

	params, err := contract.BuildPlaceBet(selections, req.Stake, req.SeasonID, req.RoundNumber, req.HasBadge)
	if err != nil {
		return nil, s.reject(fn, err)
	}
	quote, err := s.deps.Engine.Quote(selections, req.Stake)
	if err != nil {
		return nil, s.reject(fn, err)
	}

	rec, err := s.submit(ctx, params.Call(s.deps.Target), s.slip.Clear)
	if err != nil {
		return nil, err
	}

	s.logger.Info("bet placed",
		"tx_id", rec.ID,
		"selections", len(selections),
		"stake", req.Stake.String(),
		"total_odds", quote.TotalOdds.String(),
		"potential_payout", quote.Payout.String(),
	)
	return &Submission{Record: *rec, Quote: &quote}, nil
}

// ClaimWinnings submits a claim for a settled bet. The slip is untouched.
func (s *Session) ClaimWinnings(ctx context.Context, req ClaimRequest) (*Submission, error) {
	const fn = contract.FunctionClaimWinnings

	if err := s.checkOpen(); err != nil {
		return nil, s.reject(fn, err)
	}
	if len(req.Bets) == 0 {
		return nil, s.reject(fn, ErrNoSelections)
	}

	params, err := contract.BuildClaimWinnings(req.Bets, req.SeasonID, req.RoundNumber, req.Stake)
	if err != nil {
		return nil, s.reject(fn, err)
	}

	rec, err := s.submit(ctx, params.Call(s.deps.Target), nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info("winnings claimed",
		"tx_id", rec.ID,
		"bets", len(req.Bets),
		"stake", req.Stake.String(),
	)
	return &Submission{Record: *rec}, nil
}

// Transaction returns one of the session's transaction records.
func (s *Session) Transaction(ctx context.Context, txID string) (*model.TransactionRecord, error) {
	rec, err := s.deps.Recorder.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if rec.SessionID != s.id {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, txID)
	}
	return rec, nil
}

// Transactions returns the session's transaction history, oldest first.
func (s *Session) Transactions(ctx context.Context) ([]model.TransactionRecord, error) {
	return s.deps.Recorder.ListTransactionsBySession(ctx, s.id)
}

// Close detaches every watch and rejects further submissions. Broadcast
// transactions are unaffected. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	watches := make([]*monitor.Watch, 0, len(s.watches))
	for _, w := range s.watches {
		watches = append(watches, w)
	}
	s.mu.Unlock()

	for _, w := range watches {
		w.Cancel()
	}
	s.cancel()
	metrics.ActiveSessions.Dec()
	s.logger.Info("session closed", "detached_watches", len(watches))
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrSessionClosed
	case s.deps.Signer == nil:
		return ErrSignerUnavailable
	case s.inFlight != "":
		return ErrSubmissionInFlight
	}
	return nil
}

// submit claims the in-flight slot, signs the call and starts watching the
// resulting transaction. onSigned runs only after the signer succeeds.
func (s *Session) submit(ctx context.Context, call contract.Call, onSigned func()) (*model.TransactionRecord, error) {
	if err := s.acquire(call.Function); err != nil {
		return nil, s.reject(call.Function, err)
	}

	start := time.Now()
	txID, err := s.deps.Signer.RequestTransaction(ctx, call)
	metrics.SignerLatency.WithLabelValues(call.Function).Observe(time.Since(start).Seconds())
	if err != nil {
		s.release()
		metrics.SubmissionsTotal.WithLabelValues(call.Function, "external_error").Inc()
		s.logger.Error("signer rejected transaction", "function", call.Function, "err", err)
		return nil, &ExternalError{Function: call.Function, Err: err}
	}
	metrics.SubmissionsTotal.WithLabelValues(call.Function, "submitted").Inc()

	if onSigned != nil {
		onSigned()
	}

	now := time.Now().UTC()
	rec := &model.TransactionRecord{
		ID:        txID,
		SessionID: s.id,
		Operation: call.Function,
		Status:    model.TxSubmitted,
		Program:   call.Program,
		Inputs:    call.Inputs,
		Fee:       call.Fee,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// The transaction is already broadcast; a failed write loses history,
	// not the bet.
	if err := s.deps.Recorder.InsertTransaction(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("failed to record transaction", "tx_id", txID, "err", err)
	}
	s.publish(txID, model.TxSubmitted)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.release()
		return rec, nil
	}
	w := s.deps.Monitor.Start(s.ctx, txID, s.onStatus)
	s.watches[txID] = w
	s.mu.Unlock()

	go func() {
		<-w.Done()
		s.mu.Lock()
		delete(s.watches, txID)
		s.mu.Unlock()
		s.release()
	}()
	return rec, nil
}

func (s *Session) onStatus(txID string, status model.TxStatus) {
	var errMsg string
	switch status {
	case model.TxTimedOut:
		errMsg = monitor.ErrTimeout.Error()
	case model.TxFailed:
		errMsg = "confirmation source failed"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Recorder.UpdateTransactionStatus(ctx, txID, status, errMsg); err != nil {
		s.logger.Error("failed to update transaction status", "tx_id", txID, "status", status, "err", err)
	}
	s.publish(txID, status)
}

func (s *Session) publish(txID string, status model.TxStatus) {
	if s.deps.OnStatus != nil {
		s.deps.OnStatus(s.id, txID, status)
	}
}

func (s *Session) acquire(function string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrSessionClosed
	case s.inFlight != "":
		return ErrSubmissionInFlight
	}
	s.inFlight = function
	metrics.InFlightTransactions.Inc()
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight != "" {
		s.inFlight = ""
		metrics.InFlightTransactions.Dec()
	}
}

// reject counts a submission refused before the signer was called.
func (s *Session) reject(function string, err error) error {
	result := "invalid"
	if errors.Is(err, ErrPrecondition) {
		result = "precondition"
	}
	metrics.SubmissionsTotal.WithLabelValues(function, result).Inc()
	s.logger.Warn("submission rejected", "function", function, "err", err)
	return err
}
