// Package betting provides the HTTP handlers for browsing markets, building
// a bet slip, quoting parlays, and submitting bets and claims.
//
// All odds and stakes use shopspring/decimal, never float64 for money.
package betting

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/atmx/betslip-engine/internal/contract"
	"github.com/atmx/betslip-engine/internal/model"
	"github.com/atmx/betslip-engine/internal/parlay"
	"github.com/atmx/betslip-engine/internal/session"
	"github.com/atmx/betslip-engine/internal/slip"
	"github.com/atmx/betslip-engine/internal/store"
)

// Service handles slip and submission requests. Sessions live in memory
// and are created on first use; one process owns a session. Session IDs
// come from the caller unauthenticated, so idle sessions are expired by
// RunExpiry to bound memory.
type Service struct {
	store store.Store
	deps  session.Deps
	wsHub *WSHub // optional WebSocket hub for real-time broadcasts

	limit rate.Limit
	burst int

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	sess     *session.Session
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewService creates a new betting service. deps supplies the shared
// session collaborators; its Recorder defaults to st. Submissions are
// limited per session to limit events per second with the given burst.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, deps session.Deps, hub *WSHub, limit rate.Limit, burst int) *Service {
	if deps.Recorder == nil {
		deps.Recorder = st
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if burst <= 0 {
		burst = 1
	}
	s := &Service{
		store:    st,
		deps:     deps,
		wsHub:    hub,
		limit:    limit,
		burst:    burst,
		sessions: make(map[string]*sessionEntry),
	}
	listener := deps.OnStatus
	s.deps.OnStatus = func(sessionID, txID string, status model.TxStatus) {
		if listener != nil {
			listener(sessionID, txID, status)
		}
		s.broadcast(WSMessage{Type: "tx_status", SessionID: sessionID, TxID: txID, Status: string(status)})
	}
	return s
}

// Mount registers the service's routes under r.
func (s *Service) Mount(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/tiers", s.ListTiers)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Delete("/", s.CloseSession)

		r.Get("/slip", s.GetSlip)
		r.Post("/slip", s.AddSelection)
		r.Delete("/slip", s.ClearSlip)
		r.Delete("/slip/{marketID}", s.RemoveSelection)
		r.Put("/slip/{marketID}/stake", s.SetStake)

		r.Post("/quote", s.Quote)
		r.Post("/bets", s.PlaceBet)
		r.Post("/claims", s.ClaimWinnings)

		r.Get("/transactions", s.ListTransactions)
		r.Get("/transactions/{txID}", s.GetTransaction)
	})
}

// Close closes every session, detaching their transaction watches.
func (s *Service) Close() {
	s.mu.Lock()
	entries := s.sessions
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()

	for _, e := range entries {
		e.sess.Close()
	}
}

// ExpireIdle closes sessions not used within idle. Sessions with a
// submission in flight are kept. It returns the number closed.
func (s *Service) ExpireIdle(idle time.Duration) int {
	now := time.Now()

	s.mu.Lock()
	var expired []*sessionEntry
	for id, e := range s.sessions {
		if now.Sub(e.lastSeen) < idle || e.sess.InFlight() {
			continue
		}
		expired = append(expired, e)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, e := range expired {
		e.sess.Close()
		s.deps.Logger.Info("session expired", "session_id", e.sess.ID())
	}
	return len(expired)
}

// RunExpiry calls ExpireIdle every interval until ctx is done.
func (s *Service) RunExpiry(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ExpireIdle(idle); n > 0 {
				s.deps.Logger.Debug("idle sessions expired", "count", n)
			}
		}
	}
}

// --- Request/Response types ---

// AddSelectionRequest is the JSON body for POST .../slip.
type AddSelectionRequest struct {
	MarketID string        `json:"market_id"`
	Outcome  model.Outcome `json:"outcome"` // HOME, DRAW or AWAY
}

// StakeRequest is the JSON body for PUT .../slip/{marketID}/stake.
type StakeRequest struct {
	Stake decimal.Decimal `json:"stake"`
}

// QuoteRequest is the JSON body for POST .../quote. An empty MarketIDs
// quotes the whole slip.
type QuoteRequest struct {
	MarketIDs []string        `json:"market_ids,omitempty"`
	Stake     decimal.Decimal `json:"stake"`
}

// SlipResponse is the JSON body returned from GET .../slip.
type SlipResponse struct {
	SessionID  string            `json:"session_id"`
	Selections []model.Selection `json:"selections"`
	InFlight   bool              `json:"in_flight"`
}

// --- Market feed ---

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.store.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ListTiers handles GET /api/v1/tiers
func (s *Service) ListTiers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Tiers())
}

// --- Slip ---

// GetSlip handles GET /api/v1/sessions/{sessionID}/slip
func (s *Service) GetSlip(w http.ResponseWriter, r *http.Request) {
	e := s.session(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, SlipResponse{
		SessionID:  e.sess.ID(),
		Selections: e.sess.Slip().Selections(),
		InFlight:   e.sess.InFlight(),
	})
}

// AddSelection handles POST /api/v1/sessions/{sessionID}/slip
// The price is captured from the current market snapshot.
func (s *Service) AddSelection(w http.ResponseWriter, r *http.Request) {
	var req AddSelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" {
		writeError(w, "market_id is required", http.StatusBadRequest)
		return
	}
	if !req.Outcome.Valid() {
		writeError(w, "outcome must be HOME, DRAW or AWAY", http.StatusBadRequest)
		return
	}

	market, err := s.store.GetMarket(r.Context(), req.MarketID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	price, err := market.Price(req.Outcome)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	e := s.session(chi.URLParam(r, "sessionID"))
	e.sess.Slip().Add(market.ID, market.Description(), req.Outcome, price)
	sel, _ := e.sess.Slip().Get(market.ID)

	writeJSON(w, http.StatusCreated, sel)
}

// RemoveSelection handles DELETE /api/v1/sessions/{sessionID}/slip/{marketID}
func (s *Service) RemoveSelection(w http.ResponseWriter, r *http.Request) {
	e := s.session(chi.URLParam(r, "sessionID"))
	e.sess.Slip().Remove(chi.URLParam(r, "marketID"))
	w.WriteHeader(http.StatusNoContent)
}

// ClearSlip handles DELETE /api/v1/sessions/{sessionID}/slip
func (s *Service) ClearSlip(w http.ResponseWriter, r *http.Request) {
	e := s.session(chi.URLParam(r, "sessionID"))
	e.sess.Slip().Clear()
	w.WriteHeader(http.StatusNoContent)
}

// SetStake handles PUT /api/v1/sessions/{sessionID}/slip/{marketID}/stake
func (s *Service) SetStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Stake.IsNegative() {
		writeError(w, "stake must not be negative", http.StatusBadRequest)
		return
	}

	marketID := chi.URLParam(r, "marketID")
	e := s.session(chi.URLParam(r, "sessionID"))
	if !e.sess.Slip().SetStake(marketID, req.Stake) {
		writeError(w, "no selection for market "+marketID, http.StatusNotFound)
		return
	}
	sel, _ := e.sess.Slip().Get(marketID)
	writeJSON(w, http.StatusOK, sel)
}

// --- Pricing and submission ---

// Quote handles POST /api/v1/sessions/{sessionID}/quote
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	e := s.session(chi.URLParam(r, "sessionID"))
	q, err := e.sess.Quote(req.MarketIDs, req.Stake)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// PlaceBet handles POST /api/v1/sessions/{sessionID}/bets
// Returns once the signer has accepted the call; confirmation is pushed
// over the WebSocket and visible under /transactions.
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req session.PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	e := s.session(chi.URLParam(r, "sessionID"))
	if !e.limiter.Allow() {
		writeError(w, "too many submissions", http.StatusTooManyRequests)
		return
	}

	sub, err := e.sess.PlaceBet(r.Context(), req)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

// ClaimWinnings handles POST /api/v1/sessions/{sessionID}/claims
func (s *Service) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	var req session.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	e := s.session(chi.URLParam(r, "sessionID"))
	if !e.limiter.Allow() {
		writeError(w, "too many submissions", http.StatusTooManyRequests)
		return
	}

	sub, err := e.sess.ClaimWinnings(r.Context(), req)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

// --- History ---

// ListTransactions handles GET /api/v1/sessions/{sessionID}/transactions
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	e := s.session(chi.URLParam(r, "sessionID"))
	records, err := e.sess.Transactions(r.Context())
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetTransaction handles GET /api/v1/sessions/{sessionID}/transactions/{txID}
func (s *Service) GetTransaction(w http.ResponseWriter, r *http.Request) {
	e := s.session(chi.URLParam(r, "sessionID"))
	rec, err := e.sess.Transaction(r.Context(), chi.URLParam(r, "txID"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CloseSession handles DELETE /api/v1/sessions/{sessionID}
// Pending transactions stay broadcast; only local tracking stops.
func (s *Service) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		e.sess.Close()
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// session returns the session for id, creating it on first use.
func (s *Service) session(id string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[id]; ok {
		e.lastSeen = time.Now()
		return e
	}
	sess := session.New(id, s.deps)
	sess.Slip().OnChange(func(ev slip.Event) {
		s.broadcast(WSMessage{
			Type:      "slip_" + string(ev.Kind),
			SessionID: id,
			MarketID:  ev.MarketID,
			Size:      ev.Size,
		})
	})
	e := &sessionEntry{sess: sess, limiter: rate.NewLimiter(s.limit, s.burst), lastSeen: time.Now()}
	s.sessions[id] = e
	s.deps.Logger.Info("session opened", "session_id", id)
	return e
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// writeSessionError maps the error taxonomy onto HTTP status codes.
func writeSessionError(w http.ResponseWriter, err error) {
	var ext *session.ExternalError
	switch {
	case errors.Is(err, contract.ErrInvalidInput),
		errors.Is(err, parlay.ErrInvalidStake),
		errors.Is(err, model.ErrUnknownOutcome):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, slip.ErrUnknownSelection),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, session.ErrUnknownTransaction):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrPrecondition):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &ext):
		writeError(w, ext.Error(), http.StatusBadGateway)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
