// Package slip holds a session's bet selections: at most one per market,
// kept in insertion order for display.
package slip

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/betslip-engine/internal/model"
)

// ErrUnknownSelection is returned when a requested market has no selection.
var ErrUnknownSelection = errors.New("slip: no selection for market")

// EventKind names a slip mutation.
type EventKind string

const (
	EventAdded    EventKind = "added"
	EventReplaced EventKind = "replaced"
	EventRemoved  EventKind = "removed"
	EventCleared  EventKind = "cleared"
)

// Event describes one mutation. MarketID is empty for EventCleared.
type Event struct {
	Kind     EventKind
	MarketID string
	Size     int
}

// Slip is the selection set. Mutations are serialized by a mutex so the
// one-selection-per-market invariant holds under concurrent callers.
type Slip struct {
	mu        sync.RWMutex
	order     []string
	byMarket  map[string]model.Selection
	listeners []func(Event)
	now       func() time.Time
}

// New creates an empty slip.
func New() *Slip {
	return &Slip{
		byMarket: make(map[string]model.Selection),
		now:      time.Now,
	}
}

// OnChange registers fn to be called after every mutation. Listeners run
// outside the slip's lock, in registration order.
func (s *Slip) OnChange(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Add inserts a selection for marketID. An existing selection for the same
// market is replaced and moves to the end of the list. Re-adding the same
// outcome at the same price changes nothing and emits no event.
func (s *Slip) Add(marketID, description string, outcome model.Outcome, price decimal.Decimal) {
	s.mu.Lock()
	kind := EventAdded
	if cur, ok := s.byMarket[marketID]; ok {
		if cur.Outcome == outcome && cur.Price.Equal(price) {
			s.mu.Unlock()
			return
		}
		kind = EventReplaced
		s.order = without(s.order, marketID)
	}
	s.order = append(s.order, marketID)
	s.byMarket[marketID] = model.Selection{
		MarketID:    marketID,
		Description: description,
		Outcome:     outcome,
		Price:       price,
		AddedAt:     s.now().UTC(),
	}
	ev := Event{Kind: kind, MarketID: marketID, Size: len(s.order)}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, ev)
}

// Remove deletes the selection for marketID, if any.
func (s *Slip) Remove(marketID string) {
	s.mu.Lock()
	if _, ok := s.byMarket[marketID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byMarket, marketID)
	s.order = without(s.order, marketID)
	ev := Event{Kind: EventRemoved, MarketID: marketID, Size: len(s.order)}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, ev)
}

// SetStake updates the per-selection stake. It reports whether a selection
// for marketID exists. Combined pricing ignores this field.
func (s *Slip) SetStake(marketID string, stake decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, ok := s.byMarket[marketID]
	if !ok {
		return false
	}
	sel.Stake = stake
	s.byMarket[marketID] = sel
	return true
}

// Clear empties the slip.
func (s *Slip) Clear() {
	s.mu.Lock()
	s.order = nil
	s.byMarket = make(map[string]model.Selection)
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, Event{Kind: EventCleared})
}

// Len returns the number of selections.
func (s *Slip) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Get returns the selection for marketID.
func (s *Slip) Get(marketID string) (model.Selection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.byMarket[marketID]
	return sel, ok
}

// Selections returns a snapshot in insertion order.
func (s *Slip) Selections() []model.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Selection, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byMarket[id])
	}
	return out
}

// Subset resolves a highlighted subset against the current selections, in
// the order requested. Duplicate IDs are collapsed. An empty request
// selects the whole slip. Highlight state lives with the caller as market
// IDs, so a removed selection can never be resolved again.
func (s *Slip) Subset(marketIDs []string) ([]model.Selection, error) {
	if len(marketIDs) == 0 {
		return s.Selections(), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(marketIDs))
	out := make([]model.Selection, 0, len(marketIDs))
	for _, id := range marketIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		sel, ok := s.byMarket[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSelection, id)
		}
		out = append(out, sel)
	}
	return out, nil
}

func without(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func notify(listeners []func(Event), ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}
