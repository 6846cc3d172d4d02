// Package monitor follows a submitted transaction until it is confirmed or
// the configured wait elapses.
//
// State machine: submitted → processing → {confirmed | timed-out}.
// A confirmation source that fails outright ends the watch as failed.
// Cancelling the watch's context only detaches local observation; it never
// affects a transaction that has already been broadcast.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/betslip-engine/internal/metrics"
	"github.com/atmx/betslip-engine/internal/model"
)

// DefaultTimeout is the maximum wait for a confirmation.
const DefaultTimeout = 300 * time.Second

// ErrTimeout is returned when no confirmation arrived within the timeout.
var ErrTimeout = errors.New("monitor: transaction confirmation timed out")

// ConfirmationSource blocks until the chain reports txID as confirmed.
// It must return promptly with ctx.Err() once ctx is done.
type ConfirmationSource interface {
	AwaitConfirmation(ctx context.Context, txID string) error
}

// StatusFunc receives lifecycle transitions. It runs on the watching
// goroutine and must not call Cancel on the watch it belongs to.
type StatusFunc func(txID string, status model.TxStatus)

// Monitor watches transactions against one confirmation source.
type Monitor struct {
	src     ConfirmationSource
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a monitor. A non-positive timeout selects DefaultTimeout.
func New(src ConfirmationSource, timeout time.Duration, logger *slog.Logger) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{src: src, timeout: timeout, logger: logger}
}

// Timeout returns the configured maximum wait.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// Watch blocks until txID reaches a terminal state or ctx is done.
// onStatus sees processing first, then exactly one terminal status; it is
// never called after that, nor after ctx is done.
func (m *Monitor) Watch(ctx context.Context, txID string, onStatus StatusFunc) (model.TxStatus, error) {
	n := &notifier{ctx: ctx, txID: txID, fn: onStatus, current: model.TxSubmitted}
	return m.watch(ctx, txID, n)
}

func (m *Monitor) watch(ctx context.Context, txID string, n *notifier) (model.TxStatus, error) {
	start := time.Now()
	n.notify(model.TxProcessing)

	waitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.src.AwaitConfirmation(waitCtx, txID)
	elapsed := time.Since(start)

	switch {
	case ctx.Err() != nil:
		m.logger.Info("transaction watch detached", "tx_id", txID, "elapsed", elapsed)
		return model.TxProcessing, ctx.Err()

	case err == nil:
		n.notify(model.TxConfirmed)
		metrics.ConfirmationLatency.Observe(elapsed.Seconds())
		metrics.TxTerminalTotal.WithLabelValues(string(model.TxConfirmed)).Inc()
		m.logger.Info("transaction confirmed", "tx_id", txID, "elapsed", elapsed)
		return model.TxConfirmed, nil

	case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
		n.notify(model.TxTimedOut)
		metrics.TxTerminalTotal.WithLabelValues(string(model.TxTimedOut)).Inc()
		m.logger.Warn("transaction timed out", "tx_id", txID, "timeout", m.timeout)
		return model.TxTimedOut, fmt.Errorf("%w: %s after %s", ErrTimeout, txID, m.timeout)

	default:
		n.notify(model.TxFailed)
		metrics.TxTerminalTotal.WithLabelValues(string(model.TxFailed)).Inc()
		m.logger.Error("transaction watch failed", "tx_id", txID, "err", err)
		return model.TxFailed, fmt.Errorf("monitor: await %s: %w", txID, err)
	}
}

// Watch is a handle on an asynchronous watch started with Start.
type Watch struct {
	TxID string

	n      *notifier
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status model.TxStatus
	err    error
}

// Start watches txID on a new goroutine. The returned handle resolves
// exactly once.
func (m *Monitor) Start(ctx context.Context, txID string, onStatus StatusFunc) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		TxID:   txID,
		n:      &notifier{ctx: ctx, txID: txID, fn: onStatus, current: model.TxSubmitted},
		cancel: cancel,
		done:   make(chan struct{}),
		status: model.TxSubmitted,
	}

	go func() {
		defer close(w.done)
		defer cancel()
		status, err := m.watch(ctx, txID, w.n)
		w.mu.Lock()
		w.status, w.err = status, err
		w.mu.Unlock()
	}()
	return w
}

// Done is closed once the watch has resolved or detached.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Status returns the latest observed status.
func (w *Watch) Status() model.TxStatus {
	select {
	case <-w.done:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.status
	default:
		return w.n.status()
	}
}

// Err returns the watch's error once Done is closed, nil before that.
func (w *Watch) Err() error {
	select {
	case <-w.done:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.err
	default:
		return nil
	}
}

// Cancel detaches the watch. No callback runs after Cancel returns.
func (w *Watch) Cancel() {
	w.n.detach()
	w.cancel()
}

// notifier delivers status callbacks and stops after a terminal status or
// once detached.
type notifier struct {
	ctx  context.Context
	txID string
	fn   StatusFunc

	mu       sync.Mutex
	current  model.TxStatus
	detached bool
}

func (n *notifier) notify(s model.TxStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.detached || n.current.Terminal() || n.ctx.Err() != nil {
		return
	}
	n.current = s
	if n.fn != nil {
		n.fn(n.txID, s)
	}
}

func (n *notifier) detach() {
	n.mu.Lock()
	n.detached = true
	n.mu.Unlock()
}

func (n *notifier) status() model.TxStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}
