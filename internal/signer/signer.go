// Package signer provides implementations of the external transaction
// signer used by betting sessions. The real signer is a wallet outside
// this process; DevSigner stands in for it during local development.
package signer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/betslip-engine/internal/contract"
	"github.com/atmx/betslip-engine/internal/model"
)

// Func adapts an ordinary function to the signer interface.
type Func func(ctx context.Context, call contract.Call) (string, error)

func (f Func) RequestTransaction(ctx context.Context, call contract.Call) (string, error) {
	return f(ctx, call)
}

// Confirmer publishes chain status for a transaction. RedisSource
// implements it.
type Confirmer interface {
	PublishStatus(ctx context.Context, txID string, status model.TxStatus) error
}

// DevSigner accepts every call and returns a fresh transaction ID. When a
// Confirmer is set, it publishes a confirmation after Delay, imitating a
// chain that finalizes every broadcast.
type DevSigner struct {
	confirmer Confirmer
	delay     time.Duration
	logger    *slog.Logger
}

// NewDevSigner creates a development signer. confirmer may be nil.
func NewDevSigner(confirmer Confirmer, delay time.Duration, logger *slog.Logger) *DevSigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DevSigner{confirmer: confirmer, delay: delay, logger: logger}
}

func (s *DevSigner) RequestTransaction(ctx context.Context, call contract.Call) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	txID := NewTxID()

	s.logger.Info("dev signer accepted transaction",
		"tx_id", txID,
		"program", call.Program,
		"function", call.Function,
		"network", call.Network,
		"fee", call.Fee,
		"inputs", strings.Join(call.Inputs, " "),
	)

	if s.confirmer != nil {
		go s.confirmLater(txID)
	}
	return txID, nil
}

func (s *DevSigner) confirmLater(txID string) {
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	<-timer.C

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.confirmer.PublishStatus(ctx, txID, model.TxConfirmed); err != nil {
		s.logger.Error("dev signer confirmation failed", "tx_id", txID, "err", err)
	}
}

// NewTxID returns an "at1"-prefixed identifier in the shape of an Aleo
// transaction ID.
func NewTxID() string {
	return "at1" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
