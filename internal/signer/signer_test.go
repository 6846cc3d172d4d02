package signer_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/betslip-engine/internal/contract"
	"github.com/atmx/betslip-engine/internal/model"
	"github.com/atmx/betslip-engine/internal/signer"
)

type confirmations struct {
	mu  sync.Mutex
	ids map[string]model.TxStatus
}

func (c *confirmations) PublishStatus(_ context.Context, txID string, status model.TxStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[txID] = status
	return nil
}

func (c *confirmations) get(txID string) (model.TxStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.ids[txID]
	return s, ok
}

func TestDevSigner_ReturnsUniqueIDs(t *testing.T) {
	s := signer.NewDevSigner(nil, 0, nil)
	call := contract.Call{Function: contract.FunctionPlaceMultiBet}

	a, err := s.RequestTransaction(context.Background(), call)
	require.NoError(t, err)
	b, err := s.RequestTransaction(context.Background(), call)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "at1"))
	assert.NotEqual(t, a, b)
}

func TestDevSigner_PublishesConfirmation(t *testing.T) {
	c := &confirmations{ids: make(map[string]model.TxStatus)}
	s := signer.NewDevSigner(c, 10*time.Millisecond, nil)

	txID, err := s.RequestTransaction(context.Background(), contract.Call{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, ok := c.get(txID)
		return ok && status == model.TxConfirmed
	}, time.Second, 5*time.Millisecond)
}

func TestDevSigner_CancelledContext(t *testing.T) {
	s := signer.NewDevSigner(nil, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RequestTransaction(ctx, contract.Call{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFunc(t *testing.T) {
	var got contract.Call
	f := signer.Func(func(_ context.Context, call contract.Call) (string, error) {
		got = call
		return "at1fixed", nil
	})

	id, err := f.RequestTransaction(context.Background(), contract.Call{Function: contract.FunctionClaimWinnings})
	require.NoError(t, err)
	assert.Equal(t, "at1fixed", id)
	assert.Equal(t, contract.FunctionClaimWinnings, got.Function)
}
