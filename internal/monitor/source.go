package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/betslip-engine/internal/model"
)

// StatusClient reports the chain's current view of a transaction.
type StatusClient interface {
	TransactionStatus(ctx context.Context, txID string) (model.TxStatus, error)
}

// PollingSource polls a StatusClient until the transaction is confirmed.
// Transient client errors are logged and retried on the next tick.
type PollingSource struct {
	client   StatusClient
	interval time.Duration
	logger   *slog.Logger
}

// NewPollingSource creates a polling source. Interval defaults to 5s.
func NewPollingSource(client StatusClient, interval time.Duration, logger *slog.Logger) *PollingSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingSource{client: client, interval: interval, logger: logger}
}

func (p *PollingSource) AwaitConfirmation(ctx context.Context, txID string) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		status, err := p.client.TransactionStatus(ctx, txID)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			p.logger.Warn("transaction status poll failed", "tx_id", txID, "err", err)
		case status == model.TxConfirmed:
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DelayedSource confirms every transaction after a fixed delay. It stands
// in for a real chain in development.
type DelayedSource struct {
	Delay time.Duration
}

func (s DelayedSource) AwaitConfirmation(ctx context.Context, _ string) error {
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// statusTTL bounds how long a published status stays readable.
const statusTTL = 24 * time.Hour

// StatusKey is both the Redis key holding a transaction's last status and
// the Pub/Sub channel its transitions are published on.
func StatusKey(txID string) string { return fmt.Sprintf("tx:status:%s", txID) }

// RedisSource waits for confirmations published by the chain-status
// collaborator on Redis.
type RedisSource struct {
	rdb *redis.Client
}

// NewRedisSource creates a Redis-backed confirmation source.
func NewRedisSource(rdb *redis.Client) *RedisSource {
	return &RedisSource{rdb: rdb}
}

// AwaitConfirmation subscribes to the transaction's channel, then checks
// the stored status so a confirmation published before the subscription
// is not missed.
func (r *RedisSource) AwaitConfirmation(ctx context.Context, txID string) error {
	key := StatusKey(txID)
	pubsub := r.rdb.Subscribe(ctx, key)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", key, err)
	}

	status, err := r.TransactionStatus(ctx, txID)
	if err != nil {
		return err
	}
	if status == model.TxConfirmed {
		return nil
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis: subscription %s closed", key)
			}
			if model.TxStatus(msg.Payload) == model.TxConfirmed {
				return nil
			}
		}
	}
}

// TransactionStatus reads the stored status. An unknown transaction is
// reported as processing.
func (r *RedisSource) TransactionStatus(ctx context.Context, txID string) (model.TxStatus, error) {
	val, err := r.rdb.Get(ctx, StatusKey(txID)).Result()
	if errors.Is(err, redis.Nil) {
		return model.TxProcessing, nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: get %s: %w", StatusKey(txID), err)
	}
	return model.TxStatus(val), nil
}

// PublishStatus stores and announces a transaction status.
func (r *RedisSource) PublishStatus(ctx context.Context, txID string, status model.TxStatus) error {
	key := StatusKey(txID)
	if err := r.rdb.Set(ctx, key, string(status), statusTTL).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	if err := r.rdb.Publish(ctx, key, string(status)).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", key, err)
	}
	return nil
}
