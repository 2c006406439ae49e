package session

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const sessionChannelPrefix = "milkbook:session:"

// RedisNotifier fans session-record changes out through Redis pub/sub so
// devices on different hosts observe them.
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier wires a RedisNotifier.
func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{client: client, logger: logger}
}

// Publish broadcasts the record change on the account's channel.
func (notifier *RedisNotifier) Publish(ctx context.Context, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return notifier.client.Publish(ctx, sessionChannelPrefix+record.AccountID, payload).Err()
}

// Subscribe opens a change stream for one account's session record.
func (notifier *RedisNotifier) Subscribe(ctx context.Context, accountID string) (Subscription, error) {
	pubsub := notifier.client.Subscribe(ctx, sessionChannelPrefix+accountID)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	records := make(chan Record)
	go func() {
		defer close(records)
		for message := range pubsub.Channel() {
			var record Record
			if err := json.Unmarshal([]byte(message.Payload), &record); err != nil {
				notifier.logger.Warn("discarding malformed session notification", zap.Error(err))
				continue
			}
			select {
			case records <- record:
			case <-ctx.Done():
				return
			}
		}
	}()
	return &redisSubscription{pubsub: pubsub, records: records}, nil
}

type redisSubscription struct {
	pubsub  *redis.PubSub
	records chan Record
}

func (subscription *redisSubscription) Records() <-chan Record {
	return subscription.records
}

func (subscription *redisSubscription) Close() error {
	return subscription.pubsub.Close()
}
