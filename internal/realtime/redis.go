package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/captured-thinkings/internal/model"
)

// channelPrefix namespaces change events in Redis: realtime:<relation>.
const channelPrefix = "realtime:"

// RedisBroker publishes through Redis pub/sub and fans received events out
// to local subscribers. Publish never delivers locally: the instance hears
// its own events back from Redis like every other instance.
type RedisBroker struct {
	rdb    *redis.Client
	local  *LocalBroker
	logger *slog.Logger
}

var _ Broker = (*RedisBroker)(nil)

func NewRedisBroker(rdb *redis.Client, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, local: NewLocalBroker(), logger: logger}
}

// Channel derives the Redis channel name for a relation.
func Channel(relation string) string {
	return channelPrefix + relation
}

func (b *RedisBroker) Publish(ctx context.Context, ev model.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: encoding event: %w", err)
	}
	if err := b.rdb.Publish(ctx, Channel(ev.Relation), payload).Err(); err != nil {
		return fmt.Errorf("realtime: publishing to redis: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(relation string) (<-chan model.ChangeEvent, func()) {
	return b.local.Subscribe(relation)
}

// Start pattern-subscribes to every relation channel and forwards events to
// local subscribers until ctx is cancelled. It returns once Redis has
// confirmed the subscription.
func (b *RedisBroker) Start(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("realtime: subscribing to redis: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handle(msg)
			}
		}
	}()
	return nil
}

func (b *RedisBroker) handle(msg *redis.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in realtime subscriber", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	var ev model.ChangeEvent
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		b.logger.Warn("dropping malformed change event", "channel", msg.Channel, "error", err)
		return
	}
	if ev.Relation == "" {
		ev.Relation = strings.TrimPrefix(msg.Channel, channelPrefix)
	}
	b.local.deliver(ev)
}
