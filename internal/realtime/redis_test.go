package realtime

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/captured-thinkings/internal/model"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "realtime:poem_likes", Channel(model.RelationLikes))
}

func TestRedisBroker_RoundTripsAcrossInstances(t *testing.T) {
	rdb := newTestRedis(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := NewRedisBroker(rdb, logger)
	listener := NewRedisBroker(rdb, logger)
	require.NoError(t, listener.Start(ctx))

	events, unsubscribe := listener.Subscribe(model.RelationComments)
	defer unsubscribe()

	require.NoError(t, publisher.Publish(ctx, event(model.RelationComments)))

	ev := receive(t, events)
	assert.Equal(t, model.RelationComments, ev.Relation)
	assert.Equal(t, model.ChangeInsert, ev.Type)
	assert.JSONEq(t, `{"id":"x"}`, string(ev.Record))
}

func TestRedisBroker_StopsOnCancel(t *testing.T) {
	rdb := newTestRedis(t)
	b := NewRedisBroker(rdb, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Start(ctx))

	events, unsubscribe := b.Subscribe(model.RelationLikes)
	defer unsubscribe()

	cancel()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.Publish(context.Background(), event(model.RelationLikes)))
	select {
	case ev := <-events:
		t.Fatalf("received %v after the subscriber stopped", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBroker_IgnoresMalformedPayloads(t *testing.T) {
	rdb := newTestRedis(t)
	b := NewRedisBroker(rdb, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))

	events, unsubscribe := b.Subscribe(model.RelationLikes)
	defer unsubscribe()

	require.NoError(t, rdb.Publish(ctx, Channel(model.RelationLikes), "not json").Err())
	require.NoError(t, b.Publish(ctx, event(model.RelationLikes)))

	assert.Equal(t, model.RelationLikes, receive(t, events).Relation)
}
