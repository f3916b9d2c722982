package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/captured-thinkings/internal/model"
)

func event(relation string) model.ChangeEvent {
	return model.ChangeEvent{Relation: relation, Type: model.ChangeInsert, Record: []byte(`{"id":"x"}`)}
}

func receive(t *testing.T, ch <-chan model.ChangeEvent) model.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return model.ChangeEvent{}
	}
}

func TestLocalBroker_FanOutByRelation(t *testing.T) {
	b := NewLocalBroker()
	likesA, cancelA := b.Subscribe(model.RelationLikes)
	defer cancelA()
	likesB, cancelB := b.Subscribe(model.RelationLikes)
	defer cancelB()
	comments, cancelC := b.Subscribe(model.RelationComments)
	defer cancelC()

	require.NoError(t, b.Publish(context.Background(), event(model.RelationLikes)))

	assert.Equal(t, model.RelationLikes, receive(t, likesA).Relation)
	assert.Equal(t, model.RelationLikes, receive(t, likesB).Relation)
	select {
	case ev := <-comments:
		t.Fatalf("comments subscriber got %v", ev)
	default:
	}
}

func TestLocalBroker_CancelClosesChannel(t *testing.T) {
	b := NewLocalBroker()
	ch, cancel := b.Subscribe(model.RelationPoems)
	assert.Equal(t, 1, b.Subscribers(model.RelationPoems))

	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers(model.RelationPoems))

	// Publishing with nobody listening is fine.
	assert.NoError(t, b.Publish(context.Background(), event(model.RelationPoems)))
}

func TestLocalBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewLocalBroker()
	ch, cancel := b.Subscribe(model.RelationLikes)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			_ = b.Publish(context.Background(), event(model.RelationLikes))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
}
