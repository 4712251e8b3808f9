package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsAllHandlersDespiteErrors(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	var calls []string
	d.Subscribe(EventTaskExecuted, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("webhook down")
	})
	d.Subscribe(EventTaskExecuted, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(EventTaskCreated, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{ID: "e1", Type: EventTaskExecuted}))
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestRedisPublisherWithoutClientIsNoop(t *testing.T) {
	var p *RedisPublisher
	assert.NoError(t, p.Handle(context.Background(), Event{Type: EventTaskCreated}))
	assert.NoError(t, NewRedisPublisher(nil, "helpdesk:events").Handle(context.Background(), Event{}))
}
