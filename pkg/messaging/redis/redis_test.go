package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-booking/pkg/circuitbreaker"
	"github.com/jwalitptl/clinic-booking/pkg/logger"
	"github.com/jwalitptl/clinic-booking/pkg/messaging"
)

func newBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker(context.Background(), Config{URL: "redis://" + mr.Addr()}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	b, _ := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, "clinic:appointment.created", "clinic:payment.refunded")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "clinic:payment.refunded", []byte(`{"id":1}`)))
	require.NoError(t, b.Publish(ctx, "clinic:other", []byte(`{"id":2}`)))

	select {
	case msg := <-msgs:
		assert.Equal(t, messaging.Message{Channel: "clinic:payment.refunded", Payload: []byte(`{"id":1}`)}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	for range msgs {
	}
}

func TestRedisBroker_BadURL(t *testing.T) {
	_, err := NewRedisBroker(context.Background(), Config{URL: "not a url"}, logger.Nop())
	assert.Error(t, err)
}

func TestRedisBroker_PublishOpensBreaker(t *testing.T) {
	b, mr := newBroker(t)
	mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := b.Publish(ctx, "clinic:x", []byte("{}"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}
	assert.ErrorIs(t, b.Publish(ctx, "clinic:x", []byte("{}")), circuitbreaker.ErrOpen)
}
