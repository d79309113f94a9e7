package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

func TestHubDeliverToDestinationOnly(t *testing.T) {
	hub := NewHub()
	a := hub.Register("a", RankingDestination("b1"))
	b := hub.Register("b", RankingDestination("b2"))
	defer hub.Unregister(a)
	defer hub.Unregister(b)

	hub.Deliver(Event{Destination: RankingDestination("b1"), Payload: json.RawMessage(`{"n":1}`)})

	select {
	case msg := <-a.Send:
		assert.JSONEq(t, `{"n":1}`, string(msg.Payload))
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}

	select {
	case <-b.Send:
		t.Fatal("unexpected delivery to other destination")
	default:
	}
}

func TestHubDropsOnFullBuffer(t *testing.T) {
	hub := NewHub()
	c := hub.Register("a", NoticeDestination("b1"))
	defer hub.Unregister(c)

	for i := 0; i < clientBuffer+10; i++ {
		hub.Deliver(Event{Destination: NoticeDestination("b1"), Payload: json.RawMessage(`{}`)})
	}

	assert.Len(t, c.Send, clientBuffer)
}

func TestHubSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub()
	c := hub.Register("a")

	hub.Subscribe(c, CompleteDestination("b1"))
	hub.Subscribe(c, MatchDestination("u1"))
	assert.Equal(t, 1, hub.Subscribers(CompleteDestination("b1")))

	hub.Unsubscribe(c, CompleteDestination("b1"))
	assert.Zero(t, hub.Subscribers(CompleteDestination("b1")))

	hub.Unregister(c)
	assert.Zero(t, hub.Subscribers(MatchDestination("u1")))

	_, ok := <-c.Send
	assert.False(t, ok, "expected channel closed")
}

func TestRedisBusRelaysAcrossHubs(t *testing.T) {
	s := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer cli.Close()

	l := logger.InitializeTestZapLogger()
	bus := NewRedisBus(cli, "", l)

	// Two instances sharing one bus; the socket lives on the second.
	local := NewHub()
	remote := NewHub()
	ws := remote.Register("ws", RankingDestination("b1"))
	defer remote.Unregister(ws)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- local.Run(ctx, bus) }()
	go func() { done <- remote.Run(ctx, bus) }()

	require.Eventually(t, func() bool {
		return s.PubSubNumSub(DefaultChannel)[DefaultChannel] == 2
	}, time.Second, 10*time.Millisecond)

	pub := NewPublisher(bus, l)
	pub.Ranking(ctx, "b1", map[string]int{"rank": 1})
	pub.Ranking(ctx, "b1", map[string]int{"rank": 2})

	for _, want := range []string{`{"rank":1}`, `{"rank":2}`} {
		select {
		case msg := <-ws.Send:
			assert.JSONEq(t, want, string(msg.Payload))
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for relayed message")
		}
	}

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not stop")
		}
	}
}

type failingBus struct {
	calls int
}

func (b *failingBus) Publish(ctx context.Context, ev Event) error {
	b.calls++
	return errors.New("bus down")
}

func (b *failingBus) Subscribe(ctx context.Context, handle func(Event)) error {
	<-ctx.Done()
	return nil
}

func TestPublisherSwallowsFailures(t *testing.T) {
	bus := &failingBus{}
	pub := NewPublisher(bus, logger.InitializeTestZapLogger())

	assert.NotPanics(t, func() {
		pub.Notice(context.Background(), "b1", map[string]string{"type": "READY"})
		pub.Publish(context.Background(), "/topic/x", make(chan int))
	})
	assert.Equal(t, 1, bus.calls)
}

func TestDestinations(t *testing.T) {
	assert.Equal(t, "/topic/battle/b1/ranking", RankingDestination("b1"))
	assert.Equal(t, "/topic/battle/b1/notice", NoticeDestination("b1"))
	assert.Equal(t, "/topic/battle/b1/complete", CompleteDestination("b1"))
	assert.Equal(t, "/topic/user/u1/match", MatchDestination("u1"))
}
