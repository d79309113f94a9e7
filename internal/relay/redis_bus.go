package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

// DefaultChannel is the single pub/sub channel every instance listens on.
const DefaultChannel = "battle:relay"

type redisBus struct {
	cli     *redis.Client
	channel string
	l       logger.Logger
}

func NewRedisBus(cli *redis.Client, channel string, l logger.Logger) Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &redisBus{
		cli:     cli,
		channel: channel,
		l:       l,
	}
}

func (b *redisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal relay event: %w", err)
	}

	if err := b.cli.Publish(ctx, b.channel, data).Err(); err != nil {
		b.l.Errorf(ctx, "relay.redisBus.Publish: %v", err)
		return err
	}

	return nil
}

func (b *redisBus) Subscribe(ctx context.Context, handle func(Event)) error {
	ps := b.cli.Subscribe(ctx, b.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		b.l.Errorf(ctx, "relay.redisBus.Subscribe: %v", err)
		return err
	}

	b.l.Infof(ctx, "Relay subscribed to channel %s", b.channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.l.Warnf(ctx, "relay.redisBus.Subscribe skip message: %v", err)
				continue
			}
			handle(ev)
		}
	}
}
