package relay

import (
	"context"
	"encoding/json"

	"github.com/vogiaan1904/runbattle/internal/metrics"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

// Publisher sends state changes to the bus. Failures are logged and counted
// but never returned, so they cannot affect the caller's state.
type Publisher interface {
	Publish(ctx context.Context, dest string, payload any)
	Ranking(ctx context.Context, bID string, payload any)
	Notice(ctx context.Context, bID string, payload any)
	Complete(ctx context.Context, bID string, payload any)
	Match(ctx context.Context, uID string, payload any)
}

type busPublisher struct {
	bus Bus
	l   logger.Logger
}

func NewPublisher(bus Bus, l logger.Logger) Publisher {
	return &busPublisher{
		bus: bus,
		l:   l,
	}
}

func (p *busPublisher) Publish(ctx context.Context, dest string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.RelayPublishFailed.Inc()
		p.l.Errorf(ctx, "relay.busPublisher.Publish: %v", err)
		return
	}

	if err := p.bus.Publish(ctx, Event{Destination: dest, Payload: data}); err != nil {
		metrics.RelayPublishFailed.Inc()
		p.l.Warnf(ctx, "relay.busPublisher.Publish dest=%s: %v", dest, err)
		return
	}

	metrics.RelayPublished.Inc()
}

func (p *busPublisher) Ranking(ctx context.Context, bID string, payload any) {
	p.Publish(ctx, RankingDestination(bID), payload)
}

func (p *busPublisher) Notice(ctx context.Context, bID string, payload any) {
	p.Publish(ctx, NoticeDestination(bID), payload)
}

func (p *busPublisher) Complete(ctx context.Context, bID string, payload any) {
	p.Publish(ctx, CompleteDestination(bID), payload)
}

func (p *busPublisher) Match(ctx context.Context, uID string, payload any) {
	p.Publish(ctx, MatchDestination(uID), payload)
}
