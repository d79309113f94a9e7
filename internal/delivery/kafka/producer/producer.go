package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	kafka "github.com/vogiaan1904/runbattle/internal/delivery/kafka"
	"github.com/vogiaan1904/runbattle/pkg/logger"
	"github.com/vogiaan1904/runbattle/pkg/util"
)

type Producer interface {
	PublishBattleStarted(ctx context.Context, event kafka.BattleStartedEvent) error
	PublishBattleCompleted(ctx context.Context, event kafka.BattleCompletedEvent) error
	PublishBattleCancelled(ctx context.Context, event kafka.BattleCancelledEvent) error
	Close() error
}

type implProducer struct {
	l    logger.Logger
	prod sarama.SyncProducer
}

func NewProducer(prod sarama.SyncProducer, l logger.Logger) Producer {
	return &implProducer{
		l:    l,
		prod: prod,
	}
}

func (p *implProducer) PublishBattleStarted(ctx context.Context, event kafka.BattleStartedEvent) error {
	event.Timestamp = time.Now()
	return p.send(ctx, kafka.TopicBattleStarted, event.BattleID, event)
}

func (p *implProducer) PublishBattleCompleted(ctx context.Context, event kafka.BattleCompletedEvent) error {
	event.Timestamp = time.Now()
	return p.send(ctx, kafka.TopicBattleCompleted, event.BattleID, event)
}

func (p *implProducer) PublishBattleCancelled(ctx context.Context, event kafka.BattleCancelledEvent) error {
	event.Timestamp = time.Now()
	return p.send(ctx, kafka.TopicBattleCancelled, event.BattleID, event)
}

// send partitions by battle id so events of one battle stay ordered.
func (p *implProducer) send(ctx context.Context, topic, key string, event any) error {
	val, err := json.Marshal(event)
	if err != nil {
		p.l.Errorf(ctx, "delivery.kafka.producer.send: %v", err)
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(val),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("timestamp"),
				Value: []byte(util.TimeToISO8601Str(time.Now().UTC())),
			},
		},
	}

	if _, _, err := p.prod.SendMessage(msg); err != nil {
		p.l.Errorf(ctx, "delivery.kafka.producer.send topic=%s: %v", topic, err)
		return err
	}

	return nil
}

func (p *implProducer) Close() error {
	if err := p.prod.Close(); err != nil {
		return err
	}

	return nil
}
