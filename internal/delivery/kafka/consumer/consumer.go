package consumer

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
	"github.com/vogiaan1904/runbattle/internal/delivery/kafka"
	"github.com/vogiaan1904/runbattle/internal/metrics"
	"github.com/vogiaan1904/runbattle/internal/service"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

type Consumer struct {
	consGr    sarama.ConsumerGroup
	battleSvc service.BattleService
	mmSvc     service.MatchmakingService
	l         logger.Logger
	wg        sync.WaitGroup
}

func NewConsumer(
	consGr sarama.ConsumerGroup,
	battleSvc service.BattleService,
	mmSvc service.MatchmakingService,
	l logger.Logger,
) *Consumer {
	return &Consumer{
		consGr:    consGr,
		battleSvc: battleSvc,
		mmSvc:     mmSvc,
		l:         l,
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	switch msg.Topic {
	case kafka.TopicMatchFormed:
		return c.HandleMatchFormed(ctx, msg)
	case kafka.TopicRecruitClosed:
		return c.HandleRecruitClosed(ctx, msg)
	default:
		c.l.Warnf(ctx, "Unknown topic %s", msg.Topic)
		return nil
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	topics := []string{kafka.TopicMatchFormed, kafka.TopicRecruitClosed}
	c.wg.Go(func() {
		for {
			if err := c.consGr.Consume(ctx, topics, c); err != nil {
				c.l.Errorf(ctx, "delivery.kafka.consumer.consumer.Start: %v", err)
			}

			if ctx.Err() != nil {
				c.l.Infof(ctx, "delivery.kafka.consumer.consumer.Start: %v", ctx.Err())
				return
			}
		}
	})

	c.wg.Go(func() {
		for err := range c.consGr.Errors() {
			c.l.Errorf(ctx, "delivery.kafka.consumer.consumer.Start: %v", err)
		}
	})

	c.l.Infof(ctx, "Consumer is consuming topics: %v", topics)
	return nil
}

func (c *Consumer) Close() error {
	if err := c.consGr.Close(); err != nil {
		return err
	}

	c.wg.Wait()
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.l.Debug(context.Background(), "Consumer group session started")
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.l.Debug(context.Background(), "Consumer group session ended")
	return nil
}

func (c *Consumer) ConsumeClaim(ss sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			ctx := c.l.WithFields(ss.Context(),
				"topic", message.Topic,
				"partition", message.Partition,
				"offset", message.Offset,
			)
			if err := c.processMessage(ctx, message); err != nil {
				metrics.KafkaConsumed.WithLabelValues(message.Topic, "retry").Inc()
				c.l.Errorf(ctx, "delivery.kafka.consumer.consumer.ConsumeClaim: %v", err)
				continue
			}

			metrics.KafkaConsumed.WithLabelValues(message.Topic, "ok").Inc()
			ss.MarkMessage(message, "")

		case <-ss.Context().Done():
			return nil
		}
	}
}
