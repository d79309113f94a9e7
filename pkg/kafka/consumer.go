package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/vogiaan1904/runbattle/config"
)

func NewConsumer(cfg config.KafkaConfig) (sarama.ConsumerGroup, error) {
	saramaCfg, err := ConsumerConfig(cfg)
	if err != nil {
		return nil, err
	}

	consGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	return consGroup, nil
}
