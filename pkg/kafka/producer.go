package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/vogiaan1904/runbattle/config"
)

func NewProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	saramaCfg, err := ProducerConfig(cfg)
	if err != nil {
		return nil, err
	}

	prod, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return prod, nil
}
