package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/vogiaan1904/runbattle/config"
)

const clientID = "battle-service"

func newSaramaConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = clientID

	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version %q: %w", cfg.Version, err)
		}
		saramaCfg.Version = v
	}

	return saramaCfg, nil
}

// ProducerConfig hashes message keys, so every event of one battle lands on
// the same partition.
func ProducerConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	saramaCfg, err := newSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	saramaCfg.Producer.RequiredAcks = sarama.RequiredAcks(cfg.ProducerRequiredAcks)
	saramaCfg.Producer.Retry.Max = cfg.ProducerRetryMax
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	return saramaCfg, saramaCfg.Validate()
}

func ConsumerConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	saramaCfg, err := newSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true

	return saramaCfg, saramaCfg.Validate()
}
