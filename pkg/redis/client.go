package redis

import (
	"github.com/redis/go-redis/v9"
	"github.com/vogiaan1904/runbattle/config"
)

// NewClient builds a client without contacting the server. The relay bus
// holds one connection open for its subscription, so the pool keeps at
// least one spare on top of MinIdleConns.
func NewClient(cfg config.RedisConfig) *redis.Client {
	poolSize := cfg.PoolSize
	if poolSize <= cfg.MinIdleConns {
		poolSize = cfg.MinIdleConns + 1
	}

	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     poolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.ReadTimeout,
	})
}
