package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vogiaan1904/runbattle/config"
	pkgRedis "github.com/vogiaan1904/runbattle/pkg/redis"
)

const (
	connectAttempts = 3
	connectBackoff  = 200 * time.Millisecond
)

// Connect pings until the server answers, backing off linearly between
// attempts.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	cli := pkgRedis.NewClient(cfg)

	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = cli.Ping(ctx).Err(); err == nil {
			log.Printf("Connected to Redis at %s.", cfg.Addr)
			return cli, nil
		}

		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			cli.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * connectBackoff):
		}
	}

	cli.Close()
	return nil, fmt.Errorf("failed to ping Redis after %d attempts: %w", connectAttempts, err)
}

func Disconnect(cli *redis.Client) {
	if cli == nil {
		return
	}

	cli.Close()

	log.Println("Connection to Redis closed.")
}
