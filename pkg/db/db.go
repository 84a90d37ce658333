// pkg/db/db.go
package db

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"kcsession/pkg/config"
)

// MustRedis connects to the session cache backend. A nil client means the
// in-memory cache should be used.
func MustRedis(cfg config.Config, log *zap.SugaredLogger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalw("redis parse", "err", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(context.Background()).Err(); err != nil {
		log.Fatalw("redis ping", "err", err, "url", redactURL(cfg.RedisURL))
	}
	log.Infow("redis ready", "addr", opts.Addr)
	return cli
}

func redactURL(u string) string {
	if i := strings.Index(u, "@"); i > 0 {
		scheme := ""
		if j := strings.Index(u, "://"); j > 0 && j < i {
			scheme = u[:j+3]
		}
		return scheme + "***@" + u[i+1:]
	}
	return u
}
