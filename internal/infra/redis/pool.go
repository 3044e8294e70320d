package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/lloydmeta/feedsync/internal/config"
)

type RedisErr struct {
	Op         string
	Underlying error
}

func (e RedisErr) Error() string {
	return fmt.Sprintf("Error from Redis when trying to [%s]: %v", e.Op, e.Underlying)
}

func (e RedisErr) Unwrap() error {
	return e.Underlying
}

// NewPool returns a connection pool based on the given conf
func NewPool(conf config.Redis) *redis.Pool {
	idleTimeout := conf.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 5 * time.Minute
	}
	maxIdle := conf.MaxIdle
	if maxIdle == 0 {
		maxIdle = 3
	}
	return &redis.Pool{
		MaxIdle:     maxIdle,
		IdleTimeout: idleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", conf.Address)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}
