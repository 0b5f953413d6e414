package config

// This file defines a Redis client constructor.  Redis backs the
// distributed lock, the priority streams, the request-status store and
// the notification pub/sub channels, so unlike optional caching a
// failed connection here is fatal to the caller.

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient instantiates a Redis client using environment
// variables REDIS_HOST, REDIS_PORT and REDIS_PASSWORD.  The connection
// is verified with a short ping before the client is returned.
func NewRedisClient() (*redis.Client, error) {
	host := getenv("REDIS_HOST", "localhost")
	port := getenv("REDIS_PORT", "6379")

	client := redis.NewClient(&redis.Options{
		Addr:     host + ":" + port,
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
