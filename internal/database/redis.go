package database

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis wraps the redis client used for quota accounting.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis using a URL (redis://host:port/db).
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	log.Info().Msg("Redis connection established")

	return &Redis{Client: client}, nil
}

// Close closes the redis connection.
func (r *Redis) Close() {
	if err := r.Client.Close(); err != nil {
		log.Warn().Err(err).Msg("Redis close failed")
	}
}
