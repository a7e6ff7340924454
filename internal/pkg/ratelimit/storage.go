package ratelimit

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/paysettle/internal/pkg/cache"
	"github.com/ManuelReschke/paysettle/internal/pkg/env"
)

// Database 0 holds the locks, counters and the job queue.
const defaultLimiterDatabase = 1

// NewStorage returns a Redis-backed store shared by all instances' rate limiters.
func NewStorage() fiber.Storage {
	// Reuse the address of the cache client
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: env.GetEnvInt("RATE_LIMIT_DB", defaultLimiterDatabase),
		Reset:    false,
	})
}
