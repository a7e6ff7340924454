package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/paysettle/internal/pkg/cache"
)

const OutcomesKey = "payment:outcomes"

// Outcomes counts settlement outcomes in a Redis hash, one field per outcome code.
type Outcomes struct {
	rdb *redis.Client
	key string
}

func NewOutcomes(rdb *redis.Client) *Outcomes {
	return &Outcomes{rdb: rdb, key: OutcomesKey}
}

// NewOutcomesWithKey is used by tests to isolate the hash.
func NewOutcomesWithKey(rdb *redis.Client, key string) *Outcomes {
	return &Outcomes{rdb: rdb, key: key}
}

// Default uses the shared cache client.
func Default() *Outcomes {
	return NewOutcomes(cache.GetClient())
}

// Record increments the counter for outcome. Failures are logged, never returned:
// counting must not change the result of a callback.
func (o *Outcomes) Record(ctx context.Context, outcome string) {
	if o == nil || o.rdb == nil || outcome == "" {
		return
	}
	if err := o.rdb.HIncrBy(ctx, o.key, outcome, 1).Err(); err != nil {
		log.Warnf("[Counter] Failed to record outcome %s: %v", outcome, err)
	}
}

// Snapshot returns the current counters.
func (o *Outcomes) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := o.rdb.HGetAll(ctx, o.key).Result()
	if err != nil {
		return nil, err
	}
	return parseCounts(data), nil
}

// Drain atomically moves the hash aside and returns its counts.
// Increments arriving during the drain land in a fresh hash.
func (o *Outcomes) Drain(ctx context.Context) (map[string]int64, error) {
	tmpKey := fmt.Sprintf("%s:tmp:%d", o.key, time.Now().UnixNano())
	if err := o.rdb.Rename(ctx, o.key, tmpKey).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	defer o.rdb.Del(ctx, tmpKey)

	data, err := o.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return nil, err
	}
	return parseCounts(data), nil
}

func parseCounts(data map[string]string) map[string]int64 {
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out
}
