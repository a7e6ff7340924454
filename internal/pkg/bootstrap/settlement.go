// Package bootstrap assembles the settlement service for the server, the cron
// runner and the admin CLI from the shared database and Redis handles.
package bootstrap

import (
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/paysettle/internal/pkg/audit"
	"github.com/ManuelReschke/paysettle/internal/pkg/env"
	"github.com/ManuelReschke/paysettle/internal/pkg/gateway"
	"github.com/ManuelReschke/paysettle/internal/pkg/jobqueue"
	"github.com/ManuelReschke/paysettle/internal/pkg/lock"
	"github.com/ManuelReschke/paysettle/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/paysettle/internal/pkg/settlement"
)

const defaultSweepMinAge = 30 * time.Minute

// Settlement holds the assembled service and the collaborators callers need directly.
type Settlement struct {
	Service  *settlement.Service
	Gateway  *gateway.Client
	Outcomes *counter.Outcomes
	Jobs     *jobqueue.Manager
}

// NewSettlement wires the gateway client, the Redis collaborators and the GORM store.
func NewSettlement(db *gorm.DB, rdb *redis.Client) *Settlement {
	gw := gateway.NewClientFromEnv()
	if err := gw.Ready(); err != nil {
		// Not fatal: checkout and callbacks answer config_error until fixed.
		log.Errorf("[Bootstrap] gateway not configured: %v", err)
	}

	outcomes := counter.NewOutcomes(rdb)
	jobs := jobqueue.GetManager(rdb)
	jobs.GetQueue().RegisterReleaseHandler(gw)

	opts := settlement.VerifierOptions{
		Locker:   lock.New(rdb),
		Outcomes: outcomes,
		Releases: jobs.GetQueue(),
	}
	// A nil *Archiver must not end up in the interface.
	if archiver := audit.FromEnv(); archiver != nil {
		opts.Audit = archiver
	}

	return &Settlement{
		Service:  settlement.NewServiceFromDB(db, gw, opts),
		Gateway:  gw,
		Outcomes: outcomes,
		Jobs:     jobs,
	}
}

// SweepMinAge is how long a checkout may stay pending before the sweep re-queries it.
func SweepMinAge() time.Duration {
	return time.Duration(env.GetEnvInt("SWEEP_MIN_AGE_MINUTES", int(defaultSweepMinAge/time.Minute))) * time.Minute
}

// SweepLimit bounds the orders checked per sweep run.
func SweepLimit() int {
	return env.GetEnvInt("SWEEP_BATCH_SIZE", 200)
}
