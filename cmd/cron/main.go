package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ManuelReschke/paysettle/internal/pkg/audit"
	"github.com/ManuelReschke/paysettle/internal/pkg/bootstrap"
	"github.com/ManuelReschke/paysettle/internal/pkg/cache"
	"github.com/ManuelReschke/paysettle/internal/pkg/database"
	"github.com/ManuelReschke/paysettle/internal/pkg/env"
	"github.com/ManuelReschke/paysettle/internal/pkg/lock"
)

const sweepLockKey = "paysettle:cron:sweep"

func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	settle := bootstrap.NewSettlement(database.GetDB(), cache.GetClient())
	// Only one cron replica sweeps at a time; the others skip the tick.
	sweepLock := lock.New(cache.GetClient()).WithTries(1).WithExpiry(10 * time.Minute)
	archiver := audit.FromEnv()

	sweepSpec := env.GetEnv("SWEEP_CRON", "0 */5 * * * *")
	outcomeSpec := env.GetEnv("OUTCOME_REPORT_CRON", "0 5 0 * * *")
	minAge := bootstrap.SweepMinAge()
	limit := bootstrap.SweepLimit()

	// Scheduler with seconds precision
	cronScheduler := cron.New(cron.WithSeconds())

	// 1. Stale pending sweep
	_, err := cronScheduler.AddFunc(sweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		unlock, err := sweepLock.Lock(ctx, sweepLockKey)
		if err != nil {
			log.Printf("[CRON] Sweep already running elsewhere, skipping: %v", err)
			return
		}
		defer unlock()

		log.Println("[CRON] Starting stale pending sweep...")
		report, err := settle.Service.Sweeper.Run(ctx, minAge, limit)
		if err != nil {
			log.Printf("[CRON] Sweep failed: %v", err)
			return
		}
		log.Printf("[CRON] Sweep finished: checked=%d settled=%d cancelled=%d failed=%d reconcile=%d skipped=%d errors=%d",
			report.Checked, report.Settled, report.Cancelled, report.Failed, report.Reconcile, report.Skipped, report.Errors)
	})
	if err != nil {
		log.Fatalf("Failed to add sweep job (%s): %v", sweepSpec, err)
	}

	// 2. Daily outcome report: drain the counters and archive the totals
	_, err = cronScheduler.AddFunc(outcomeSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		counts, err := settle.Outcomes.Drain(ctx)
		if err != nil {
			log.Printf("[CRON] Reading outcome counters failed: %v", err)
			return
		}
		log.Printf("[CRON] Callback outcomes since last report: %v", counts)
		if archiver == nil || len(counts) == 0 {
			return
		}
		if err := archiver.Archive(ctx, "outcome_report", map[string]any{
			"until":    time.Now().UTC(),
			"outcomes": counts,
		}); err != nil {
			log.Printf("[CRON] Archiving outcome report failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to add outcome report job (%s): %v", outcomeSpec, err)
	}

	cronScheduler.Start()
	log.Println("========================================")
	log.Println("Cron jobs started successfully")
	log.Println("Scheduled jobs:")
	log.Printf("  - Stale pending sweep: %s (older than %s, %d per run)", sweepSpec, minAge, limit)
	log.Printf("  - Outcome report:      %s", outcomeSpec)
	log.Println("========================================")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")
	stopCtx := cronScheduler.Stop()
	select {
	case <-stopCtx.Done():
		log.Println("All cron jobs finished")
	case <-time.After(30 * time.Second):
		log.Println("Timed out waiting for cron jobs")
	}
	cache.Close()
}
