// Command auto-release-tick runs one auto-release sweep, or ticks a single transaction with -id.
// Schedule it from cron when AUTO_RELEASE_IN_PROCESS=false.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmdatafocus/rift_backend/app"
	"github.com/mmdatafocus/rift_backend/config"
)

func main() {
	id := flag.String("id", "", "Optional: tick only this transaction id")
	batch := flag.Int("batch", 0, "Optional: sweep batch size (defaults to RIFT_AUTO_RELEASE_BATCH_SIZE)")
	redisWait := flag.Duration("redis-wait", 15*time.Second, "How long to wait for redis before running without it")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	redisCtx, cancel := context.WithTimeout(ctx, *redisWait)
	config.ConnectRedisWithRetry(redisCtx)
	cancel()

	svc, err := app.Build(ctx, config.GetDB(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		os.Exit(1)
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	if *id != "" {
		res, err := svc.Engine.AutoReleaseTick(ctx, *id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tick %s: %v\n", *id, err)
			os.Exit(1)
		}
		_ = out.Encode(res)
		return
	}

	if *batch > 0 {
		svc.Sweeper.BatchSize = *batch
	}
	report, err := svc.Sweeper.SweepOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
		os.Exit(1)
	}
	_ = out.Encode(report)
	if !report.Ran {
		fmt.Fprintln(os.Stderr, "another sweep holds the lock; nothing done")
	}
	if report.Errors > 0 {
		os.Exit(2)
	}
}
