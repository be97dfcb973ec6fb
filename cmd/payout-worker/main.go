// Command payout-worker hands due PENDING payouts to the payout rail. With -once it runs a
// single pass; otherwise it polls until stopped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/app"
	"github.com/mmdatafocus/rift_backend/config"
)

func main() {
	once := flag.Bool("once", false, "Run one pass and exit")
	limit := flag.Int("limit", 100, "Payouts per pass")
	interval := flag.Duration("interval", time.Minute, "Delay between passes")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	svc, err := app.Build(ctx, config.GetDB(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		os.Exit(1)
	}

	for {
		n, err := svc.Ledger.DispatchDuePayouts(ctx, *limit)
		if err != nil {
			config.LogError(logger, "payout-worker", "main", "DispatchDuePayouts", nil, err)
			if *once {
				os.Exit(1)
			}
		} else {
			logger.WithFields(logrus.Fields{"field": "payout-worker", "dispatched": n}).Info("payout pass finished")
		}
		if *once {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
		}
	}
}
