package workflow

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// SweepLockName is the advisory lock that keeps one sweep running across the cluster.
const SweepLockName = "rift:auto-release-sweep"

// SweepReport summarizes one sweep.
type SweepReport struct {
	Ran      bool         `json:"ran"`
	Examined int          `json:"examined"`
	Released int          `json:"released"`
	Results  []TickResult `json:"results,omitempty"`
	Errors   int          `json:"errors"`
}

type Sweeper struct {
	Engine       *Engine
	BatchSize    int
	PollInterval time.Duration
}

func NewSweeper(engine *Engine) *Sweeper {
	return &Sweeper{
		Engine:       engine,
		BatchSize:    engine.Policy.AutoReleaseBatchSize,
		PollInterval: engine.Policy.AutoReleasePollInterval,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.Engine.logger().WithFields(logrus.Fields{"field": "AutoReleaseSweeper"}).Errorf("sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// SweepOnce ticks every due transaction in one batch. A sweep already running elsewhere makes
// this a no-op with Ran false. Errors on single transactions are logged and counted, not returned.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	batch := s.BatchSize
	if batch <= 0 {
		batch = 100
	}
	acquired, err := s.Engine.Store.WithAdvisoryLock(ctx, SweepLockName, func(ctx context.Context) error {
		due, err := s.Engine.Store.ListDueAutoRelease(ctx, s.Engine.now(), batch)
		if err != nil {
			return err
		}
		for _, t := range due {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.Examined++
			res, err := s.Engine.AutoReleaseTick(ctx, t.ID)
			if err != nil {
				report.Errors++
				s.Engine.logger().WithFields(logrus.Fields{
					"field":          "AutoReleaseSweeper",
					"transaction_id": t.ID,
				}).Warnf("auto-release tick failed: %v", err)
				continue
			}
			if res.Outcome == TickReleased {
				report.Released++
			}
			report.Results = append(report.Results, res)
		}
		return nil
	})
	report.Ran = acquired
	if err != nil {
		return report, err
	}
	if acquired && report.Examined > 0 {
		s.Engine.logger().WithFields(logrus.Fields{
			"field":    "AutoReleaseSweeper",
			"examined": report.Examined,
			"released": report.Released,
			"errors":   report.Errors,
		}).Info("auto-release sweep finished")
	}
	return report, nil
}
