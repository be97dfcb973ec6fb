// Package app wires the engine, the ledger service and their collaborators from the
// environment. The API server and the cmd jobs all build through here.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mmdatafocus/rift_backend/config"
	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/repository"
	"github.com/mmdatafocus/rift_backend/storage"
	"github.com/mmdatafocus/rift_backend/vault"
	"github.com/mmdatafocus/rift_backend/verification"
	"github.com/mmdatafocus/rift_backend/workflow"
)

type Services struct {
	Policy     config.Policy
	Store      *repository.GormStore
	Engine     *workflow.Engine
	Ledger     *ledger.Service
	Sweeper    *workflow.Sweeper
	Dispatcher *workflow.OutboxDispatcher
}

// Build expects the database to be connected. Redis is optional: without it the engine runs
// with no snapshot cache and no distributed lock, and correctness rests on row locks.
func Build(ctx context.Context, db *gorm.DB, logger *logrus.Logger) (*Services, error) {
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	policy, err := config.LoadPolicy()
	if err != nil {
		return nil, err
	}

	gateway, err := paymentsGateway(policy)
	if err != nil {
		return nil, err
	}
	verifier, err := identityVerifier(policy)
	if err != nil {
		return nil, err
	}
	objects, err := objectStore(ctx, logger)
	if err != nil {
		return nil, err
	}
	sealer, err := vault.NewSealerFromEnv(!config.IsProduction())
	if err != nil {
		return nil, err
	}
	pipeline, err := verificationPipeline(policy, logger)
	if err != nil {
		return nil, err
	}

	store := repository.NewGormStore(db)
	engine := workflow.NewEngine(store, gateway, objects, sealer, pipeline, policy, logger)
	if rdb := config.GetRedisDB(); rdb != nil {
		engine.Cache = repository.NewSnapshotCache(rdb, 0, logger)
	}
	if rl := config.GetRedisLock(); rl != nil {
		engine.Locker = workflow.NewRedisLocker(rl)
	}

	return &Services{
		Policy:     policy,
		Store:      store,
		Engine:     engine,
		Ledger:     ledger.NewService(store, verifier, gateway, policy.WithdrawalRules(), logger),
		Sweeper:    workflow.NewSweeper(engine),
		Dispatcher: workflow.NewOutboxDispatcher(store, logger),
	}, nil
}

func objectStore(ctx context.Context, logger *logrus.Logger) (storage.ObjectStore, error) {
	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucket == "" {
		if config.IsProduction() {
			return nil, fmt.Errorf("GCS_BUCKET is required in production")
		}
		logger.WithFields(logrus.Fields{"field": "app"}).Warn("GCS_BUCKET not set; evidence objects are kept in memory")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewGCSStore(ctx, bucket)
}

func verificationPipeline(policy config.Policy, logger *logrus.Logger) (*verification.Pipeline, error) {
	a, err := verification.NewHTTPAnalyzerFromEnv(policy.ExternalCallTimeout)
	if err != nil {
		return nil, err
	}
	if a == nil {
		// Without a scorer every submission routes to manual review.
		logger.WithFields(logrus.Fields{"field": "app"}).Warn("EVIDENCE_ANALYZER_URL not set; evidence verification fails closed")
		return verification.NewPipeline(nil, policy.VerificationThresholds(), logger), nil
	}
	return verification.NewPipeline(a, policy.VerificationThresholds(), logger), nil
}
