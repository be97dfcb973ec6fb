package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/rift_backend/fees"
	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/scheduler"
	"github.com/mmdatafocus/rift_backend/verification"
)

// Policy holds every tunable business constant. It is loaded once at startup and passed
// explicitly to the engine, the ledger service and the sweeper.
type Policy struct {
	BuyerFeeRate  decimal.Decimal `env:"RIFT_BUYER_FEE_RATE"  envDefault:"0.03"`
	SellerFeeRate decimal.Decimal `env:"RIFT_SELLER_FEE_RATE" envDefault:"0.05"`

	AmountVarianceTolerance decimal.Decimal `env:"RIFT_AMOUNT_VARIANCE_TOLERANCE" envDefault:"0.05"`
	DateRecencyWindow       time.Duration   `env:"RIFT_DATE_RECENCY_WINDOW"       envDefault:"168h"`
	ReviewThreshold         int             `env:"RIFT_REVIEW_THRESHOLD"          envDefault:"70"`
	FailClosedScore         int             `env:"RIFT_FAIL_CLOSED_SCORE"         envDefault:"35"`

	DigitalGraceWindow           time.Duration `env:"RIFT_GRACE_DIGITAL"            envDefault:"24h"`
	OwnershipTransferGraceWindow time.Duration `env:"RIFT_GRACE_OWNERSHIP_TRANSFER" envDefault:"24h"`
	ServicesGraceWindow          time.Duration `env:"RIFT_GRACE_SERVICES"           envDefault:"24h"`
	PhysicalTransitWindow        time.Duration `env:"RIFT_GRACE_PHYSICAL_TRANSIT"   envDefault:"336h"`
	PhysicalDeliveredWindow      time.Duration `env:"RIFT_GRACE_PHYSICAL_DELIVERED" envDefault:"12h"`

	ExternalCallTimeout time.Duration `env:"RIFT_EXTERNAL_CALL_TIMEOUT" envDefault:"10s"`
	SignedURLTTL        time.Duration `env:"RIFT_SIGNED_URL_TTL"        envDefault:"15m"`

	MinWithdrawal        decimal.Decimal `env:"RIFT_MIN_WITHDRAWAL"         envDefault:"10"`
	FirstWithdrawalDelay time.Duration   `env:"RIFT_FIRST_WITHDRAWAL_DELAY" envDefault:"24h"`

	AutoReleaseBatchSize    int           `env:"RIFT_AUTO_RELEASE_BATCH_SIZE"    envDefault:"100"`
	AutoReleasePollInterval time.Duration `env:"RIFT_AUTO_RELEASE_POLL_INTERVAL" envDefault:"1m"`
	LockTTL                 time.Duration `env:"RIFT_LOCK_TTL"                   envDefault:"30s"`
}

// LoadPolicy parses RIFT_* env vars over the defaults and validates the result.
func LoadPolicy() (Policy, error) {
	var p Policy
	if err := env.Parse(&p); err != nil {
		return Policy{}, fmt.Errorf("parse policy env: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// DefaultPolicy returns the envDefault values without reading the process environment.
func DefaultPolicy() Policy {
	var p Policy
	if err := env.ParseWithOptions(&p, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("default policy: %v", err))
	}
	return p
}

func (p Policy) Validate() error {
	if err := p.FeeRates().Validate(); err != nil {
		return err
	}
	if err := p.GraceWindows().Validate(); err != nil {
		return err
	}
	if p.AmountVarianceTolerance.IsNegative() || p.AmountVarianceTolerance.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("amount variance tolerance must be in [0, 1)")
	}
	if p.ReviewThreshold < 0 || p.ReviewThreshold > 100 {
		return errors.New("review threshold must be in [0, 100]")
	}
	if p.FailClosedScore < 0 || p.FailClosedScore >= p.ReviewThreshold {
		return errors.New("fail-closed score must be below the review threshold")
	}
	if p.DateRecencyWindow <= 0 || p.ExternalCallTimeout <= 0 || p.SignedURLTTL <= 0 {
		return errors.New("recency window, external call timeout and signed url ttl must be positive")
	}
	if !p.MinWithdrawal.IsPositive() {
		return errors.New("minimum withdrawal must be positive")
	}
	if p.FirstWithdrawalDelay < 0 {
		return errors.New("first withdrawal delay must not be negative")
	}
	if p.AutoReleaseBatchSize <= 0 || p.AutoReleasePollInterval <= 0 {
		return errors.New("auto-release batch size and poll interval must be positive")
	}
	return nil
}

func (p Policy) FeeRates() fees.Rates {
	return fees.Rates{Buyer: p.BuyerFeeRate, Seller: p.SellerFeeRate}
}

func (p Policy) GraceWindows() scheduler.Windows {
	return scheduler.Windows{
		Digital:           p.DigitalGraceWindow,
		OwnershipTransfer: p.OwnershipTransferGraceWindow,
		Services:          p.ServicesGraceWindow,
		PhysicalTransit:   p.PhysicalTransitWindow,
		PhysicalDelivered: p.PhysicalDeliveredWindow,
	}
}

func (p Policy) VerificationThresholds() verification.Thresholds {
	th := verification.DefaultThresholds()
	th.AmountVarianceTolerance = p.AmountVarianceTolerance
	th.DateRecencyWindow = p.DateRecencyWindow
	th.ReviewThreshold = p.ReviewThreshold
	th.FailClosedScore = p.FailClosedScore
	th.AnalyzerTimeout = p.ExternalCallTimeout
	return th
}

func (p Policy) WithdrawalRules() ledger.Rules {
	return ledger.Rules{
		MinWithdrawal:        p.MinWithdrawal,
		FirstWithdrawalDelay: p.FirstWithdrawalDelay,
		ExternalCallTimeout:  p.ExternalCallTimeout,
	}
}
