// Package handlers is the REST surface over the lifecycle engine and the wallet service.
// Handlers translate requests into engine calls; no route accepts a target status.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/middlewares"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/workflow"
)

const maxListLimit = 200

type Handler struct {
	Engine  *workflow.Engine
	Ledger  *ledger.Service
	Sweeper *workflow.Sweeper
	Logger  *logrus.Logger
	// PushToken must match the token query parameter on Pub/Sub push requests. Empty rejects every push.
	PushToken string

	validate *validator.Validate
}

func New(engine *workflow.Engine, ledgerSvc *ledger.Service, sweeper *workflow.Sweeper, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		Engine:   engine,
		Ledger:   ledgerSvc,
		Sweeper:  sweeper,
		Logger:   logger,
		validate: validator.New(),
	}
}

// Register mounts every route. AuthMiddleware must already be installed on r.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api/v1", middlewares.RequireAuth())
	{
		api.POST("/transactions", h.createTransaction)
		api.GET("/transactions", h.listTransactions)
		api.POST("/transactions/join", h.joinTransaction)
		api.GET("/transactions/:id", h.getTransaction)
		api.GET("/transactions/:id/detail", h.getDetail)
		api.GET("/transactions/:id/invite", h.inviteCode)
		api.POST("/transactions/:id/fund", h.fund)
		api.POST("/transactions/:id/acknowledge", h.acknowledge)
		api.POST("/transactions/:id/proofs", h.submitProof)
		api.POST("/transactions/:id/proofs/:assetId/approve", h.approveProof)
		api.POST("/transactions/:id/proofs/:assetId/reject", h.rejectProof)
		api.POST("/transactions/:id/vault/:assetId", h.vaultAccess)
		api.POST("/transactions/:id/confirm-delivery", h.confirmDelivery)
		api.POST("/transactions/:id/release", h.release)
		api.POST("/transactions/:id/cancel", h.cancel)

		api.POST("/transactions/:id/dispute", h.openDispute)
		api.POST("/transactions/:id/dispute/review", h.beginDisputeReview)
		api.POST("/transactions/:id/dispute/info", h.requestDisputeInfo)
		api.POST("/transactions/:id/dispute/evidence", h.addDisputeEvidence)
		api.POST("/transactions/:id/dispute/resolve", h.resolveDispute)

		api.GET("/wallet", h.wallet)
		api.GET("/wallet/entries", h.ledgerEntries)
		api.GET("/wallet/statement", h.statement)
		api.POST("/withdrawals", h.requestWithdrawal)
		api.GET("/payouts", h.listPayouts)
		api.GET("/payout-profile", h.getPayoutProfile)
		api.PUT("/payout-profile", h.updatePayoutProfile)
	}

	internal := r.Group("/internal", middlewares.RequireAuth(models.RoleAdmin, models.RoleSystem))
	{
		internal.POST("/auto-release/sweep", h.sweep)
		internal.POST("/auto-release/:id/tick", h.tick)
		internal.POST("/payouts/dispatch", h.dispatchPayouts)
		internal.POST("/transactions/:id/payout-scheduled", h.markPayoutScheduled)
		internal.POST("/transactions/:id/paid-out", h.markPaidOut)
		internal.POST("/chargebacks", h.recordChargeback)
		internal.POST("/adjustments", h.recordAdjustment)
		internal.POST("/ops/outbox/replay", h.replayOutbox)
		internal.GET("/ops/outbox", h.listOutbox)
	}

	// Pub/Sub push carries no bearer token; it is checked against PushToken instead.
	r.POST("/pubsub/payout-status", h.payoutStatusPush)
}

func actor(c *gin.Context) models.Actor {
	a, _ := middlewares.ActorFromContext(c.Request.Context())
	return a
}

// bind decodes the JSON body into req and runs its validate tags.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, models.NewValidationError("body", "is not valid JSON"))
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(c, models.NewValidationError(jsonName(fe.Field()), "failed the "+fe.Tag()+" rule"))
			return false
		}
		writeError(c, err)
		return false
	}
	return true
}

func jsonName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// writeError is the one place domain errors become HTTP responses.
func writeError(c *gin.Context, err error) {
	var (
		invalid     *models.InvalidTransitionError
		unauth      *models.UnauthorizedError
		validation  *models.ValidationError
		external    *models.ExternalServiceError
		conflict    *models.ConflictError
		eligibility *ledger.EligibilityError
	)
	switch {
	case errors.As(err, &invalid):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":          invalid.Error(),
			"current_status": invalid.Current,
			"allowed":        invalid.Allowed,
		})
	case errors.As(err, &conflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case errors.As(err, &unauth):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": unauth.Error()})
	case errors.As(err, &validation):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.As(err, &eligibility):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": eligibility.Error(), "missing": eligibility.Missing})
	case errors.As(err, &external):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": external.Service + " is unavailable", "retryable": true})
	case errors.Is(err, models.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
