package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/config"
	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/utils"
)

func (h *Handler) sweep(c *gin.Context) {
	report, err := h.Sweeper.SweepOnce(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) tick(c *gin.Context) {
	res, err := h.Engine.AutoReleaseTick(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) dispatchPayouts(c *gin.Context) {
	n, err := h.Ledger.DispatchDuePayouts(c.Request.Context(), limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatched": n})
}

type chargebackRequest struct {
	TransactionId string `json:"transaction_id" validate:"required"`
	Reason        string `json:"reason" validate:"required,max=2000"`
}

func (h *Handler) recordChargeback(c *gin.Context) {
	var req chargebackRequest
	if !h.bind(c, &req) {
		return
	}
	entry, err := h.Ledger.RecordChargeback(c.Request.Context(), actor(c), req.TransactionId, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type adjustmentRequest struct {
	UserId   string          `json:"user_id" validate:"required,max=64"`
	Currency string          `json:"currency" validate:"required,len=3"`
	Amount   decimal.Decimal `json:"amount"`
	Memo     string          `json:"memo" validate:"required,max=500"`
}

func (h *Handler) recordAdjustment(c *gin.Context) {
	var req adjustmentRequest
	if !h.bind(c, &req) {
		return
	}
	entry, err := h.Ledger.RecordAdjustment(c.Request.Context(), actor(c), req.UserId, req.Currency, req.Amount, req.Memo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type outboxReplayRequest struct {
	// Ids limits the replay; empty replays every FAILED or DEAD row.
	Ids []int `json:"ids" validate:"max=500,dive,gt=0"`
}

func (h *Handler) replayOutbox(c *gin.Context) {
	if actor(c).Role != models.RoleAdmin {
		writeError(c, &models.UnauthorizedError{Operation: "ReplayOutbox", Required: []models.Party{models.PartyAdmin}})
		return
	}
	var req outboxReplayRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	n, err := h.Engine.Store.ReplayOutbox(c.Request.Context(), req.Ids)
	if err != nil {
		writeError(c, err)
		return
	}
	h.Logger.WithFields(logrus.Fields{
		"field":    "replayOutbox",
		"admin_id": actor(c).UserId,
		"replayed": n,
	}).Info("outbox replay requested")
	c.JSON(http.StatusOK, gin.H{"replayed": n, "publish_status": models.OutboxPublishStatusPending})
}

func (h *Handler) listOutbox(c *gin.Context) {
	status := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	if status == "" {
		status = models.OutboxPublishStatusDead
	}
	msgs, err := h.Engine.Store.ListOutbox(c.Request.Context(), status, limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type pubSubPush struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// pushTokenMatches is false when no token is configured, so an unset token closes the endpoint.
func pushTokenMatches(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// payoutStatusPush receives payout status reports from the payout subsystem's Pub/Sub push
// subscription. Poisoned messages are acked with 204; a 500 asks Pub/Sub to redeliver.
func (h *Handler) payoutStatusPush(c *gin.Context) {
	if !pushTokenMatches(h.PushToken, c.Query("token")) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	logger := h.Logger

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		config.LogError(logger, "handlers", "payoutStatusPush", "io.ReadAll", nil, err)
		c.Status(http.StatusNoContent)
		return
	}
	var push pubSubPush
	if err := json.Unmarshal(body, &push); err != nil {
		config.LogError(logger, "handlers", "payoutStatusPush", "Unmarshal body", string(body), err)
		c.Status(http.StatusNoContent)
		return
	}
	var rep ledger.PayoutStatusReport
	if err := json.Unmarshal(push.Message.Data, &rep); err != nil {
		config.LogError(logger, "handlers", "payoutStatusPush", "Unmarshal report", string(push.Message.Data), err)
		c.Status(http.StatusNoContent)
		return
	}
	if rep.MessageId == "" {
		rep.MessageId = push.Message.ID
	}
	rep.Status = models.PayoutStatus(strings.ToUpper(strings.TrimSpace(string(rep.Status))))

	ctx := utils.SetCorrelationIdInContext(c.Request.Context(), rep.MessageId)
	err = h.Ledger.ApplyPayoutStatus(ctx, rep)

	var (
		validation *models.ValidationError
		conflict   *models.ConflictError
	)
	fields := logrus.Fields{
		"field":      "payoutStatusPush",
		"payout_id":  rep.PayoutId,
		"status":     rep.Status,
		"message_id": rep.MessageId,
	}
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.As(err, &validation), errors.As(err, &conflict), errors.Is(err, models.ErrNotFound):
		logger.WithFields(fields).Warn("dropping payout status report: " + err.Error())
		c.Status(http.StatusNoContent)
	default:
		logger.WithFields(fields).Error("payout status report failed: " + err.Error())
		c.Status(http.StatusInternalServerError)
	}
}
