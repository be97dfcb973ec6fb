package handlers

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/utils"
	"github.com/mmdatafocus/rift_backend/workflow"
)

// transactionView adds the label the apps show next to the canonical status.
type transactionView struct {
	*models.Transaction
	DisplayStatus string `json:"display_status"`
}

func view(t *models.Transaction) transactionView {
	return transactionView{Transaction: t, DisplayStatus: models.DisplayStatus(t.Status)}
}

func respond(c *gin.Context, t *models.Transaction, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view(t))
}

type createTransactionRequest struct {
	ItemKind    string          `json:"item_kind" validate:"required"`
	Title       string          `json:"title" validate:"required,max=255"`
	Description string          `json:"description" validate:"max=5000"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Currency    string          `json:"currency" validate:"required,len=3"`
	SellerId    string          `json:"seller_id" validate:"max=64"`
}

func (h *Handler) createTransaction(c *gin.Context) {
	var req createTransactionRequest
	if !h.bind(c, &req) {
		return
	}
	t, err := h.Engine.CreateTransaction(c.Request.Context(), actor(c), workflow.CreateInput{
		ItemKind:    models.ItemKind(strings.ToUpper(strings.TrimSpace(req.ItemKind))),
		Title:       req.Title,
		Description: req.Description,
		Subtotal:    req.Subtotal,
		Currency:    req.Currency,
		SellerId:    req.SellerId,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view(t))
}

func (h *Handler) listTransactions(c *gin.Context) {
	list, err := h.Engine.ListTransactions(c.Request.Context(), actor(c), limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]transactionView, 0, len(list))
	for i := range list {
		out = append(out, view(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func (h *Handler) getTransaction(c *gin.Context) {
	t, err := h.Engine.GetTransaction(c.Request.Context(), actor(c), c.Param("id"))
	respond(c, t, err)
}

func (h *Handler) getDetail(c *gin.Context) {
	d, err := h.Engine.GetDetail(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction": view(d.Transaction),
		"assets":      d.Assets,
		"disputes":    d.Disputes,
		"events":      d.Events,
	})
}

func (h *Handler) inviteCode(c *gin.Context) {
	code, err := h.Engine.InviteCode(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invite_code": code})
}

type joinRequest struct {
	InviteCode string `json:"invite_code" validate:"required"`
}

func (h *Handler) joinTransaction(c *gin.Context) {
	var req joinRequest
	if !h.bind(c, &req) {
		return
	}
	t, err := h.Engine.JoinTransaction(c.Request.Context(), actor(c), req.InviteCode)
	respond(c, t, err)
}

func (h *Handler) fund(c *gin.Context) {
	t, err := h.Engine.Fund(c.Request.Context(), actor(c), c.Param("id"))
	respond(c, t, err)
}

func (h *Handler) acknowledge(c *gin.Context) {
	t, err := h.Engine.AcknowledgeOrder(c.Request.Context(), actor(c), c.Param("id"))
	respond(c, t, err)
}

type proofRequest struct {
	Kind        string `json:"kind" validate:"required"`
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
	// Data is the text evidence itself, or base64 when Encoding is "base64".
	Data     string `json:"data" validate:"required"`
	Encoding string `json:"encoding" validate:"omitempty,oneof=base64 text"`
}

// submitProof accepts either a multipart upload (file, kind) or a JSON body.
func (h *Handler) submitProof(c *gin.Context) {
	var in workflow.ProofInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, workflow.MaxEvidenceBytes+1<<20)
		fh, err := c.FormFile("file")
		if err != nil {
			writeError(c, models.NewValidationError("file", "is required"))
			return
		}
		if fh.Size > workflow.MaxEvidenceBytes {
			writeError(c, models.NewValidationError("file", "exceeds the 25 MiB evidence limit"))
			return
		}
		f, err := fh.Open()
		if err != nil {
			writeError(c, err)
			return
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, workflow.MaxEvidenceBytes+1))
		if err != nil {
			writeError(c, err)
			return
		}
		kind := c.PostForm("kind")
		if kind == "" {
			kind = string(models.AssetKindFile)
		}
		in = workflow.ProofInput{
			Kind:        models.AssetKind(strings.ToUpper(kind)),
			ContentType: fh.Header.Get("Content-Type"),
			FileName:    fh.Filename,
			Data:        data,
		}
	} else {
		var req proofRequest
		if !h.bind(c, &req) {
			return
		}
		data := []byte(req.Data)
		if req.Encoding == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(req.Data)
			if err != nil {
				writeError(c, models.NewValidationError("data", "is not valid base64"))
				return
			}
			data = decoded
		}
		in = workflow.ProofInput{
			Kind:        models.AssetKind(strings.ToUpper(strings.TrimSpace(req.Kind))),
			ContentType: req.ContentType,
			FileName:    req.FileName,
			Data:        data,
		}
	}

	out, err := h.Engine.SubmitProof(c.Request.Context(), actor(c), c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transaction":  view(out.Transaction),
		"asset":        out.Asset,
		"verification": out.Result,
	})
}

type notesRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

func (h *Handler) approveProof(c *gin.Context) {
	var req notesRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	t, err := h.Engine.ApproveProof(c.Request.Context(), actor(c), c.Param("id"), c.Param("assetId"), req.Notes)
	respond(c, t, err)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

func (h *Handler) rejectProof(c *gin.Context) {
	var req reasonRequest
	if !h.bind(c, &req) {
		return
	}
	t, err := h.Engine.RejectProof(c.Request.Context(), actor(c), c.Param("id"), c.Param("assetId"), req.Reason)
	respond(c, t, err)
}

type vaultAccessRequest struct {
	Action string `json:"action" validate:"required"`
}

func (h *Handler) vaultAccess(c *gin.Context) {
	var req vaultAccessRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	ip, _ := utils.GetClientIPFromContext(ctx)
	ua, _ := utils.GetUserAgentFromContext(ctx)
	out, err := h.Engine.RecordVaultAccess(ctx, actor(c), c.Param("id"), c.Param("assetId"),
		models.VaultAction(strings.ToUpper(strings.TrimSpace(req.Action))), workflow.ClientInfo{IP: ip, UserAgent: ua})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) confirmDelivery(c *gin.Context) {
	t, err := h.Engine.ConfirmDelivery(c.Request.Context(), actor(c), c.Param("id"))
	respond(c, t, err)
}

func (h *Handler) release(c *gin.Context) {
	t, err := h.Engine.Release(c.Request.Context(), actor(c), c.Param("id"))
	respond(c, t, err)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

func (h *Handler) cancel(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	t, err := h.Engine.Cancel(c.Request.Context(), actor(c), c.Param("id"), req.Reason)
	respond(c, t, err)
}

func (h *Handler) markPayoutScheduled(c *gin.Context) {
	t, err := h.Engine.MarkPayoutScheduled(c.Request.Context(), actor(c), c.Param("id"))
	respond(c, t, err)
}

func (h *Handler) markPaidOut(c *gin.Context) {
	t, err := h.Engine.MarkPaidOut(c.Request.Context(), actor(c), c.Param("id"))
	respond(c, t, err)
}
