package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/workflow"
)

type openDisputeRequest struct {
	Reason   string   `json:"reason" validate:"required"`
	Summary  string   `json:"summary" validate:"required,max=5000"`
	Evidence []string `json:"evidence" validate:"max=20,dive,max=1024"`
}

func (h *Handler) openDispute(c *gin.Context) {
	var req openDisputeRequest
	if !h.bind(c, &req) {
		return
	}
	t, d, err := h.Engine.OpenDispute(c.Request.Context(), actor(c), c.Param("id"), workflow.DisputeInput{
		Reason:   models.DisputeReason(strings.ToUpper(strings.TrimSpace(req.Reason))),
		Summary:  req.Summary,
		Evidence: req.Evidence,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": view(t), "dispute": d})
}

func (h *Handler) beginDisputeReview(c *gin.Context) {
	d, err := h.Engine.BeginDisputeReview(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type disputeInfoRequest struct {
	Question string `json:"question" validate:"required,max=2000"`
}

func (h *Handler) requestDisputeInfo(c *gin.Context) {
	var req disputeInfoRequest
	if !h.bind(c, &req) {
		return
	}
	d, err := h.Engine.RequestDisputeInfo(c.Request.Context(), actor(c), c.Param("id"), req.Question)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type disputeEvidenceRequest struct {
	Reference string `json:"reference" validate:"required,max=1024"`
	Note      string `json:"note" validate:"max=2000"`
}

func (h *Handler) addDisputeEvidence(c *gin.Context) {
	var req disputeEvidenceRequest
	if !h.bind(c, &req) {
		return
	}
	d, err := h.Engine.AddDisputeEvidence(c.Request.Context(), actor(c), c.Param("id"), workflow.EvidenceInput{
		Reference: req.Reference,
		Note:      req.Note,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type resolveDisputeRequest struct {
	Outcome string `json:"outcome" validate:"required"`
	Notes   string `json:"notes" validate:"max=5000"`
}

func (h *Handler) resolveDispute(c *gin.Context) {
	var req resolveDisputeRequest
	if !h.bind(c, &req) {
		return
	}
	t, d, err := h.Engine.ResolveDispute(c.Request.Context(), actor(c), c.Param("id"),
		models.DisputeOutcome(strings.ToUpper(strings.TrimSpace(req.Outcome))), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": view(t), "dispute": d})
}
