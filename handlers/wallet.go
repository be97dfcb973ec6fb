package handlers

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/repository"
)

const (
	statementEntryLimit = 10000
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// subject is the wallet owner a request is about: the caller, or ?user_id= for admins.
func subject(c *gin.Context) string {
	if id := strings.TrimSpace(c.Query("user_id")); id != "" {
		return id
	}
	return actor(c).UserId
}

func (h *Handler) wallet(c *gin.Context) {
	userId := subject(c)
	balances, err := h.Ledger.Wallet(c.Request.Context(), actor(c), userId)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userId, "balances": balances})
}

func timeParam(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, models.NewValidationError(key, "must be RFC3339 or YYYY-MM-DD")
}

func ledgerFilter(c *gin.Context) (repository.LedgerFilter, error) {
	f := repository.LedgerFilter{
		UserId:        subject(c),
		Currency:      strings.ToUpper(strings.TrimSpace(c.Query("currency"))),
		TransactionId: c.Query("transaction_id"),
		Limit:         limitParam(c),
	}
	var err error
	if f.Since, err = timeParam(c, "since"); err != nil {
		return f, err
	}
	if f.Until, err = timeParam(c, "until"); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handler) ledgerEntries(c *gin.Context) {
	f, err := ledgerFilter(c)
	if err != nil {
		writeError(c, err)
		return
	}
	entries, err := h.Ledger.Entries(c.Request.Context(), actor(c), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// statement streams the wallet's entries as an XLSX workbook. The balances sheet covers the
// requested window only.
func (h *Handler) statement(c *gin.Context) {
	f, err := ledgerFilter(c)
	if err != nil {
		writeError(c, err)
		return
	}
	f.Limit = statementEntryLimit
	entries, err := h.Ledger.Entries(c.Request.Context(), actor(c), f)
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := ledger.WriteStatement(&buf, f.UserId, entries); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="statement-`+time.Now().UTC().Format("20060102")+`.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

type withdrawalRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,len=3"`
}

func (h *Handler) requestWithdrawal(c *gin.Context) {
	var req withdrawalRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := h.Ledger.RequestWithdrawal(c.Request.Context(), actor(c), req.Amount, req.Currency)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) listPayouts(c *gin.Context) {
	payouts, err := h.Ledger.Payouts(c.Request.Context(), actor(c), subject(c), limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": payouts})
}

func (h *Handler) getPayoutProfile(c *gin.Context) {
	p, err := h.Ledger.PayoutProfile(c.Request.Context(), actor(c), subject(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type payoutProfileRequest struct {
	PhoneNumber     string `json:"phone_number" validate:"max=32"`
	PhoneRegion     string `json:"phone_region" validate:"omitempty,len=2"`
	DefaultCurrency string `json:"default_currency" validate:"omitempty,len=3"`
}

func (h *Handler) updatePayoutProfile(c *gin.Context) {
	var req payoutProfileRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := h.Ledger.UpdatePayoutProfile(c.Request.Context(), actor(c), ledger.ProfileInput{
		PhoneNumber:     req.PhoneNumber,
		PhoneRegion:     req.PhoneRegion,
		DefaultCurrency: req.DefaultCurrency,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
