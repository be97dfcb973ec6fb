package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/repository"
	"github.com/mmdatafocus/rift_backend/scheduler"
	"github.com/mmdatafocus/rift_backend/storage"
	"github.com/mmdatafocus/rift_backend/vault"
	"github.com/mmdatafocus/rift_backend/verification"
)

const (
	MaxEvidenceBytes  = 25 << 20
	priorArtifactScan = 200
)

type ProofInput struct {
	Kind        models.AssetKind
	ContentType string
	FileName    string
	Data        []byte
}

func (in *ProofInput) validate() error {
	in.ContentType = strings.TrimSpace(in.ContentType)
	in.FileName = strings.TrimSpace(in.FileName)
	if !in.Kind.IsValid() {
		return models.NewValidationError("kind", "is not a supported evidence kind")
	}
	if len(in.Data) == 0 {
		return models.NewValidationError("data", "is required")
	}
	if len(in.Data) > MaxEvidenceBytes {
		return models.NewValidationError("data", "exceeds the 25 MiB evidence limit")
	}
	if in.Kind.IsBinary() && in.ContentType == "" {
		return models.NewValidationError("content_type", "is required for file evidence")
	}
	if in.Kind == models.AssetKindURL {
		u := strings.ToLower(strings.TrimSpace(string(in.Data)))
		if !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
			return models.NewValidationError("data", "must be an http or https URL")
		}
	}
	if !in.Kind.IsBinary() && in.ContentType == "" {
		in.ContentType = "text/plain"
	}
	return nil
}

// ProofOutcome is what the seller sees after submitting evidence.
type ProofOutcome struct {
	Transaction *models.Transaction `json:"transaction"`
	Asset       *models.VaultAsset  `json:"asset"`
	Result      verification.Result `json:"verification"`
}

// SubmitProof stores the seller's evidence, runs it through verification and advances the
// transaction. Evidence that passes arms auto-release; anything else waits in UNDER_REVIEW.
// Verification never fails the submission; storage outages do.
func (e *Engine) SubmitProof(ctx context.Context, actor models.Actor, id string, in ProofInput) (*ProofOutcome, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	pre, _, err := e.precheck(ctx, actor, id, OpSubmitProof)
	if err != nil {
		return nil, err
	}

	asset := &models.VaultAsset{
		ID:            uuid.NewString(),
		TransactionId: id,
		UploaderId:    actor.UserId,
		Kind:          in.Kind,
		ContentHash:   vault.ContentHash(in.Data),
		ContentType:   in.ContentType,
		FileName:      in.FileName,
		SizeBytes:     int64(len(in.Data)),
	}
	result, err := e.verify(ctx, pre, asset, in.Data)
	if err != nil {
		return nil, err
	}
	if err := e.custody(ctx, asset, in.Data); err != nil {
		return nil, err
	}

	t, err := e.transition(ctx, actor, id, OpSubmitProof, func(s *step) error {
		now := s.now
		if err := s.repo.CreateVaultAsset(s.ctx, asset); err != nil {
			return err
		}
		if err := s.repo.AppendVaultEvent(s.ctx, &models.VaultEvent{
			TransactionId: id,
			AssetId:       asset.ID,
			AssetHash:     asset.ContentHash,
			ActorId:       actor.UserId,
			ActorRole:     s.party,
			Action:        models.VaultActionUploaded,
			OccurredAt:    now,
		}); err != nil {
			return err
		}
		s.tx.ProofSubmittedAt = &now
		if result.Passed() {
			s.tx.Status = models.TransactionStatusProofSubmitted
			if s.tx.ItemKind == models.ItemKindPhysical {
				s.tx.Status = models.TransactionStatusInTransit
			}
			arm(s.tx, e.deadline(s.tx, s.tx.Status, now))
		} else {
			s.tx.Status = models.TransactionStatusUnderReview
			disarm(s.tx)
			s.tx.GracePeriodDeadline = nil
		}
		s.note("asset_id", asset.ID)
		s.note("score", result.Score)
		s.note("route_to_review", result.RouteToReview)
		s.note("flags", result.Flags)
		s.announce(models.EventProofSubmitted)
		return nil
	})
	if err != nil {
		e.discardEvidence(ctx, asset)
		return nil, err
	}
	return &ProofOutcome{Transaction: t, Asset: asset, Result: result}, nil
}

// verify scores the artifact against the transaction and the seller's earlier evidence and
// records the verdict on asset.
func (e *Engine) verify(ctx context.Context, t *models.Transaction, asset *models.VaultAsset, data []byte) (verification.Result, error) {
	ctx, span := e.startSpan(ctx, OpSubmitProof+".verify", t.ID)
	defer span.End()

	history, err := e.Store.ListSellerAssets(ctx, t.SellerId, t.ID, priorArtifactScan)
	if err != nil {
		return verification.Result{}, err
	}
	priors := make([]verification.PriorArtifact, 0, len(history))
	for _, h := range history {
		priors = append(priors, verification.PriorArtifact{
			AssetId:         h.ID,
			TransactionId:   h.TransactionId,
			Kind:            h.Kind,
			ContentType:     h.ContentType,
			ContentHash:     h.ContentHash,
			ImageHash:       h.ImageHash,
			TextFingerprint: h.TextFingerprint,
		})
	}
	art := verification.Artifact{
		Kind:        asset.Kind,
		ContentType: asset.ContentType,
		FileName:    asset.FileName,
		Data:        data,
		ContentHash: asset.ContentHash,
	}
	vctx := verification.Context{
		TransactionId: t.ID,
		SellerId:      t.SellerId,
		ItemKind:      t.ItemKind,
		Subtotal:      t.Subtotal,
		Currency:      t.Currency,
		SubmittedAt:   e.now(),
	}
	res := e.Verifier.Verify(ctx, art, vctx, priors)

	asset.QualityScore = res.Score
	asset.RouteToReview = res.RouteToReview
	asset.ImageHash = res.ImageHash
	asset.TextFingerprint = res.TextFingerprint
	asset.ScanStatus = models.ScanStatusVerified
	if res.RouteToReview {
		asset.ScanStatus = models.ScanStatusFlagged
	}
	if asset.Flags, err = json.Marshal(res.Flags); err != nil {
		return verification.Result{}, err
	}
	if asset.ExtractedData, err = json.Marshal(res.Extraction); err != nil {
		return verification.Result{}, err
	}
	return res, nil
}

// custody puts binary evidence in object storage and seals inline secrets.
func (e *Engine) custody(ctx context.Context, asset *models.VaultAsset, data []byte) error {
	if asset.Kind.IsBinary() {
		callCtx, cancel := e.callCtx(ctx)
		defer cancel()
		key := storage.EvidenceObjectKey(asset.TransactionId, asset.ID, asset.FileName)
		pointer, err := e.Objects.Store(callCtx, key, data, asset.ContentType)
		if err != nil {
			return e.external("storage", OpSubmitProof, err)
		}
		asset.StoragePointer = pointer
		return nil
	}
	sealed, err := e.Sealer.Seal(data, asset.TransactionId)
	if err != nil {
		return err
	}
	asset.SealedPayload = sealed
	return nil
}

// discardEvidence removes an uploaded object whose asset row never committed.
func (e *Engine) discardEvidence(ctx context.Context, asset *models.VaultAsset) {
	if asset.StoragePointer == "" {
		return
	}
	callCtx, cancel := e.callCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := e.Objects.Delete(callCtx, asset.StoragePointer); err != nil {
		e.logger().WithFields(logrus.Fields{
			"field":          "workflow",
			"operation":      OpSubmitProof,
			"transaction_id": asset.TransactionId,
			"asset_id":       asset.ID,
			"pointer":        asset.StoragePointer,
		}).Error("orphaned evidence object: " + err.Error())
	}
}

// ApproveProof is the reviewer accepting flagged evidence. assetId may be empty to approve the latest upload.
func (e *Engine) ApproveProof(ctx context.Context, actor models.Actor, id, assetId, notes string) (*models.Transaction, error) {
	return e.transition(ctx, actor, id, OpApproveProof, func(s *step) error {
		asset, err := reviewedAsset(s, assetId)
		if err != nil {
			return err
		}
		asset.ScanStatus = models.ScanStatusVerified
		asset.RouteToReview = false
		if err := s.repo.UpdateVaultAssetScan(s.ctx, asset); err != nil {
			return err
		}
		s.tx.Status = models.TransactionStatusProofSubmitted
		if s.tx.ItemKind == models.ItemKindPhysical {
			s.tx.Status = models.TransactionStatusInTransit
		}
		arm(s.tx, e.deadline(s.tx, s.tx.Status, s.now))
		s.note("asset_id", asset.ID)
		if notes = strings.TrimSpace(notes); notes != "" {
			s.note("notes", notes)
		}
		s.announce(models.EventProofApproved)
		return nil
	})
}

// RejectProof sends the transaction back to the seller for new evidence.
func (e *Engine) RejectProof(ctx context.Context, actor models.Actor, id, assetId, reason string) (*models.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.NewValidationError("reason", "is required")
	}
	return e.transition(ctx, actor, id, OpRejectProof, func(s *step) error {
		asset, err := reviewedAsset(s, assetId)
		if err != nil {
			return err
		}
		s.tx.Status = models.TransactionStatusAwaitingShipment
		disarm(s.tx)
		s.tx.GracePeriodDeadline = nil
		s.note("asset_id", asset.ID)
		s.note("reason", reason)
		s.announce(models.EventProofRejected)
		return nil
	})
}

func reviewedAsset(s *step, assetId string) (*models.VaultAsset, error) {
	if assetId != "" {
		a, err := s.repo.GetVaultAsset(s.ctx, assetId)
		if err != nil {
			return nil, err
		}
		if a.TransactionId != s.tx.ID {
			return nil, models.ErrNotFound
		}
		return a, nil
	}
	assets, err := s.repo.ListVaultAssets(s.ctx, s.tx.ID)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, models.ErrNotFound
	}
	// oldest first
	latest := assets[len(assets)-1]
	return &latest, nil
}

// ConfirmDelivery is the carrier (or the buyer) reporting a physical item delivered.
// The deadline restarts with the shorter delivered window.
func (e *Engine) ConfirmDelivery(ctx context.Context, actor models.Actor, id string) (*models.Transaction, error) {
	return e.transition(ctx, actor, id, OpConfirmDelivery, func(s *step) error {
		s.tx.Status = models.TransactionStatusDeliveredPendingRelease
		arm(s.tx, e.deadline(s.tx, s.tx.Status, s.now))
		s.announce(models.EventDeliveryConfirmed)
		return nil
	})
}

type ClientInfo struct {
	IP        string
	UserAgent string
}

// VaultAccess is the content handed to a party opening evidence. Exactly one of URL or Payload is set.
type VaultAccess struct {
	Asset     *models.VaultAsset `json:"asset"`
	URL       string             `json:"url,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	Payload   string             `json:"payload,omitempty"`
	// DeadlineExtended is set when this access pushed the auto-release deadline out.
	DeadlineExtended bool `json:"deadline_extended"`
}

// RecordVaultAccess logs a party opening evidence and returns its content. The buyer's first
// access to each asset on an armed transaction extends the deadline to at least access time plus the review window.
func (e *Engine) RecordVaultAccess(ctx context.Context, actor models.Actor, id, assetId string, action models.VaultAction, client ClientInfo) (out *VaultAccess, err error) {
	if !action.IsBuyerAccess() {
		return nil, models.NewValidationError("action", "must be OPENED, REVEALED or DOWNLOADED")
	}
	if _, _, err := e.precheck(ctx, actor, id, OpRecordVaultAccess); err != nil {
		return nil, err
	}
	asset, err := e.Store.GetVaultAsset(ctx, assetId)
	if err != nil {
		return nil, err
	}
	if asset.TransactionId != id {
		return nil, models.ErrNotFound
	}
	out, err = e.openAsset(ctx, asset)
	if err != nil {
		return nil, err
	}

	ctx, span := e.startSpan(ctx, OpRecordVaultAccess, id)
	defer func() { endSpan(span, err) }()
	unlock := e.lock(ctx, id)
	defer unlock()

	correlationId := models.CorrelationIdFromContextOrNew(ctx)
	err = e.Store.WithinTx(ctx, func(r repository.Repo) error {
		t, err := r.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		party, err := guard(OpRecordVaultAccess, t, actor)
		if err != nil {
			return err
		}
		now := e.now()
		first := false
		if party == models.PartyBuyer {
			seen, err := r.HasBuyerAccess(ctx, id, asset.ID, actor.UserId)
			if err != nil {
				return err
			}
			first = !seen
		}
		ev := &models.VaultEvent{
			TransactionId:     id,
			AssetId:           asset.ID,
			AssetHash:         asset.ContentHash,
			ActorId:           actor.UserId,
			ActorRole:         party,
			Action:            action,
			ClientFingerprint: vault.ClientFingerprint(client.IP, client.UserAgent),
			OccurredAt:        now,
		}
		if err := r.AppendVaultEvent(ctx, ev); err != nil {
			return err
		}
		if first && t.AutoReleaseArmed {
			window := e.Policy.GraceWindows().AccessWindow(t.ItemKind)
			extended := scheduler.ExtendOnAccess(t.GracePeriodDeadline, now, window)
			if t.GracePeriodDeadline == nil || extended.After(*t.GracePeriodDeadline) {
				previous := t.GracePeriodDeadline
				t.GracePeriodDeadline = &extended
				if err := r.UpdateTransaction(ctx, t, t.Status, t.Version); err != nil {
					return err
				}
				detail := map[string]any{"asset_id": asset.ID, "deadline": extended}
				if previous != nil {
					detail["previous_deadline"] = *previous
				}
				if err := appendEvent(ctx, r, t, OpRecordVaultAccess, t.Status, actor, party, detail, correlationId, now); err != nil {
					return err
				}
				out.DeadlineExtended = true
			}
		}
		msg, err := models.NewOutboxMessage(ctx, models.EventVaultAccessed, models.AggregateTransaction, id, ev, now)
		if err != nil {
			return err
		}
		msg.CorrelationId = correlationId
		return r.EnqueueOutbox(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	if out.DeadlineExtended {
		e.Cache.Invalidate(ctx, id)
	}
	e.logger().WithFields(logrus.Fields{
		"field":          "workflow",
		"operation":      OpRecordVaultAccess,
		"transaction_id": id,
		"asset_id":       asset.ID,
		"action":         action,
		"extended":       out.DeadlineExtended,
	}).Info("vault access recorded")
	return out, nil
}

func (e *Engine) openAsset(ctx context.Context, asset *models.VaultAsset) (*VaultAccess, error) {
	out := &VaultAccess{Asset: asset}
	switch {
	case asset.StoragePointer != "":
		callCtx, cancel := e.callCtx(ctx)
		defer cancel()
		ttl := e.Policy.SignedURLTTL
		url, err := e.Objects.SignedURL(callCtx, asset.StoragePointer, ttl)
		if err != nil {
			return nil, e.external("storage", OpRecordVaultAccess, err)
		}
		expires := e.now().Add(ttl)
		out.URL = url
		out.ExpiresAt = &expires
	case len(asset.SealedPayload) > 0:
		plain, err := e.Sealer.Open(asset.SealedPayload, asset.TransactionId)
		if err != nil {
			return nil, err
		}
		out.Payload = string(plain)
	}
	return out, nil
}
