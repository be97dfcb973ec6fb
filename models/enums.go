package models

import (
	"encoding/json"
	"errors"
	"strings"
)

type ItemKind string

const (
	ItemKindPhysical          ItemKind = "PHYSICAL"
	ItemKindDigital           ItemKind = "DIGITAL"
	ItemKindOwnershipTransfer ItemKind = "OWNERSHIP_TRANSFER"
	ItemKindServices          ItemKind = "SERVICES"
)

func (k ItemKind) IsValid() bool {
	switch k {
	case ItemKindPhysical, ItemKindDigital, ItemKindOwnershipTransfer, ItemKindServices:
		return true
	}
	return false
}

// convert input to enum type
func (k *ItemKind) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("item kind must be string")
	}
	v := ItemKind(strings.ToUpper(strings.TrimSpace(str)))
	if !v.IsValid() {
		return errors.New("invalid item kind")
	}
	*k = v
	return nil
}

type TransactionStatus string

const (
	TransactionStatusDraft                   TransactionStatus = "DRAFT"
	TransactionStatusAwaitingPayment         TransactionStatus = "AWAITING_PAYMENT"
	TransactionStatusFunded                  TransactionStatus = "FUNDED"
	TransactionStatusAwaitingShipment        TransactionStatus = "AWAITING_SHIPMENT"
	TransactionStatusProofSubmitted          TransactionStatus = "PROOF_SUBMITTED"
	TransactionStatusUnderReview             TransactionStatus = "UNDER_REVIEW"
	TransactionStatusInTransit               TransactionStatus = "IN_TRANSIT"
	TransactionStatusDeliveredPendingRelease TransactionStatus = "DELIVERED_PENDING_RELEASE"
	TransactionStatusReleased                TransactionStatus = "RELEASED"
	TransactionStatusDisputed                TransactionStatus = "DISPUTED"
	TransactionStatusResolved                TransactionStatus = "RESOLVED"
	TransactionStatusPayoutScheduled         TransactionStatus = "PAYOUT_SCHEDULED"
	TransactionStatusPaidOut                 TransactionStatus = "PAID_OUT"
	TransactionStatusRefunded                TransactionStatus = "REFUNDED"
	TransactionStatusCancelled               TransactionStatus = "CANCELLED"
)

// AllTransactionStatuses lists the canonical lifecycle in declaration order.
var AllTransactionStatuses = []TransactionStatus{
	TransactionStatusDraft,
	TransactionStatusAwaitingPayment,
	TransactionStatusFunded,
	TransactionStatusAwaitingShipment,
	TransactionStatusProofSubmitted,
	TransactionStatusUnderReview,
	TransactionStatusInTransit,
	TransactionStatusDeliveredPendingRelease,
	TransactionStatusReleased,
	TransactionStatusDisputed,
	TransactionStatusResolved,
	TransactionStatusPayoutScheduled,
	TransactionStatusPaidOut,
	TransactionStatusRefunded,
	TransactionStatusCancelled,
}

func (s TransactionStatus) IsValid() bool {
	for _, v := range AllTransactionStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports statuses from which no lifecycle transition leads back into escrow.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusReleased, TransactionStatusPayoutScheduled, TransactionStatusPaidOut,
		TransactionStatusRefunded, TransactionStatusCancelled:
		return true
	}
	return false
}

// IsReleased covers RELEASED and its payout descendants.
func (s TransactionStatus) IsReleased() bool {
	switch s {
	case TransactionStatusReleased, TransactionStatusPayoutScheduled, TransactionStatusPaidOut:
		return true
	}
	return false
}

// IsFunded reports whether money has been captured and the status is not yet terminal.
func (s TransactionStatus) IsFunded() bool {
	switch s {
	case TransactionStatusDraft, TransactionStatusAwaitingPayment, TransactionStatusCancelled:
		return false
	}
	return !s.IsTerminal()
}

type Role string

const (
	RoleUser   Role = "USER"
	RoleAdmin  Role = "ADMIN"
	RoleSystem Role = "SYSTEM"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Party is the capacity in which an actor touches a transaction.
type Party string

const (
	PartyBuyer  Party = "BUYER"
	PartySeller Party = "SELLER"
	PartyAdmin  Party = "ADMIN"
	PartySystem Party = "SYSTEM"
)

type AssetKind string

const (
	AssetKindFile           AssetKind = "FILE"
	AssetKindLicenseKey     AssetKind = "LICENSE_KEY"
	AssetKindTrackingNumber AssetKind = "TRACKING_NUMBER"
	AssetKindURL            AssetKind = "URL"
	AssetKindText           AssetKind = "TEXT"
	AssetKindTicketProof    AssetKind = "TICKET_PROOF"
)

func (k AssetKind) IsValid() bool {
	switch k {
	case AssetKindFile, AssetKindLicenseKey, AssetKindTrackingNumber, AssetKindURL, AssetKindText, AssetKindTicketProof:
		return true
	}
	return false
}

// IsBinary reports kinds whose content lives in object storage rather than sealed inline.
func (k AssetKind) IsBinary() bool {
	return k == AssetKindFile || k == AssetKindTicketProof
}

func (k *AssetKind) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("asset kind must be string")
	}
	v := AssetKind(strings.ToUpper(strings.TrimSpace(str)))
	if !v.IsValid() {
		return errors.New("invalid asset kind")
	}
	*k = v
	return nil
}

type ScanStatus string

const (
	ScanStatusPending  ScanStatus = "PENDING"
	ScanStatusVerified ScanStatus = "VERIFIED"
	ScanStatusFlagged  ScanStatus = "FLAGGED"
)

type VaultAction string

const (
	VaultActionUploaded   VaultAction = "UPLOADED"
	VaultActionOpened     VaultAction = "OPENED"
	VaultActionRevealed   VaultAction = "REVEALED"
	VaultActionDownloaded VaultAction = "DOWNLOADED"
)

// IsBuyerAccess reports actions that count as the buyer reviewing evidence.
func (a VaultAction) IsBuyerAccess() bool {
	return a == VaultActionOpened || a == VaultActionRevealed || a == VaultActionDownloaded
}

func (a *VaultAction) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("vault action must be string")
	}
	v := VaultAction(strings.ToUpper(strings.TrimSpace(str)))
	if !v.IsBuyerAccess() {
		return errors.New("invalid vault action")
	}
	*a = v
	return nil
}

type DisputeStatus string

const (
	DisputeStatusDraft          DisputeStatus = "DRAFT"
	DisputeStatusNeedsInfo      DisputeStatus = "NEEDS_INFO"
	DisputeStatusSubmitted      DisputeStatus = "SUBMITTED"
	DisputeStatusUnderReview    DisputeStatus = "UNDER_REVIEW"
	DisputeStatusResolvedBuyer  DisputeStatus = "RESOLVED_BUYER"
	DisputeStatusResolvedSeller DisputeStatus = "RESOLVED_SELLER"
	DisputeStatusResolved       DisputeStatus = "RESOLVED"
)

func (s DisputeStatus) IsResolved() bool {
	switch s {
	case DisputeStatusResolvedBuyer, DisputeStatusResolvedSeller, DisputeStatusResolved:
		return true
	}
	return false
}

type DisputeReason string

const (
	DisputeReasonNotReceived             DisputeReason = "NOT_RECEIVED"
	DisputeReasonNotAsDescribed          DisputeReason = "NOT_AS_DESCRIBED"
	DisputeReasonDamaged                 DisputeReason = "DAMAGED"
	DisputeReasonInvalidProof            DisputeReason = "INVALID_PROOF"
	DisputeReasonUnauthorizedTransaction DisputeReason = "UNAUTHORIZED_TRANSACTION"
	DisputeReasonOther                   DisputeReason = "OTHER"
)

func (r DisputeReason) IsValid() bool {
	switch r {
	case DisputeReasonNotReceived, DisputeReasonNotAsDescribed, DisputeReasonDamaged,
		DisputeReasonInvalidProof, DisputeReasonUnauthorizedTransaction, DisputeReasonOther:
		return true
	}
	return false
}

type DisputeOutcome string

const (
	DisputeOutcomeFavorBuyer  DisputeOutcome = "FAVOR_BUYER"
	DisputeOutcomeFavorSeller DisputeOutcome = "FAVOR_SELLER"
	DisputeOutcomeDismissed   DisputeOutcome = "DISMISSED"
)

func (o DisputeOutcome) IsValid() bool {
	switch o {
	case DisputeOutcomeFavorBuyer, DisputeOutcomeFavorSeller, DisputeOutcomeDismissed:
		return true
	}
	return false
}

type LedgerEntryType string

const (
	LedgerEntryEscrowHold         LedgerEntryType = "ESCROW_HOLD"
	LedgerEntryHoldRelease        LedgerEntryType = "HOLD_RELEASE"
	LedgerEntryCreditRelease      LedgerEntryType = "CREDIT_RELEASE"
	LedgerEntryDebitRefund        LedgerEntryType = "DEBIT_REFUND"
	LedgerEntryCreditRefund       LedgerEntryType = "CREDIT_REFUND"
	LedgerEntryDebitWithdrawal    LedgerEntryType = "DEBIT_WITHDRAWAL"
	LedgerEntryWithdrawalReversal LedgerEntryType = "WITHDRAWAL_REVERSAL"
	LedgerEntryDebitChargeback    LedgerEntryType = "DEBIT_CHARGEBACK"
	LedgerEntryAdjustment         LedgerEntryType = "ADJUSTMENT"
)

type LedgerBucket string

const (
	LedgerBucketPending   LedgerBucket = "PENDING"
	LedgerBucketAvailable LedgerBucket = "AVAILABLE"
)

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "PENDING"
	PayoutStatusScheduled  PayoutStatus = "SCHEDULED"
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusCompleted  PayoutStatus = "COMPLETED"
	PayoutStatusFailed     PayoutStatus = "FAILED"
)

func (s PayoutStatus) IsFinal() bool {
	return s == PayoutStatusCompleted || s == PayoutStatusFailed
}

type PayoutAccountStatus string

const (
	PayoutAccountStatusNone     PayoutAccountStatus = "NONE"
	PayoutAccountStatusPending  PayoutAccountStatus = "PENDING"
	PayoutAccountStatusApproved PayoutAccountStatus = "APPROVED"
	PayoutAccountStatusRejected PayoutAccountStatus = "REJECTED"
)
