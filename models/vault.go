package models

import (
	"time"

	"gorm.io/datatypes"
)

// VaultAsset is one evidence artifact. Content fields are write-once; a re-upload creates a new row.
type VaultAsset struct {
	ID              string         `gorm:"type:char(36);primary_key" json:"id"`
	TransactionId   string         `gorm:"type:char(36);not null;index" json:"transaction_id"`
	UploaderId      string         `gorm:"size:64;not null;index" json:"uploader_id"`
	Kind            AssetKind      `gorm:"size:32;not null" json:"kind"`
	ContentHash     string         `gorm:"size:64;not null;index" json:"content_hash"`
	StoragePointer  string         `gorm:"size:512" json:"-"`
	SealedPayload   []byte         `gorm:"type:blob" json:"-"`
	ContentType     string         `gorm:"size:128" json:"content_type"`
	FileName        string         `gorm:"size:255" json:"file_name"`
	SizeBytes       int64          `gorm:"not null;default:0" json:"size_bytes"`
	ImageHash       uint64         `gorm:"not null;default:0" json:"-"`
	TextFingerprint uint64         `gorm:"not null;default:0" json:"-"`
	ScanStatus      ScanStatus     `gorm:"size:20;not null;index" json:"scan_status"`
	QualityScore    int            `gorm:"not null;default:0" json:"quality_score"`
	RouteToReview   bool           `gorm:"not null;default:false" json:"route_to_review"`
	Flags           datatypes.JSON `json:"flags"`
	ExtractedData   datatypes.JSON `json:"extracted_data"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// VaultEvent is a write-once access log row.
type VaultEvent struct {
	ID                int         `gorm:"primary_key" json:"id"`
	TransactionId     string      `gorm:"type:char(36);not null;index:idx_vault_event_tx_actor,priority:1" json:"transaction_id"`
	AssetId           string      `gorm:"type:char(36);not null;index" json:"asset_id"`
	AssetHash         string      `gorm:"size:64;not null" json:"asset_hash"`
	ActorId           string      `gorm:"size:64;not null;index:idx_vault_event_tx_actor,priority:2" json:"actor_id"`
	ActorRole         Party       `gorm:"size:20;not null" json:"actor_role"`
	Action            VaultAction `gorm:"size:20;not null" json:"action"`
	ClientFingerprint string      `gorm:"size:255" json:"client_fingerprint"`
	OccurredAt        time.Time   `gorm:"not null" json:"occurred_at"`
}
