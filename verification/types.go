// Package verification scores seller-submitted evidence and decides whether it may
// auto-progress a transaction or must be routed to a human reviewer.
//
// The remote analyzer is untrusted and may be unavailable. Any failure to obtain a usable
// analysis routes the artifact to review with a capped score.
package verification

import (
	"context"
	"time"

	"github.com/mmdatafocus/rift_backend/models"
	"github.com/shopspring/decimal"
)

// Artifact is one piece of evidence as submitted, before it is persisted.
type Artifact struct {
	Kind        models.AssetKind
	ContentType string
	FileName    string
	Data        []byte
	ContentHash string
}

// Context is the transaction-side information the pipeline validates against.
type Context struct {
	TransactionId string
	SellerId      string
	ItemKind      models.ItemKind
	Subtotal      decimal.Decimal
	Currency      string
	SubmittedAt   time.Time
}

// PriorArtifact is the fingerprint of an earlier artifact from the same seller.
type PriorArtifact struct {
	AssetId         string
	TransactionId   string
	Kind            models.AssetKind
	ContentType     string
	ContentHash     string
	ImageHash       uint64
	TextFingerprint uint64
}

type DateKind string

const (
	DateKindReceipt  DateKind = "RECEIPT"
	DateKindTransfer DateKind = "TRANSFER"
	DateKindDelivery DateKind = "DELIVERY"
	DateKindEvent    DateKind = "EVENT"
)

type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency,omitempty"`
	Raw      string          `json:"raw,omitempty"`
}

type ExtractedDate struct {
	Kind  DateKind  `json:"kind"`
	Value time.Time `json:"value"`
	Raw   string    `json:"raw,omitempty"`
}

// Extraction is the structured data pulled out of an artifact.
type Extraction struct {
	Amounts     []Amount        `json:"amounts,omitempty"`
	Dates       []ExtractedDate `json:"dates,omitempty"`
	Identifiers []string        `json:"identifiers,omitempty"`
	Codes       []string        `json:"codes,omitempty"`
}

// Analysis is what the remote scoring model returns.
type Analysis struct {
	Score           int        `json:"score"`
	RouteToReview   bool       `json:"route_to_review"`
	Text            string     `json:"text"`
	TamperSuspected bool       `json:"tamper_suspected"`
	Reasons         []string   `json:"reasons"`
	Extracted       Extraction `json:"extracted"`
}

// Analyzer is the remote scoring/vision collaborator.
type Analyzer interface {
	Analyze(ctx context.Context, art Artifact, vctx Context) (*Analysis, error)
}

type Flag string

const (
	FlagScoringUnavailable    Flag = "SCORING_UNAVAILABLE"
	FlagAnalyzerRequestReview Flag = "ANALYZER_REVIEW"
	FlagUnreadable            Flag = "UNREADABLE"
	FlagLowResolution         Flag = "LOW_RESOLUTION"
	FlagKindMismatch          Flag = "KIND_MISMATCH"
	FlagInvalidTracking       Flag = "INVALID_TRACKING_NUMBER"
	FlagAmountMismatch        Flag = "AMOUNT_MISMATCH"
	FlagStaleDate             Flag = "STALE_DATE"
	FlagTamperSuspected       Flag = "TAMPER_SUSPECTED"
	FlagEditingSoftware       Flag = "EDITING_SOFTWARE"
	FlagDuplicate             Flag = "DUPLICATE"
	FlagNearDuplicate         Flag = "NEAR_DUPLICATE"
	FlagStyleOutlier          Flag = "STYLE_OUTLIER"
	FlagLowScore              Flag = "LOW_SCORE"
)

// hardFlags always route to review regardless of score.
var hardFlags = map[Flag]bool{
	FlagScoringUnavailable:    true,
	FlagAnalyzerRequestReview: true,
	FlagUnreadable:            true,
	FlagAmountMismatch:        true,
	FlagStaleDate:             true,
	FlagTamperSuspected:       true,
	FlagDuplicate:             true,
	FlagNearDuplicate:         true,
}

// flagPenalty is subtracted from the combined score.
var flagPenalty = map[Flag]int{
	FlagUnreadable:      30,
	FlagLowResolution:   10,
	FlagKindMismatch:    20,
	FlagInvalidTracking: 20,
	FlagAmountMismatch:  25,
	FlagStaleDate:       15,
	FlagTamperSuspected: 40,
	FlagEditingSoftware: 10,
	FlagNearDuplicate:   30,
	FlagStyleOutlier:    10,
}

func IsHardFlag(f Flag) bool { return hardFlags[f] }

// Result is the pipeline's verdict on one artifact.
type Result struct {
	Score            int        `json:"score"`
	RouteToReview    bool       `json:"route_to_review"`
	ScoringAvailable bool       `json:"scoring_available"`
	Flags            []Flag     `json:"flags"`
	Extraction       Extraction `json:"extraction"`
	Readability      int        `json:"readability"`
	Relevance        int        `json:"relevance"`
	TamperSuspicion  int        `json:"tamper_suspicion"`
	AnalyzerScore    *int       `json:"analyzer_score,omitempty"`
	AnalyzerReasons  []string   `json:"analyzer_reasons,omitempty"`
	ImageHash        uint64     `json:"-"`
	TextFingerprint  uint64     `json:"-"`
}

// Passed reports whether the artifact may auto-progress the transaction.
func (r Result) Passed() bool { return !r.RouteToReview }

func (r Result) HasFlag(f Flag) bool {
	for _, x := range r.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// Thresholds are the configurable policy values of the pipeline.
type Thresholds struct {
	AmountVarianceTolerance    decimal.Decimal
	DateRecencyWindow          time.Duration
	ReviewThreshold            int
	FailClosedScore            int
	NearDuplicateImageDistance int
	NearDuplicateTextDistance  int
	MinImageWidth              int
	MinImageHeight             int
	StyleHistoryMin            int
	AnalyzerTimeout            time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		AmountVarianceTolerance:    decimal.RequireFromString("0.05"),
		DateRecencyWindow:          7 * 24 * time.Hour,
		ReviewThreshold:            70,
		FailClosedScore:            35,
		NearDuplicateImageDistance: 6,
		NearDuplicateTextDistance:  3,
		MinImageWidth:              400,
		MinImageHeight:             300,
		StyleHistoryMin:            3,
		AnalyzerTimeout:            10 * time.Second,
	}
}
