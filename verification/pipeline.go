package verification

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/models"
)

var ErrNoAnalyzer = errors.New("no analyzer configured")

// compatibleKinds lists the evidence kinds that make sense for each item kind.
var compatibleKinds = map[models.ItemKind][]models.AssetKind{
	models.ItemKindPhysical: {
		models.AssetKindTrackingNumber, models.AssetKindFile, models.AssetKindText, models.AssetKindURL,
	},
	models.ItemKindDigital: {
		models.AssetKindLicenseKey, models.AssetKindFile, models.AssetKindURL, models.AssetKindText, models.AssetKindTicketProof,
	},
	models.ItemKindOwnershipTransfer: {
		models.AssetKindFile, models.AssetKindText, models.AssetKindURL, models.AssetKindTicketProof,
	},
	models.ItemKindServices: {
		models.AssetKindFile, models.AssetKindText, models.AssetKindURL,
	},
}

var editingMarkers = [][]byte{
	[]byte("Adobe Photoshop"),
	[]byte("GIMP"),
	[]byte("paint.net"),
	[]byte("Pixelmator"),
	[]byte("Snapseed"),
	[]byte("Affinity Photo"),
	[]byte("Canva"),
}

// Pipeline scores evidence. It never fails: collaborator problems degrade to a review routing.
type Pipeline struct {
	Analyzer   Analyzer
	Thresholds Thresholds
	Logger     *logrus.Logger
}

func NewPipeline(analyzer Analyzer, th Thresholds, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pipeline{Analyzer: analyzer, Thresholds: th, Logger: logger}
}

type flagSet struct {
	order []Flag
	seen  map[Flag]bool
}

func (s *flagSet) add(flags ...Flag) {
	if s.seen == nil {
		s.seen = map[Flag]bool{}
	}
	for _, f := range flags {
		if !s.seen[f] {
			s.seen[f] = true
			s.order = append(s.order, f)
		}
	}
}

// Verify runs extraction, quality scoring, cross-validation and the duplicate check on art.
// priors are earlier artifacts from the same seller.
func (p *Pipeline) Verify(ctx context.Context, art Artifact, vctx Context, priors []PriorArtifact) Result {
	th := p.Thresholds
	var flags flagSet
	res := Result{}

	analysis, err := p.analyze(ctx, art, vctx)
	analyzerOK := err == nil
	if !analyzerOK {
		p.logger().WithFields(logrus.Fields{
			"field":          "Verify",
			"transaction_id": vctx.TransactionId,
			"asset_kind":     art.Kind,
		}).Warn("evidence analyzer unavailable; routing to review: ", err)
		flags.add(FlagScoringUnavailable)
	} else {
		score := analysis.Score
		res.AnalyzerScore = &score
		res.AnalyzerReasons = analysis.Reasons
		if analysis.RouteToReview {
			flags.add(FlagAnalyzerRequestReview)
		}
	}

	text := localText(art)
	if analyzerOK && analysis.Text != "" {
		text = strings.TrimSpace(text + "\n" + analysis.Text)
	}
	extraction := Extract(text)
	if analyzerOK {
		extraction = mergeExtraction(analysis.Extracted, extraction)
	}

	// readability
	readability, readFlags := p.readability(art, analyzerOK && analysis.Text != "", &res)
	flags.add(readFlags...)

	// relevance
	relevance := 20
	if kindCompatible(vctx.ItemKind, art.Kind) {
		relevance = 60
	} else {
		flags.add(FlagKindMismatch)
	}
	switch art.Kind {
	case models.AssetKindTrackingNumber:
		raw := strings.ToUpper(strings.TrimSpace(string(art.Data)))
		if LooksLikeTrackingNumber(raw) {
			extraction.Identifiers = uniqueStrings(append(extraction.Identifiers, raw))
		} else {
			flags.add(FlagInvalidTracking)
		}
	case models.AssetKindLicenseKey:
		if raw := strings.TrimSpace(string(art.Data)); raw != "" {
			extraction.Codes = uniqueStrings(append(extraction.Codes, raw))
		}
	case models.AssetKindURL:
		if u, perr := url.Parse(strings.TrimSpace(string(art.Data))); perr == nil && u.Host != "" &&
			(u.Scheme == "https" || u.Scheme == "http") {
			extraction.Identifiers = uniqueStrings(append(extraction.Identifiers, u.Host+u.Path))
		}
	}
	if len(extraction.Identifiers) > 0 || len(extraction.Codes) > 0 {
		relevance += 20
	}
	matched, mismatch := checkAmounts(extraction.Amounts, vctx, th.AmountVarianceTolerance)
	if matched {
		relevance += 20
	}
	if mismatch {
		flags.add(FlagAmountMismatch)
	}
	if staleDates(extraction.Dates, vctx.SubmittedAt, th.DateRecencyWindow) {
		flags.add(FlagStaleDate)
	}

	// tamper
	tamper := 0
	if art.Kind.IsBinary() && hasEditingMarker(art.Data) {
		tamper = 60
		flags.add(FlagEditingSoftware)
	}
	if analyzerOK && analysis.TamperSuspected {
		tamper = 90
		flags.add(FlagTamperSuspected)
	}

	// history
	res.TextFingerprint = Simhash(text)
	flags.add(p.compareHistory(art, vctx, priors, res.ImageHash, res.TextFingerprint)...)

	local := 0.35*float64(readability) + 0.35*float64(clampScore(relevance)) + 0.30*float64(100-tamper)
	base := local
	if analyzerOK {
		base = (local + float64(analysis.Score)) / 2
	}
	score := int(math.Round(base))
	for _, f := range flags.order {
		score -= flagPenalty[f]
	}
	score = clampScore(score)
	if !analyzerOK && score > th.FailClosedScore {
		score = th.FailClosedScore
	}
	if score < th.ReviewThreshold {
		flags.add(FlagLowScore)
	}

	route := score < th.ReviewThreshold
	for _, f := range flags.order {
		if IsHardFlag(f) {
			route = true
		}
	}

	res.Score = score
	res.RouteToReview = route
	res.ScoringAvailable = analyzerOK
	res.Flags = flags.order
	res.Extraction = extraction
	res.Readability = readability
	res.Relevance = clampScore(relevance)
	res.TamperSuspicion = tamper
	return res
}

func (p *Pipeline) logger() *logrus.Logger {
	if p.Logger == nil {
		return logrus.StandardLogger()
	}
	return p.Logger
}

// analyze calls the remote analyzer under the pipeline timeout and validates its answer.
func (p *Pipeline) analyze(ctx context.Context, art Artifact, vctx Context) (*Analysis, error) {
	if p.Analyzer == nil {
		return nil, ErrNoAnalyzer
	}
	if p.Thresholds.AnalyzerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Thresholds.AnalyzerTimeout)
		defer cancel()
	}
	a, err := p.Analyzer.Analyze(ctx, art, vctx)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errors.New("analyzer returned no analysis")
	}
	if a.Score < 0 || a.Score > 100 {
		return nil, errors.New("analyzer score out of range")
	}
	return a, nil
}

func (p *Pipeline) readability(art Artifact, analyzerText bool, res *Result) (int, []Flag) {
	if !art.Kind.IsBinary() {
		return textReadability(string(art.Data))
	}
	if isImage(art.ContentType, art.Data) {
		q, err := AssessImage(art.Data, p.Thresholds)
		if err != nil {
			return 0, []Flag{FlagUnreadable}
		}
		res.ImageHash = q.AverageHash
		return q.Readability, q.flags(p.Thresholds)
	}
	if strings.HasPrefix(strings.ToLower(art.ContentType), "text/") {
		return textReadability(string(art.Data))
	}
	if analyzerText {
		return 80, nil
	}
	return 60, nil
}

func textReadability(s string) (int, []Flag) {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	switch {
	case n == 0:
		return 0, []Flag{FlagUnreadable}
	case n < 4:
		return 40, nil
	case n < 16:
		return 80, nil
	default:
		return 100, nil
	}
}

func localText(art Artifact) string {
	if !art.Kind.IsBinary() {
		return string(art.Data)
	}
	if strings.HasPrefix(strings.ToLower(art.ContentType), "text/") && utf8.Valid(art.Data) {
		return string(art.Data)
	}
	return ""
}

func kindCompatible(item models.ItemKind, asset models.AssetKind) bool {
	for _, k := range compatibleKinds[item] {
		if k == asset {
			return true
		}
	}
	return false
}

// checkAmounts reports whether any comparable amount is within tolerance of the subtotal,
// and whether comparable amounts exist but none of them match.
func checkAmounts(amounts []Amount, vctx Context, tolerance decimal.Decimal) (matched bool, mismatch bool) {
	if !vctx.Subtotal.IsPositive() {
		return false, false
	}
	limit := vctx.Subtotal.Mul(tolerance)
	comparable := 0
	for _, a := range amounts {
		if a.Currency != "" && vctx.Currency != "" && !strings.EqualFold(a.Currency, vctx.Currency) {
			continue
		}
		comparable++
		if a.Value.Sub(vctx.Subtotal).Abs().LessThanOrEqual(limit) {
			return true, false
		}
	}
	return false, comparable > 0
}

// staleDates is true when non-event dates exist and none falls inside the recency window.
// Event dates describe the future use of a ticket and are not checked.
func staleDates(dates []ExtractedDate, submittedAt time.Time, window time.Duration) bool {
	if submittedAt.IsZero() {
		return false
	}
	lower := submittedAt.Add(-window).UTC().Truncate(24 * time.Hour)
	upper := submittedAt.Add(24 * time.Hour)
	checked := 0
	for _, d := range dates {
		if d.Kind == DateKindEvent {
			continue
		}
		checked++
		if !d.Value.Before(lower) && !d.Value.After(upper) {
			return false
		}
	}
	return checked > 0
}

func hasEditingMarker(data []byte) bool {
	for _, m := range editingMarkers {
		if bytes.Contains(data, m) {
			return true
		}
	}
	return false
}

func styleKey(kind models.AssetKind, contentType string) string {
	major := strings.ToLower(contentType)
	if i := strings.IndexByte(major, '/'); i >= 0 {
		major = major[:i]
	}
	return string(kind) + "|" + major
}

// compareHistory checks art against the seller's artifacts on other transactions.
func (p *Pipeline) compareHistory(art Artifact, vctx Context, priors []PriorArtifact, imageHash, textFP uint64) []Flag {
	th := p.Thresholds
	var out []Flag
	key := styleKey(art.Kind, art.ContentType)
	history := 0
	styleSeen := false
	for _, prior := range priors {
		if prior.TransactionId == vctx.TransactionId {
			continue
		}
		history++
		if styleKey(prior.Kind, prior.ContentType) == key {
			styleSeen = true
		}
		if art.ContentHash != "" && prior.ContentHash == art.ContentHash {
			out = append(out, FlagDuplicate)
			continue
		}
		if imageHash != 0 && prior.ImageHash != 0 && HammingDistance(imageHash, prior.ImageHash) <= th.NearDuplicateImageDistance {
			out = append(out, FlagNearDuplicate)
		}
		if textFP != 0 && prior.TextFingerprint != 0 && HammingDistance(textFP, prior.TextFingerprint) <= th.NearDuplicateTextDistance {
			out = append(out, FlagNearDuplicate)
		}
	}
	if th.StyleHistoryMin > 0 && history >= th.StyleHistoryMin && !styleSeen {
		out = append(out, FlagStyleOutlier)
	}
	return out
}
