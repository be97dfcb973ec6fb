package verification

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	amountPattern = regexp.MustCompile(`(?i)(US\$|C\$|A\$|USD|EUR|GBP|CAD|AUD|\$|€|£)?\s?(\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+\.\d{2}|\d+)(?:\s?(USD|EUR|GBP|CAD|AUD)\b)?`)

	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDatePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	monthDayPattern  = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2}),?\s+(\d{4})\b`)
	dayMonthPattern  = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s+(\d{4})\b`)

	upsPattern       = regexp.MustCompile(`\b1Z[0-9A-Z]{16}\b`)
	uspsPattern      = regexp.MustCompile(`\b9[2345]\d{20}\b`)
	trackingPattern  = regexp.MustCompile(`(?i)tracking\s*(?:number|no\.?|#)?\s*[:#]?\s*([A-Z0-9]{8,30})\b`)
	referencePattern = regexp.MustCompile(`(?i)\b(?:order|invoice|receipt|confirmation|transaction|booking|ref(?:erence)?)\s*(?:number|no\.?|id|#)?\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{4,})`)

	licenseKeyPattern = regexp.MustCompile(`\b[A-Z0-9]{4,6}(?:-[A-Z0-9]{4,6}){2,7}\b`)
)

var symbolCurrency = map[string]string{
	"US$": "USD",
	"C$":  "CAD",
	"A$":  "AUD",
	"€":   "EUR",
	"£":   "GBP",
	"$":   "",
}

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

var dateKeywords = []struct {
	kind  DateKind
	words []string
}{
	{DateKindEvent, []string{"event", "concert", "show", "match", "game", "admission", "doors", "valid on", "performance", "departure", "check-in"}},
	{DateKindDelivery, []string{"deliver", "shipped", "ship date", "arriv", "dispatch", "out for"}},
	{DateKindTransfer, []string{"transfer", "sent", "payment", "paid", "wire", "deposit"}},
	{DateKindReceipt, []string{"receipt", "order", "purchase", "invoice", "date"}},
}

// Extract pulls amounts, dates, identifiers and codes out of free text.
func Extract(text string) Extraction {
	var out Extraction
	if strings.TrimSpace(text) == "" {
		return out
	}
	for _, line := range strings.Split(text, "\n") {
		out.Amounts = append(out.Amounts, extractAmounts(line)...)
		out.Dates = append(out.Dates, extractDates(line)...)
	}
	out.Identifiers = extractIdentifiers(text)
	out.Codes = uniqueStrings(licenseKeyPattern.FindAllString(text, -1))
	return out
}

func extractAmounts(line string) []Amount {
	var amounts []Amount
	for _, m := range amountPattern.FindAllStringSubmatch(line, -1) {
		prefix, number, suffix := m[1], m[2], m[3]
		hasCurrency := prefix != "" || suffix != ""
		hasCents := strings.Contains(number, ".")
		if !hasCurrency && !hasCents {
			continue
		}
		v, err := decimal.NewFromString(strings.ReplaceAll(number, ",", ""))
		if err != nil || !v.IsPositive() {
			continue
		}
		amounts = append(amounts, Amount{
			Value:    v,
			Currency: currencyOf(prefix, suffix),
			Raw:      strings.TrimSpace(m[0]),
		})
	}
	return amounts
}

func currencyOf(prefix, suffix string) string {
	if suffix != "" {
		return strings.ToUpper(suffix)
	}
	if code, ok := symbolCurrency[strings.ToUpper(prefix)]; ok {
		return code
	}
	return strings.ToUpper(prefix)
}

func extractDates(line string) []ExtractedDate {
	kind := classifyDateLine(line)
	var dates []ExtractedDate
	add := func(raw string, y, m, d int) {
		if m < 1 || m > 12 || d < 1 || d > 31 || y < 1990 || y > 2200 {
			return
		}
		t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
		if t.Day() != d {
			return
		}
		dates = append(dates, ExtractedDate{Kind: kind, Value: t, Raw: raw})
	}
	for _, m := range isoDatePattern.FindAllStringSubmatch(line, -1) {
		add(m[0], atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	for _, m := range slashDatePattern.FindAllStringSubmatch(line, -1) {
		add(m[0], atoi(m[3]), atoi(m[1]), atoi(m[2]))
	}
	for _, m := range monthDayPattern.FindAllStringSubmatch(line, -1) {
		add(m[0], atoi(m[3]), int(monthIndex[strings.ToLower(m[1])]), atoi(m[2]))
	}
	for _, m := range dayMonthPattern.FindAllStringSubmatch(line, -1) {
		add(m[0], atoi(m[3]), int(monthIndex[strings.ToLower(m[2])]), atoi(m[1]))
	}
	return dates
}

func classifyDateLine(line string) DateKind {
	lower := strings.ToLower(line)
	for _, group := range dateKeywords {
		for _, w := range group.words {
			if strings.Contains(lower, w) {
				return group.kind
			}
		}
	}
	return DateKindReceipt
}

func extractIdentifiers(text string) []string {
	var ids []string
	ids = append(ids, upsPattern.FindAllString(text, -1)...)
	ids = append(ids, uspsPattern.FindAllString(text, -1)...)
	for _, m := range trackingPattern.FindAllStringSubmatch(text, -1) {
		if containsDigit(m[1]) {
			ids = append(ids, strings.ToUpper(m[1]))
		}
	}
	for _, m := range referencePattern.FindAllStringSubmatch(text, -1) {
		if containsDigit(m[1]) {
			ids = append(ids, strings.ToUpper(m[1]))
		}
	}
	return uniqueStrings(ids)
}

// LooksLikeTrackingNumber accepts carrier formats and generic 8-30 character alphanumerics with digits.
func LooksLikeTrackingNumber(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	if upsPattern.MatchString(s) || uspsPattern.MatchString(s) {
		return true
	}
	if n := utf8.RuneCountInString(s); n < 8 || n > 30 {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return containsDigit(s)
}

func mergeExtraction(a, b Extraction) Extraction {
	return Extraction{
		Amounts:     append(append([]Amount{}, a.Amounts...), b.Amounts...),
		Dates:       append(append([]ExtractedDate{}, a.Dates...), b.Dates...),
		Identifiers: uniqueStrings(append(append([]string{}, a.Identifiers...), b.Identifiers...)),
		Codes:       uniqueStrings(append(append([]string{}, a.Codes...), b.Codes...)),
	}
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
