package models

import (
	"encoding/json"
	"testing"
)

func TestEveryStatusHasADisplayLabel(t *testing.T) {
	for _, s := range AllTransactionStatuses {
		if _, ok := displayStatus[s]; !ok {
			t.Fatalf("status %s has no display label", s)
		}
		got, err := ParseTransactionStatus(string(s))
		if err != nil || got != s {
			t.Fatalf("canonical %s should parse to itself, got %s %v", s, got, err)
		}
	}
	if len(displayStatus) != len(AllTransactionStatuses) {
		t.Fatalf("display table has %d entries for %d statuses", len(displayStatus), len(AllTransactionStatuses))
	}
}

func TestParseTransactionStatusAliases(t *testing.T) {
	cases := []struct {
		in   string
		want TransactionStatus
	}{
		{"paid", TransactionStatusFunded},
		{" Completed ", TransactionStatusReleased},
		{"in-dispute", TransactionStatusDisputed},
		{"proof submitted", TransactionStatusProofSubmitted},
		{"Canceled", TransactionStatusCancelled},
		{"delivered_pending_release", TransactionStatusDeliveredPendingRelease},
	}
	for _, c := range cases {
		got, err := ParseTransactionStatus(c.in)
		if err != nil || got != c.want {
			t.Fatalf("%q: want %s, got %s (%v)", c.in, c.want, got, err)
		}
	}
	if _, err := ParseTransactionStatus("LOST_IN_MAIL"); err == nil {
		t.Fatalf("unknown status should fail")
	}
}

func TestDisplayStatusGroupsLabels(t *testing.T) {
	if DisplayStatus(TransactionStatusPaidOut) != "COMPLETED" || DisplayStatus(TransactionStatusReleased) != "COMPLETED" {
		t.Fatalf("released and paid out share the COMPLETED label")
	}
	if got := DisplayStatus(TransactionStatus("UNKNOWN")); got != "UNKNOWN" {
		t.Fatalf("unmapped statuses fall through, got %s", got)
	}
}

func TestItemKindUnmarshal(t *testing.T) {
	var k ItemKind
	if err := json.Unmarshal([]byte(`"digital"`), &k); err != nil || k != ItemKindDigital {
		t.Fatalf("want DIGITAL, got %s %v", k, err)
	}
	if err := json.Unmarshal([]byte(`"CRYPTO"`), &k); err == nil {
		t.Fatalf("unknown kind should fail")
	}
	if err := json.Unmarshal([]byte(`3`), &k); err == nil {
		t.Fatalf("non-string kind should fail")
	}
}
