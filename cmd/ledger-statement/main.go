// Command ledger-statement exports one user's wallet entries to an XLSX workbook.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/rift_backend/config"
	"github.com/mmdatafocus/rift_backend/ledger"
	"github.com/mmdatafocus/rift_backend/repository"
)

func parseDate(flagName, raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --%s date: %v\n", flagName, err)
		os.Exit(1)
	}
	return &t
}

func main() {
	userID := flag.String("user-id", "", "Required: wallet owner")
	currency := flag.String("currency", "", "Optional: ISO currency filter")
	since := flag.String("since", "", "Optional: first day (YYYY-MM-DD)")
	until := flag.String("until", "", "Optional: day after the last one (YYYY-MM-DD)")
	outPath := flag.String("out", "", "Output file (default statement-<user>.xlsx)")
	flag.Parse()

	if strings.TrimSpace(*userID) == "" {
		fmt.Fprintln(os.Stderr, "--user-id is required")
		os.Exit(1)
	}
	if *outPath == "" {
		*outPath = "statement-" + *userID + ".xlsx"
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	store := repository.NewGormStore(db)
	entries, err := store.ListLedgerEntries(context.Background(), repository.LedgerFilter{
		UserId:   *userID,
		Currency: strings.ToUpper(strings.TrimSpace(*currency)),
		Since:    parseDate("since", *since),
		Until:    parseDate("until", *until),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "list entries: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	if err := ledger.WriteStatement(f, *userID, entries); err != nil {
		f.Close()
		fmt.Fprintf(os.Stderr, "write statement: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d entries to %s\n", len(entries), *outPath)
}
