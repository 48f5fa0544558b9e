package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/yum-mi/tokenledger/internal/pkg/database"
	"github.com/yum-mi/tokenledger/internal/pkg/env"
	"github.com/yum-mi/tokenledger/internal/pkg/ledger"
)

// reconcile replays a payment-gateway export against the ledger. Dry run is
// the default: every record goes through the full state machine inside a
// transaction that is rolled back. Pass --live to commit.
func main() {
	filePath := flag.String("file", "", "path to the gateway export (NDJSON, JSON array, or {\"records\": [...]})")
	live := flag.Bool("live", false, "commit changes instead of dry run")
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: reconcile --file <export.json> [--live]")
		os.Exit(2)
	}

	env.SetupEnvFile()
	database.SetupDatabase()

	records, err := ledger.ReadExportFile(*filePath)
	if err != nil {
		log.Fatalf("failed to read export file: %v", err)
	}
	log.Printf("loaded %d records from %s (live=%t)", len(records), *filePath, *live)

	svc := ledger.NewServiceFromDB(database.GetDB(), "")
	importer := ledger.NewImporter(svc, *live)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	summary := importer.Run(ctx, records)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}
