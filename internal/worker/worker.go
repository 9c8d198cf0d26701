// Package worker implements the async enrichment worker (spec.md §4.9): it
// consumes CDC records of new withdrawals and, for each (chain, address),
// refreshes the sanctions and destination-age dimension tables under a
// freshness/state-machine policy so the online decision cascade can read
// them cheaply. Grounded in internal/mempool/poller.go's
// consume-process-persist loop shape and internal/scanner/block_scanner.go's
// bounded, cancellable batch processing.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/onebullex/risk-engine/internal/db"
	"github.com/onebullex/risk-engine/internal/enrichment"
	"github.com/onebullex/risk-engine/internal/ingress"
)

// recheckTTL is the worker's own freshness window (spec.md §4.9, distinct
// from the online enrichment caches' TTLs).
const recheckTTL = 24 * time.Hour

const (
	statusPending = "PENDING"
	statusChecked = "CHECKED"
	statusError   = "ERROR"
)

// CDCSource is a pollable CDC batch source. cmd/enrichworker supplies a
// newline-delimited file/stdin reader; tests supply an in-memory stub.
type CDCSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// Worker drains a CDCSource and enriches each withdrawal's destination
// (chain, address) pair.
type Worker struct {
	Source    CDCSource
	DB        *db.Store
	Sanctions *enrichment.SanctionsClient
	Age       *enrichment.DestinationAgeClient

	PollInterval time.Duration
}

func New(source CDCSource, store *db.Store, sanctions *enrichment.SanctionsClient, age *enrichment.DestinationAgeClient) *Worker {
	return &Worker{
		Source:       source,
		DB:           store,
		Sanctions:    sanctions,
		Age:          age,
		PollInterval: 3 * time.Second,
	}
}

// Run polls the CDC source in a loop until ctx is cancelled, processing
// each batch as it arrives.
func (w *Worker) Run(ctx context.Context) {
	log.Println("[ENRICH_WORKER] starting enrichment worker")
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ENRICH_WORKER] stopping enrichment worker")
			return
		case <-ticker.C:
			raw, err := w.Source.Next(ctx)
			if err != nil {
				log.Printf("[ENRICH_WORKER] source error: %v", err)
				continue
			}
			if raw == nil {
				continue
			}
			if err := w.ProcessCDCRecord(ctx, raw); err != nil {
				log.Printf("[ENRICH_WORKER] batch processing error: %v", err)
			}
		}
	}
}

// ProcessCDCRecord parses one CDC batch and enriches the (chain, address)
// it carries. A row lacking a destination address is a no-op, not an
// error — most withdraw_record inserts won't yet have been matched to a
// reviewable chain/address pair.
func (w *Worker) ProcessCDCRecord(ctx context.Context, raw []byte) error {
	row, reason, err := ingress.ParseCDCRow(raw)
	if err != nil {
		return err
	}
	if reason != "" {
		log.Printf("[ENRICH_WORKER] skipping record: %s", reason)
		return nil
	}

	chain, _ := row["chain"].(string)
	address, _ := row["destination_address"].(string)
	if address == "" {
		return nil
	}

	w.refreshSanctions(ctx, chain, address)
	w.refreshAge(ctx, chain, address)

	userCode, _ := row["user_code"].(string)
	log.Printf("[ENRICH_WORKER] processed withdrawal user_code=%s chain=%s address=%s", userCode, chain, address)
	return nil
}

func (w *Worker) shouldRefresh(status string, lastCheckedAt *time.Time) bool {
	if status == "" || status == statusPending || status == statusError {
		return true
	}
	if lastCheckedAt == nil {
		return true
	}
	return time.Since(*lastCheckedAt) > recheckTTL
}

func (w *Worker) refreshSanctions(ctx context.Context, chain, address string) {
	existing, err := w.DB.GetSanctionsDim(ctx, chain, address)
	if err != nil {
		log.Printf("[ENRICH_WORKER] sanctions dim read failed for %s/%s: %v", chain, address, err)
		return
	}

	var status string
	var lastCheckedAt *time.Time
	if existing != nil {
		status, lastCheckedAt = existing.Status, existing.LastCheckedAt
	}
	if !w.shouldRefresh(status, lastCheckedAt) {
		return
	}

	row := db.SanctionsDimRow{Chain: chain, Address: address}
	if existing != nil {
		row.IsSanctioned = existing.IsSanctioned
	}

	sanctioned, lookupErr := w.Sanctions.Lookup(address)
	if lookupErr != nil {
		row.Status = statusError
		row.LastError = lookupErr.Error()
	} else {
		row.IsSanctioned = sanctioned
		row.Status = statusChecked
		row.LastError = ""
	}

	if err := w.DB.UpsertSanctionsDim(ctx, row); err != nil {
		log.Printf("[ENRICH_WORKER] sanctions dim upsert failed for %s/%s: %v", chain, address, err)
	}
}

func (w *Worker) refreshAge(ctx context.Context, chain, address string) {
	existing, err := w.DB.GetAgeDim(ctx, chain, address)
	if err != nil {
		log.Printf("[ENRICH_WORKER] age dim read failed for %s/%s: %v", chain, address, err)
		return
	}

	var status string
	var lastCheckedAt *time.Time
	if existing != nil {
		status, lastCheckedAt = existing.Status, existing.LastCheckedAt
	}
	if !w.shouldRefresh(status, lastCheckedAt) {
		return
	}

	row := db.AgeDimRow{Chain: chain, Address: address}
	if existing != nil {
		row.AgeHours, row.FirstSeenAt = existing.AgeHours, existing.FirstSeenAt
	}

	_, ok := enrichment.ChainNameForAge(chain)
	if !ok {
		row.Status = statusError
		row.LastError = "UNMAPPED_CHAIN_" + chain
		if err := w.DB.UpsertAgeDim(ctx, row, row.FirstSeenAt); err != nil {
			log.Printf("[ENRICH_WORKER] age dim upsert (unmapped chain) failed for %s/%s: %v", chain, address, err)
		}
		return
	}

	hours := w.Age.FetchHours(address)
	if hours == nil {
		row.Status = statusError
		row.LastError = "AGE_LOOKUP_FAILED"
		if err := w.DB.UpsertAgeDim(ctx, row, row.FirstSeenAt); err != nil {
			log.Printf("[ENRICH_WORKER] age dim upsert (failure) failed for %s/%s: %v", chain, address, err)
		}
		return
	}

	row.AgeHours = hours
	row.Status = statusChecked
	row.LastError = ""
	now := time.Now()
	if row.FirstSeenAt == nil {
		row.FirstSeenAt = &now
	}

	if err := w.DB.UpsertAgeDim(ctx, row, row.FirstSeenAt); err != nil {
		log.Printf("[ENRICH_WORKER] age dim upsert failed for %s/%s: %v", chain, address, err)
	}
}
