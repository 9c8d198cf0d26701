// Package features implements the feature fetcher (spec.md §4.2): a bounded
// retry against risk_features racing an upstream streaming job, falling
// back to the user's latest row.
package features

import (
	"context"
	"log"
	"time"

	"github.com/onebullex/risk-engine/internal/models"
)

// Reader is the storage dependency the fetcher needs, satisfied by
// internal/db.Store.
type Reader interface {
	FetchFeatures(ctx context.Context, userCode, txnID string) (models.FeatureBag, error)
	FetchLatestFeatures(ctx context.Context, userCode string) (models.FeatureBag, error)
}

// Fetcher reads the feature bag for a withdrawal attempt.
type Fetcher struct {
	reader     Reader
	MaxRetries int
	Delay      time.Duration
}

func New(reader Reader) *Fetcher {
	return &Fetcher{reader: reader, MaxRetries: 5, Delay: time.Second}
}

// Fetch retries the exact (user_code, txn_id) read up to MaxRetries times,
// then falls back to the user's most recent row. A nil, nil result means
// no features could be found anywhere — the cascade's NO_DATA path.
func (f *Fetcher) Fetch(ctx context.Context, userCode, txnID string) (models.FeatureBag, error) {
	for attempt := 0; attempt < f.MaxRetries; attempt++ {
		bag, err := f.reader.FetchFeatures(ctx, userCode, txnID)
		if err != nil {
			log.Printf("[FEATURES] fetch attempt %d failed for %s/%s: %v", attempt+1, userCode, txnID, err)
		} else if bag != nil {
			return bag, nil
		}

		if attempt < f.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.Delay):
			}
		}
	}

	log.Printf("[FEATURES] exhausted retries for %s/%s, falling back to latest row", userCode, txnID)
	bag, err := f.reader.FetchLatestFeatures(ctx, userCode)
	if err != nil {
		log.Printf("[FEATURES] latest-row fallback failed for %s: %v", userCode, err)
		return nil, nil
	}
	return bag, nil
}
