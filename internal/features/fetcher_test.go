package features

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onebullex/risk-engine/internal/models"
)

type fakeReader struct {
	attempts     int
	returnAfter  int
	bag          models.FeatureBag
	latest       models.FeatureBag
	latestErr    error
}

func (f *fakeReader) FetchFeatures(ctx context.Context, userCode, txnID string) (models.FeatureBag, error) {
	f.attempts++
	if f.attempts >= f.returnAfter {
		return f.bag, nil
	}
	return nil, nil
}

func (f *fakeReader) FetchLatestFeatures(ctx context.Context, userCode string) (models.FeatureBag, error) {
	return f.latest, f.latestErr
}

func TestFetch_SucceedsOnLaterAttempt(t *testing.T) {
	reader := &fakeReader{returnAfter: 3, bag: models.FeatureBag{"user_code": "U1"}}
	f := New(reader)
	f.MaxRetries = 5
	f.Delay = time.Millisecond

	bag, err := f.Fetch(context.Background(), "U1", "T1")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if bag == nil || bag["user_code"] != "U1" {
		t.Fatalf("expected bag with user_code, got %+v", bag)
	}
	if reader.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", reader.attempts)
	}
}

func TestFetch_FallsBackToLatestRow(t *testing.T) {
	reader := &fakeReader{returnAfter: 99, latest: models.FeatureBag{"user_code": "U1", "stale": true}}
	f := New(reader)
	f.MaxRetries = 2
	f.Delay = time.Millisecond

	bag, err := f.Fetch(context.Background(), "U1", "T1")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if bag == nil || bag.Bool("stale") != true {
		t.Fatalf("expected fallback to latest row, got %+v", bag)
	}
	if reader.attempts != 2 {
		t.Fatalf("expected MaxRetries attempts (2), got %d", reader.attempts)
	}
}

func TestFetch_NoDataAnywhereReturnsNilWithoutError(t *testing.T) {
	reader := &fakeReader{returnAfter: 99, latestErr: errors.New("boom")}
	f := New(reader)
	f.MaxRetries = 1
	f.Delay = time.Millisecond

	bag, err := f.Fetch(context.Background(), "U1", "T1")
	if err != nil {
		t.Fatalf("Fetch should never surface storage errors as a hard failure, got: %v", err)
	}
	if bag != nil {
		t.Fatalf("expected nil bag when nothing is found, got %+v", bag)
	}
}
