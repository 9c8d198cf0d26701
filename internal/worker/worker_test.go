package worker

import (
	"context"
	"testing"
	"time"
)

func TestShouldRefresh(t *testing.T) {
	w := &Worker{}
	now := time.Now()
	stale := now.Add(-25 * time.Hour)
	fresh := now.Add(-1 * time.Hour)

	tests := []struct {
		name          string
		status        string
		lastCheckedAt *time.Time
		want          bool
	}{
		{"no existing row", "", nil, true},
		{"pending", statusPending, &now, true},
		{"error", statusError, &now, true},
		{"checked but no timestamp", statusChecked, nil, true},
		{"checked and stale", statusChecked, &stale, true},
		{"checked and fresh", statusChecked, &fresh, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.shouldRefresh(tt.status, tt.lastCheckedAt); got != tt.want {
				t.Errorf("shouldRefresh(%q, %v) = %v, want %v", tt.status, tt.lastCheckedAt, got, tt.want)
			}
		})
	}
}

func TestProcessCDCRecord_NoDestinationAddressIsNoOp(t *testing.T) {
	w := &Worker{}
	raw := []byte(`[{"value":{"type":"INSERT","data":[{"user_code":"U1","code":"T1"}]}}]`)
	if err := w.ProcessCDCRecord(context.Background(), raw); err != nil {
		t.Fatalf("expected no-op for missing destination address, got error: %v", err)
	}
}

func TestProcessCDCRecord_SkippedReasonIsNotAnError(t *testing.T) {
	w := &Worker{}
	raw := []byte(`[{"value":{"type":"UPDATE","data":[{"user_code":"U1"}]}}]`)
	if err := w.ProcessCDCRecord(context.Background(), raw); err != nil {
		t.Fatalf("expected skipped non-INSERT record to be a no-op, got error: %v", err)
	}
}

func TestProcessCDCRecord_MalformedEnvelopeErrors(t *testing.T) {
	w := &Worker{}
	if err := w.ProcessCDCRecord(context.Background(), []byte(`not json`)); err == nil {
		t.Fatal("expected an error for a malformed CDC envelope")
	}
}

type stubSource struct {
	batches [][]byte
	idx     int
}

func (s *stubSource) Next(ctx context.Context) ([]byte, error) {
	if s.idx >= len(s.batches) {
		return nil, nil
	}
	b := s.batches[s.idx]
	s.idx++
	return b, nil
}

func TestRun_StopsOnContextCancellation(t *testing.T) {
	source := &stubSource{}
	w := New(source, nil, nil, nil)
	w.PollInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}
