package enrichment

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testBitcoinLikeAddress = "1FakeAddressForTestingPurposesOnly"

func TestDestinationAgeClient_FetchHours_ParsesFirstSeenField(t *testing.T) {
	firstSeen := time.Now().Add(-48 * time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := fmt.Sprintf(`{"data":{"addr":{"first_seen_receiving":%q}}}`, firstSeen.Format("2006-01-02 15:04:05"))
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewDestinationAgeClient(srv.URL, "test-key")
	hours := c.FetchHours(testBitcoinLikeAddress)
	if hours == nil {
		t.Fatal("expected a resolved age in hours")
	}
	if *hours < 47 || *hours > 49 {
		t.Fatalf("expected roughly 48 hours, got %d", *hours)
	}
}

func TestDestinationAgeClient_FetchHours_UnknownChainReturnsNil(t *testing.T) {
	c := NewDestinationAgeClient("http://unused.invalid", "test-key")
	if hours := c.FetchHours("not-a-recognizable-address"); hours != nil {
		t.Fatalf("expected nil for an unclassifiable address, got %v", *hours)
	}
}

func TestDestinationAgeClient_FetchHours_FailureNotCached(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewDestinationAgeClient(srv.URL, "test-key")
	if hours := c.FetchHours(testBitcoinLikeAddress); hours != nil {
		t.Fatalf("expected nil on server error, got %v", *hours)
	}
	if hours := c.FetchHours(testBitcoinLikeAddress); hours != nil {
		t.Fatalf("expected nil on retried server error, got %v", *hours)
	}
	if calls != 2 {
		t.Fatalf("expected failures to not be cached (2 calls), got %d", calls)
	}
}
