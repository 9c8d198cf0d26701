package enrichment

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSanctionsClient_Check_NoHitsReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"identifications":[]}`))
	}))
	defer srv.Close()

	c := NewSanctionsClient(srv.URL, "test-key")
	if c.Check("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa") {
		t.Fatal("expected no sanctions hit")
	}
}

func TestSanctionsClient_Check_HitReturnsTrue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"identifications":[{"id":"sdn-1234"}]}`))
	}))
	defer srv.Close()

	c := NewSanctionsClient(srv.URL, "test-key")
	if !c.Check("sanctioned-address") {
		t.Fatal("expected a sanctions hit")
	}
}

func TestSanctionsClient_Check_FailsOpenOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewSanctionsClient(srv.URL, "test-key")
	if c.Check("any-address") {
		t.Fatal("expected fail-open (false) on server error")
	}
}

func TestSanctionsClient_Lookup_ReturnsErrorOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewSanctionsClient(srv.URL, "test-key")
	sanctioned, err := c.Lookup("any-address")
	if err == nil {
		t.Fatal("expected Lookup to return an error on server failure")
	}
	if sanctioned {
		t.Fatal("expected sanctioned=false alongside the error")
	}
}

func TestSanctionsClient_Lookup_FailureNotCached(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewSanctionsClient(srv.URL, "test-key")
	c.Lookup("addr")
	c.Lookup("addr")
	if calls != 2 {
		t.Fatalf("expected a failed lookup not to be cached, got %d calls", calls)
	}
}

func TestSanctionsClient_Check_CachesResult(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"identifications":[{"id":"x"}]}`))
	}))
	defer srv.Close()

	c := NewSanctionsClient(srv.URL, "test-key")
	c.Check("addr")
	c.Check("addr")
	c.Check("addr")
	if calls != 1 {
		t.Fatalf("expected result to be cached after first fetch, got %d calls", calls)
	}
}
