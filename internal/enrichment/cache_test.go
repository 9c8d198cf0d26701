package enrichment

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestTTLCache_GetSetRoundTrip(t *testing.T) {
	c := newTTLCache(time.Minute)
	if _, ok := c.get("k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.set("k", 42)
	v, ok := c.get("k")
	if !ok || v.(int) != 42 {
		t.Fatalf("expected cached value 42, got %v, ok=%v", v, ok)
	}
}

func TestTTLCache_ExpiresAfterTTL(t *testing.T) {
	c := newTTLCache(10 * time.Millisecond)
	c.set("k", "v")
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.get("k"); ok {
		t.Fatal("expected entry to expire after TTL")
	}
}

func TestTTLCache_DoCoalescesConcurrentCallers(t *testing.T) {
	c := newTTLCache(time.Minute)
	var calls int
	var mu sync.Mutex
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]any, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, _ := c.do("key", func() (any, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				<-release
				return "result", nil
			})
			results[idx] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let all goroutines queue behind the in-flight call
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one underlying call, got %d", calls)
	}
	for i, r := range results {
		if r != "result" {
			t.Errorf("caller %d got %v, want %q", i, r, "result")
		}
	}
}

func TestTTLCache_DoPropagatesError(t *testing.T) {
	c := newTTLCache(time.Minute)
	wantErr := errBoom
	_, err := c.do("key", func() (any, error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("expected propagated error, got %v", err)
	}
}
