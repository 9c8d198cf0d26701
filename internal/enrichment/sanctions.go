package enrichment

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const sanctionsCacheTTL = 3600 * time.Second

// SanctionsClient screens a destination address against a sanctions
// screening API. Failures are fail-open by design (spec.md §4.7): the
// async worker is the source of truth, this is only a short-circuit.
type SanctionsClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	cache      *ttlCache
}

func NewSanctionsClient(baseURL, apiKey string) *SanctionsClient {
	return &SanctionsClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		cache:      newTTLCache(sanctionsCacheTTL),
	}
}

type sanctionsResponse struct {
	Identifications []json.RawMessage `json:"identifications"`
}

// Check returns whether address is sanctioned, fail-open on any transport
// or parse error. This is the online cascade's short-circuit consumer —
// it can't tell a clean "not sanctioned" from a failed lookup, by design.
func (c *SanctionsClient) Check(address string) bool {
	sanctioned, err := c.Lookup(address)
	if err != nil {
		return false
	}
	return sanctioned
}

// Lookup returns whether address is sanctioned, distinguishing a failed
// lookup (transport/parse error) from a genuine negative result. The
// async enrichment worker needs this distinction to record ERROR instead
// of a false CHECKED result in the sanctions dimension table (spec.md
// §4.9). A failed lookup is not cached, so the next call retries.
func (c *SanctionsClient) Lookup(address string) (bool, error) {
	if v, ok := c.cache.get(address); ok {
		return v.(bool), nil
	}

	v, err := c.cache.do(address, func() (any, error) {
		sanctioned, err := c.fetch(address)
		if err != nil {
			return nil, err
		}
		c.cache.set(address, sanctioned)
		return sanctioned, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (c *SanctionsClient) fetch(address string) (bool, error) {
	url := fmt.Sprintf("%s?address=%s", c.BaseURL, address)
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		log.Printf("[ENRICHMENT] sanctions: build request failed for %s: %v", address, err)
		return false, err
	}
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("[ENRICHMENT] sanctions: request failed for %s: %v", address, err)
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[ENRICHMENT] sanctions: read body failed for %s: %v", address, err)
		return false, err
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("[ENRICHMENT] sanctions: non-200 (%d) for %s", resp.StatusCode, address)
		return false, fmt.Errorf("sanctions API returned status %d", resp.StatusCode)
	}

	var parsed sanctionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Printf("[ENRICHMENT] sanctions: unmarshal failed for %s: %v", address, err)
		return false, err
	}

	return len(parsed.Identifications) > 0, nil
}
