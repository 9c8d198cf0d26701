package enrichment

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

const ageCacheTTL = 21600 * time.Second

// DestinationAgeClient fetches how long a destination address has existed
// on-chain, used as a behavioral signal (brand-new addresses are riskier).
type DestinationAgeClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	cache      *ttlCache
}

func NewDestinationAgeClient(baseURL, apiKey string) *DestinationAgeClient {
	return &DestinationAgeClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 8 * time.Second},
		cache:      newTTLCache(ageCacheTTL),
	}
}

// DetectChain classifies a destination address by prefix, upgrading to a
// real address decode for Bitcoin (btcutil.DecodeAddress against
// chaincfg.MainNetParams) where the pack supplies a decoder, and falling
// back to the spec's plain prefix rule for chains it doesn't cover.
func DetectChain(address string) string {
	if _, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams); err == nil {
		return "bitcoin"
	}
	return detectChainByPrefix(address)
}

// FetchHours returns the destination address's age in hours, or nil if
// unknown (no chain detected, or the lookup failed). Failures are not
// cached, per spec.md §4.7.
func (c *DestinationAgeClient) FetchHours(address string) *int {
	chain := DetectChain(address)
	if chain == "" {
		return nil
	}

	if v, ok := c.cache.get(address); ok {
		if hours, ok := v.(int); ok {
			return &hours
		}
		return nil
	}

	v, _ := c.cache.do(address, func() (any, error) {
		hours, ok := c.fetch(chain, address)
		if !ok {
			return nil, nil
		}
		c.cache.set(address, hours)
		return hours, nil
	})
	if hours, ok := v.(int); ok {
		return &hours
	}
	return nil
}

type explorerResponse struct {
	Data map[string]map[string]any `json:"data"`
}

var firstSeenFields = []string{"first_seen_receiving", "first_seen_spending", "first_seen", "created_at"}

func (c *DestinationAgeClient) fetch(chain, address string) (int, bool) {
	url := fmt.Sprintf("%s/%s/dashboards/address/%s?key=%s", c.BaseURL, chain, address, c.APIKey)
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		log.Printf("[ENRICHMENT] destination-age: build request failed for %s: %v", address, err)
		return 0, false
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("[ENRICHMENT] destination-age: request failed for %s: %v", address, err)
		return 0, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[ENRICHMENT] destination-age: read body failed for %s: %v", address, err)
		return 0, false
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("[ENRICHMENT] destination-age: non-200 (%d) for %s", resp.StatusCode, address)
		return 0, false
	}

	var parsed explorerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Printf("[ENRICHMENT] destination-age: unmarshal failed for %s: %v", address, err)
		return 0, false
	}

	var record map[string]any
	for _, v := range parsed.Data {
		record = v
		break
	}
	if record == nil {
		return 0, false
	}

	var firstSeen time.Time
	found := false
	for _, field := range firstSeenFields {
		raw, ok := record[field]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		t, err := time.Parse("2006-01-02 15:04:05", s)
		if err != nil {
			continue
		}
		firstSeen = t
		found = true
		break
	}
	if !found {
		return 0, false
	}

	hours := int(math.Floor(time.Since(firstSeen).Hours()))
	if hours < 0 {
		hours = 0
	}
	return hours, true
}
