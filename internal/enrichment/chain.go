package enrichment

import "strings"

// ChainNameForAge maps a ledger symbol to the name the block-explorer
// dashboard API expects, per spec.md §4.9's chain mapping table. It is
// used by internal/worker; the online destination-age client does not call
// it and instead classifies the address itself (see DetectChain).
func ChainNameForAge(chain string) (string, bool) {
	switch strings.ToUpper(chain) {
	case "BTC":
		return "bitcoin", true
	case "ETH":
		return "ethereum", true
	case "TRX":
		return "tron", true
	case "LTC":
		return "litecoin", true
	case "BCH":
		return "bitcoin-cash", true
	default:
		return "", false
	}
}

// detectChainByPrefix implements the fallback address-sniffing rule from
// spec.md §4.7 for chains with no decoder available in this port.
func detectChainByPrefix(address string) string {
	switch {
	case strings.HasPrefix(address, "0x") && len(address) == 42:
		return "ethereum"
	case strings.HasPrefix(address, "1"), strings.HasPrefix(address, "3"), strings.HasPrefix(address, "bc1"):
		return "bitcoin"
	case strings.HasPrefix(address, "T") && len(address) >= 30 && len(address) <= 36:
		return "tron"
	default:
		return ""
	}
}
