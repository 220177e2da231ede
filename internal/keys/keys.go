// internal/keys/keys.go
package keys

import "strings"

// Cache keys take the form "<dataType>:<symbol>" ("stock:AAPL") or a bare
// "<dataType>" for market-wide entries ("market-data").

// Build assembles a cache key from a data type and optional symbol.
func Build(dataType, symbol string) string {
	if symbol == "" {
		return dataType
	}
	return dataType + ":" + symbol
}

// Parse splits a cache key into data type and optional symbol.
func Parse(key string) (dataType, symbol string) {
	idx := strings.IndexByte(key, ':')
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}
