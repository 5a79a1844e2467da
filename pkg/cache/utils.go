package cache

import (
	"fmt"
	"strings"
)

// Key namespaces. Keys are "<prefix>:<part>[:<part>...]".
const (
	PrefixPrice      = "price"
	PrefixDecision   = "decision"
	PrefixIndicators = "indicators"
	PrefixLock       = "lock"
)

// GenerateKey joins prefix and parts with ":".
func GenerateKey(prefix string, parts ...string) string {
	return strings.Join(append([]string{prefix}, parts...), ":")
}

// GenerateKeyWithParams is GenerateKey for non-string parts.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = fmt.Sprint(p)
	}
	return GenerateKey(prefix, parts...)
}

func PriceKey(symbol string) string      { return GenerateKey(PrefixPrice, symbol) }
func DecisionKey(symbol string) string   { return GenerateKey(PrefixDecision, symbol) }
func IndicatorsKey(symbol string) string { return GenerateKey(PrefixIndicators, symbol) }
