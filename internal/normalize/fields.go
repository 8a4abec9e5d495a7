package normalize

import (
	"math"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// The upstream feeds are loose about numeric encoding: the same field can
// arrive as a JSON number, a quoted string, or be missing entirely. Every
// numeric read goes through one shared parse-or-default path so the rest of
// the system never sees a NaN, an Inf, or a type surprise.

// Number returns the first key in raw that holds a usable numeric value.
func Number(raw map[string]any, keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if d, ok := toDecimal(v); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// NumberOr is Number with an explicit fallback.
func NumberOr(raw map[string]any, fallback decimal.Decimal, keys ...string) decimal.Decimal {
	if d, ok := Number(raw, keys...); ok {
		return d
	}
	return fallback
}

// String returns the first key in raw holding a non-empty string.
func String(raw map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return s, true
				}
			}
		}
	}
	return "", false
}

// toDecimal converts a decoded JSON value to a finite decimal.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(f), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case decimal.Decimal:
		return n, true
	default:
		return decimal.Zero, false
	}
}
