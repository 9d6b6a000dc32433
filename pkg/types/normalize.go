package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// NormalizeDetails returns a copy of m with every decimal value converted
// to its exact string representation, recursing into nested maps and
// slices. Token amounts must never pass through float64: the history
// store persists them as strings and reads them back unchanged.
func NormalizeDetails(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case decimal.Decimal:
		return val.String()
	case *decimal.Decimal:
		if val == nil {
			return nil
		}
		return val.String()
	case json.Number:
		// json.Number already carries the exact textual form.
		return val.String()
	case map[string]any:
		return NormalizeDetails(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = normalizeValue(item)
		}
		return items
	default:
		return v
	}
}
