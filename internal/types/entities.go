package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// ENTITY EXTRACTION UTILITIES
// =============================================================================
//
// Classification entities travel as map[string]any because they cross a JSON
// boundary (LLM-assisted classification) and a heterogeneous extractor set.
// These helpers replace bare type assertions that panic on mismatch: JSON
// round-trips turn int64 into float64, and regex extractors produce strings.

// EntityString extracts a string value from an entity map.
func EntityString(entities map[string]any, key string) (string, bool) {
	v, ok := entities[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case time.Time:
		return t.Format(time.RFC3339), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

// EntityInt64 extracts an int64 value from an entity map.
// Returns (0, false) when the key is absent or not coercible.
func EntityInt64(entities map[string]any, key string) (int64, bool) {
	v, ok := entities[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		// JSON numbers decode to float64; accept only integral values.
		if t == float64(int64(t)) {
			return int64(t), true
		}
		return 0, false
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// EntityInt extracts an int value from an entity map.
func EntityInt(entities map[string]any, key string) (int, bool) {
	n, ok := EntityInt64(entities, key)
	if !ok {
		return 0, false
	}
	return int(n), true
}

// EntityFloat64 extracts a float64 value from an entity map.
func EntityFloat64(entities map[string]any, key string) (float64, bool) {
	v, ok := entities[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// MergeEntities overlays src onto dst without clobbering existing keys.
// Workflow turns accumulate entities across extraction passes; the first
// extracted value for a key wins within a turn.
func MergeEntities(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
	return dst
}
