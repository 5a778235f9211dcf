// Package mapping resolves field paths inside workflow payloads and applies key remappings.
package mapping

import (
	"strings"

	"github.com/oliveagle/jsonpath"
)

// Lookup resolves path against data. A plain key is looked up directly; a dotted path
// ("user.address.city") or a JSONPath expression ("$.items[0].id") is walked with jsonpath.
func Lookup(data map[string]interface{}, path string) (interface{}, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	if v, ok := data[path]; ok {
		return v, true
	}
	if !strings.ContainsAny(path, ".[$") {
		return nil, false
	}

	expr := path
	if !strings.HasPrefix(expr, "$") {
		expr = "$." + expr
	}
	value, err := jsonpath.JsonPathLookup(data, expr)
	if err != nil {
		return nil, false
	}
	return value, true
}

// Apply copies src and then sets every mapping target to the value found at its source path.
// Unmapped fields pass through unchanged; targets whose source cannot be resolved are skipped.
func Apply(src map[string]interface{}, mapping map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(src)+len(mapping))
	for k, v := range src {
		out[k] = v
	}
	for target, source := range mapping {
		if v, ok := Lookup(src, source); ok {
			out[target] = v
		}
	}
	return out
}

// Extract builds a map holding only the mapping targets.
func Extract(src map[string]interface{}, mapping map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(mapping))
	for target, source := range mapping {
		if v, ok := Lookup(src, source); ok {
			out[target] = v
		}
	}
	return out
}

// Clone deep-copies maps and slices so that the copy can be handed to a concurrent reader.
func Clone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	default:
		return v
	}
}

// CloneMap deep-copies a payload map. A nil map yields an empty map.
func CloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// WithoutReserved drops engine-internal keys (prefixed "__") from a context copy.
func WithoutReserved(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, "__") {
			continue
		}
		out[k] = v
	}
	return out
}
