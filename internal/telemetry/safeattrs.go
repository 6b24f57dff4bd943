package telemetry

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Substrings that mark a key as carrying content or credentials. Such keys
// are never exported.
var denyKeys = []string{
	"prompt", "content", "text", "value",
	"authorization", "api_key", "token", "secret", "password",
	"email", "phone", "iban", "ssn", "credit_card",
}

const (
	maxStringLen  = 512
	maxSliceItems = 32
)

// SafeAttributes converts values to span attributes sorted by key. Denied
// keys, strings over maxStringLen and unsupported types are skipped and
// slices are cut to maxSliceItems.
func SafeAttributes(values map[string]any) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	var attrs []attribute.KeyValue
	for _, k := range slices.Sorted(maps.Keys(values)) {
		if denied(k) {
			continue
		}
		if v, ok := attrValue(values[k]); ok {
			attrs = append(attrs, attribute.KeyValue{Key: attribute.Key(k), Value: v})
		}
	}
	return attrs
}

func attrValue(raw any) (attribute.Value, bool) {
	switch v := raw.(type) {
	case string:
		return stringValue(v)
	case fmt.Stringer:
		return stringValue(v.String())
	case bool:
		return attribute.BoolValue(v), true
	case int:
		return attribute.IntValue(v), true
	case int64:
		return attribute.Int64Value(v), true
	case float64:
		return attribute.Float64Value(v), true
	case []string:
		return attribute.StringSliceValue(head(v)), true
	case []int:
		return attribute.IntSliceValue(head(v)), true
	}
	return attribute.Value{}, false
}

func stringValue(s string) (attribute.Value, bool) {
	if len(s) > maxStringLen {
		return attribute.Value{}, false
	}
	return attribute.StringValue(s), true
}

func denied(key string) bool {
	lk := strings.ToLower(key)
	return slices.ContainsFunc(denyKeys, func(bad string) bool {
		return strings.Contains(lk, bad)
	})
}

func head[T any](in []T) []T {
	return in[:min(len(in), maxSliceItems)]
}
