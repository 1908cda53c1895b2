package connectors

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Flatten turns a nested payload into dotted key paths with string values.
// Lists are indexed (`names.0`); nulls are dropped so that a field going
// null reads as removed.
func Flatten(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	flattenInto(out, "", data)
	return out
}

func flattenInto(out map[string]string, prefix string, v any) {
	switch t := v.(type) {
	case nil:
		return
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenInto(out, join(prefix, k), t[k])
		}
	case []any:
		for i, item := range t {
			flattenInto(out, join(prefix, strconv.Itoa(i)), item)
		}
	default:
		if prefix == "" {
			return
		}
		out[prefix] = scalar(t)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
