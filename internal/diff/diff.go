// Package diff compares an original structured record against a proposed
// version and produces the minimal set of changed field names, tolerant of
// representational noise (null vs empty string, array order, date formats).
package diff

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"
)

// ChangedFields returns the names of fields in original whose proposed value
// is not effectively equal. Fields present only in proposed are ignored so
// that extra client-supplied keys never register as differences.
func ChangedFields(original, proposed map[string]any) []string {
	changed := make([]string, 0)
	for name, before := range original {
		after, ok := proposed[name]
		if !ok {
			after = nil
		}
		if !EffectivelyEqual(before, after) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// EffectivelyEqual applies the noise-tolerant comparison: the absence class
// (nil, empty string, empty array) compares equal to itself, arrays compare
// order-insensitively, and strings that both parse as timestamps compare by
// instant.
func EffectivelyEqual(a, b any) bool {
	if isAbsent(a) && isAbsent(b) {
		return true
	}
	if isAbsent(a) != isAbsent(b) {
		return false
	}

	aList, aIsList := asList(a)
	bList, bIsList := asList(b)
	if aIsList && bIsList {
		return listsEqual(aList, bList)
	}
	if aIsList != bIsList {
		return false
	}

	if aStr, ok := asString(a); ok {
		if bStr, ok := asString(b); ok {
			if aTime, aOK := parseTimestamp(aStr); aOK {
				if bTime, bOK := parseTimestamp(bStr); bOK {
					return aTime.Equal(bTime)
				}
			}
			return aStr == bStr
		}
		return false
	}

	return reflect.DeepEqual(normalize(a), normalize(b))
}

// CollectionChanged reports whether a nested evidence collection differs
// from its live counterpart once both sides are normalized to the fields in
// keep. Count mismatch is a change; otherwise items are compared pairwise in
// order by serialized equality.
func CollectionChanged(original, proposed []map[string]any, keep []string) bool {
	normOriginal := NormalizeItems(original, keep)
	normProposed := NormalizeItems(proposed, keep)
	if len(normOriginal) != len(normProposed) {
		return true
	}
	for i := range normOriginal {
		if serialize(normOriginal[i]) != serialize(normProposed[i]) {
			return true
		}
	}
	return false
}

// NormalizeItems reduces each item to the keep subset, dropping noise fields
// (timestamps, derived values) while preserving identity for the
// upsert-by-identity apply step. Absent values are dropped entirely so that
// a missing key and an explicit null serialize identically.
func NormalizeItems(items []map[string]any, keep []string) []map[string]any {
	normalized := make([]map[string]any, 0, len(items))
	for _, item := range items {
		entry := make(map[string]any, len(keep))
		for _, key := range keep {
			value, ok := item[key]
			if !ok || isAbsent(value) {
				continue
			}
			entry[key] = normalize(value)
		}
		normalized = append(normalized, entry)
	}
	return normalized
}

func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := asString(v); ok {
		return strings.TrimSpace(s) == ""
	}
	if list, ok := asList(v); ok {
		return len(list) == 0
	}
	return false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		generic := make([]any, len(list))
		for i, item := range list {
			generic[i] = item
		}
		return generic, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		generic := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			generic[i] = rv.Index(i).Interface()
		}
		return generic, true
	}
	return nil, false
}

func listsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	aKeys := make([]string, len(a))
	bKeys := make([]string, len(b))
	for i := range a {
		aKeys[i] = serialize(a[i])
		bKeys[i] = serialize(b[i])
	}
	sort.Strings(aKeys)
	sort.Strings(bKeys)
	for i := range aKeys {
		if aKeys[i] != bKeys[i] {
			return false
		}
	}
	return true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// normalize round-trips a value through JSON so that typed Go values and
// decoded JSON values compare structurally.
func normalize(v any) any {
	encoded, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return v
	}
	return decoded
}

func serialize(v any) string {
	encoded, err := json.Marshal(normalize(v))
	if err != nil {
		return ""
	}
	return string(encoded)
}
