package models

// Field coercion helpers for decoding raw store records. Raw documents are
// generic JSON trees; these tolerate missing fields and wrong types by
// returning the zero value, so unknown shapes degrade instead of failing.

// StringField returns the string at key, or fallback when absent or not a
// string.
func StringField(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// Int64Field returns the integer at key (JSON numbers decode as float64),
// or fallback.
func Int64Field(m map[string]any, key string, fallback int64) int64 {
	switch n := m[key].(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return fallback
}

// BoolField returns the bool at key, false when absent or not a bool.
func BoolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
