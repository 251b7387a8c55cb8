package model

import "fmt"

// Document is a flexible map representing a JSON document. Fields are
// accessed by their string keys and depend on index configuration; the
// only field treated specially is the primary key, whose name is declared
// per-index rather than fixed.
type Document map[string]interface{}

// PrimaryKeyValue extracts the document's id under the given primary key
// field, coercing numbers and booleans to their string form the way a
// JSON-sourced id often needs (e.g. a numeric id field). Returns false if
// the field is absent, an empty string, or not a scalar.
func (d Document) PrimaryKeyValue(primaryKey string) (string, bool) {
	v, ok := d[primaryKey]
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		if val == "" {
			return "", false
		}
		return val, true
	case float64:
		return fmt.Sprintf("%g", val), true
	case int:
		return fmt.Sprintf("%d", val), true
	case bool:
		return fmt.Sprintf("%t", val), true
	default:
		return "", false
	}
}

// InferPrimaryKey returns the first field name in candidates present in
// every sampled document.
func InferPrimaryKey(docs []Document, candidates []string) (string, bool) {
	if len(docs) == 0 {
		return "", false
	}
	for _, candidate := range candidates {
		allHaveIt := true
		for _, d := range docs {
			if _, ok := d.PrimaryKeyValue(candidate); !ok {
				allHaveIt = false
				break
			}
		}
		if allHaveIt {
			return candidate, true
		}
	}
	return "", false
}
