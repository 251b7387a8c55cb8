// Package filter evaluates a filter tree against an index's filterable-field
// facet indexes to produce an initial candidate bitmap, instead of
// re-evaluating the same operator set per document, in memory, on every
// search. The operator set and parsing idiom (longest-suffix operator
// match on a "field_operator" key) follows config.ValidateFieldNames's
// knownFilterOperators; the evaluation itself runs on top of store's
// bitmap-valued facet maps.
package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gcbaptista/go-search-engine/config"
	domainErrors "github.com/gcbaptista/go-search-engine/internal/errors"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/store"
)

// operatorSuffixes mirrors config.ValidateFieldNames's knownFilterOperators,
// tried longest-first so "_contains_any_of" isn't mistaken for "_contains".
var operatorSuffixes = []string{
	"_contains_any_of", "_ncontains", "_contains", "_exact",
	"_gte", "_lte", "_gt", "_lt", "_ne", "_op",
}

// Condition is one leaf test: field OP value, e.g. {Field: "price", Operator:
// "_gte", Value: 10}. Operator "" (or "_exact") means equality.
type Condition struct {
	Field    string
	Operator string
	Value    interface{}
}

// ParseKey splits a request key like "price_gte" into its field and
// operator, using the longest matching operator suffix.
func ParseKey(key string) (field, operator string) {
	for _, suffix := range operatorSuffixes {
		if strings.HasSuffix(key, suffix) && len(key) > len(suffix) {
			return strings.TrimSuffix(key, suffix), suffix
		}
	}
	return key, ""
}

// NodeKind is the boolean combinator a Node applies over its children.
type NodeKind int

const (
	// Leaf evaluates a single Condition.
	Leaf NodeKind = iota
	// And intersects every child's candidate bitmap.
	And
	// Or unions every child's candidate bitmap.
	Or
	// Not subtracts its single child's candidate bitmap from the universe
	// of all indexed documents.
	Not
)

// Node is one node of a filter tree: either a leaf Condition, or a boolean
// combinator over child Nodes.
type Node struct {
	Kind      NodeKind
	Condition Condition
	Children  []Node
}

// Eval walks the tree and returns the bitmap of internal document ids that
// satisfy it.
func Eval(tx *kv.Tx, settings *config.IndexSettings, node Node) (*roaring.Bitmap, error) {
	switch node.Kind {
	case Leaf:
		return evalCondition(tx, settings, node.Condition)
	case And:
		acc, err := evalAll(tx, settings, node.Children)
		if err != nil {
			return nil, err
		}
		if len(acc) == 0 {
			return roaring.New(), nil
		}
		result := acc[0]
		for _, bm := range acc[1:] {
			result.And(bm)
		}
		return result, nil
	case Or:
		acc, err := evalAll(tx, settings, node.Children)
		if err != nil {
			return nil, err
		}
		result := roaring.New()
		for _, bm := range acc {
			result.Or(bm)
		}
		return result, nil
	case Not:
		if len(node.Children) != 1 {
			return nil, fmt.Errorf("filter: NOT node must have exactly one child, got %d", len(node.Children))
		}
		inner, err := Eval(tx, settings, node.Children[0])
		if err != nil {
			return nil, err
		}
		universe, err := store.AllDocumentIDs(tx)
		if err != nil {
			return nil, err
		}
		universe.AndNot(inner)
		return universe, nil
	default:
		return nil, fmt.Errorf("filter: unknown node kind %d", node.Kind)
	}
}

func evalAll(tx *kv.Tx, settings *config.IndexSettings, nodes []Node) ([]*roaring.Bitmap, error) {
	out := make([]*roaring.Bitmap, 0, len(nodes))
	for _, child := range nodes {
		bm, err := Eval(tx, settings, child)
		if err != nil {
			return nil, err
		}
		out = append(out, bm)
	}
	return out, nil
}

func evalCondition(tx *kv.Tx, settings *config.IndexSettings, cond Condition) (*roaring.Bitmap, error) {
	if !settings.IsFilterable(cond.Field) {
		return nil, domainErrors.NewFilterFieldError(cond.Field, settings.FilterableFields)
	}

	fieldID, ok := store.LookupFieldID(tx, cond.Field)
	if !ok {
		// Field is declared filterable but no document has ever set it:
		// every operator matches nothing, except negation operators, which
		// vacuously match nothing too since there's nothing to exclude from.
		return roaring.New(), nil
	}

	switch cond.Operator {
	case "", "_exact":
		return equalityBitmap(tx, fieldID, cond.Value)
	case "_ne":
		eq, err := equalityBitmap(tx, fieldID, cond.Value)
		if err != nil {
			return nil, err
		}
		all, err := allValuesBitmap(tx, fieldID)
		if err != nil {
			return nil, err
		}
		all.AndNot(eq)
		return all, nil
	case "_contains", "_ncontains":
		matches, err := substringBitmap(tx, fieldID, cond.Value, cond.Operator == "_ncontains")
		if err != nil {
			return nil, err
		}
		return matches, nil
	case "_contains_any_of":
		values, ok := cond.Value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %q requires an array value", domainErrors.ErrInvalidFilter, cond.Field)
		}
		result := roaring.New()
		for _, v := range values {
			bm, err := equalityBitmap(tx, fieldID, v)
			if err != nil {
				return nil, err
			}
			result.Or(bm)
		}
		return result, nil
	case "_gt", "_gte", "_lt", "_lte":
		return rangeBitmap(tx, fieldID, cond.Operator, cond.Value)
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", domainErrors.ErrInvalidFilter, cond.Operator)
	}
}

func equalityBitmap(tx *kv.Tx, fieldID uint16, value interface{}) (*roaring.Bitmap, error) {
	switch v := value.(type) {
	case string:
		return store.StringFacetDocIDs(tx, fieldID, strings.ToLower(strings.TrimSpace(v)))
	case bool:
		s := "false"
		if v {
			s = "true"
		}
		return store.StringFacetDocIDs(tx, fieldID, s)
	case float64:
		return store.NumericFacetDocIDs(tx, fieldID, kv.EncodeInt64(int64(v)))
	default:
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		return store.NumericFacetDocIDs(tx, fieldID, kv.EncodeInt64(n))
	}
}

// substringBitmap scans every distinct string value recorded for fieldID
// and unions the bitmaps of values that contain (or, for _ncontains, don't
// contain) needle. The facet index is a value->bitmap map, not a token
// index, so a substring test has no bitmap shortcut and must walk the
// distinct-value set; filterable fields are expected to have a bounded
// cardinality.
func substringBitmap(tx *kv.Tx, fieldID uint16, value interface{}, negate bool) (*roaring.Bitmap, error) {
	needle, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: _contains requires a string value", domainErrors.ErrInvalidFilter)
	}
	needle = strings.ToLower(strings.TrimSpace(needle))
	values, err := store.StringFacetValues(tx, fieldID)
	if err != nil {
		return nil, err
	}
	result := roaring.New()
	for _, fv := range values {
		has := strings.Contains(string(fv.Value), needle)
		if has != negate {
			result.Or(fv.Docs)
		}
	}
	return result, nil
}

func rangeBitmap(tx *kv.Tx, fieldID uint16, operator string, value interface{}) (*roaring.Bitmap, error) {
	n, err := toInt64(value)
	if err != nil {
		return nil, err
	}
	var start, end []byte
	switch operator {
	case "_gt":
		start = kv.EncodeInt64(n + 1)
	case "_gte":
		start = kv.EncodeInt64(n)
	case "_lt":
		end = kv.EncodeInt64(n)
	case "_lte":
		end = kv.EncodeInt64(n + 1)
	}
	values, err := store.NumericFacetValuesInRange(tx, fieldID, start, end)
	if err != nil {
		return nil, err
	}
	result := roaring.New()
	for _, v := range values {
		result.Or(v.Docs)
	}
	return result, nil
}

// allValuesBitmap unions every value recorded for fieldID, across both the
// string and numeric facet trees, the universe _ne subtracts the matching
// value from.
func allValuesBitmap(tx *kv.Tx, fieldID uint16) (*roaring.Bitmap, error) {
	result := roaring.New()
	strVals, err := store.StringFacetValues(tx, fieldID)
	if err != nil {
		return nil, err
	}
	for _, v := range strVals {
		result.Or(v.Docs)
	}
	numVals, err := store.NumericFacetValuesInRange(tx, fieldID, nil, nil)
	if err != nil {
		return nil, err
	}
	for _, v := range numVals {
		result.Or(v.Docs)
	}
	return result, nil
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				return 0, fmt.Errorf("%w: cannot parse %q as a number", domainErrors.ErrInvalidFilter, v)
			}
			return int64(f), nil
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: unsupported filter value type %T", domainErrors.ErrInvalidFilter, value)
	}
}

// sortedStrings returns a sorted copy of in, leaving in untouched. Nothing
// in the module calls it at present.
func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
