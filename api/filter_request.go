package api

import "github.com/gcbaptista/go-search-engine/internal/filter"

// ParseFlatFilter turns a flat field_operator -> value request body (the
// shape both search and document-delete-by-filter requests accept) into
// an AND-combined filter.Node, using the same "field_operator" key split
// as internal/filter.ParseKey.
func ParseFlatFilter(raw map[string]interface{}) *filter.Node {
	if len(raw) == 0 {
		return nil
	}
	node := filter.Node{Kind: filter.And}
	for key, value := range raw {
		field, operator := filter.ParseKey(key)
		node.Children = append(node.Children, filter.Node{
			Kind:      filter.Leaf,
			Condition: filter.Condition{Field: field, Operator: operator, Value: value},
		})
	}
	return &node
}
