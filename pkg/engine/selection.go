package engine

import (
	"fmt"

	"github.com/lensrpc/lens/pkg/protocol"
)

// Selection is the parsed form of a client's $select input: field name
// to either a plain include/exclude flag or a nested selection carrying
// further args. A nil Selection means "no explicit selection" — the
// post-processing pipeline falls back to its default field set.
type Selection map[string]SelectionEntry

// SelectionEntry is one field's selection: Include governs exposure,
// Nested carries a further selection for relation/resolver fields that
// return their own entity, Input carries args passed to that field's
// resolver.
type SelectionEntry struct {
	Include bool
	Nested  Selection
	Input   any
}

// parseSelection decodes the generic JSON value behind a $select key
// (a map[string]any whose entries are bool or map[string]any with
// optional "select"/"input" keys) into a Selection.
func parseSelection(raw any) (Selection, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("engine: $select must be an object")
	}
	sel := make(Selection, len(m))
	for field, v := range m {
		switch val := v.(type) {
		case bool:
			sel[field] = SelectionEntry{Include: val}
		case map[string]any:
			entry := SelectionEntry{Include: true}
			if nestedRaw, ok := val["select"]; ok {
				nested, err := parseSelection(nestedRaw)
				if err != nil {
					return nil, fmt.Errorf("engine: field %q: %w", field, err)
				}
				entry.Nested = nested
			}
			if input, ok := val["input"]; ok {
				entry.Input = input
			}
			sel[field] = entry
		default:
			return nil, fmt.Errorf("engine: invalid selection entry for field %q", field)
		}
	}
	return sel, nil
}

// selectFromInput pulls the reserved $select key out of a decoded
// input value, if present.
func selectFromInput(input any) any {
	m, ok := input.(map[string]any)
	if !ok {
		return nil
	}
	return m["$select"]
}

// BuildSelection merges a subscription's coarse top-level field set
// (from the wire "fields" property: "*" or a name list) with the
// finer-grained $select embedded in input. $select entries win over
// the flat field list for any field they name. A nil result means
// "everything, with engine defaults" (fields == "*" and no $select).
func BuildSelection(fields protocol.FieldsSelector, nestedRaw any) (Selection, error) {
	if fields.All && nestedRaw == nil {
		return nil, nil
	}
	sel := Selection{}
	if !fields.All {
		for _, f := range fields.Fields {
			sel[f] = SelectionEntry{Include: true}
		}
	}
	if nestedRaw != nil {
		nested, err := parseSelection(nestedRaw)
		if err != nil {
			return nil, err
		}
		for k, v := range nested {
			sel[k] = v
		}
	}
	return sel, nil
}
