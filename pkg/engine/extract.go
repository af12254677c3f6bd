package engine

import (
	"fmt"

	"github.com/lensrpc/lens/pkg/schema"
)

// EntityChange is one (entity, id) pair whose canonical data the
// mutation pipeline is offering to the operation log.
type EntityChange struct {
	Entity string
	ID     string
	Data   map[string]any
}

// ExtractEntities walks a resolver's raw return value and pulls out
// every entity instance it contains: the top-level value itself (typed
// by entityName) plus, recursively, any relation field's nested
// value(s), typed by that relation's declared target entity. Arrays
// are processed element-wise.
func ExtractEntities(registry *schema.Registry, entityName string, value any) ([]EntityChange, error) {
	var out []EntityChange
	if err := extractInto(registry, entityName, value, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func extractInto(registry *schema.Registry, entityName string, value any, out *[]EntityChange) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		for _, elem := range v {
			if err := extractInto(registry, entityName, elem, out); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if entityName == "" {
			return nil
		}
		entity, ok := registry.Lookup(entityName)
		if !ok {
			return fmt.Errorf("engine: unknown entity %q", entityName)
		}
		id, ok := v["id"].(string)
		if !ok || id == "" {
			return fmt.Errorf("engine: entity %q value missing string id", entityName)
		}
		*out = append(*out, EntityChange{Entity: entityName, ID: id, Data: v})

		for _, name := range entity.FieldNames() {
			field, _ := entity.Field(name)
			if field.Kind != schema.FieldRelation {
				continue
			}
			nested, present := v[name]
			if !present || nested == nil {
				continue
			}
			if err := extractInto(registry, field.Target, nested, out); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("engine: cannot extract entity %q from %T", entityName, value)
	}
}
