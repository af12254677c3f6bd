// Package schema declares entity shapes: named record types whose
// fields are either scalar, relation, or resolver-defined. Entities are
// the unit of cache identity — (entity name, id) is a globally unique
// key tracked by the operation log and the protocol handler's broadcast
// index.
package schema

import (
	"fmt"
	"sync"
)

// FieldKind discriminates how a field's value is produced.
type FieldKind int

const (
	// FieldScalar fields carry a raw value, optionally passed through
	// Serialize before being placed on the wire.
	FieldScalar FieldKind = iota
	// FieldRelation fields reference another entity by id (or a list
	// of ids when Many is set).
	FieldRelation
	// FieldResolver fields have no stored value — their value comes
	// from a FieldResolver registered for the owning entity.
	FieldResolver
)

// Serializer converts a stored scalar value to its wire representation
// (Date → ISO string, []byte → base64, etc).
type Serializer func(value any) (any, error)

// Field is one declared field of an Entity.
type Field struct {
	Name      string
	Kind      FieldKind
	Serialize Serializer // Scalar only; nil means pass the value through unchanged.
	Target    string     // Relation only: the target entity's name.
	Many      bool       // Relation only: true for a to-many relation.
}

// Scalar declares a plain scalar field with no serializer (passthrough).
func Scalar(name string) Field {
	return Field{Name: name, Kind: FieldScalar}
}

// ScalarWith declares a scalar field with an explicit wire serializer.
func ScalarWith(name string, serialize Serializer) Field {
	return Field{Name: name, Kind: FieldScalar, Serialize: serialize}
}

// Relation declares a relation field pointing at target; many selects
// to-many cardinality.
func Relation(name, target string, many bool) Field {
	return Field{Name: name, Kind: FieldRelation, Target: target, Many: many}
}

// Resolved declares a field whose value is produced entirely by a
// FieldResolver registered for this entity — the field carries no
// stored representation of its own.
func Resolved(name string) Field {
	return Field{Name: name, Kind: FieldResolver}
}

// Entity is a named record type: the unit of cache identity via its id
// field, which every entity is expected to carry.
type Entity struct {
	Name   string
	fields map[string]Field
	order  []string
}

// NewEntity builds an Entity from its fields. Panics on a duplicate
// field name — that is a configuration error caught at startup, not a
// runtime condition.
func NewEntity(name string, fields ...Field) *Entity {
	e := &Entity{Name: name, fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if _, exists := e.fields[f.Name]; exists {
			panic(fmt.Sprintf("schema: entity %q declares field %q twice", name, f.Name))
		}
		e.fields[f.Name] = f
		e.order = append(e.order, f.Name)
	}
	return e
}

// Field looks up a declared field by name.
func (e *Entity) Field(name string) (Field, bool) {
	f, ok := e.fields[name]
	return f, ok
}

// FieldNames returns field names in declaration order.
func (e *Entity) FieldNames() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Registry holds Entity definitions by name, consulted by the engine
// during post-processing (relation expansion, serialization) and by
// the router when flattening metadata (declared return entity names).
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

// NewRegistry creates an empty entity registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*Entity)}
}

// Register adds e to the registry. Returns an error if the name is
// already taken — entity names, like operation paths, must be unique.
func (r *Registry) Register(e *Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entities[e.Name]; exists {
		return fmt.Errorf("schema: entity %q already registered", e.Name)
	}
	r.entities[e.Name] = e
	return nil
}

// Lookup returns the Entity registered under name, if any.
func (r *Registry) Lookup(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	return e, ok
}

// Names returns all registered entity names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entities))
	for name := range r.entities {
		out = append(out, name)
	}
	return out
}
