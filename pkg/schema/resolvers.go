package schema

import (
	"context"
	"sync"
)

// ReactiveContext is the minimal surface a long-lived field resolver
// needs. The engine's resolver context satisfies this interface;
// schema stays free of an import on pkg/engine so the dependency runs
// one way (engine → schema).
type ReactiveContext interface {
	Context() context.Context
	Emit(value any)
	OnCleanup(fn func())
}

// ResolveFunc is a pure, batchable field computation: given the parent
// entity's already-serialized-so-far representation and the typed args
// taken from the selection, it returns the field's value.
type ResolveFunc func(ctx context.Context, parent map[string]any, args any) (any, error)

// SubscribeFunc is a long-lived field resolver. It receives a reactive
// context scoped to this one field's subscription and pushes values via
// rc.Emit; rc.OnCleanup registers teardown run when the parent entity
// stops being selected or the owning operation unsubscribes.
type SubscribeFunc func(rc ReactiveContext, parent map[string]any, args any)

// FieldResolver declares how one field of an entity is produced during
// post-processing. Exactly one of Resolve/Subscribe is normally set;
// Expose alone means "pass the stored value through unchanged", the
// default behavior when no FieldResolver is registered at all.
type FieldResolver struct {
	Expose    bool
	Resolve   ResolveFunc
	Subscribe SubscribeFunc
}

// EntityResolvers maps field name to its FieldResolver for one entity.
type EntityResolvers map[string]FieldResolver

// ResolverRegistry holds field-resolver records keyed by entity name,
// the "separate resolver record" the post-processing pipeline consults
// alongside the Registry's field-shape declarations.
type ResolverRegistry struct {
	mu        sync.RWMutex
	resolvers map[string]EntityResolvers
}

// NewResolverRegistry creates an empty resolver registry.
func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{resolvers: make(map[string]EntityResolvers)}
}

// Register attaches field resolvers to entityName, merging into
// whatever is already registered for that entity rather than replacing
// it wholesale — callers may register resolvers for one entity across
// several call sites (e.g. one package per field group).
func (r *ResolverRegistry) Register(entityName string, resolvers EntityResolvers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.resolvers[entityName]
	if !ok {
		existing = make(EntityResolvers, len(resolvers))
	}
	for field, fr := range resolvers {
		existing[field] = fr
	}
	r.resolvers[entityName] = existing
}

// For returns the field resolvers registered for entityName, if any.
func (r *ResolverRegistry) For(entityName string) (EntityResolvers, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fr, ok := r.resolvers[entityName]
	return fr, ok
}

// FieldFor returns the resolver for one field of one entity, if any.
func (r *ResolverRegistry) FieldFor(entityName, field string) (FieldResolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entityResolvers, ok := r.resolvers[entityName]
	if !ok {
		return FieldResolver{}, false
	}
	fr, ok := entityResolvers[field]
	return fr, ok
}

// HasStreamingField reports whether any field in fields (as selected)
// has a Subscribe resolver registered for entityName — the condition
// that forces the serving transport to support streaming (SSE excludes
// patch mode but still streams; HTTP POST cannot serve this at all).
func (r *ResolverRegistry) HasStreamingField(entityName string, fields []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entityResolvers, ok := r.resolvers[entityName]
	if !ok {
		return false
	}
	for _, field := range fields {
		if fr, ok := entityResolvers[field]; ok && fr.Subscribe != nil {
			return true
		}
	}
	return false
}
