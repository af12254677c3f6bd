package engine

import (
	"context"
	"sync"

	"github.com/lensrpc/lens/pkg/schema"
)

// session scopes one subscription's post-processing passes across
// however many times its resolver emits. It exists so a field-level
// Subscribe resolver, once started for a given (entity, id, field),
// isn't started again on every re-emit, and so its pushed values can
// trigger a fresh pass over the subscription's last known top-level
// raw value rather than requiring the parent resolver to re-run.
//
// Field subscriptions are only wired for the operation's top-level
// return entity; a Subscribe resolver on a nested relation field runs
// once (its Resolve-equivalent initial value, if any) but its live
// updates are not patched back in — see DESIGN.md for the accepted
// scope limitation here.
type session struct {
	ctx        context.Context
	rc         *ResolverContext
	entityName string

	mu      sync.Mutex
	started map[string]bool
	lastRaw any

	reemit func(raw any)
}

func newSession(ctx context.Context, rc *ResolverContext, entityName string, reemit func(any)) *session {
	return &session{
		ctx:        ctx,
		rc:         rc,
		entityName: entityName,
		started:    make(map[string]bool),
		reemit:     reemit,
	}
}

func (s *session) setLastRaw(raw any) {
	s.mu.Lock()
	s.lastRaw = raw
	s.mu.Unlock()
}

func fieldSubKey(entityName, id, field string) string {
	return entityName + "\x00" + id + "\x00" + field
}

// startFieldSubscriptionOnce runs start exactly once per key for the
// lifetime of the session.
func (s *session) startFieldSubscriptionOnce(key string, start func()) {
	s.mu.Lock()
	if s.started[key] {
		s.mu.Unlock()
		return
	}
	s.started[key] = true
	s.mu.Unlock()
	start()
}

// reemitTopLevelField patches field's value into a shallow clone of the
// cached top-level raw value (only when that raw value is itself the
// matching top-level entity instance) and re-enters the emit pipeline.
func (s *session) reemitTopLevelField(id, field string, value any) {
	s.mu.Lock()
	raw := s.lastRaw
	s.mu.Unlock()

	top, ok := raw.(map[string]any)
	if !ok {
		return
	}
	if topID, _ := top["id"].(string); topID != id {
		return
	}
	clone := make(map[string]any, len(top)+1)
	for k, v := range top {
		clone[k] = v
	}
	clone[field] = value
	s.reemit(clone)
}

// postProcessTop is the entry point for one emitted raw value: runs
// selection, field-resolver invocation, entity expansion, and
// serialization, returning the wire-ready value.
func (e *Engine) postProcessTop(sess *session, raw any, selection Selection) (any, error) {
	sess.setLastRaw(raw)
	return e.postProcessValue(sess, sess.entityName, raw, selection, true)
}

func (e *Engine) postProcessValue(sess *session, entityName string, raw any, selection Selection, topLevel bool) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]any, len(v))
		var wg sync.WaitGroup
		errs := make([]error, len(v))
		for i, elem := range v {
			i, elem := i, elem
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := e.postProcessValue(sess, entityName, elem, selection, false)
				out[i] = res
				errs[i] = err
			}()
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case map[string]any:
		if entityName == "" {
			return v, nil
		}
		entity, ok := e.schema.Lookup(entityName)
		if !ok {
			return v, nil
		}
		return e.postProcessEntity(sess, entity, v, selection, topLevel)
	default:
		return v, nil
	}
}

type fieldJob struct {
	name  string
	value any
	err   error
}

func (e *Engine) postProcessEntity(sess *session, entity *schema.Entity, parent map[string]any, selection Selection, topLevel bool) (map[string]any, error) {
	out := make(map[string]any)

	if entry, has := selection["id"]; !has || entry.Include {
		if id, ok := parent["id"]; ok {
			out["id"] = id
		}
	}

	fieldNames := entity.FieldNames()
	jobs := make([]fieldJob, 0, len(fieldNames))

	for _, name := range fieldNames {
		if name == "id" {
			continue
		}
		entry, explicit := selection[name]
		if selection != nil && !explicit {
			continue
		}
		if explicit && !entry.Include {
			continue
		}
		jobs = append(jobs, fieldJob{name: name})
	}

	var wg sync.WaitGroup
	for i := range jobs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry := selection[jobs[i].name]
			field, _ := entity.Field(jobs[i].name)
			val, err := e.resolveField(sess, entity.Name, field, parent, entry, topLevel)
			jobs[i].value = val
			jobs[i].err = err
		}()
	}
	wg.Wait()

	for _, j := range jobs {
		if j.err != nil {
			return nil, j.err
		}
		if j.value != nil {
			out[j.name] = j.value
		}
	}

	return out, nil
}

// resolveField produces one field's wire value per §4.4: expose passes
// the stored scalar through its serializer, resolve runs a pure
// computation (batched concurrently with sibling fields via the
// goroutine fan-out in postProcessEntity), subscribe starts a
// long-lived field resolver whose pushes re-enter the pipeline.
func (e *Engine) resolveField(sess *session, entityName string, field schema.Field, parent map[string]any, entry SelectionEntry, topLevel bool) (any, error) {
	fr, hasResolver := e.resolvers.FieldFor(entityName, field.Name)

	switch field.Kind {
	case schema.FieldScalar:
		if hasResolver && fr.Resolve != nil {
			return fr.Resolve(sess.ctx, parent, entry.Input)
		}
		raw, ok := parent[field.Name]
		if !ok {
			return nil, nil
		}
		if field.Serialize != nil {
			return field.Serialize(raw)
		}
		return raw, nil

	case schema.FieldRelation:
		var raw any = parent[field.Name]
		if hasResolver && fr.Resolve != nil {
			v, err := fr.Resolve(sess.ctx, parent, entry.Input)
			if err != nil {
				return nil, err
			}
			raw = v
		}
		if raw == nil {
			return nil, nil
		}
		return e.postProcessValue(sess, field.Target, raw, entry.Nested, false)

	case schema.FieldResolver:
		if !hasResolver {
			return nil, nil
		}
		if topLevel && fr.Subscribe != nil {
			id, _ := parent["id"].(string)
			if id != "" {
				key := fieldSubKey(entityName, id, field.Name)
				sess.startFieldSubscriptionOnce(key, func() {
					e.startFieldSubscription(sess, entityName, id, field, fr, parent, entry)
				})
			}
		}
		if v, ok := parent[field.Name]; ok {
			return v, nil
		}
		if fr.Resolve != nil {
			return fr.Resolve(sess.ctx, parent, entry.Input)
		}
		return nil, nil
	}
	return nil, nil
}

func (e *Engine) startFieldSubscription(sess *session, entityName, id string, field schema.Field, fr schema.FieldResolver, parent map[string]any, entry SelectionEntry) {
	fieldCtx, cancel := context.WithCancel(sess.ctx)
	rc := &ResolverContext{ctx: fieldCtx}
	rc.onEmit = func(v any) {
		sess.reemitTopLevelField(id, field.Name, v)
	}
	sess.rc.OnCleanup(func() {
		cancel()
		rc.runCleanups()
	})
	go fr.Subscribe(rc, parent, entry.Input)
}
