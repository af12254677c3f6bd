// Package engine implements the reactive execution engine: it turns an
// operation invocation into an Observable stream of results, running
// field resolvers, honoring client field selection, computing
// cache-coherent deltas via the operation log, and cleaning up
// reactive sources on unsubscribe.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lensrpc/lens/pkg/observable"
	"github.com/lensrpc/lens/pkg/oplog"
	"github.com/lensrpc/lens/pkg/patch"
	"github.com/lensrpc/lens/pkg/plugin"
	"github.com/lensrpc/lens/pkg/protocol"
	"github.com/lensrpc/lens/pkg/router"
	"github.com/lensrpc/lens/pkg/schema"
)

// Result is what an operation's Observable delivers: exactly one of
// Data or Err is set.
type Result struct {
	Data any
	Err  *protocol.Error
}

// IterItem is one value produced by an async-iterable resolver. A
// non-nil Err terminates the stream with an error result.
type IterItem struct {
	Value any
	Err   error
}

// EntityStore is the subset of oplog.Storage the engine needs to offer
// mutation results to the operation log.
type EntityStore interface {
	Emit(ctx context.Context, key oplog.Key, newData map[string]any) (oplog.EmitResult, error)
}

// BroadcastFunc is invoked once per changed (entity, id) an operation's
// result produced, whatever the operation's kind. It is the engine's only integration point with fan-out —
// the protocol handler supplies an implementation that walks its
// subscription index and excludes the originating connection.
type BroadcastFunc func(ctx context.Context, change EntityChange, result oplog.EmitResult)

// Options configures a new Engine.
type Options struct {
	Table     *router.Table
	Schema    *schema.Registry
	Resolvers *schema.ResolverRegistry
	Log       EntityStore // optional: nil disables operation-log offering entirely
	Broadcast BroadcastFunc
	Plugins   *plugin.Chain // optional: nil installs an empty Chain
	Logger    *slog.Logger
}

// Engine resolves operations against a compiled router table.
type Engine struct {
	table     *router.Table
	schema    *schema.Registry
	resolvers *schema.ResolverRegistry
	log       EntityStore
	broadcast BroadcastFunc
	plugins   *plugin.Chain
	logger    *slog.Logger
}

// New builds an Engine from opts.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolvers := opts.Resolvers
	if resolvers == nil {
		resolvers = schema.NewResolverRegistry()
	}
	plugins := opts.Plugins
	if plugins == nil {
		plugins = plugin.NewChain()
	}
	return &Engine{
		table:     opts.Table,
		schema:    opts.Schema,
		resolvers: resolvers,
		log:       opts.Log,
		broadcast: opts.Broadcast,
		plugins:   plugins,
		logger:    logger,
	}
}

// SetBroadcast wires the engine's fan-out callback after construction,
// mirroring the teacher's ConnectionManager.SetListener — the protocol
// handler and the engine are constructed independently, and the
// handler needs a live *Engine before it can hand back a callback that
// closes over its own connection table.
func (e *Engine) SetBroadcast(fn BroadcastFunc) { e.broadcast = fn }

// Table returns the compiled operation table this engine resolves
// against, so protocol handlers can look up operation metadata (kind,
// return entity) without duplicating the router.
func (e *Engine) Table() *router.Table { return e.table }

// SchemaRegistry returns the entity registry this engine resolves
// against, so protocol handlers can extract entity keys from a result
// for broadcast registration.
func (e *Engine) SchemaRegistry() *schema.Registry { return e.schema }

// Request bundles one operation invocation.
type Request struct {
	Path   string
	Input  any
	Fields protocol.FieldsSelector
}

// Execute resolves req against the router table and returns a cold
// Observable of Results. Every Subscribe call re-runs the whole
// pipeline from step 1 (§4.3).
func (e *Engine) Execute(ctx context.Context, req Request) observable.Observable[Result] {
	return observable.New(func(sink observable.Sink[Result]) func() {
		op, ok := e.table.Lookup(req.Path)
		if !ok {
			sink.Next(Result{Err: protocol.NewError(protocol.CodeNotFound, fmt.Sprintf("unknown operation %q", req.Path))})
			sink.Complete()
			return func() {}
		}

		if op.Validate != nil {
			if err := op.Validate(req.Input); err != nil {
				sink.Next(Result{Err: protocol.NewError(protocol.CodeInvalidInput, err.Error())})
				sink.Complete()
				return func() {}
			}
		}

		selection, err := BuildSelection(req.Fields, selectFromInput(req.Input))
		if err != nil {
			sink.Next(Result{Err: protocol.NewError(protocol.CodeInvalidInput, err.Error())})
			sink.Complete()
			return func() {}
		}

		rctx, cancel := context.WithCancel(ctx)
		rc := &ResolverContext{ctx: rctx}

		var (
			mu           sync.Mutex
			lastEncoded  []byte
			completeOnce sync.Once
		)
		doComplete := func() { completeOnce.Do(sink.Complete) }

		var sess *session
		emit := func(raw any) {
			if rctx.Err() != nil {
				return
			}
			processed, perr := e.postProcessTop(sess, raw, selection)
			if perr != nil {
				e.logger.Error("lens: post-processing failed", "path", req.Path, "error", perr)
				sink.Next(Result{Err: protocol.NewError(protocol.CodeExecutionError, perr.Error())})
				doComplete()
				return
			}

			encoded, merr := json.Marshal(processed)
			if merr != nil {
				e.logger.Error("lens: result marshal failed", "path", req.Path, "error", merr)
				sink.Next(Result{Err: protocol.NewError(protocol.CodeInternalError, merr.Error())})
				doComplete()
				return
			}

			mu.Lock()
			dup := lastEncoded != nil && bytes.Equal(lastEncoded, encoded)
			lastEncoded = encoded
			mu.Unlock()
			if dup {
				return
			}

			sink.Next(Result{Data: processed})

			// Offered regardless of operation kind (§8: "a mutation, or any
			// entity-producing operation") — a subscribed query's own
			// re-emits flow through the same operation log and broadcast
			// path as mutation results, so other connections watching the
			// same entity observe the change too.
			e.offerEntities(rctx, op.ReturnEntity, raw)
		}
		sess = newSession(rctx, rc, op.ReturnEntity, emit)
		rc.onEmit = emit

		value, rerr := op.Resolve(rc, req.Input)
		if rerr != nil {
			e.logger.Error("lens: resolver error", "path", req.Path, "error", rerr)
			sink.Next(Result{Err: protocol.NewError(protocol.CodeExecutionError, rerr.Error())})
			doComplete()
			cancel()
			return func() { rc.runCleanups() }
		}

		switch v := value.(type) {
		case nil:
			// Resolver relies entirely on ctx.Emit, synchronously above
			// or from background work it has already started.
		case <-chan IterItem:
			go func() {
				for item := range v {
					if item.Err != nil {
						e.logger.Error("lens: async resolver error", "path", req.Path, "error", item.Err)
						sink.Next(Result{Err: protocol.NewError(protocol.CodeExecutionError, item.Err.Error())})
						doComplete()
						return
					}
					emit(item.Value)
				}
				if op.Kind == router.Mutation {
					doComplete()
				}
			}()
		default:
			emit(value)
		}

		return func() {
			cancel()
			rc.runCleanups()
		}
	})
}

// offerEntities extracts entity instances from an operation's raw result
// and offers each to the operation log, broadcasting changed ones.
func (e *Engine) offerEntities(ctx context.Context, entityName string, raw any) {
	if e.log == nil || entityName == "" {
		return
	}
	changes, err := ExtractEntities(e.schema, entityName, raw)
	if err != nil {
		e.logger.Error("lens: entity extraction failed", "entity", entityName, "error", err)
		return
	}
	for _, change := range changes {
		result, err := e.log.Emit(ctx, oplog.Key{Entity: change.Entity, ID: change.ID}, change.Data)
		if err != nil {
			e.logger.Error("lens: operation log emit failed", "entity", change.Entity, "id", change.ID, "error", err)
			continue
		}
		if !result.Changed {
			continue
		}

		// The installed BroadcastHook, if any, is the authority on what
		// version and payload shape this change broadcasts as (spec.md
		// §4.2's onBroadcast integration point) — e.log.Emit's own
		// snapshot/patch remains the fallback when no hook overrides it.
		override, berr := e.plugins.Broadcast(ctx, plugin.BroadcastEvent{
			Entity: change.Entity, EntityID: change.ID, Data: change.Data,
		})
		if berr != nil {
			e.logger.Error("lens: broadcast hook failed", "entity", change.Entity, "id", change.ID, "error", berr)
		} else if override != nil {
			if override.Version != 0 {
				result.Version = override.Version
			}
			if override.Patch != nil {
				var ops []patch.Op
				if uerr := json.Unmarshal(override.Patch, &ops); uerr != nil {
					e.logger.Error("lens: broadcast hook patch decode failed", "entity", change.Entity, "id", change.ID, "error", uerr)
				} else {
					result.Patch = ops
				}
			}
			if override.Data != nil {
				change.Data = override.Data
			}
		}

		if e.broadcast != nil {
			e.broadcast(ctx, change, result)
		}
	}
}
