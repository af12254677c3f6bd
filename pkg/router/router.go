// Package router builds the tree of named operations a Lens server
// exposes. Paths are the dot-join of interior node names and the leaf
// name; the flattened, validated result is what the execution engine
// resolves against and what the protocol handler sends as handshake
// metadata.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lensrpc/lens/pkg/schema"
)

// Kind discriminates a query from a mutation.
type Kind int

const (
	Query Kind = iota
	Mutation
)

func (k Kind) String() string {
	if k == Mutation {
		return "mutation"
	}
	return "query"
}

// InputValidator checks a decoded input value against an operation's
// declared schema, returning a descriptive error on mismatch.
type InputValidator func(input any) error

// ResolveFunc is an operation's resolver. It runs inside a reactive
// context: it may return a value directly (treated as a single initial
// emit), return a channel of values (treated as an async-iterable, each
// receive an emit), or emit entirely through ctx and return nil.
type ResolveFunc func(ctx schema.ReactiveContext, input any) (any, error)

// Operation is a named, addressable unit of the router tree. Operations
// are immutable once the Router that declared them has been flattened.
type Operation struct {
	Path         string
	Kind         Kind
	ReturnEntity string
	Validate     InputValidator
	Resolve      ResolveFunc
	Optimistic   bool
}

// Router is a tree whose leaves are Operations and whose interior nodes
// are named sub-routers.
type Router struct {
	operations map[string]Operation
	children   map[string]*Router
}

// New creates an empty router.
func New() *Router {
	return &Router{
		operations: make(map[string]Operation),
		children:   make(map[string]*Router),
	}
}

// Query registers a query-kind operation under name at this router
// level. Returns the router for chaining.
func (r *Router) Query(name string, op Operation) *Router {
	op.Kind = Query
	r.operations[name] = op
	return r
}

// Mutation registers a mutation-kind operation under name at this
// router level. Returns the router for chaining.
func (r *Router) Mutation(name string, op Operation) *Router {
	op.Kind = Mutation
	r.operations[name] = op
	return r
}

// Sub creates (or returns, if already created) a named sub-router
// nested under this one.
func (r *Router) Sub(name string) *Router {
	if child, ok := r.children[name]; ok {
		return child
	}
	child := New()
	r.children[name] = child
	return child
}

// Table is the flattened, validated result of a Router tree: a
// path → Operation lookup plus the ordering needed for a stable
// metadata document.
type Table struct {
	byPath map[string]*Operation
	paths  []string
}

// Flatten walks the router tree, joining interior keys with "." and
// the leaf key, and returns the compiled lookup table. Duplicate paths
// (which can only arise if a sub-router and an operation collide, since
// within one level map keys are already unique) are a fatal
// configuration error.
func (r *Router) Flatten() (*Table, error) {
	t := &Table{byPath: make(map[string]*Operation)}
	if err := r.flattenInto(t, nil); err != nil {
		return nil, err
	}
	sort.Strings(t.paths)
	return t, nil
}

func (r *Router) flattenInto(t *Table, prefix []string) error {
	for name, op := range r.operations {
		path := strings.Join(append(append([]string{}, prefix...), name), ".")
		if _, exists := t.byPath[path]; exists {
			return fmt.Errorf("router: duplicate operation path %q", path)
		}
		opCopy := op
		opCopy.Path = path
		t.byPath[path] = &opCopy
		t.paths = append(t.paths, path)
	}
	for name, child := range r.children {
		if err := child.flattenInto(t, append(prefix, name)); err != nil {
			return err
		}
	}
	return nil
}

// Lookup resolves a dot-delimited path to its compiled Operation.
func (t *Table) Lookup(path string) (*Operation, bool) {
	op, ok := t.byPath[path]
	return op, ok
}

// Paths returns all registered operation paths in sorted order.
func (t *Table) Paths() []string {
	out := make([]string, len(t.paths))
	copy(out, t.paths)
	return out
}

// OperationMeta is one entry of the handshake metadata document.
type OperationMeta struct {
	Type       string `json:"type"`
	ReturnType string `json:"returnType,omitempty"`
	Optimistic bool   `json:"optimistic,omitempty"`
}

// Metadata is the document sent to clients on WebSocket handshake and
// served at GET /__lens/metadata.
type Metadata struct {
	Version    int                      `json:"version"`
	Operations map[string]OperationMeta `json:"operations"`
}

// Metadata flattens t into a handshake document stamped with version.
func (t *Table) Metadata(version int) Metadata {
	ops := make(map[string]OperationMeta, len(t.byPath))
	for path, op := range t.byPath {
		ops[path] = OperationMeta{
			Type:       op.Kind.String(),
			ReturnType: op.ReturnEntity,
			Optimistic: op.Optimistic,
		}
	}
	return Metadata{Version: version, Operations: ops}
}
