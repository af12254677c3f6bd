// Package patch derives and applies the JSON-Patch subset the operation
// log uses to describe entity state transitions: add/replace/remove
// keyed by top-level field name. Derivation is kept at top-level field
// granularity deliberately (spec.md §9: "predictability... must not
// change the apply(patch, state) = newState contract") — deeper,
// nested patches are a future optimization, not a v1 requirement.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Op is one JSON-Patch operation, restricted to the subset Lens uses.
type Op struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Diff computes the ordered list of top-level field operations that
// transform oldState into newState. A nil oldState is treated as an
// empty object (every field in newState becomes an "add"). Fields are
// visited in sorted key order for a deterministic patch.
func Diff(oldState, newState map[string]any) ([]Op, error) {
	keys := make(map[string]struct{}, len(oldState)+len(newState))
	for k := range oldState {
		keys[k] = struct{}{}
	}
	for k := range newState {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var ops []Op
	for _, key := range sorted {
		oldVal, hadOld := oldState[key]
		newVal, hasNew := newState[key]

		switch {
		case hadOld && !hasNew:
			ops = append(ops, Op{Op: "remove", Path: "/" + key})
		case !hadOld && hasNew:
			ops = append(ops, Op{Op: "add", Path: "/" + key, Value: newVal})
		case hadOld && hasNew:
			equal, err := canonicalEqual(oldVal, newVal)
			if err != nil {
				return nil, fmt.Errorf("patch: comparing field %q: %w", key, err)
			}
			if !equal {
				ops = append(ops, Op{Op: "replace", Path: "/" + key, Value: newVal})
			}
		}
	}
	return ops, nil
}

// canonicalEqual compares two values by canonical JSON equality —
// encoding/json already serializes map keys in sorted order, so two
// structurally equal values marshal to byte-identical output regardless
// of field insertion order.
func canonicalEqual(a, b any) (bool, error) {
	aBytes, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	bBytes, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(aBytes, bBytes), nil
}

// CanonicalEqual exposes the same canonical-JSON equality check Diff
// uses internally; the operation log uses it to decide whether an Emit
// changed an entity's state without needing a field diff.
func CanonicalEqual(a, b any) (bool, error) {
	return canonicalEqual(a, b)
}

// Apply applies ops to state and returns the resulting object. Applying
// patch[k] to state@version(k-1) must yield state@version(k) exactly
// (spec.md §3 invariant); applying is delegated to evanphx/json-patch,
// which implements the full RFC 6902 semantics Lens's restricted op set
// is a subset of.
func Apply(state map[string]any, ops []Op) (map[string]any, error) {
	if len(ops) == 0 {
		return cloneMap(state), nil
	}

	docBytes, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("patch: marshaling state: %w", err)
	}

	patchBytes, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("patch: marshaling ops: %w", err)
	}

	decoded, err := jsonpatch.DecodePatch(patchBytes)
	if err != nil {
		return nil, fmt.Errorf("patch: decoding ops: %w", err)
	}

	resultBytes, err := decoded.Apply(docBytes)
	if err != nil {
		return nil, fmt.Errorf("patch: applying ops: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(resultBytes, &result); err != nil {
		return nil, fmt.Errorf("patch: unmarshaling result: %w", err)
	}
	return result, nil
}

// DataHash is an FNV-1a hash of state's canonical JSON encoding, used
// by the client transport to mark a subscription's local state on
// reconnect and by the server to detect drift a version counter alone
// wouldn't catch (state mutated in place outside the normal patch
// pipeline). Two structurally equal maps hash identically regardless
// of field insertion order, for the same reason canonicalEqual does.
func DataHash(state map[string]any) (string, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	h := fnv.New64a()
	_, _ = h.Write(encoded)
	return fmt.Sprintf("%x", h.Sum64()), nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
