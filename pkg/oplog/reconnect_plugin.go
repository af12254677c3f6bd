package oplog

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lensrpc/lens/pkg/patch"
	"github.com/lensrpc/lens/pkg/plugin"
)

// ReconnectPlugin answers a reconnect frame directly from a Storage
// backing: for each subscription the client last saw at some version,
// it decides whether a dense patch sequence, a full snapshot, or
// "unchanged" is owed, and "gone" when the entity no longer exists.
// Installed alongside the same Storage an Engine's Options.Log wraps,
// it is the standard way a deployment answers reconnects — wsserver
// itself has no opinion on catch-up semantics beyond calling the
// installed plugin.Chain.
type ReconnectPlugin struct {
	Storage Storage
}

var _ plugin.ReconnectHook = (*ReconnectPlugin)(nil)

// OnReconnect implements plugin.ReconnectHook.
func (p *ReconnectPlugin) OnReconnect(ctx context.Context, rc plugin.ReconnectContext) ([]plugin.ReconnectResult, error) {
	results := make([]plugin.ReconnectResult, 0, len(rc.Subscriptions))
	for _, sub := range rc.Subscriptions {
		key := Key{Entity: sub.Entity, ID: sub.EntityID}

		current, err := p.Storage.GetVersion(ctx, key)
		if err != nil {
			return nil, err
		}
		if current == 0 {
			results = append(results, plugin.ReconnectResult{ID: sub.ID, Status: "gone", Version: 0})
			continue
		}
		if sub.Version == current {
			state, serr := p.Storage.GetState(ctx, key)
			if serr != nil {
				return nil, serr
			}
			if sub.DataHash == "" || hashMatches(state, sub.DataHash) {
				results = append(results, plugin.ReconnectResult{ID: sub.ID, Status: "unchanged", Version: current})
				continue
			}
			// A mismatched dataHash means the client's cache drifted for
			// reasons outside the version counter — fall back to a
			// snapshot rather than trusting "unchanged".
			results = append(results, plugin.ReconnectResult{ID: sub.ID, Status: "snapshot", Version: current, Data: state})
			continue
		}

		records, err := p.Storage.GetPatchesSince(ctx, key, sub.Version)
		switch {
		case err == nil:
			patches := make([][]byte, 0, len(records))
			for _, rec := range records {
				encoded, merr := json.Marshal(rec.Operations)
				if merr != nil {
					return nil, merr
				}
				patches = append(patches, encoded)
			}
			results = append(results, plugin.ReconnectResult{
				ID:      sub.ID,
				Status:  "patched",
				Version: current,
				Patches: patches,
			})
		case errors.Is(err, ErrTruncated), errors.Is(err, ErrNotFound):
			state, serr := p.Storage.GetState(ctx, key)
			if serr != nil {
				return nil, serr
			}
			results = append(results, plugin.ReconnectResult{
				ID:      sub.ID,
				Status:  "snapshot",
				Version: current,
				Data:    state,
			})
		default:
			return nil, err
		}
	}
	return results, nil
}

func hashMatches(state map[string]any, clientHash string) bool {
	computed, err := patch.DataHash(state)
	if err != nil {
		return true
	}
	return computed == clientHash
}
