package wsserver

import "sync"

// entityKey names one (entity, id) pair in the broadcast index.
type entityKey struct {
	entity string
	id     string
}

// subRef identifies one subscription on one connection.
type subRef struct {
	connID string
	subID  string
}

// broadcastIndex maps entity keys to the subscriptions currently
// depending on them, mirroring the teacher's ConnectionManager.channels
// map (channel → subscriber set) generalized from PG-NOTIFY channel
// names to arbitrary (entity, id) pairs.
type broadcastIndex struct {
	mu   sync.RWMutex
	keys map[entityKey]map[subRef]struct{}
}

func newBroadcastIndex() *broadcastIndex {
	return &broadcastIndex{keys: make(map[entityKey]map[subRef]struct{})}
}

// Register records that ref depends on every key in keys, replacing
// whatever set ref previously depended on (a re-emit may add or drop
// relations, shrinking or growing the dependency set).
func (idx *broadcastIndex) Register(ref subRef, keys []entityKey) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.unregisterLocked(ref)
	for _, k := range keys {
		subs, ok := idx.keys[k]
		if !ok {
			subs = make(map[subRef]struct{})
			idx.keys[k] = subs
		}
		subs[ref] = struct{}{}
	}
}

// Unregister drops every key ref was registered under.
func (idx *broadcastIndex) Unregister(ref subRef) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.unregisterLocked(ref)
}

// UnregisterConnection drops every subscription belonging to connID,
// regardless of subscription id — used on disconnect, when the caller
// wants every live subscription gone but doesn't want to enumerate
// each subscription id individually.
func (idx *broadcastIndex) UnregisterConnection(connID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for k, subs := range idx.keys {
		for ref := range subs {
			if ref.connID == connID {
				delete(subs, ref)
			}
		}
		if len(subs) == 0 {
			delete(idx.keys, k)
		}
	}
}

func (idx *broadcastIndex) unregisterLocked(ref subRef) {
	for k, subs := range idx.keys {
		if _, ok := subs[ref]; ok {
			delete(subs, ref)
			if len(subs) == 0 {
				delete(idx.keys, k)
			}
		}
	}
}

// Lookup returns every subscription currently depending on key.
func (idx *broadcastIndex) Lookup(key entityKey) []subRef {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	subs := idx.keys[key]
	out := make([]subRef, 0, len(subs))
	for ref := range subs {
		out = append(out, ref)
	}
	return out
}
