package wsserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastIndex_RegisterAndLookup(t *testing.T) {
	idx := newBroadcastIndex()
	ref := subRef{connID: "c1", subID: "s1"}
	idx.Register(ref, []entityKey{{entity: "User", id: "u1"}, {entity: "User", id: "u2"}})

	assert.ElementsMatch(t, []subRef{ref}, idx.Lookup(entityKey{entity: "User", id: "u1"}))
	assert.ElementsMatch(t, []subRef{ref}, idx.Lookup(entityKey{entity: "User", id: "u2"}))
	assert.Empty(t, idx.Lookup(entityKey{entity: "User", id: "u3"}))
}

func TestBroadcastIndex_ReRegisterReplacesDependencySet(t *testing.T) {
	idx := newBroadcastIndex()
	ref := subRef{connID: "c1", subID: "s1"}
	idx.Register(ref, []entityKey{{entity: "User", id: "u1"}})
	idx.Register(ref, []entityKey{{entity: "User", id: "u2"}})

	assert.Empty(t, idx.Lookup(entityKey{entity: "User", id: "u1"}))
	assert.ElementsMatch(t, []subRef{ref}, idx.Lookup(entityKey{entity: "User", id: "u2"}))
}

func TestBroadcastIndex_Unregister(t *testing.T) {
	idx := newBroadcastIndex()
	ref := subRef{connID: "c1", subID: "s1"}
	idx.Register(ref, []entityKey{{entity: "User", id: "u1"}})
	idx.Unregister(ref)

	assert.Empty(t, idx.Lookup(entityKey{entity: "User", id: "u1"}))
}

func TestBroadcastIndex_UnregisterConnectionRemovesAllItsSubscriptions(t *testing.T) {
	idx := newBroadcastIndex()
	refA := subRef{connID: "c1", subID: "s1"}
	refB := subRef{connID: "c1", subID: "s2"}
	refOther := subRef{connID: "c2", subID: "s1"}
	idx.Register(refA, []entityKey{{entity: "User", id: "u1"}})
	idx.Register(refB, []entityKey{{entity: "User", id: "u2"}})
	idx.Register(refOther, []entityKey{{entity: "User", id: "u1"}})

	idx.UnregisterConnection("c1")

	assert.ElementsMatch(t, []subRef{refOther}, idx.Lookup(entityKey{entity: "User", id: "u1"}))
	assert.Empty(t, idx.Lookup(entityKey{entity: "User", id: "u2"}))
}
