package client

import (
	"sync"

	"github.com/lensrpc/lens/pkg/protocol"
)

// SubState is a client-side subscription's lifecycle state (spec.md
// §4.8's `{active, reconnecting, closed}`).
type SubState string

const (
	SubActive       SubState = "active"
	SubReconnecting SubState = "reconnecting"
	SubClosed       SubState = "closed"
)

// Observer receives a subscription's delivered values and terminal
// errors. Next is called with the reconciled full object every time
// lastData changes, whether the server sent a snapshot or a patch.
type Observer struct {
	Next  func(data map[string]any)
	Error func(err *protocol.Error)
}

// Subscription is the client-side mirror of one subscribe() call:
// {id, path, input, fields, state, lastData, version, dataHash}.
type Subscription struct {
	client *Client

	mu       sync.Mutex
	id       string
	path     string
	input    any
	fields   protocol.FieldsSelector
	state    SubState
	lastData map[string]any
	version  int
	entity   string
	entityID string
	observer Observer
}

// ID returns the subscription's client-assigned id.
func (s *Subscription) ID() string { return s.id }

// State returns the subscription's current lifecycle state.
func (s *Subscription) State() SubState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastData returns the subscription's last reconciled full value, or
// nil if no value has been delivered yet.
func (s *Subscription) LastData() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastData
}

// Version returns the subscription's last known server-side version.
func (s *Subscription) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Unsubscribe ends the subscription and removes it from the client's
// registry.
func (s *Subscription) Unsubscribe() error {
	return s.client.Unsubscribe(s.id)
}

func (s *Subscription) setSnapshot(data map[string]any, version int) {
	s.mu.Lock()
	s.lastData = data
	s.version = version
	s.state = SubActive
	obs := s.observer
	s.mu.Unlock()
	if obs.Next != nil {
		obs.Next(data)
	}
}

func (s *Subscription) applyPatch(newData map[string]any, version int) {
	s.mu.Lock()
	s.lastData = newData
	s.version = version
	obs := s.observer
	s.mu.Unlock()
	if obs.Next != nil {
		obs.Next(newData)
	}
}

func (s *Subscription) deliverError(err *protocol.Error) {
	s.mu.Lock()
	obs := s.observer
	s.mu.Unlock()
	if obs.Error != nil {
		obs.Error(err)
	}
}

func (s *Subscription) markReconnecting() {
	s.mu.Lock()
	if s.state != SubClosed {
		s.state = SubReconnecting
	}
	s.mu.Unlock()
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.state = SubClosed
	s.mu.Unlock()
}

func (s *Subscription) snapshotFields() (id, path string, input any, fields protocol.FieldsSelector, version int, lastData map[string]any, entity, entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.path, s.input, s.fields, s.version, s.lastData, s.entity, s.entityID
}

func (s *Subscription) setFields(f protocol.FieldsSelector) {
	s.mu.Lock()
	s.fields = f
	s.mu.Unlock()
}
