// Package protocol defines the JSON wire frames exchanged between a
// Lens server and client, shared by pkg/wsserver, pkg/client, and
// pkg/httpapi so all three speak one vocabulary instead of redeclaring
// near-identical structs.
package protocol

import "encoding/json"

// FrameType discriminates a frame's shape via its "type" field.
type FrameType string

const (
	// Client → server.
	FrameHandshake    FrameType = "handshake"
	FrameQuery        FrameType = "query"
	FrameMutation     FrameType = "mutation"
	FrameSubscribe    FrameType = "subscribe"
	FrameUpdateFields FrameType = "updateFields"
	FrameUnsubscribe  FrameType = "unsubscribe"
	FrameReconnect    FrameType = "reconnect"

	// Server → client.
	FrameResult      FrameType = "result"
	FrameUpdate      FrameType = "update"
	FrameReconnectAck FrameType = "reconnect_ack"
	FrameError       FrameType = "error"
)

// Envelope is decoded first to discover a frame's type before decoding
// the rest of the payload into the concrete frame struct.
type Envelope struct {
	Type FrameType `json:"type"`
}

// FieldsSelector is either the literal "*" or an explicit set of field
// names; it implements json.Marshaler/Unmarshaler to round-trip both
// shapes through the same Go field.
type FieldsSelector struct {
	All    bool
	Fields []string
}

// AllFields is the sentinel selector meaning every field.
func AllFields() FieldsSelector { return FieldsSelector{All: true} }

// SomeFields selects exactly the named fields.
func SomeFields(fields ...string) FieldsSelector { return FieldsSelector{Fields: fields} }

func (f FieldsSelector) MarshalJSON() ([]byte, error) {
	if f.All {
		return json.Marshal("*")
	}
	if f.Fields == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(f.Fields)
}

func (f *FieldsSelector) UnmarshalJSON(data []byte) error {
	var star string
	if err := json.Unmarshal(data, &star); err == nil {
		f.All = star == "*"
		f.Fields = nil
		return nil
	}
	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	f.All = false
	f.Fields = fields
	return nil
}

// HandshakeFrame is sent by the client to open a session and by the
// server (stamped with metadata) in reply.
type HandshakeFrame struct {
	Type       FrameType             `json:"type"`
	Version    int                   `json:"version,omitempty"`
	Operations map[string]OpMeta     `json:"operations,omitempty"`
}

// OpMeta mirrors router.OperationMeta on the wire without importing
// pkg/router from pkg/protocol (kept dependency-free of the rest of the
// module so any component can import it).
type OpMeta struct {
	Type       string `json:"type"`
	ReturnType string `json:"returnType,omitempty"`
	Optimistic bool   `json:"optimistic,omitempty"`
}

// CallFrame covers query/mutation/subscribe — all three carry the same
// shape on the wire and differ only by Type.
type CallFrame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Input     json.RawMessage `json:"input,omitempty"`
	Fields    *FieldsSelector `json:"fields,omitempty"`
}

// UpdateFieldsFrame renegotiates a subscription's tracked field set.
type UpdateFieldsFrame struct {
	Type         FrameType `json:"type"`
	ID           string    `json:"id"`
	SetFields    *FieldsSelector `json:"setFields,omitempty"`
	AddFields    []string  `json:"addFields,omitempty"`
	RemoveFields []string  `json:"removeFields,omitempty"`
}

// UnsubscribeFrame ends one subscription.
type UnsubscribeFrame struct {
	Type FrameType `json:"type"`
	ID   string    `json:"id"`
}

// ReconnectSubscription is one entry of a reconnect frame's payload.
type ReconnectSubscription struct {
	ID       string          `json:"id"`
	Entity   string          `json:"entity"`
	EntityID string          `json:"entityId"`
	Fields   FieldsSelector  `json:"fields"`
	Version  int             `json:"version"`
	DataHash string          `json:"dataHash,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// ReconnectFrame replays subscription intents after a dropped connection.
type ReconnectFrame struct {
	Type          FrameType               `json:"type"`
	ReconnectID   string                  `json:"reconnectId"`
	Subscriptions []ReconnectSubscription `json:"subscriptions"`
}

// ResultFrame answers a query or mutation, or carries a subscription's
// first result. Errors are sent as an ErrorFrame instead.
type ResultFrame struct {
	Type FrameType       `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UpdateFrame delivers a subscription delta: either a full snapshot
// (Data set) or a patch against the client's last known state (Patch
// set). Exactly one of the two is populated.
type UpdateFrame struct {
	Type           FrameType       `json:"type"`
	SubscriptionID string          `json:"subscriptionId"`
	Version        *int            `json:"version,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Patch          json.RawMessage `json:"patch,omitempty"`
}

// ReconnectResult is one subscription's resume outcome.
type ReconnectResult struct {
	ID       string            `json:"id"`
	Entity   string            `json:"entity"`
	EntityID string            `json:"entityId"`
	Status   ReconnectStatus   `json:"status"`
	Version  int               `json:"version,omitempty"`
	Data     json.RawMessage   `json:"data,omitempty"`
	Patches  []json.RawMessage `json:"patches,omitempty"`
}

// ReconnectStatus enumerates the outcome of resuming one subscription.
type ReconnectStatus string

const (
	ReconnectPatched   ReconnectStatus = "patched"
	ReconnectSnapshot  ReconnectStatus = "snapshot"
	ReconnectUnchanged ReconnectStatus = "unchanged"
	ReconnectGone      ReconnectStatus = "gone"
)

// ReconnectAckFrame is the single reply to a ReconnectFrame.
type ReconnectAckFrame struct {
	Type           FrameType         `json:"type"`
	ReconnectID    string            `json:"reconnectId"`
	Results        []ReconnectResult `json:"results"`
	ServerTime     int64             `json:"serverTime"`
	ProcessingTime int64             `json:"processingTime"`
}

// ErrorFrame reports a protocol- or operation-level failure. ID is
// omitted for connection-wide errors not tied to a single call.
type ErrorFrame struct {
	Type  FrameType   `json:"type"`
	ID    string      `json:"id,omitempty"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the sanitized error payload placed on the wire — never
// the raw underlying error, which goes to the structured logger only.
type ErrorDetail struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}
