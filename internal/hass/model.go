// Package hass implements the Home Assistant WebSocket API client used by
// the bridge: authentication, event subscription, service calls, state
// retrieval and the assist voice pipeline.
package hass

import "encoding/json"

// Message types received from Home Assistant
const (
	msgTypeAuthRequired = "auth_required"
	msgTypeAuthOK       = "auth_ok"
	msgTypeAuthInvalid  = "auth_invalid"
	msgTypeResult       = "result"
	msgTypeEvent        = "event"
	msgTypePong         = "pong"
)

// serverMessage is the envelope of every text frame received from
// Home Assistant.
type serverMessage struct {
	ID        uint32          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   *bool           `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *serverError    `json:"error,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
	Message   string          `json:"message,omitempty"`
	HAVersion string          `json:"ha_version,omitempty"`
}

type serverError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// entityState is one entry of a get_states result and the new_state of a
// state_changed event.
type entityState struct {
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes"`
}

// stateChangedEvent is the event payload of a state_changed subscription.
type stateChangedEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string       `json:"entity_id"`
		NewState *entityState `json:"new_state"`
	} `json:"data"`
}

// ConnectionState describes the lifecycle of one Home Assistant connection
// as reported to the event handler.
type ConnectionState int

const (
	// ConnectionClosed: the socket is gone, for whatever reason.
	ConnectionClosed ConnectionState = iota
	// ConnectionEstablished: authenticated and subscribed to state changes.
	ConnectionEstablished
	// ConnectionAuthFailed: Home Assistant rejected the access token.
	ConnectionAuthFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionClosed:
		return "closed"
	case ConnectionEstablished:
		return "established"
	case ConnectionAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// StatesRequest identifies the remote request a get_states call answers.
// StatesOnly selects the entity_states shape, otherwise available_entities.
type StatesRequest struct {
	RemoteID   string
	ReqID      uint32
	StatesOnly bool
	EntityIDs  map[string]struct{}
}
