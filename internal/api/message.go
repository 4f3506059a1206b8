// Package api defines the integration WebSocket protocol model shared by the
// server, controller and Home Assistant client layers.
package api

import "encoding/json"

// Frame kinds
const (
	KindRequest  = "req"
	KindResponse = "resp"
	KindEvent    = "event"
)

// Event categories
const (
	CategoryDevice = "DEVICE"
	CategoryEntity = "ENTITY"
)

// Request messages from the remote
const (
	MsgGetDriverVersion     = "get_driver_version"
	MsgGetDriverMetadata    = "get_driver_metadata"
	MsgGetDeviceState       = "get_device_state"
	MsgGetAvailableEntities = "get_available_entities"
	MsgGetEntityStates      = "get_entity_states"
	MsgSubscribeEvents      = "subscribe_events"
	MsgUnsubscribeEvents    = "unsubscribe_events"
	MsgEntityCommand        = "entity_command"
	MsgSetupDriver          = "setup_driver"
	MsgSetDriverUserData    = "set_driver_user_data"
)

// Event messages from the remote
const (
	MsgConnect      = "connect"
	MsgDisconnect   = "disconnect"
	MsgEnterStandby = "enter_standby"
	MsgExitStandby  = "exit_standby"
	MsgAbortSetup   = "abort_driver_setup"
)

// Event messages to the remote
const (
	MsgAuthentication    = "authentication"
	MsgDeviceState       = "device_state"
	MsgEntityChange      = "entity_change"
	MsgEntityAvailable   = "entity_available"
	MsgDriverSetupChange = "driver_setup_change"
	MsgAssistantEvent    = "assistant_event"
)

// Response message names
const (
	MsgResult            = "result"
	MsgDriverVersion     = "driver_version"
	MsgDriverMetadata    = "driver_metadata"
	MsgAvailableEntities = "available_entities"
	MsgEntityStates      = "entity_states"
)

// WsMessage is the envelope of every text frame exchanged with the remote.
// Requests carry kind "req" with id and msg; responses carry kind "resp" with
// req_id, msg and code; events carry kind "event" with msg and cat.
type WsMessage struct {
	Kind    string          `json:"kind,omitempty"`
	ID      uint32          `json:"id,omitempty"`
	ReqID   *uint32         `json:"req_id,omitempty"`
	Msg     string          `json:"msg,omitempty"`
	Cat     string          `json:"cat,omitempty"`
	Code    *int            `json:"code,omitempty"`
	MsgData json.RawMessage `json:"msg_data,omitempty"`
}

// DecodeMsgData unmarshals the msg_data payload into v.
func (m *WsMessage) DecodeMsgData(v interface{}) error {
	if len(m.MsgData) == 0 {
		return nil
	}
	return json.Unmarshal(m.MsgData, v)
}

// marshalData encodes an outbound payload. The payload types used by this
// package are all JSON-encodable, so errors only indicate a programming
// mistake; in that case the frame is sent without msg_data.
func marshalData(data interface{}) json.RawMessage {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return raw
}

// NewResponse builds a "resp" frame answering request reqID.
func NewResponse(reqID uint32, msg string, code int, data interface{}) WsMessage {
	return WsMessage{
		Kind:    KindResponse,
		ReqID:   &reqID,
		Msg:     msg,
		Code:    &code,
		MsgData: marshalData(data),
	}
}

// NewResultResponse builds the generic OK "result" response.
func NewResultResponse(reqID uint32, code int) WsMessage {
	return NewResponse(reqID, MsgResult, code, nil)
}

// NewErrorResponse builds an error "result" response with the wire code and
// message taken from err.
func NewErrorResponse(reqID uint32, code int, key, message string) WsMessage {
	return NewResponse(reqID, MsgResult, code, map[string]string{
		"code":    key,
		"message": message,
	})
}

// NewEvent builds an "event" frame.
func NewEvent(msg, cat string, data interface{}) WsMessage {
	return WsMessage{
		Kind:    KindEvent,
		Msg:     msg,
		Cat:     cat,
		MsgData: marshalData(data),
	}
}

// NewDeviceStateEvent builds the DEVICE category state broadcast.
func NewDeviceStateEvent(state DeviceState) WsMessage {
	return NewEvent(MsgDeviceState, CategoryDevice, map[string]DeviceState{
		"state": state,
	})
}

// NewEntityChangeEvent builds the ENTITY category change broadcast.
func NewEntityChangeEvent(change EntityChange) WsMessage {
	return NewEvent(MsgEntityChange, CategoryEntity, change)
}
