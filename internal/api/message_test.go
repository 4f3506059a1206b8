package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseEnvelope(t *testing.T) {
	msg := NewResponse(7, MsgDriverVersion, 200, map[string]string{"name": "bridge"})

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "resp", decoded["kind"])
	assert.Equal(t, float64(7), decoded["req_id"])
	assert.Equal(t, "driver_version", decoded["msg"])
	assert.Equal(t, float64(200), decoded["code"])
	assert.NotContains(t, decoded, "id")
	assert.NotContains(t, decoded, "cat")
}

func TestErrorResponsePayload(t *testing.T) {
	msg := NewErrorResponse(3, 503, "SERVICE_UNAVAILABLE", "Home Assistant is not connected")
	assert.Equal(t, MsgResult, msg.Msg)

	var data map[string]string
	require.NoError(t, json.Unmarshal(msg.MsgData, &data))
	assert.Equal(t, "SERVICE_UNAVAILABLE", data["code"])
	assert.Equal(t, "Home Assistant is not connected", data["message"])
}

func TestEventEnvelope(t *testing.T) {
	msg := NewDeviceStateEvent(DeviceConnected)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "event", decoded["kind"])
	assert.Equal(t, "device_state", decoded["msg"])
	assert.Equal(t, "DEVICE", decoded["cat"])
	assert.NotContains(t, decoded, "req_id")
}

func TestDecodeMsgData(t *testing.T) {
	msg := WsMessage{MsgData: json.RawMessage(`{"entity_id": "light.kitchen", "cmd_id": "on"}`)}

	var cmd EntityCommand
	require.NoError(t, msg.DecodeMsgData(&cmd))
	assert.Equal(t, "light.kitchen", cmd.EntityID)
	assert.Equal(t, "on", cmd.CmdID)

	// empty payloads decode to the zero value
	empty := WsMessage{}
	var other EntityCommand
	require.NoError(t, empty.DecodeMsgData(&other))
	assert.Empty(t, other.EntityID)
}
