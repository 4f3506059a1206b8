package hass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
	"github.com/frostdev-ops/uc-bridge-go/pkg/errors"
)

func command(entityID, cmdID string, params map[string]interface{}) api.EntityCommand {
	return api.EntityCommand{EntityID: entityID, CmdID: cmdID, Params: params}
}

func TestLightCommands(t *testing.T) {
	call, err := mapEntityCommand(command("light.kitchen", "on", map[string]interface{}{"brightness": float64(255)}))
	require.NoError(t, err)
	assert.Equal(t, "light", call.Domain)
	assert.Equal(t, "turn_on", call.Service)
	assert.Equal(t, 100, call.ServiceData["brightness_pct"])

	call, err = mapEntityCommand(command("light.kitchen", "on", nil))
	require.NoError(t, err)
	assert.Nil(t, call.ServiceData)

	call, err = mapEntityCommand(command("light.kitchen", "off", nil))
	require.NoError(t, err)
	assert.Equal(t, "turn_off", call.Service)

	_, err = mapEntityCommand(command("light.kitchen", "disco", nil))
	require.Error(t, err)
	assert.Equal(t, 400, errors.GetStatusCode(err))
}

func TestRemoteSendCmd(t *testing.T) {
	call, err := mapEntityCommand(command("remote.tv", "send_cmd", map[string]interface{}{
		"command": "power_on",
		"repeat":  float64(3),
		"delay":   float64(1500),
		"hold":    float64(2000),
	}))
	require.NoError(t, err)

	assert.Equal(t, "remote", call.Domain)
	assert.Equal(t, "send_command", call.Service)
	assert.Equal(t, "power_on", call.ServiceData["command"])
	assert.Equal(t, 3, call.ServiceData["num_repeats"])
	assert.Equal(t, 1.5, call.ServiceData["delay_secs"])
	assert.Equal(t, 2.0, call.ServiceData["hold_secs"])
}

func TestRemoteSendCmdRequiresCommand(t *testing.T) {
	_, err := mapEntityCommand(command("remote.tv", "send_cmd", map[string]interface{}{"command": "  "}))
	require.Error(t, err)
	assert.Equal(t, 400, errors.GetStatusCode(err))

	_, err = mapEntityCommand(command("remote.tv", "send_cmd", nil))
	assert.Error(t, err)
}

func TestRemoteSendCmdSequence(t *testing.T) {
	call, err := mapEntityCommand(command("remote.tv", "send_cmd_sequence", map[string]interface{}{
		"sequence": []interface{}{"up", "up", "ok"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "send_command", call.Service)
	assert.Equal(t, []interface{}{"up", "up", "ok"}, call.ServiceData["command"])

	_, err = mapEntityCommand(command("remote.tv", "send_cmd_sequence", nil))
	assert.Error(t, err)
}

func TestRemoteStopSendNotImplemented(t *testing.T) {
	_, err := mapEntityCommand(command("remote.tv", "stop_send", nil))
	require.Error(t, err)
	assert.Equal(t, 501, errors.GetStatusCode(err))
}

func TestCoverCommands(t *testing.T) {
	call, err := mapEntityCommand(command("cover.hall", "position", map[string]interface{}{"position": float64(75)}))
	require.NoError(t, err)
	assert.Equal(t, "set_cover_position", call.Service)
	assert.Equal(t, 75, call.ServiceData["position"])

	_, err = mapEntityCommand(command("cover.hall", "position", map[string]interface{}{"position": float64(150)}))
	assert.Error(t, err)

	call, err = mapEntityCommand(command("cover.hall", "stop", nil))
	require.NoError(t, err)
	assert.Equal(t, "stop_cover", call.Service)
}

func TestMediaPlayerCommands(t *testing.T) {
	call, err := mapEntityCommand(command("media_player.living", "volume", map[string]interface{}{"volume": float64(42)}))
	require.NoError(t, err)
	assert.Equal(t, "volume_set", call.Service)
	assert.Equal(t, 0.42, call.ServiceData["volume_level"])

	call, err = mapEntityCommand(command("media_player.living", "mute", nil))
	require.NoError(t, err)
	assert.Equal(t, "volume_mute", call.Service)
	assert.Equal(t, true, call.ServiceData["is_volume_muted"])

	call, err = mapEntityCommand(command("media_player.living", "play_pause", nil))
	require.NoError(t, err)
	assert.Equal(t, "media_play_pause", call.Service)

	_, err = mapEntityCommand(command("media_player.living", "volume", map[string]interface{}{"volume": float64(200)}))
	assert.Error(t, err)
}

func TestButtonAndScriptCommands(t *testing.T) {
	call, err := mapEntityCommand(command("button.bell", "push", nil))
	require.NoError(t, err)
	assert.Equal(t, "button", call.Domain)
	assert.Equal(t, "press", call.Service)

	call, err = mapEntityCommand(command("script.good_morning", "push", nil))
	require.NoError(t, err)
	assert.Equal(t, "script", call.Domain)
	assert.Equal(t, "good_morning", call.Service)
}

func TestClimateNotImplemented(t *testing.T) {
	_, err := mapEntityCommand(command("climate.living", "on", nil))
	require.Error(t, err)
	assert.Equal(t, 501, errors.GetStatusCode(err))
}

func TestUnknownDomainRejected(t *testing.T) {
	_, err := mapEntityCommand(command("vacuum.robo", "on", nil))
	require.Error(t, err)
	assert.Equal(t, 400, errors.GetStatusCode(err))
}
