package hass

import (
	"strings"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
	"github.com/frostdev-ops/uc-bridge-go/pkg/errors"
)

// serviceCall is a fully translated Home Assistant call_service request.
type serviceCall struct {
	Domain      string
	Service     string
	ServiceData map[string]interface{}
}

// mapEntityCommand translates a remote entity_command into the Home
// Assistant service to invoke.
func mapEntityCommand(cmd api.EntityCommand) (*serviceCall, error) {
	domain := entityDomain(cmd.EntityID)
	call := &serviceCall{Domain: domain}

	var err error
	switch domain {
	case "light":
		err = lightCommand(cmd, call)
	case "switch", "input_boolean":
		err = switchCommand(cmd, call)
	case "button", "input_button", "script":
		err = buttonCommand(cmd, call)
	case "cover":
		err = coverCommand(cmd, call)
	case "media_player":
		err = mediaPlayerCommand(cmd, call)
	case "remote":
		err = remoteCommand(cmd, call)
	case "climate":
		err = errors.NotYetImplemented("climate commands are not supported")
	default:
		err = errors.BadRequest("no command handler for entity: %s", cmd.EntityID)
	}
	if err != nil {
		return nil, err
	}
	return call, nil
}

func lightCommand(cmd api.EntityCommand, call *serviceCall) error {
	switch cmd.CmdID {
	case "on":
		call.Service = "turn_on"
		if brightness, ok := paramInt(cmd.Params, "brightness"); ok {
			call.ServiceData = map[string]interface{}{
				"brightness_pct": brightness * 100 / 255,
			}
		}
	case "off":
		call.Service = "turn_off"
	case "toggle":
		call.Service = "toggle"
	default:
		return errors.BadRequest("unsupported light command: %s", cmd.CmdID)
	}
	return nil
}

func switchCommand(cmd api.EntityCommand, call *serviceCall) error {
	switch cmd.CmdID {
	case "on":
		call.Service = "turn_on"
	case "off":
		call.Service = "turn_off"
	case "toggle":
		call.Service = "toggle"
	default:
		return errors.BadRequest("unsupported switch command: %s", cmd.CmdID)
	}
	return nil
}

// buttonCommand presses a button. Scripts are invoked by calling the script
// name as the service in the script domain.
func buttonCommand(cmd api.EntityCommand, call *serviceCall) error {
	if cmd.CmdID != "push" {
		return errors.BadRequest("unsupported button command: %s", cmd.CmdID)
	}
	if call.Domain == "script" {
		if idx := strings.Index(cmd.EntityID, "."); idx > 0 {
			call.Service = cmd.EntityID[idx+1:]
			return nil
		}
		return errors.BadRequest("invalid script entity id: %s", cmd.EntityID)
	}
	call.Service = "press"
	return nil
}

func coverCommand(cmd api.EntityCommand, call *serviceCall) error {
	switch cmd.CmdID {
	case "open":
		call.Service = "open_cover"
	case "close":
		call.Service = "close_cover"
	case "stop":
		call.Service = "stop_cover"
	case "position":
		position, ok := paramInt(cmd.Params, "position")
		if !ok || position < 0 || position > 100 {
			return errors.BadRequest("cover position command requires position 0..100")
		}
		call.Service = "set_cover_position"
		call.ServiceData = map[string]interface{}{"position": position}
	default:
		return errors.BadRequest("unsupported cover command: %s", cmd.CmdID)
	}
	return nil
}

func mediaPlayerCommand(cmd api.EntityCommand, call *serviceCall) error {
	switch cmd.CmdID {
	case "on":
		call.Service = "turn_on"
	case "off":
		call.Service = "turn_off"
	case "toggle":
		call.Service = "toggle"
	case "play_pause":
		call.Service = "media_play_pause"
	case "stop":
		call.Service = "media_stop"
	case "previous":
		call.Service = "media_previous_track"
	case "next":
		call.Service = "media_next_track"
	case "volume_up":
		call.Service = "volume_up"
	case "volume_down":
		call.Service = "volume_down"
	case "volume":
		volume, ok := paramFloat(cmd.Params, "volume")
		if !ok || volume < 0 || volume > 100 {
			return errors.BadRequest("volume command requires volume 0..100")
		}
		call.Service = "volume_set"
		call.ServiceData = map[string]interface{}{"volume_level": volume / 100}
	case "mute":
		call.Service = "volume_mute"
		call.ServiceData = map[string]interface{}{"is_volume_muted": true}
	case "unmute":
		call.Service = "volume_mute"
		call.ServiceData = map[string]interface{}{"is_volume_muted": false}
	case "seek":
		position, ok := paramFloat(cmd.Params, "media_position")
		if !ok {
			return errors.BadRequest("seek command requires media_position")
		}
		call.Service = "media_seek"
		call.ServiceData = map[string]interface{}{"seek_position": position}
	default:
		return errors.BadRequest("unsupported media player command: %s", cmd.CmdID)
	}
	return nil
}

func remoteCommand(cmd api.EntityCommand, call *serviceCall) error {
	switch cmd.CmdID {
	case "on":
		call.Service = "turn_on"
	case "off":
		call.Service = "turn_off"
	case "toggle":
		call.Service = "toggle"
	case "send_cmd":
		command, _ := paramString(cmd.Params, "command")
		if strings.TrimSpace(command) == "" {
			return errors.BadRequest("send_cmd requires a non-empty command")
		}
		call.Service = "send_command"
		call.ServiceData = remoteSendData(cmd.Params, command)
	case "send_cmd_sequence":
		sequence, ok := cmd.Params["sequence"].([]interface{})
		if !ok || len(sequence) == 0 {
			return errors.BadRequest("send_cmd_sequence requires a command sequence")
		}
		call.Service = "send_command"
		call.ServiceData = remoteSendData(cmd.Params, sequence)
	case "stop_send":
		return errors.NotYetImplemented("stop_send is not supported")
	default:
		return errors.BadRequest("unsupported remote command: %s", cmd.CmdID)
	}
	return nil
}

// remoteSendData builds send_command service data. The remote's delay and
// hold parameters are milliseconds, Home Assistant wants seconds.
func remoteSendData(params map[string]interface{}, command interface{}) map[string]interface{} {
	data := map[string]interface{}{"command": command}
	if repeat, ok := paramInt(params, "repeat"); ok {
		data["num_repeats"] = repeat
	}
	if delay, ok := paramFloat(params, "delay"); ok {
		data["delay_secs"] = delay / 1000
	}
	if hold, ok := paramFloat(params, "hold"); ok {
		data["hold_secs"] = hold / 1000
	}
	return data
}

func paramInt(params map[string]interface{}, key string) (int, bool) {
	v, ok := params[key].(float64)
	if !ok {
		// Commands built in process carry native ints.
		if i, isInt := params[key].(int); isInt {
			return i, true
		}
		return 0, false
	}
	return int(v), true
}

func paramFloat(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func paramString(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok
}
