package hass

import (
	"math"
	"net/url"
	"strings"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
	"github.com/frostdev-ops/uc-bridge-go/pkg/errors"
)

// entityDomain returns the part of an entity id before the first dot.
func entityDomain(entityID string) string {
	if idx := strings.Index(entityID, "."); idx > 0 {
		return entityID[:idx]
	}
	return entityID
}

// entityTypeForDomain maps a Home Assistant domain to the remote entity type.
// The second return value is false for domains the bridge does not handle.
func entityTypeForDomain(domain string) (api.EntityType, bool) {
	switch domain {
	case "light":
		return api.EntityLight, true
	case "switch", "input_boolean":
		return api.EntitySwitch, true
	case "button", "input_button", "script":
		return api.EntityButton, true
	case "cover":
		return api.EntityCover, true
	case "sensor", "binary_sensor":
		return api.EntitySensor, true
	case "climate":
		return api.EntityClimate, true
	case "media_player":
		return api.EntityMediaPlayer, true
	case "remote":
		return api.EntityRemote, true
	default:
		return "", false
	}
}

// onOffState uppercases the common Home Assistant states. Any other value is
// a bad request.
func onOffState(state string) (string, error) {
	switch state {
	case "on", "off", "unavailable", "unknown":
		return strings.ToUpper(state), nil
	default:
		return "", errors.BadRequest("unexpected state value: %q", state)
	}
}

// colorTempMiredToPercent converts an absolute mired value into the remote's
// 0..100 color temperature scale. Values outside the lamp's range are clamped.
func colorTempMiredToPercent(colorTemp, minMireds, maxMireds int) (int, error) {
	if maxMireds <= minMireds {
		return 0, errors.BadRequest("invalid mired range: min=%d max=%d", minMireds, maxMireds)
	}
	if colorTemp < minMireds {
		colorTemp = minMireds
	}
	if colorTemp > maxMireds {
		colorTemp = maxMireds
	}
	return (colorTemp - minMireds) * 100 / (maxMireds - minMireds), nil
}

func intAttr(attrs map[string]interface{}, key string) (int, bool) {
	v, ok := attrs[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func floatAttr(attrs map[string]interface{}, key string) (float64, bool) {
	v, ok := attrs[key].(float64)
	return v, ok
}

func stringAttr(attrs map[string]interface{}, key string) (string, bool) {
	v, ok := attrs[key].(string)
	return v, ok
}

func copyAttr(dst, src map[string]interface{}, key string) {
	if v, ok := src[key]; ok {
		dst[key] = v
	}
}

// mapEntityEvent converts a Home Assistant entity state into the remote's
// entity_change shape. Unhandled domains return (nil, nil) and are skipped.
// The server URL is needed to absolutize media image paths.
func mapEntityEvent(server *url.URL, state *entityState) (*api.EntityChange, error) {
	domain := entityDomain(state.EntityID)
	entityType, ok := entityTypeForDomain(domain)
	if !ok {
		return nil, nil
	}

	var (
		attributes map[string]interface{}
		err        error
	)
	switch entityType {
	case api.EntityLight:
		attributes, err = lightEventAttributes(state)
	case api.EntitySwitch, api.EntityRemote, api.EntityButton:
		attributes, err = onOffEventAttributes(state)
	case api.EntityCover:
		attributes, err = coverEventAttributes(state)
	case api.EntitySensor:
		attributes, err = sensorEventAttributes(domain, state)
	case api.EntityClimate:
		attributes, err = climateEventAttributes(state)
	case api.EntityMediaPlayer:
		attributes, err = mediaPlayerEventAttributes(server, state)
	}
	if err != nil {
		return nil, err
	}

	return &api.EntityChange{
		EntityType: entityType,
		EntityID:   state.EntityID,
		Attributes: attributes,
	}, nil
}

func onOffEventAttributes(state *entityState) (map[string]interface{}, error) {
	normalized, err := onOffState(state.State)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"state": normalized}, nil
}

func lightEventAttributes(state *entityState) (map[string]interface{}, error) {
	normalized, err := onOffState(state.State)
	if err != nil {
		return nil, err
	}
	attributes := map[string]interface{}{"state": normalized}

	if brightness, ok := intAttr(state.Attributes, "brightness"); ok {
		attributes["brightness"] = brightness
	}

	colorMode, _ := stringAttr(state.Attributes, "color_mode")
	switch colorMode {
	case "color_temp":
		colorTemp, ok := intAttr(state.Attributes, "color_temp")
		if !ok {
			break
		}
		minMireds, okMin := intAttr(state.Attributes, "min_mireds")
		maxMireds, okMax := intAttr(state.Attributes, "max_mireds")
		if !okMin || !okMax {
			break
		}
		percent, err := colorTempMiredToPercent(colorTemp, minMireds, maxMireds)
		if err != nil {
			return nil, err
		}
		attributes["color_temperature"] = percent
	case "hs":
		raw, ok := state.Attributes["hs_color"].([]interface{})
		if !ok {
			break
		}
		if len(raw) != 2 {
			return nil, errors.BadRequest("hs_color must have 2 elements, got %d", len(raw))
		}
		hue, okHue := raw[0].(float64)
		saturation, okSat := raw[1].(float64)
		if !okHue || !okSat || hue < 0 || hue > 360 || saturation < 0 || saturation > 100 {
			return nil, errors.BadRequest("invalid hs_color value: %v", raw)
		}
		attributes["hue"] = int(hue)
		attributes["saturation"] = int(saturation * 255 / 100)
	}

	return attributes, nil
}

func coverEventAttributes(state *entityState) (map[string]interface{}, error) {
	var normalized string
	switch state.State {
	case "open", "opening", "closed", "closing":
		normalized = strings.ToUpper(state.State)
	default:
		var err error
		normalized, err = onOffState(state.State)
		if err != nil {
			return nil, err
		}
	}
	attributes := map[string]interface{}{"state": normalized}

	if position, ok := intAttr(state.Attributes, "current_position"); ok && position >= 0 && position <= 100 {
		attributes["position"] = position
	}
	if tilt, ok := intAttr(state.Attributes, "current_tilt_position"); ok && tilt >= 0 && tilt <= 100 {
		attributes["tilt_position"] = tilt
	}
	return attributes, nil
}

// sensorEventAttributes: binary sensors always report ON, regular sensors
// fall back to ON for any state that is not one of the on/off values. This
// mirrors the remote's expectation that a readable sensor is "on".
func sensorEventAttributes(domain string, state *entityState) (map[string]interface{}, error) {
	if domain == "binary_sensor" {
		attributes := map[string]interface{}{"state": "ON"}
		if deviceClass, ok := stringAttr(state.Attributes, "device_class"); ok {
			deviceClass = strings.ToLower(deviceClass)
			if deviceClass != "none" {
				attributes["unit"] = deviceClass
			}
		}
		return attributes, nil
	}

	normalized, err := onOffState(state.State)
	if err != nil {
		normalized = "ON"
	}
	attributes := map[string]interface{}{
		"state": normalized,
		"value": state.State,
	}
	if unit, ok := stringAttr(state.Attributes, "unit_of_measurement"); ok {
		attributes["unit"] = unit
	}
	return attributes, nil
}

func climateEventAttributes(state *entityState) (map[string]interface{}, error) {
	var normalized string
	switch state.State {
	case "off", "heat", "cool", "heat_cool", "auto", "unavailable", "unknown":
		normalized = strings.ToUpper(state.State)
	case "fan_only":
		normalized = "FAN"
	default:
		return nil, errors.BadRequest("unexpected climate state: %q", state.State)
	}
	attributes := map[string]interface{}{"state": normalized}

	copyAttr(attributes, state.Attributes, "current_temperature")
	if target, ok := state.Attributes["temperature"]; ok {
		attributes["target_temperature"] = target
	}
	copyAttr(attributes, state.Attributes, "target_temperature_high")
	copyAttr(attributes, state.Attributes, "target_temperature_low")
	if fanMode, ok := stringAttr(state.Attributes, "fan_mode"); ok {
		attributes["fan_mode"] = strings.ToUpper(fanMode)
	}
	return attributes, nil
}

func mediaPlayerEventAttributes(server *url.URL, state *entityState) (map[string]interface{}, error) {
	var normalized string
	switch state.State {
	case "playing", "paused":
		normalized = strings.ToUpper(state.State)
	case "idle":
		normalized = "ON"
	default:
		var err error
		normalized, err = onOffState(state.State)
		if err != nil {
			return nil, err
		}
	}
	attributes := map[string]interface{}{"state": normalized}

	if volume, ok := floatAttr(state.Attributes, "volume_level"); ok {
		attributes["volume"] = int(math.Round(volume * 100))
	}
	if muted, ok := state.Attributes["is_volume_muted"]; ok {
		attributes["muted"] = muted
	}
	if album, ok := state.Attributes["media_album_name"]; ok {
		attributes["media_album"] = album
	}
	if mediaType, ok := state.Attributes["media_content_type"]; ok {
		attributes["media_type"] = mediaType
	}
	if repeat, ok := stringAttr(state.Attributes, "repeat"); ok {
		attributes["repeat"] = strings.ToUpper(repeat)
	}
	copyAttr(attributes, state.Attributes, "media_title")
	copyAttr(attributes, state.Attributes, "media_artist")
	copyAttr(attributes, state.Attributes, "media_position")
	copyAttr(attributes, state.Attributes, "media_duration")
	copyAttr(attributes, state.Attributes, "shuffle")
	copyAttr(attributes, state.Attributes, "source")
	copyAttr(attributes, state.Attributes, "sound_mode")

	if picture, ok := stringAttr(state.Attributes, "entity_picture"); ok {
		attributes["media_image_url"] = mediaImageURL(server, picture)
	}
	return attributes, nil
}

// mediaImageURL absolutizes an entity_picture path against the Home Assistant
// server address.
func mediaImageURL(server *url.URL, picture string) string {
	if strings.HasPrefix(picture, "http") {
		return picture
	}
	if strings.HasPrefix(picture, "/") && server != nil {
		scheme := "http"
		if server.Scheme == "wss" || server.Scheme == "https" {
			scheme = "https"
		}
		return scheme + "://" + server.Host + picture
	}
	return picture
}
