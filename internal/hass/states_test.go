package hass

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
)

func TestAvailableSensorWithCustomClass(t *testing.T) {
	state := parseState(t, `{
		"entity_id": "sensor.pressure",
		"state": "1013.25",
		"attributes": {
			"friendly_name": "Pressure",
			"device_class": "atmospheric_pressure",
			"unit_of_measurement": "hPa"
		}
	}`)

	entity, err := mapAvailableEntity(nil, state)
	require.NoError(t, err)
	require.NotNil(t, entity)

	assert.Equal(t, api.EntitySensor, entity.EntityType)
	assert.Equal(t, "custom", entity.DeviceClass)
	assert.Equal(t, "Atmospheric pressure", entity.Options["custom_label"])
	assert.Equal(t, "hPa", entity.Options["custom_unit"])
	assert.Equal(t, "ON", entity.Attributes["state"])
	assert.Equal(t, "1013.25", entity.Attributes["value"])
	assert.Equal(t, "hPa", entity.Attributes["unit"])
	assert.Equal(t, map[string]string{"en": "Pressure"}, entity.Name)
}

func TestAvailableSensorWithNativeClass(t *testing.T) {
	state := parseState(t, `{
		"entity_id": "sensor.temp",
		"state": "21.5",
		"attributes": {"device_class": "temperature", "unit_of_measurement": "°C"}
	}`)

	entity, err := mapAvailableEntity(nil, state)
	require.NoError(t, err)
	assert.Equal(t, "temperature", entity.DeviceClass)
	assert.Nil(t, entity.Options)
	// the name falls back to the entity id
	assert.Equal(t, map[string]string{"en": "sensor.temp"}, entity.Name)
}

func TestLightFeatures(t *testing.T) {
	tests := []struct {
		name     string
		modes    string
		expected []string
	}{
		{"onoff only", `["onoff"]`, []string{"toggle"}},
		{"brightness", `["brightness"]`, []string{"toggle", "dim"}},
		{"color temp", `["color_temp"]`, []string{"toggle", "dim", "color_temperature"}},
		{"hs", `["hs"]`, []string{"toggle", "dim", "color"}},
		{"mixed", `["color_temp", "xy"]`, []string{"toggle", "dim", "color", "color_temperature"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var modes []interface{}
			require.NoError(t, json.Unmarshal([]byte(tt.modes), &modes))
			got := lightFeatures(map[string]interface{}{"supported_color_modes": modes})
			assert.ElementsMatch(t, tt.expected, got)
		})
	}
}

func TestCoverFeatures(t *testing.T) {
	// open|close|set position|stop
	features := coverFeatures(map[string]interface{}{"supported_features": float64(15)})
	assert.ElementsMatch(t, []string{"open", "close", "position", "stop"}, features)

	features = coverFeatures(map[string]interface{}{"supported_features": float64(3)})
	assert.ElementsMatch(t, []string{"open", "close"}, features)
}

func TestCoverDeviceClass(t *testing.T) {
	state := parseState(t, `{
		"entity_id": "cover.hall",
		"state": "open",
		"attributes": {"device_class": "garage", "supported_features": 3}
	}`)
	entity, err := mapAvailableEntity(nil, state)
	require.NoError(t, err)
	assert.Equal(t, "garage", entity.DeviceClass)

	state.Attributes["device_class"] = "awning"
	entity, err = mapAvailableEntity(nil, state)
	require.NoError(t, err)
	assert.Empty(t, entity.DeviceClass)
}

func TestMediaPlayerFeatures(t *testing.T) {
	// pause + volume set + turn on
	mask := float64(1 | 4 | 128)
	features := mediaPlayerFeatures(map[string]interface{}{"supported_features": mask})

	assert.Contains(t, features, "play_pause")
	assert.Contains(t, features, "volume")
	assert.Contains(t, features, "on_off")
	assert.NotContains(t, features, "seek")
	// metadata features are always present
	assert.Contains(t, features, "media_title")
	assert.Contains(t, features, "media_image_url")

	// play without pause still yields play_pause
	features = mediaPlayerFeatures(map[string]interface{}{"supported_features": float64(1 << 14)})
	assert.Contains(t, features, "play_pause")

	// repeat is bit 18
	features = mediaPlayerFeatures(map[string]interface{}{"supported_features": float64(1 << 18)})
	assert.Contains(t, features, "repeat")
}

func TestClimateFeatures(t *testing.T) {
	attrs := map[string]interface{}{
		"hvac_modes":          []interface{}{"off", "heat", "cool"},
		"supported_features":  float64(1),
		"current_temperature": 21.5,
	}
	features := climateFeatures(attrs)
	assert.ElementsMatch(t,
		[]string{"on_off", "heat", "cool", "target_temperature", "current_temperature"},
		features)

	options := climateOptions(map[string]interface{}{
		"min_temp":         7.0,
		"max_temp":         35.0,
		"target_temp_step": 0.5,
		"temperature_unit": "°C",
	})
	assert.Equal(t, 7.0, options["min_temperature"])
	assert.Equal(t, 35.0, options["max_temperature"])
	assert.Equal(t, 0.5, options["target_temperature_step"])
	assert.Equal(t, "°C", options["temperature_unit"])
}

func TestRemoteAndSwitchFeatures(t *testing.T) {
	state := parseState(t, `{"entity_id": "remote.tv", "state": "on", "attributes": {}}`)
	entity, err := mapAvailableEntity(nil, state)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"send_cmd", "on_off", "toggle"}, entity.Features)

	state = parseState(t, `{"entity_id": "switch.fan", "state": "off", "attributes": {}}`)
	entity, err = mapAvailableEntity(nil, state)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"on_off", "toggle"}, entity.Features)
}

func TestMapAvailableEntitiesSkipsUnknownDomains(t *testing.T) {
	states := []entityState{
		{EntityID: "light.ok", State: "on", Attributes: map[string]interface{}{}},
		{EntityID: "vacuum.skip", State: "docked", Attributes: map[string]interface{}{}},
		{EntityID: "media_player.bad", State: "weird", Attributes: map[string]interface{}{}},
	}

	entities := mapAvailableEntities(nil, states, logrus.New())
	require.Len(t, entities, 1)
	assert.Equal(t, "light.ok", entities[0].EntityID)
}
