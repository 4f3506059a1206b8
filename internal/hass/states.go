package hass

import (
	"net/url"
	"strings"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
	"github.com/sirupsen/logrus"
)

// sensorDeviceClasses are the device classes the remote understands natively.
// Everything else becomes a "custom" sensor with a generated label.
var sensorDeviceClasses = map[string]bool{
	"battery":     true,
	"current":     true,
	"energy":      true,
	"humidity":    true,
	"power":       true,
	"temperature": true,
	"voltage":     true,
}

// Cover supported_features bits
const (
	coverFeatureOpen        = 1 << 0
	coverFeatureClose       = 1 << 1
	coverFeatureSetPosition = 1 << 2
	coverFeatureStop        = 1 << 3
)

// Climate supported_features bits
const (
	climateFeatureTargetTemperature = 1 << 0
)

// Media player supported_features bits
const (
	mediaFeaturePause      = 1 << 0
	mediaFeatureSeek       = 1 << 1
	mediaFeatureVolumeSet  = 1 << 2
	mediaFeatureVolumeMute = 1 << 3
	mediaFeaturePrevTrack  = 1 << 4
	mediaFeatureNextTrack  = 1 << 5
	mediaFeatureTurnOn     = 1 << 7
	mediaFeatureTurnOff    = 1 << 8
	mediaFeatureVolumeStep = 1 << 10
	mediaFeatureStop       = 1 << 12
	mediaFeaturePlay       = 1 << 14
	mediaFeatureShuffle    = 1 << 15
	mediaFeatureRepeat     = 1 << 18
)

// mapAvailableEntities converts a get_states result into the remote's
// available-entity list. Entities of unhandled domains and entities that fail
// translation are skipped with a log.
func mapAvailableEntities(server *url.URL, states []entityState, log *logrus.Logger) []api.AvailableEntity {
	entities := make([]api.AvailableEntity, 0, len(states))
	for i := range states {
		entity, err := mapAvailableEntity(server, &states[i])
		if err != nil {
			log.WithError(err).WithField("entity_id", states[i].EntityID).
				Debug("Skipping entity that failed translation")
			continue
		}
		if entity == nil {
			continue
		}
		entities = append(entities, *entity)
	}
	return entities
}

// mapAvailableEntity builds the AvailableEntity for one Home Assistant state,
// including the current attributes from the event translator.
func mapAvailableEntity(server *url.URL, state *entityState) (*api.AvailableEntity, error) {
	domain := entityDomain(state.EntityID)
	entityType, ok := entityTypeForDomain(domain)
	if !ok {
		return nil, nil
	}

	name, ok := stringAttr(state.Attributes, "friendly_name")
	if !ok || name == "" {
		name = state.EntityID
	}

	entity := &api.AvailableEntity{
		EntityID:   state.EntityID,
		EntityType: entityType,
		Name:       api.EntityName(name),
	}

	switch entityType {
	case api.EntityLight:
		entity.Features = lightFeatures(state.Attributes)
	case api.EntitySwitch:
		entity.Features = []string{api.FeatureOnOff, api.FeatureToggle}
	case api.EntityButton:
		entity.Features = []string{api.FeaturePress}
	case api.EntityRemote:
		entity.Features = []string{api.FeatureSendCmd, api.FeatureOnOff, api.FeatureToggle}
	case api.EntityCover:
		entity.Features = coverFeatures(state.Attributes)
		if deviceClass, ok := stringAttr(state.Attributes, "device_class"); ok {
			switch deviceClass {
			case "blind", "curtain", "garage", "shade":
				entity.DeviceClass = deviceClass
			}
		}
	case api.EntitySensor:
		sensorClassAndOptions(domain, state.Attributes, entity)
	case api.EntityClimate:
		entity.Features = climateFeatures(state.Attributes)
		entity.Options = climateOptions(state.Attributes)
	case api.EntityMediaPlayer:
		entity.Features = mediaPlayerFeatures(state.Attributes)
		if deviceClass, ok := stringAttr(state.Attributes, "device_class"); ok {
			switch deviceClass {
			case "receiver", "speaker":
				entity.DeviceClass = deviceClass
			}
		}
	}

	attributes, err := mapEntityEvent(server, state)
	if err != nil {
		return nil, err
	}
	if attributes != nil {
		entity.Attributes = attributes.Attributes
	}
	return entity, nil
}

func lightFeatures(attrs map[string]interface{}) []string {
	features := []string{api.FeatureToggle}
	modes, _ := attrs["supported_color_modes"].([]interface{})
	var dim, color, colorTemp bool
	for _, raw := range modes {
		mode, ok := raw.(string)
		if !ok {
			continue
		}
		switch mode {
		case "brightness":
			dim = true
		case "color_temp":
			dim = true
			colorTemp = true
		case "hs", "rgb", "rgbw", "rgbww", "xy":
			dim = true
			color = true
		}
	}
	if dim {
		features = append(features, api.FeatureDim)
	}
	if color {
		features = append(features, api.FeatureColor)
	}
	if colorTemp {
		features = append(features, api.FeatureColorTemperature)
	}
	return features
}

func coverFeatures(attrs map[string]interface{}) []string {
	mask, _ := intAttr(attrs, "supported_features")
	var features []string
	if mask&coverFeatureOpen != 0 {
		features = append(features, api.FeatureOpen)
	}
	if mask&coverFeatureClose != 0 {
		features = append(features, api.FeatureClose)
	}
	if mask&coverFeatureSetPosition != 0 {
		features = append(features, api.FeaturePosition)
	}
	if mask&coverFeatureStop != 0 {
		features = append(features, api.FeatureStop)
	}
	return features
}

func climateFeatures(attrs map[string]interface{}) []string {
	var features []string
	modes, _ := attrs["hvac_modes"].([]interface{})
	for _, raw := range modes {
		mode, ok := raw.(string)
		if !ok {
			continue
		}
		switch mode {
		case "off":
			features = append(features, "on_off")
		case "heat":
			features = append(features, "heat")
		case "cool":
			features = append(features, "cool")
		}
	}
	mask, _ := intAttr(attrs, "supported_features")
	if mask&climateFeatureTargetTemperature != 0 {
		features = append(features, "target_temperature")
	}
	if _, ok := floatAttr(attrs, "current_temperature"); ok {
		features = append(features, "current_temperature")
	}
	return features
}

func climateOptions(attrs map[string]interface{}) map[string]interface{} {
	options := make(map[string]interface{})
	if v, ok := floatAttr(attrs, "min_temp"); ok {
		options["min_temperature"] = v
	}
	if v, ok := floatAttr(attrs, "max_temp"); ok {
		options["max_temperature"] = v
	}
	if v, ok := floatAttr(attrs, "target_temp_step"); ok {
		options["target_temperature_step"] = v
	}
	if v, ok := stringAttr(attrs, "temperature_unit"); ok {
		options["temperature_unit"] = v
	}
	if len(options) == 0 {
		return nil
	}
	return options
}

func mediaPlayerFeatures(attrs map[string]interface{}) []string {
	mask, _ := intAttr(attrs, "supported_features")
	var features []string
	if mask&(mediaFeaturePause|mediaFeaturePlay) != 0 {
		features = append(features, "play_pause")
	}
	if mask&mediaFeatureSeek != 0 {
		features = append(features, "seek", "media_duration", "media_position")
	}
	if mask&mediaFeatureVolumeSet != 0 {
		features = append(features, "volume")
	}
	if mask&mediaFeatureVolumeMute != 0 {
		features = append(features, "mute", "unmute")
	}
	if mask&mediaFeaturePrevTrack != 0 {
		features = append(features, "previous")
	}
	if mask&mediaFeatureNextTrack != 0 {
		features = append(features, "next")
	}
	if mask&(mediaFeatureTurnOn|mediaFeatureTurnOff) != 0 {
		features = append(features, "on_off")
	}
	if mask&mediaFeatureVolumeStep != 0 {
		features = append(features, "volume_up_down")
	}
	if mask&mediaFeatureStop != 0 {
		features = append(features, "stop")
	}
	if mask&mediaFeatureShuffle != 0 {
		features = append(features, "shuffle")
	}
	if mask&mediaFeatureRepeat != 0 {
		features = append(features, "repeat")
	}
	features = append(features, "media_title", "media_artist", "media_album",
		"media_image_url", "media_type")
	return features
}

// sensorClassAndOptions fills device_class and options. Device classes the
// remote has no native sensor type for become "custom" with a display label.
func sensorClassAndOptions(domain string, attrs map[string]interface{}, entity *api.AvailableEntity) {
	deviceClass, hasClass := stringAttr(attrs, "device_class")
	if domain == "binary_sensor" {
		return
	}
	if !hasClass || deviceClass == "" {
		return
	}
	if sensorDeviceClasses[deviceClass] {
		entity.DeviceClass = deviceClass
		return
	}
	entity.DeviceClass = "custom"
	options := map[string]interface{}{
		"custom_label": deviceClassLabel(deviceClass),
	}
	if unit, ok := stringAttr(attrs, "unit_of_measurement"); ok {
		options["custom_unit"] = unit
	}
	entity.Options = options
}

// deviceClassLabel turns "atmospheric_pressure" into "Atmospheric pressure".
func deviceClassLabel(deviceClass string) string {
	label := strings.ReplaceAll(deviceClass, "_", " ")
	if label == "" {
		return label
	}
	return strings.ToUpper(label[:1]) + label[1:]
}
