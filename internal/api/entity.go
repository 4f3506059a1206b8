package api

// DeviceState is the integration driver state reported to the remote.
type DeviceState string

const (
	DeviceDisconnected DeviceState = "DISCONNECTED"
	DeviceConnecting   DeviceState = "CONNECTING"
	DeviceConnected    DeviceState = "CONNECTED"
	DeviceError        DeviceState = "ERROR"
)

// EntityType is the integration entity type.
type EntityType string

const (
	EntityButton      EntityType = "button"
	EntityClimate     EntityType = "climate"
	EntityCover       EntityType = "cover"
	EntityLight       EntityType = "light"
	EntityMediaPlayer EntityType = "media_player"
	EntityRemote      EntityType = "remote"
	EntitySensor      EntityType = "sensor"
	EntitySwitch      EntityType = "switch"
)

// EntityChange is the payload of an entity_change event and an element of the
// entity_states response.
type EntityChange struct {
	EntityType EntityType             `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Attributes map[string]interface{} `json:"attributes"`
}

// AvailableEntity describes one entity in the available_entities response.
type AvailableEntity struct {
	EntityID    string                 `json:"entity_id"`
	EntityType  EntityType             `json:"entity_type"`
	DeviceClass string                 `json:"device_class,omitempty"`
	Name        map[string]string      `json:"name"`
	Features    []string               `json:"features,omitempty"`
	Area        string                 `json:"area,omitempty"`
	Options     map[string]interface{} `json:"options,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// EntityName builds the language map for an entity display name.
func EntityName(name string) map[string]string {
	return map[string]string{"en": name}
}

// EntityCommand is the msg_data payload of an entity_command request.
type EntityCommand struct {
	DeviceID   string                 `json:"device_id,omitempty"`
	EntityType EntityType             `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	CmdID      string                 `json:"cmd_id"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

// SubscribeEvents is the msg_data payload of subscribe_events and
// unsubscribe_events requests.
type SubscribeEvents struct {
	DeviceID  string   `json:"device_id,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// AvailableEntitiesFilter is the optional msg_data of get_available_entities.
type AvailableEntitiesFilter struct {
	Filter *struct {
		DeviceID   string     `json:"device_id,omitempty"`
		EntityType EntityType `json:"entity_type,omitempty"`
	} `json:"filter,omitempty"`
}

// GetEntityStates is the msg_data of get_entity_states.
type GetEntityStates struct {
	DeviceID  string   `json:"device_id,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// DriverVersion is the driver_version response payload.
type DriverVersion struct {
	Name    string `json:"name"`
	Version struct {
		API    string `json:"api"`
		Driver string `json:"driver"`
	} `json:"version"`
}

// DriverMetadata is the driver_metadata response payload.
type DriverMetadata struct {
	DriverID    string            `json:"driver_id"`
	Name        map[string]string `json:"name"`
	Version     string            `json:"version"`
	Icon        string            `json:"icon,omitempty"`
	Developer   *DriverDeveloper  `json:"developer,omitempty"`
	SetupSchema *SettingsPage     `json:"setup_data_schema,omitempty"`
}

// DriverDeveloper identifies the driver author in the metadata.
type DriverDeveloper struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Light entity features
const (
	FeatureOnOff            = "on_off"
	FeatureToggle           = "toggle"
	FeatureDim              = "dim"
	FeatureColor            = "color"
	FeatureColorTemperature = "color_temperature"
)

// Cover entity features
const (
	FeatureOpen     = "open"
	FeatureClose    = "close"
	FeatureStop     = "stop"
	FeaturePosition = "position"
)

// Button entity features
const (
	FeaturePress = "press"
)

// Remote entity features
const (
	FeatureSendCmd = "send_cmd"
)
