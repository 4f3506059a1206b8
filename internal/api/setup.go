package api

// Setup flow event types
const (
	SetupEventStart = "START"
	SetupEventSetup = "SETUP"
	SetupEventStop  = "STOP"
)

// Setup flow states
const (
	SetupStateSetup          = "SETUP"
	SetupStateWaitUserAction = "WAIT_USER_ACTION"
	SetupStateOK             = "OK"
	SetupStateError          = "ERROR"
)

// Setup flow error codes
const (
	SetupErrorNone               = "NONE"
	SetupErrorNotFound           = "NOT_FOUND"
	SetupErrorConnectionRefused  = "CONNECTION_REFUSED"
	SetupErrorAuthorizationError = "AUTHORIZATION_ERROR"
	SetupErrorTimeout            = "TIMEOUT"
	SetupErrorOther              = "OTHER"
)

// SetupDriver is the msg_data payload of a setup_driver request.
type SetupDriver struct {
	Reconfigure bool              `json:"reconfigure,omitempty"`
	SetupData   map[string]string `json:"setup_data"`
}

// SetDriverUserData is the msg_data payload of a set_driver_user_data request.
type SetDriverUserData struct {
	InputValues map[string]string `json:"input_values,omitempty"`
	Confirm     bool              `json:"confirm,omitempty"`
}

// DriverSetupChange is the msg_data payload of a driver_setup_change event.
type DriverSetupChange struct {
	EventType         string             `json:"event_type"`
	State             string             `json:"state"`
	Error             string             `json:"error,omitempty"`
	RequireUserAction *RequireUserAction `json:"require_user_action,omitempty"`
}

// RequireUserAction asks the remote to display an input page during setup.
type RequireUserAction struct {
	Input *SettingsPage `json:"input,omitempty"`
}

// SettingsPage is a setup input page definition.
type SettingsPage struct {
	Title    map[string]string `json:"title"`
	Settings []Setting         `json:"settings"`
}

// Setting is one field on a settings page.
type Setting struct {
	ID    string                 `json:"id"`
	Label map[string]string      `json:"label"`
	Field map[string]interface{} `json:"field"`
}

// TextSetting builds a single-line text input setting.
func TextSetting(id, label, value string) Setting {
	return Setting{
		ID:    id,
		Label: map[string]string{"en": label},
		Field: map[string]interface{}{
			"text": map[string]interface{}{"value": value},
		},
	}
}

// CheckboxSetting builds a checkbox setting.
func CheckboxSetting(id, label string, value bool) Setting {
	return Setting{
		ID:    id,
		Label: map[string]string{"en": label},
		Field: map[string]interface{}{
			"checkbox": map[string]interface{}{"value": value},
		},
	}
}

// NumberSetting builds a numeric input setting.
func NumberSetting(id, label string, value, min, max int) Setting {
	return Setting{
		ID:    id,
		Label: map[string]string{"en": label},
		Field: map[string]interface{}{
			"number": map[string]interface{}{"value": value, "min": min, "max": max},
		},
	}
}

// NewDriverSetupChangeEvent builds a driver_setup_change DEVICE event.
func NewDriverSetupChangeEvent(change DriverSetupChange) WsMessage {
	return NewEvent(MsgDriverSetupChange, CategoryDevice, change)
}
