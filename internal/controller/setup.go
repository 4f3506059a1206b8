package controller

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
	"github.com/frostdev-ops/uc-bridge-go/internal/config"
	"github.com/frostdev-ops/uc-bridge-go/pkg/errors"
)

// setupFlow tracks one driver setup dialog.
type setupFlow struct {
	sessionID string
	url       string
	token     string
	timer     *time.Timer
}

// setupPage is the first screen of the setup dialog.
func setupPage(currentURL string) api.SettingsPage {
	return api.SettingsPage{
		Title: map[string]string{"en": "Home Assistant connection"},
		Settings: []api.Setting{
			api.TextSetting("url", "WebSocket API URL", currentURL),
			api.TextSetting("token", "Long-lived access token", ""),
			api.CheckboxSetting("expert", "Advanced settings", false),
		},
	}
}

// expertPage is the optional second screen with connection tuning options.
func expertPage(cfg config.HomeAssistantConfig) api.SettingsPage {
	return api.SettingsPage{
		Title: map[string]string{"en": "Advanced settings"},
		Settings: []api.Setting{
			api.NumberSetting("connection_timeout", "Connection timeout (seconds)", cfg.ConnectionTimeout, 1, 60),
			api.NumberSetting("max_frame_size_kb", "Max WebSocket frame size (kB)", cfg.MaxFrameSizeKB, 1024, 16384),
			api.CheckboxSetting("disconnect_in_standby", "Disconnect when the remote enters standby", cfg.DisconnectInStandby),
		},
	}
}

// handleSetupDriver starts the setup dialog. The OK response is written
// before any driver_setup_change event.
func (c *Controller) handleSetupDriver(sessionID string, reqID uint32, data json.RawMessage) (*api.WsMessage, error) {
	var payload api.SetupDriver
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, errors.BadRequest("invalid setup_driver payload: %v", err)
		}
	}

	c.mu.Lock()
	if err := c.machine.handle(inputSetupRequest); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.setup != nil && c.setup.timer != nil {
		c.setup.timer.Stop()
	}
	flow := &setupFlow{
		sessionID: sessionID,
		url:       payload.SetupData["url"],
		token:     payload.SetupData["token"],
	}
	flow.timer = time.AfterFunc(c.cfg.Integration.SetupTimeoutDuration(), c.setupTimeout)
	c.setup = flow
	sess := c.sessions[sessionID]
	c.mu.Unlock()

	c.log.WithField("session_id", sessionID).Info("Driver setup started")
	if sess != nil {
		sess.sink.SendMessage(api.NewResultResponse(reqID, 200))
	}

	if payload.SetupData["expert"] == "true" {
		c.requestExpertOptions(flow)
		return nil, nil
	}
	c.finishSetup(flow)
	return nil, nil
}

// requestExpertOptions sends the advanced settings screen and waits for
// set_driver_user_data.
func (c *Controller) requestExpertOptions(flow *setupFlow) {
	c.mu.Lock()
	if err := c.machine.handle(inputRequestUserInput); err != nil {
		c.mu.Unlock()
		c.log.WithError(err).Error("Cannot request setup user input")
		return
	}
	sess := c.sessions[flow.sessionID]
	page := expertPage(c.cfg.HomeAssistant)
	c.mu.Unlock()

	if sess == nil {
		return
	}
	sess.sink.SendMessage(api.NewDriverSetupChangeEvent(api.DriverSetupChange{
		EventType:         api.SetupEventSetup,
		State:             api.SetupStateWaitUserAction,
		RequireUserAction: &api.RequireUserAction{Input: &page},
	}))
}

// handleSetDriverUserData consumes the advanced settings screen values and
// completes the setup.
func (c *Controller) handleSetDriverUserData(sessionID string, reqID uint32, data json.RawMessage) (*api.WsMessage, error) {
	var payload api.SetDriverUserData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, errors.BadRequest("invalid set_driver_user_data payload: %v", err)
		}
	}

	c.mu.Lock()
	if err := c.machine.handle(inputSetupUserData); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	flow := c.setup
	if flow == nil {
		c.mu.Unlock()
		return nil, errors.BadRequest("no setup flow in progress")
	}
	c.applyExpertOptionsLocked(payload.InputValues)
	sess := c.sessions[sessionID]
	c.mu.Unlock()

	if sess != nil {
		sess.sink.SendMessage(api.NewResultResponse(reqID, 200))
	}
	c.finishSetup(flow)
	return nil, nil
}

// applyExpertOptionsLocked writes validated advanced settings into the
// configuration. Caller holds c.mu.
func (c *Controller) applyExpertOptionsLocked(values map[string]string) {
	if v, err := strconv.Atoi(values["connection_timeout"]); err == nil && v > 0 {
		c.cfg.HomeAssistant.ConnectionTimeout = v
	}
	if v, err := strconv.Atoi(values["max_frame_size_kb"]); err == nil && v > 0 {
		c.cfg.HomeAssistant.MaxFrameSizeKB = v
	}
	if v, ok := values["disconnect_in_standby"]; ok {
		c.cfg.HomeAssistant.DisconnectInStandby = v == "true"
	}
}

// finishSetup validates the staged connection settings, persists them and
// reconnects.
func (c *Controller) finishSetup(flow *setupFlow) {
	if flow.token == "" || config.ValidateHomeAssistantURL(flow.url) != nil {
		c.failSetup(flow, api.SetupErrorOther)
		return
	}

	c.mu.Lock()
	if err := c.machine.handle(inputSuccessful); err != nil {
		c.mu.Unlock()
		c.log.WithError(err).Error("Cannot complete setup flow")
		return
	}
	if flow.timer != nil {
		flow.timer.Stop()
	}
	c.setup = nil
	c.cfg.HomeAssistant.URL = flow.url
	c.cfg.HomeAssistant.Token = flow.token
	if err := c.cfg.SaveUserSettings(); err != nil {
		c.log.WithError(err).Error("Failed to persist user settings")
	}
	client := c.client
	c.client = nil
	sess := c.sessions[flow.sessionID]
	c.mu.Unlock()

	c.log.Info("Driver setup completed")
	if sess != nil {
		sess.sink.SendMessage(api.NewDriverSetupChangeEvent(api.DriverSetupChange{
			EventType: api.SetupEventStop,
			State:     api.SetupStateOK,
		}))
	}
	if client != nil {
		client.Close(1000, "configuration changed")
	}
	// Give the remote a moment to process the setup result.
	time.AfterFunc(closeGraceDelay, c.connect)
}

const closeGraceDelay = 100 * time.Millisecond

// failSetup reports a setup error and parks the machine in the error mode.
func (c *Controller) failSetup(flow *setupFlow, errorCode string) {
	c.mu.Lock()
	if err := c.machine.handle(inputSetupError); err != nil {
		c.mu.Unlock()
		return
	}
	if flow.timer != nil {
		flow.timer.Stop()
	}
	c.setup = nil
	sess := c.sessions[flow.sessionID]
	c.mu.Unlock()

	c.log.WithField("error", errorCode).Warn("Driver setup failed")
	if sess != nil {
		sess.sink.SendMessage(api.NewDriverSetupChangeEvent(api.DriverSetupChange{
			EventType: api.SetupEventStop,
			State:     api.SetupStateError,
			Error:     errorCode,
		}))
	}
}

// setupTimeout fires when the setup dialog stalls past the configured limit.
func (c *Controller) setupTimeout() {
	c.log.Warn("Driver setup timed out")
	c.abortSetup(api.SetupErrorTimeout, true)
}

// abortSetup cancels a setup flow in progress. notify controls whether the
// remote is told about the aborted flow (timeouts are announced, remote
// initiated aborts are not).
func (c *Controller) abortSetup(errorCode string, notify bool) {
	c.mu.Lock()
	if err := c.machine.handle(inputAbortSetup); err != nil {
		c.mu.Unlock()
		return
	}
	if c.setup != nil && c.setup.timer != nil {
		c.setup.timer.Stop()
	}
	c.setup = nil
	if notify {
		c.broadcastLocked(api.NewDriverSetupChangeEvent(api.DriverSetupChange{
			EventType: api.SetupEventStop,
			State:     api.SetupStateError,
			Error:     errorCode,
		}), "")
	}
	c.mu.Unlock()

	c.log.Info("Driver setup aborted")
}
