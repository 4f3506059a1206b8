package controller

import (
	"encoding/json"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
)

// R2Event handles a lifecycle event sent by a remote session.
func (c *Controller) R2Event(sessionID string, event string, data json.RawMessage) {
	switch event {
	case api.MsgConnect:
		c.handleConnectEvent(sessionID)

	case api.MsgDisconnect:
		c.mu.Lock()
		if sess := c.sessions[sessionID]; sess != nil {
			sess.haConnect = false
		}
		c.mu.Unlock()
		c.closeClient()

	case api.MsgEnterStandby:
		c.mu.Lock()
		if sess := c.sessions[sessionID]; sess != nil {
			sess.standby = true
		}
		disconnect := c.cfg.HomeAssistant.DisconnectInStandby && c.allStandbyLocked()
		c.mu.Unlock()
		if disconnect {
			c.log.Info("All remotes in standby, disconnecting from Home Assistant")
			c.closeClient()
		}

	case api.MsgExitStandby:
		c.mu.Lock()
		if sess := c.sessions[sessionID]; sess != nil {
			sess.standby = false
		}
		reconnect := c.cfg.HomeAssistant.DisconnectInStandby && c.anyHAConnectLocked()
		c.mu.Unlock()
		if reconnect {
			c.connect()
		}

	case api.MsgAbortSetup:
		c.abortSetup(api.SetupErrorNone, false)

	default:
		c.log.WithField("event", event).Debug("Ignoring remote event")
	}
}

// anyHAConnectLocked reports whether some remote asked for a Home Assistant
// connection. Caller holds c.mu.
func (c *Controller) anyHAConnectLocked() bool {
	for _, sess := range c.sessions {
		if sess.haConnect {
			return true
		}
	}
	return false
}

// allStandbyLocked reports whether every session is in standby. Caller holds
// c.mu.
func (c *Controller) allStandbyLocked() bool {
	for _, sess := range c.sessions {
		if !sess.standby {
			return false
		}
	}
	return len(c.sessions) > 0
}

// handleConnectEvent starts or restarts the Home Assistant connection. When
// the configuration changed since the current client connected, the old
// connection is dropped first.
func (c *Controller) handleConnectEvent(sessionID string) {
	c.mu.Lock()
	sess := c.sessions[sessionID]
	if sess != nil {
		sess.haConnect = true
	}

	// Leave a failed state behind: the remote explicitly asked to connect.
	if c.deviceState == api.DeviceError {
		c.deviceState = api.DeviceDisconnected
	}

	configChanged := c.client != nil &&
		(c.clientCfg.URL != c.cfg.HomeAssistant.URL || c.clientCfg.Token != c.cfg.HomeAssistant.Token)
	client := c.client
	c.mu.Unlock()

	if configChanged {
		c.log.Info("Home Assistant configuration changed, reconnecting")
		if sess != nil {
			sess.sink.SendMessage(api.NewDriverSetupChangeEvent(api.DriverSetupChange{
				EventType: api.SetupEventSetup,
				State:     api.SetupStateOK,
			}))
		}
		client.Close(1000, "configuration changed")
		c.mu.Lock()
		c.client = nil
		c.mu.Unlock()
	}

	c.connect()
}
