// Package controller owns the remote session table, the driver operation
// mode, the Home Assistant client lifecycle and routes messages both ways.
package controller

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
	"github.com/frostdev-ops/uc-bridge-go/internal/config"
	"github.com/frostdev-ops/uc-bridge-go/internal/hass"
	"github.com/frostdev-ops/uc-bridge-go/internal/metrics"
)

// integrationAPIVersion is the protocol version reported in driver_version.
const integrationAPIVersion = "0.24.3"

// MessageSink is the outbound half of a remote session. SendMessage must not
// block; Close tears the session down with a WebSocket close code.
type MessageSink interface {
	SendMessage(msg api.WsMessage)
	Close(code int, reason string)
}

// haClient is the surface of the Home Assistant client the controller drives.
// Satisfied by *hass.Client.
type haClient interface {
	ID() string
	Close(code int, reason string)
	GetStates(req hass.StatesRequest) error
	CallService(cmd api.EntityCommand) error
	RunAssistPipeline(start hass.AssistStart) error
	SendAudioChunk(sessionID uint32, chunk []byte) error
	StopAudio(sessionID uint32) error
}

// session is the controller's view of one connected remote.
type session struct {
	id   string
	sink MessageSink

	// standby drops all outbound events while set.
	standby bool

	// subscribed holds the entity ids this remote wants change events for.
	subscribed map[string]struct{}

	// haConnect is set once the remote asked for a Home Assistant connection.
	haConnect bool

	// voiceSessionID is the remote-scoped id of the active voice session.
	voiceSessionID uint32
}

// Controller is the central hub between remote sessions and Home Assistant.
type Controller struct {
	cfg *config.Config
	log *logrus.Logger

	mu          sync.Mutex
	sessions    map[string]*session
	deviceState api.DeviceState
	machine     *stateMachine

	client     haClient
	clientCfg  config.HomeAssistantConfig
	connecting bool

	// lastClosedID remembers the most recent client whose closed event was
	// seen, so a connection that dies before registration is not adopted.
	lastClosedID string

	reconnectTimer    *time.Timer
	reconnectDelay    time.Duration
	reconnectAttempts int

	setup *setupFlow
}

// New creates the controller. The operation mode starts in running when a
// Home Assistant URL and token are already configured.
func New(cfg *config.Config, log *logrus.Logger) *Controller {
	configured := cfg.HomeAssistant.URL != "" && cfg.HomeAssistant.Token != ""
	return &Controller{
		cfg:            cfg,
		log:            log,
		sessions:       make(map[string]*session),
		deviceState:    api.DeviceDisconnected,
		machine:        newStateMachine(configured),
		reconnectDelay: time.Duration(cfg.HomeAssistant.Reconnect.DurationMS) * time.Millisecond,
	}
}

// NewSession registers a connected remote and reports the current device
// state to it.
func (c *Controller) NewSession(id string, sink MessageSink) {
	c.mu.Lock()
	c.sessions[id] = &session{
		id:         id,
		sink:       sink,
		subscribed: make(map[string]struct{}),
	}
	state := c.deviceState
	c.mu.Unlock()

	metrics.RemoteSessions.Inc()
	c.log.WithField("session_id", id).Info("Remote session connected")
	sink.SendMessage(api.NewDeviceStateEvent(state))
}

// SessionDisconnect removes a remote session.
func (c *Controller) SessionDisconnect(id string) {
	c.mu.Lock()
	_, ok := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()

	if ok {
		metrics.RemoteSessions.Dec()
		c.log.WithField("session_id", id).Info("Remote session disconnected")
	}
}

// Stop disconnects from Home Assistant and cancels pending timers. Used on
// process shutdown.
func (c *Controller) Stop() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.setup != nil && c.setup.timer != nil {
		c.setup.timer.Stop()
	}
	c.mu.Unlock()

	if client != nil {
		client.Close(1000, "shutting down")
	}
}

// setDeviceStateLocked updates the device state and broadcasts the change.
// Caller holds c.mu.
func (c *Controller) setDeviceStateLocked(state api.DeviceState) {
	if c.deviceState == state {
		return
	}
	c.deviceState = state
	c.log.WithField("state", state).Info("Device state changed")
	c.broadcastLocked(api.NewDeviceStateEvent(state), "")
}

// broadcastLocked delivers an event to the remote sessions. Sessions in
// standby drop it; when entityID is set only sessions subscribed to that
// entity receive it. Caller holds c.mu.
func (c *Controller) broadcastLocked(msg api.WsMessage, entityID string) {
	for _, sess := range c.sessions {
		if sess.standby {
			continue
		}
		if entityID != "" {
			if _, ok := sess.subscribed[entityID]; !ok {
				continue
			}
		}
		sess.sink.SendMessage(msg)
	}
}

// connect starts an asynchronous connection attempt unless one is already
// running or established.
func (c *Controller) connect() {
	c.mu.Lock()
	if c.connecting || c.client != nil {
		c.mu.Unlock()
		return
	}
	haCfg := c.cfg.HomeAssistant
	if haCfg.URL == "" || haCfg.Token == "" {
		c.log.Warn("Cannot connect: Home Assistant is not configured")
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.setDeviceStateLocked(api.DeviceConnecting)
	c.mu.Unlock()

	go func() {
		client, err := hass.Connect(haCfg, c, c.log)

		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()

		if err != nil {
			c.log.WithError(err).Warn("Home Assistant connection attempt failed")
			c.scheduleReconnect()
			return
		}
		if !c.registerClient(client, haCfg) {
			c.log.WithField("client_id", client.ID()).
				Debug("Connection closed before registration")
		}
	}()
}

// registerClient adopts a freshly connected client. A short-lived connection
// can report its closed event before the dial returns; such a client is
// already dead and must not take the slot.
func (c *Controller) registerClient(client haClient, cfg config.HomeAssistantConfig) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastClosedID == client.ID() {
		return false
	}
	c.client = client
	c.clientCfg = cfg
	return true
}

// closeClient tears down the Home Assistant connection and suppresses
// reconnection by leaving the Disconnected state.
func (c *Controller) closeClient() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.setDeviceStateLocked(api.DeviceDisconnected)
	c.mu.Unlock()

	if client != nil {
		client.Close(1000, "disconnect requested")
	}
}

// scheduleReconnect arms the next connection attempt with exponential
// backoff, transitioning to Error once the attempt limit is reached.
func (c *Controller) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deviceState == api.DeviceError || c.deviceState == api.DeviceDisconnected {
		return
	}

	rc := c.cfg.HomeAssistant.Reconnect
	c.reconnectAttempts++
	metrics.ReconnectAttempts.Inc()

	if rc.Attempts > 0 && c.reconnectAttempts >= rc.Attempts {
		c.log.WithField("attempts", c.reconnectAttempts).
			Error("Home Assistant unreachable, giving up")
		c.setDeviceStateLocked(api.DeviceError)
		return
	}

	delay := c.reconnectDelay
	c.reconnectDelay = nextReconnectDelay(c.reconnectDelay, rc)
	c.log.WithFields(logrus.Fields{
		"attempt": c.reconnectAttempts,
		"delay":   delay,
	}).Info("Scheduling Home Assistant reconnect")
	c.reconnectTimer = time.AfterFunc(delay, c.connect)
}

// nextReconnectDelay grows the delay by the backoff factor, capped at the
// configured maximum. Factors below 1 count as 1.
func nextReconnectDelay(current time.Duration, rc config.ReconnectConfig) time.Duration {
	factor := rc.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	next := time.Duration(float64(current) * factor)
	max := time.Duration(rc.DurationMaxMS) * time.Millisecond
	if max > 0 && next > max {
		next = max
	}
	return next
}

// resetReconnectLocked restores the initial backoff after a successful
// connection. Caller holds c.mu.
func (c *Controller) resetReconnectLocked() {
	c.reconnectAttempts = 0
	c.reconnectDelay = time.Duration(c.cfg.HomeAssistant.Reconnect.DurationMS) * time.Millisecond
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// ConnectionEvent implements hass.EventHandler.
func (c *Controller) ConnectionEvent(clientID string, state hass.ConnectionState) {
	c.mu.Lock()

	// Events from a replaced client are stale.
	if c.client != nil && c.client.ID() != clientID {
		c.mu.Unlock()
		return
	}

	switch state {
	case hass.ConnectionEstablished:
		c.resetReconnectLocked()
		c.setDeviceStateLocked(api.DeviceConnected)
		c.mu.Unlock()

	case hass.ConnectionAuthFailed:
		c.setDeviceStateLocked(api.DeviceError)
		c.mu.Unlock()

	case hass.ConnectionClosed:
		c.lastClosedID = clientID
		c.client = nil
		reconnect := c.deviceState == api.DeviceConnecting || c.deviceState == api.DeviceConnected
		if reconnect {
			c.setDeviceStateLocked(api.DeviceConnecting)
		}
		c.mu.Unlock()
		if reconnect {
			c.scheduleReconnect()
		}

	default:
		c.mu.Unlock()
	}
}

// EntityChange implements hass.EventHandler: fan a translated state change
// out to the subscribed remote sessions.
func (c *Controller) EntityChange(change api.EntityChange) {
	c.mu.Lock()
	c.broadcastLocked(api.NewEntityChangeEvent(change), change.EntityID)
	c.mu.Unlock()
}

// AvailableEntities implements hass.EventHandler: the asynchronous reply to
// a get_available_entities request.
func (c *Controller) AvailableEntities(req hass.StatesRequest, entities []api.AvailableEntity) {
	c.mu.Lock()
	sess := c.sessions[req.RemoteID]
	c.mu.Unlock()
	if sess == nil {
		return
	}
	sess.sink.SendMessage(api.NewResponse(req.ReqID, api.MsgAvailableEntities, 200,
		map[string]interface{}{"available_entities": entities}))
}

// EntityStates implements hass.EventHandler: the asynchronous reply to a
// get_entity_states request.
func (c *Controller) EntityStates(req hass.StatesRequest, states []api.EntityChange) {
	c.mu.Lock()
	sess := c.sessions[req.RemoteID]
	c.mu.Unlock()
	if sess == nil {
		return
	}
	sess.sink.SendMessage(api.NewResponse(req.ReqID, api.MsgEntityStates, 200, states))
}

// AssistantEvent implements hass.EventHandler: deliver a voice pipeline
// event to the remote that owns the session.
func (c *Controller) AssistantEvent(event api.AssistantEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sess := range c.sessions {
		if sess.voiceSessionID != event.SessionID {
			continue
		}
		if sess.standby {
			return
		}
		sess.sink.SendMessage(api.NewAssistantEvent(event))
		return
	}
}
