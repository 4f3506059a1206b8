package hass

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
	"github.com/frostdev-ops/uc-bridge-go/internal/config"
	"github.com/frostdev-ops/uc-bridge-go/internal/metrics"
	"github.com/frostdev-ops/uc-bridge-go/pkg/errors"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Deadline for responses delivered through the pending table
	resultTimeout = 5 * time.Second

	// Grace period between sending a Close frame and dropping the socket
	closeGrace = 100 * time.Millisecond
)

// EventHandler receives the client's asynchronous output. Implemented by the
// controller.
type EventHandler interface {
	ConnectionEvent(clientID string, state ConnectionState)
	EntityChange(change api.EntityChange)
	AvailableEntities(req StatesRequest, entities []api.AvailableEntity)
	EntityStates(req StatesRequest, states []api.EntityChange)
	AssistantEvent(event api.AssistantEvent)
}

type pendingKind int

const (
	pendingGeneric pendingKind = iota
	pendingSubscribe
	pendingGetStates
	pendingAssistRun
	pendingListPipelines
)

// pendingRequest tracks one outbound request awaiting a result frame. Every
// entry is removed on exactly one path: result arrival, deadline expiry, or
// connection teardown.
type pendingRequest struct {
	kind     pendingKind
	states   *StatesRequest
	ch       chan serverMessage
	deadline time.Time
}

// Client owns one WebSocket conversation with a Home Assistant server.
type Client struct {
	id        string
	serverURL *url.URL
	token     string
	cfg       config.HomeAssistantConfig
	heartbeat config.HeartbeatConfig
	handler   EventHandler
	log       *logrus.Logger
	conn      *websocket.Conn

	// writeMu serializes all frame writes.
	writeMu sync.Mutex

	mu          sync.Mutex
	msgID       uint32
	pending     map[uint32]*pendingRequest
	subscribed  bool
	subscribeID uint32
	assist      map[uint32]*assistSession
	lastMsg     time.Time
	closed      bool

	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials the configured Home Assistant server and starts the read and
// heartbeat loops. Authentication and event subscription complete
// asynchronously; the handler receives ConnectionEstablished when the client
// is ready, ConnectionAuthFailed or ConnectionClosed otherwise.
func Connect(cfg config.HomeAssistantConfig, handler EventHandler, log *logrus.Logger) (*Client, error) {
	serverURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.BadRequest("invalid home assistant url: %v", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectionTimeoutDuration(),
	}
	conn, _, err := dialer.Dial(cfg.URL, nil)
	if err != nil {
		return nil, errors.ServiceUnavailable("failed to connect to %s: %v", serverURL.Host, err)
	}

	client := &Client{
		id:        uuid.New().String(),
		serverURL: serverURL,
		token:     cfg.Token,
		cfg:       cfg,
		heartbeat: cfg.Heartbeat.Normalized(),
		handler:   handler,
		log:       log,
		conn:      conn,
		msgID:     1,
		pending:   make(map[uint32]*pendingRequest),
		assist:    make(map[uint32]*assistSession),
		lastMsg:   time.Now(),
		done:      make(chan struct{}),
	}

	if cfg.MaxFrameSizeKB > 0 {
		conn.SetReadLimit(int64(cfg.MaxFrameSizeKB) * 1024)
	}
	conn.SetPingHandler(func(appData string) error {
		client.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	conn.SetPongHandler(func(string) error {
		client.touch()
		return nil
	})

	log.WithFields(logrus.Fields{
		"client_id": client.id,
		"server":    serverURL.Host,
	}).Info("Connecting to Home Assistant")

	go client.readLoop()
	go client.heartbeatLoop()

	return client, nil
}

// ID returns the client identifier used in connection events.
func (c *Client) ID() string {
	return c.id
}

// Subscribed reports whether the state_changed subscription is active.
func (c *Client) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastMsg = time.Now()
	c.mu.Unlock()
}

// nextPending allocates a message id and inserts a pending entry for it.
// Returns an error when the connection is already torn down.
func (c *Client) nextPending(kind pendingKind, states *StatesRequest) (uint32, *pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, errors.NotConnected()
	}
	id := c.msgID
	c.msgID++
	p := &pendingRequest{
		kind:     kind,
		states:   states,
		ch:       make(chan serverMessage, 1),
		deadline: time.Now().Add(resultTimeout),
	}
	c.pending[id] = p
	return id, p, nil
}

func (c *Client) removePending(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// send writes one JSON frame. All writers go through here.
func (c *Client) send(obj interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(obj); err != nil {
		return errors.ServiceUnavailable("write to home assistant failed: %v", err)
	}
	return nil
}

func (c *Client) sendBinary(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errors.ServiceUnavailable("write to home assistant failed: %v", err)
	}
	return nil
}

// sendRequest inserts a pending entry, then writes the frame. The entry is
// removed again when the write fails.
func (c *Client) sendRequest(kind pendingKind, states *StatesRequest, build func(id uint32) interface{}) (uint32, *pendingRequest, error) {
	id, p, err := c.nextPending(kind, states)
	if err != nil {
		return 0, nil, err
	}
	if err := c.send(build(id)); err != nil {
		c.removePending(id)
		return 0, nil, err
	}
	return id, p, nil
}

// awaitResult blocks until the pending entry resolves, its deadline passes,
// or the connection closes. Timeouts and closure surface uniformly as
// service-unavailable.
func (c *Client) awaitResult(id uint32, p *pendingRequest) (serverMessage, error) {
	select {
	case msg, ok := <-p.ch:
		if !ok {
			return serverMessage{}, errors.ServiceUnavailable("home assistant connection lost")
		}
		return msg, nil
	case <-time.After(time.Until(p.deadline)):
		c.removePending(id)
		return serverMessage{}, errors.ServiceUnavailable("no response from home assistant")
	case <-c.done:
		return serverMessage{}, errors.ServiceUnavailable("home assistant connection lost")
	}
}

// GetStates requests the full entity list. The translated reply is delivered
// asynchronously through AvailableEntities or EntityStates, tagged with req.
func (c *Client) GetStates(req StatesRequest) error {
	_, _, err := c.sendRequest(pendingGetStates, &req, func(id uint32) interface{} {
		return map[string]interface{}{"id": id, "type": "get_states"}
	})
	return err
}

// CallService translates an entity command and sends the service call. The
// acknowledgement to the remote is sent once the frame is written; Home
// Assistant's own result only feeds logging.
func (c *Client) CallService(cmd api.EntityCommand) error {
	call, err := mapEntityCommand(cmd)
	if err != nil {
		return err
	}

	id, p, err := c.sendRequest(pendingGeneric, nil, func(id uint32) interface{} {
		msg := map[string]interface{}{
			"id":      id,
			"type":    "call_service",
			"domain":  call.Domain,
			"service": call.Service,
			"target":  map[string]interface{}{"entity_id": cmd.EntityID},
		}
		if call.ServiceData != nil {
			msg["service_data"] = call.ServiceData
		}
		return msg
	})
	if err != nil {
		return err
	}
	metrics.ServiceCalls.WithLabelValues(call.Domain, call.Service).Inc()

	go func() {
		msg, err := c.awaitResult(id, p)
		if err != nil {
			c.log.WithError(err).WithField("service", call.Service).
				Debug("No result for service call")
			return
		}
		if msg.Success != nil && !*msg.Success {
			entry := c.log.WithField("service", call.Service)
			if msg.Error != nil {
				entry = entry.WithField("ha_error", msg.Error.Message)
			}
			entry.Warn("Service call rejected by Home Assistant")
		}
	}()
	return nil
}

// Close sends a Close frame and hard-closes the socket shortly after in case
// the peer never answers with its own Close.
func (c *Client) Close(code int, reason string) {
	c.writeMu.Lock()
	deadline := time.Now().Add(writeWait)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	c.writeMu.Unlock()

	time.AfterFunc(closeGrace, func() {
		c.conn.Close()
	})
}

func (c *Client) readLoop() {
	defer c.teardown()
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).WithField("client_id", c.id).
					Warn("Home Assistant connection error")
			}
			return
		}
		c.touch()

		switch msgType {
		case websocket.TextMessage:
			c.dispatch(data)
		case websocket.BinaryMessage:
			c.log.WithField("client_id", c.id).Warn("Unexpected binary frame from Home Assistant")
			c.Close(websocket.CloseUnsupportedData, "binary frames not accepted")
			return
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.WithError(err).WithField("client_id", c.id).
			Warn("Invalid JSON from Home Assistant")
		c.Close(websocket.CloseInvalidFramePayloadData, "invalid json")
		return
	}

	switch msg.Type {
	case msgTypeAuthRequired:
		if err := c.send(map[string]interface{}{
			"type":         "auth",
			"access_token": c.token,
		}); err != nil {
			c.log.WithError(err).Error("Failed to send authentication")
		}

	case msgTypeAuthOK:
		c.log.WithFields(logrus.Fields{
			"client_id":  c.id,
			"ha_version": msg.HAVersion,
		}).Info("Authenticated with Home Assistant")
		c.subscribeEvents()

	case msgTypeAuthInvalid:
		c.log.WithField("client_id", c.id).
			Errorf("Home Assistant rejected the access token: %s", msg.Message)
		c.handler.ConnectionEvent(c.id, ConnectionAuthFailed)
		c.Close(websocket.CloseNormalClosure, "authentication failed")

	case msgTypeResult:
		c.handleResult(&msg)

	case msgTypeEvent:
		c.handleEvent(&msg)

	case msgTypePong:
		// liveness already recorded

	default:
		c.log.WithField("type", msg.Type).Debug("Ignoring Home Assistant message")
	}
}

func (c *Client) subscribeEvents() {
	_, _, err := c.sendRequest(pendingSubscribe, nil, func(id uint32) interface{} {
		return map[string]interface{}{
			"id":         id,
			"type":       "subscribe_events",
			"event_type": "state_changed",
		}
	})
	if err != nil {
		c.log.WithError(err).Error("Failed to subscribe to state changes")
	}
}

func (c *Client) handleResult(msg *serverMessage) {
	c.mu.Lock()
	p, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.log.WithField("id", msg.ID).Debug("Result for unknown request")
		return
	}

	success := msg.Success != nil && *msg.Success

	switch p.kind {
	case pendingSubscribe:
		if !success {
			c.log.WithField("client_id", c.id).Error("Event subscription rejected")
			c.Close(websocket.CloseInvalidFramePayloadData, "subscribe_events failed")
			return
		}
		c.mu.Lock()
		c.subscribed = true
		c.subscribeID = msg.ID
		c.mu.Unlock()
		c.log.WithField("client_id", c.id).Info("Subscribed to state changes")
		c.handler.ConnectionEvent(c.id, ConnectionEstablished)

	case pendingGetStates:
		if !success {
			c.log.WithField("client_id", c.id).Error("get_states rejected")
			c.Close(websocket.CloseInvalidFramePayloadData, "get_states failed")
			return
		}
		c.deliverStates(p.states, msg.Result)

	default:
		select {
		case p.ch <- *msg:
		default:
		}
	}
}

// deliverStates parses a get_states result and hands the translated entities
// to the handler in the shape the originating remote request expects.
func (c *Client) deliverStates(req *StatesRequest, result json.RawMessage) {
	var states []entityState
	if err := json.Unmarshal(result, &states); err != nil {
		c.log.WithError(err).Error("Invalid get_states result")
		return
	}

	if req.StatesOnly {
		changes := make([]api.EntityChange, 0, len(states))
		for i := range states {
			if len(req.EntityIDs) > 0 {
				if _, wanted := req.EntityIDs[states[i].EntityID]; !wanted {
					continue
				}
			}
			change, err := mapEntityEvent(c.serverURL, &states[i])
			if err != nil || change == nil {
				continue
			}
			changes = append(changes, *change)
		}
		c.handler.EntityStates(*req, changes)
		return
	}

	entities := mapAvailableEntities(c.serverURL, states, c.log)
	c.handler.AvailableEntities(*req, entities)
}

func (c *Client) handleEvent(msg *serverMessage) {
	c.mu.Lock()
	subscribed := c.subscribed
	subscribeID := c.subscribeID
	sess := c.assist[msg.ID]
	c.mu.Unlock()

	if sess != nil {
		c.handleAssistEvent(sess, msg.Event)
		return
	}
	if !subscribed || msg.ID != subscribeID {
		c.log.WithField("id", msg.ID).Debug("Event for unknown subscription")
		return
	}

	var event stateChangedEvent
	if err := json.Unmarshal(msg.Event, &event); err != nil {
		c.log.WithError(err).Warn("Invalid state_changed event")
		return
	}
	if event.EventType != "state_changed" || event.Data.NewState == nil {
		return
	}

	change, err := mapEntityEvent(c.serverURL, event.Data.NewState)
	if err != nil {
		c.log.WithError(err).WithField("entity_id", event.Data.EntityID).
			Debug("Failed to translate state change")
		return
	}
	if change == nil {
		return
	}
	metrics.EntityEventsForwarded.Inc()
	c.handler.EntityChange(*change)
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat.IntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := time.Since(c.lastMsg) > c.heartbeat.TimeoutDuration()
			c.mu.Unlock()
			if stale {
				c.log.WithField("client_id", c.id).Warn("Heartbeat timeout, closing connection")
				c.conn.Close()
				return
			}
			c.expirePending()

			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.log.WithError(err).Debug("Heartbeat ping failed")
				c.conn.Close()
				return
			}
		}
	}
}

// expirePending drops pending entries whose deadline passed without a result.
// Entries with an active waiter resolve through the closed channel.
func (c *Client) expirePending() {
	now := time.Now()
	c.mu.Lock()
	var expired []*pendingRequest
	for id, p := range c.pending {
		if now.After(p.deadline) {
			delete(c.pending, id)
			expired = append(expired, p)
		}
	}
	c.mu.Unlock()
	for _, p := range expired {
		close(p.ch)
	}
}

// teardown resolves every outstanding request and reports the closed
// connection exactly once.
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		c.closed = true
		c.subscribed = false
		pending := c.pending
		c.pending = make(map[uint32]*pendingRequest)
		c.assist = make(map[uint32]*assistSession)
		c.mu.Unlock()

		for _, p := range pending {
			close(p.ch)
		}
		c.conn.Close()

		c.log.WithField("client_id", c.id).Info("Home Assistant connection closed")
		c.handler.ConnectionEvent(c.id, ConnectionClosed)
	})
}
