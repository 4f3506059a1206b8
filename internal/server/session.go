package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
	"github.com/frostdev-ops/uc-bridge-go/internal/controller"
	"github.com/frostdev-ops/uc-bridge-go/pkg/errors"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Ping period for remote sessions
	pingInterval = 5 * time.Second

	// Close the session when no inbound activity is seen for this long
	idleTimeout = 10 * time.Second

	// Maximum inbound frame size; audio chunks are 4 KiB
	maxMessageSize = 256 * 1024

	sendQueueSize = 64
)

// Session adapts one remote WebSocket connection to the controller. It
// implements controller.MessageSink.
type Session struct {
	id   string
	conn *websocket.Conn
	ctrl *controller.Controller
	log  *logrus.Logger

	send chan api.WsMessage

	mu           sync.Mutex
	lastActivity time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, ctrl *controller.Controller, log *logrus.Logger) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		ctrl:         ctrl,
		log:          log,
		send:         make(chan api.WsMessage, sendQueueSize),
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}
}

// run drives the session until the connection drops.
func (s *Session) run() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	// The remote expects an authentication handshake before anything else.
	reqID := uint32(0)
	code := 200
	s.SendMessage(api.WsMessage{
		Kind:  api.KindResponse,
		ReqID: &reqID,
		Msg:   api.MsgAuthentication,
		Code:  &code,
	})

	s.ctrl.NewSession(s.id, s)
	go s.writePump()
	s.readPump()
	s.teardown()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity) > idleTimeout
}

// SendMessage queues an outbound frame. A slow session drops frames instead
// of blocking the controller.
func (s *Session) SendMessage(msg api.WsMessage) {
	select {
	case s.send <- msg:
	default:
		s.log.WithField("session_id", s.id).Warn("Send queue full, dropping message")
	}
}

// Close sends a close frame and tears the session down.
func (s *Session) Close(code int, reason string) {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	time.AfterFunc(100*time.Millisecond, func() {
		s.conn.Close()
	})
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.ctrl.SessionDisconnect(s.id)
	})
}

func (s *Session) readPump() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).WithField("session_id", s.id).
					Debug("Remote session read error")
			}
			return
		}
		s.touch()

		switch msgType {
		case websocket.TextMessage:
			s.handleText(data)
		case websocket.BinaryMessage:
			// Audio uplink for the active voice session.
			s.ctrl.R2AudioChunk(s.id, data)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if s.idle() {
				s.log.WithField("session_id", s.id).Info("Remote session timed out")
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleText parses one frame and routes it by kind.
func (s *Session) handleText(data []byte) {
	var msg api.WsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.WithError(err).WithField("session_id", s.id).
			Warn("Malformed frame from remote")
		s.Close(websocket.CloseUnsupportedData, "invalid json")
		return
	}

	switch msg.Kind {
	case api.KindRequest:
		if msg.Msg == "" || msg.ID == 0 {
			s.SendMessage(api.NewErrorResponse(msg.ID, 400, "BAD_REQUEST", "missing id or msg"))
			return
		}
		resp, err := s.ctrl.R2Request(s.id, msg.ID, msg.Msg, msg.MsgData)
		if err != nil {
			s.SendMessage(errorResponse(msg.ID, err))
			return
		}
		if resp != nil {
			s.SendMessage(*resp)
		}

	case api.KindEvent:
		if msg.Msg == "" {
			s.SendMessage(api.NewErrorResponse(0, 400, "BAD_REQUEST", "missing msg"))
			return
		}
		s.ctrl.R2Event(s.id, msg.Msg, msg.MsgData)

	case api.KindResponse:
		s.log.WithFields(logrus.Fields{
			"session_id": s.id,
			"msg":        msg.Msg,
		}).Debug("Response from remote")

	default:
		s.SendMessage(api.NewErrorResponse(msg.ID, 400, "BAD_REQUEST", "missing kind"))
	}
}

// errorResponse maps a controller error to the remote's error response shape.
func errorResponse(reqID uint32, err error) api.WsMessage {
	message := err.Error()
	if svcErr, ok := err.(*errors.ServiceError); ok {
		message = svcErr.Message
	}
	return api.NewErrorResponse(reqID, errors.GetStatusCode(err), errors.GetKey(err), message)
}
