package controller

import (
	"encoding/json"
	"strings"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
	"github.com/frostdev-ops/uc-bridge-go/internal/hass"
	"github.com/frostdev-ops/uc-bridge-go/pkg/errors"
)

// R2Request handles one request from a remote session. A non-nil response is
// written back by the caller; nil with nil error means the reply is sent
// asynchronously (or as an event). Errors map to error responses.
func (c *Controller) R2Request(sessionID string, reqID uint32, msg string, data json.RawMessage) (*api.WsMessage, error) {
	switch msg {
	case api.MsgGetDriverVersion:
		return c.driverVersionResponse(reqID), nil

	case api.MsgGetDriverMetadata:
		resp := api.NewResponse(reqID, api.MsgDriverMetadata, 200, c.driverMetadata())
		return &resp, nil

	case api.MsgGetDeviceState:
		c.mu.Lock()
		sess := c.sessions[sessionID]
		state := c.deviceState
		c.mu.Unlock()
		if sess != nil {
			sess.sink.SendMessage(api.NewDeviceStateEvent(state))
		}
		return nil, nil

	case api.MsgSetupDriver:
		return c.handleSetupDriver(sessionID, reqID, data)

	case api.MsgSetDriverUserData:
		return c.handleSetDriverUserData(sessionID, reqID, data)

	case api.MsgSubscribeEvents:
		return c.handleSubscribeEvents(sessionID, reqID, data, true)

	case api.MsgUnsubscribeEvents:
		return c.handleSubscribeEvents(sessionID, reqID, data, false)

	case api.MsgGetAvailableEntities:
		return c.handleGetStates(sessionID, reqID, hass.StatesRequest{
			RemoteID: sessionID,
			ReqID:    reqID,
		})

	case api.MsgGetEntityStates:
		var payload api.GetEntityStates
		if len(data) > 0 {
			if err := json.Unmarshal(data, &payload); err != nil {
				return nil, errors.BadRequest("invalid get_entity_states payload: %v", err)
			}
		}
		req := hass.StatesRequest{
			RemoteID:   sessionID,
			ReqID:      reqID,
			StatesOnly: true,
		}
		if len(payload.EntityIDs) > 0 {
			req.EntityIDs = make(map[string]struct{}, len(payload.EntityIDs))
			for _, id := range payload.EntityIDs {
				req.EntityIDs[id] = struct{}{}
			}
		}
		return c.handleGetStates(sessionID, reqID, req)

	case api.MsgEntityCommand:
		return c.handleEntityCommand(sessionID, reqID, data)

	default:
		return nil, errors.BadRequest("unknown request: %s", msg)
	}
}

func (c *Controller) driverVersionResponse(reqID uint32) *api.WsMessage {
	var version api.DriverVersion
	version.Name = c.cfg.Integration.Name
	version.Version.API = integrationAPIVersion
	version.Version.Driver = c.cfg.Integration.Version
	resp := api.NewResponse(reqID, api.MsgDriverVersion, 200, version)
	return &resp
}

func (c *Controller) driverMetadata() api.DriverMetadata {
	meta := api.DriverMetadata{
		DriverID: c.cfg.Integration.DriverID,
		Name:     api.EntityName(c.cfg.Integration.Name),
		Version:  c.cfg.Integration.Version,
		Icon:     c.cfg.Integration.Icon,
	}
	if c.cfg.Integration.Developer != "" {
		meta.Developer = &api.DriverDeveloper{
			Name: c.cfg.Integration.Developer,
			URL:  c.cfg.Integration.DeveloperURL,
		}
	}
	page := setupPage(c.cfg.HomeAssistant.URL)
	meta.SetupSchema = &page
	return meta
}

// requireRunningLocked feeds a running-mode request into the operation mode
// machine. Caller holds c.mu.
func (c *Controller) requireRunningLocked() error {
	if err := c.machine.handle(inputR2Request); err != nil {
		return errors.ServiceUnavailable("Setup required")
	}
	return nil
}

func (c *Controller) handleSubscribeEvents(sessionID string, reqID uint32, data json.RawMessage, subscribe bool) (*api.WsMessage, error) {
	c.mu.Lock()
	if err := c.requireRunningLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	sess := c.sessions[sessionID]
	if sess == nil {
		c.mu.Unlock()
		return nil, errors.NotFound("no session %s", sessionID)
	}

	var payload api.SubscribeEvents
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			c.mu.Unlock()
			return nil, errors.BadRequest("invalid subscription payload: %v", err)
		}
	}
	for _, id := range payload.EntityIDs {
		if subscribe {
			sess.subscribed[id] = struct{}{}
		} else {
			delete(sess.subscribed, id)
		}
	}
	c.mu.Unlock()

	resp := api.NewResultResponse(reqID, 200)
	return &resp, nil
}

// handleGetStates forwards a get_states request to Home Assistant. The reply
// arrives asynchronously through AvailableEntities or EntityStates.
func (c *Controller) handleGetStates(sessionID string, reqID uint32, req hass.StatesRequest) (*api.WsMessage, error) {
	c.mu.Lock()
	if err := c.requireRunningLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return nil, errors.NotConnected()
	}
	if err := client.GetStates(req); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Controller) handleEntityCommand(sessionID string, reqID uint32, data json.RawMessage) (*api.WsMessage, error) {
	var cmd api.EntityCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, errors.BadRequest("invalid entity_command payload: %v", err)
	}
	if cmd.EntityID == "" || cmd.CmdID == "" {
		return nil, errors.BadRequest("entity_command requires entity_id and cmd_id")
	}

	c.mu.Lock()
	if err := c.requireRunningLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return nil, errors.NotConnected()
	}

	if strings.HasPrefix(cmd.CmdID, "voice_") {
		return c.handleVoiceCommand(sessionID, reqID, client, cmd)
	}

	if err := client.CallService(cmd); err != nil {
		return nil, err
	}
	resp := api.NewResponse(reqID, api.MsgResult, 200, map[string]string{
		"code":    "OK",
		"message": "Service call sent",
	})
	return &resp, nil
}

// handleVoiceCommand drives the assist pipeline from entity commands.
func (c *Controller) handleVoiceCommand(sessionID string, reqID uint32, client haClient, cmd api.EntityCommand) (*api.WsMessage, error) {
	switch cmd.CmdID {
	case "voice_start":
		start, err := parseVoiceStart(cmd)
		if err != nil {
			return nil, err
		}
		// Blocks up to the result deadline; the controller lock is not held.
		if err := client.RunAssistPipeline(start); err != nil {
			return nil, err
		}
		c.mu.Lock()
		if sess := c.sessions[sessionID]; sess != nil {
			sess.voiceSessionID = start.SessionID
		}
		c.mu.Unlock()

	case "voice_stop":
		c.mu.Lock()
		sess := c.sessions[sessionID]
		var voiceID uint32
		if sess != nil {
			voiceID = sess.voiceSessionID
		}
		c.mu.Unlock()
		if voiceID == 0 {
			return nil, errors.NotFound("no active voice session")
		}
		if err := client.StopAudio(voiceID); err != nil {
			return nil, err
		}

	default:
		return nil, errors.BadRequest("unsupported voice command: %s", cmd.CmdID)
	}

	resp := api.NewResultResponse(reqID, 200)
	return &resp, nil
}

// parseVoiceStart extracts the assist run parameters from a voice_start
// command.
func parseVoiceStart(cmd api.EntityCommand) (hass.AssistStart, error) {
	start := hass.AssistStart{
		EntityID:   cmd.EntityID,
		SampleRate: 16000,
	}

	sessionID, ok := cmd.Params["session_id"].(float64)
	if !ok || sessionID <= 0 {
		return start, errors.BadRequest("voice_start requires session_id")
	}
	start.SessionID = uint32(sessionID)

	if audioCfg, ok := cmd.Params["audio_cfg"].(map[string]interface{}); ok {
		if rate, ok := audioCfg["sample_rate"].(float64); ok {
			start.SampleRate = int(rate)
		}
	}
	if speech, ok := cmd.Params["speech_response"].(bool); ok {
		start.SpeechResponse = speech
	}
	if timeout, ok := cmd.Params["timeout"].(float64); ok {
		start.Timeout = int(timeout)
	}
	if pipeline, ok := cmd.Params["pipeline"].(string); ok {
		start.Pipeline = pipeline
	}
	return start, nil
}

// R2AudioChunk forwards a binary audio frame from a remote session to its
// active voice session. Frames without a voice session are dropped.
func (c *Controller) R2AudioChunk(sessionID string, chunk []byte) {
	c.mu.Lock()
	sess := c.sessions[sessionID]
	client := c.client
	var voiceID uint32
	if sess != nil {
		voiceID = sess.voiceSessionID
	}
	c.mu.Unlock()

	if client == nil || voiceID == 0 {
		c.log.WithField("session_id", sessionID).
			Debug("Dropping audio chunk without active voice session")
		return
	}
	if err := client.SendAudioChunk(voiceID, chunk); err != nil {
		c.log.WithError(err).Debug("Failed to forward audio chunk")
	}
}
