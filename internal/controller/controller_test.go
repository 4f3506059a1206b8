package controller

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
	"github.com/frostdev-ops/uc-bridge-go/internal/config"
	"github.com/frostdev-ops/uc-bridge-go/internal/hass"
	"github.com/frostdev-ops/uc-bridge-go/pkg/errors"
)

// fakeSink records outbound session messages.
type fakeSink struct {
	mu     sync.Mutex
	msgs   []api.WsMessage
	closed bool
}

func (s *fakeSink) SendMessage(msg api.WsMessage) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *fakeSink) Close(code int, reason string) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSink) messages() []api.WsMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.WsMessage(nil), s.msgs...)
}

func (s *fakeSink) last(t *testing.T) api.WsMessage {
	t.Helper()
	msgs := s.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

// fakeHAClient satisfies haClient for tests that need a connected client
// without a Home Assistant server.
type fakeHAClient struct {
	id string

	mu       sync.Mutex
	closed   bool
	services []api.EntityCommand
}

func (f *fakeHAClient) ID() string { return f.id }

func (f *fakeHAClient) Close(code int, reason string) {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeHAClient) GetStates(req hass.StatesRequest) error { return nil }

func (f *fakeHAClient) CallService(cmd api.EntityCommand) error {
	f.mu.Lock()
	f.services = append(f.services, cmd)
	f.mu.Unlock()
	return nil
}

func (f *fakeHAClient) RunAssistPipeline(start hass.AssistStart) error { return nil }

func (f *fakeHAClient) SendAudioChunk(sessionID uint32, chunk []byte) error { return nil }

func (f *fakeHAClient) StopAudio(sessionID uint32) error { return nil }

func testConfig(configured bool) *config.Config {
	cfg := &config.Config{
		Integration: config.IntegrationConfig{
			DriverID: "hass",
			Name:     "Home Assistant Bridge",
			Version:  "0.1.0",
		},
	}
	cfg.HomeAssistant.Reconnect = config.ReconnectConfig{
		DurationMS:    1000,
		DurationMaxMS: 30000,
		BackoffFactor: 2,
	}
	if configured {
		cfg.HomeAssistant.URL = "ws://ha.local:8123/api/websocket"
		cfg.HomeAssistant.Token = "token"
	}
	return cfg
}

func newTestController(configured bool) *Controller {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(testConfig(configured), log)
}

func TestNewSessionReportsDeviceState(t *testing.T) {
	c := newTestController(true)
	sink := &fakeSink{}

	c.NewSession("r1", sink)

	msg := sink.last(t)
	assert.Equal(t, api.KindEvent, msg.Kind)
	assert.Equal(t, api.MsgDeviceState, msg.Msg)
	assert.Equal(t, api.CategoryDevice, msg.Cat)

	var data map[string]api.DeviceState
	require.NoError(t, json.Unmarshal(msg.MsgData, &data))
	assert.Equal(t, api.DeviceDisconnected, data["state"])
}

func TestSessionDisconnect(t *testing.T) {
	c := newTestController(true)
	c.NewSession("r1", &fakeSink{})
	c.SessionDisconnect("r1")

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.sessions)
}

func TestEntityChangeBroadcastFilters(t *testing.T) {
	c := newTestController(true)
	subscribed := &fakeSink{}
	other := &fakeSink{}
	asleep := &fakeSink{}
	c.NewSession("sub", subscribed)
	c.NewSession("other", other)
	c.NewSession("asleep", asleep)

	c.mu.Lock()
	c.sessions["sub"].subscribed["light.kitchen"] = struct{}{}
	c.sessions["asleep"].subscribed["light.kitchen"] = struct{}{}
	c.sessions["asleep"].standby = true
	c.mu.Unlock()

	c.EntityChange(api.EntityChange{
		EntityType: api.EntityLight,
		EntityID:   "light.kitchen",
		Attributes: map[string]interface{}{"state": "ON"},
	})

	// one device_state on connect, plus the change for the subscriber only
	assert.Len(t, subscribed.messages(), 2)
	assert.Len(t, other.messages(), 1)
	assert.Len(t, asleep.messages(), 1)

	msg := subscribed.last(t)
	assert.Equal(t, api.MsgEntityChange, msg.Msg)
	assert.Equal(t, api.CategoryEntity, msg.Cat)
}

func TestAuthFailureSetsErrorState(t *testing.T) {
	c := newTestController(true)
	sink := &fakeSink{}
	c.NewSession("r1", sink)

	c.ConnectionEvent("some-client", hass.ConnectionAuthFailed)

	c.mu.Lock()
	assert.Equal(t, api.DeviceError, c.deviceState)
	c.mu.Unlock()

	var data map[string]api.DeviceState
	require.NoError(t, json.Unmarshal(sink.last(t).MsgData, &data))
	assert.Equal(t, api.DeviceError, data["state"])
}

func TestNoReconnectAfterAuthFailure(t *testing.T) {
	c := newTestController(true)
	c.ConnectionEvent("some-client", hass.ConnectionAuthFailed)
	c.ConnectionEvent("some-client", hass.ConnectionClosed)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, api.DeviceError, c.deviceState)
	assert.Nil(t, c.reconnectTimer)
}

func TestNoReconnectAfterExplicitDisconnect(t *testing.T) {
	c := newTestController(true)
	c.closeClient()
	c.scheduleReconnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, api.DeviceDisconnected, c.deviceState)
	assert.Nil(t, c.reconnectTimer)
	assert.Zero(t, c.reconnectAttempts)
}

func TestNextReconnectDelay(t *testing.T) {
	rc := config.ReconnectConfig{DurationMaxMS: 30000, BackoffFactor: 2}

	assert.Equal(t, 2*time.Second, nextReconnectDelay(time.Second, rc))
	assert.Equal(t, 30*time.Second, nextReconnectDelay(20*time.Second, rc))
	assert.Equal(t, 30*time.Second, nextReconnectDelay(40*time.Second, rc))

	// factors below 1 never shrink the delay
	rc.BackoffFactor = 0.5
	assert.Equal(t, 4*time.Second, nextReconnectDelay(4*time.Second, rc))
}

func TestReconnectAttemptsExhausted(t *testing.T) {
	c := newTestController(true)
	c.cfg.HomeAssistant.Reconnect.Attempts = 2
	c.cfg.HomeAssistant.Reconnect.DurationMS = 60000
	c.reconnectDelay = 60 * time.Second

	c.mu.Lock()
	c.deviceState = api.DeviceConnecting
	c.mu.Unlock()

	c.scheduleReconnect()
	c.mu.Lock()
	assert.Equal(t, api.DeviceConnecting, c.deviceState)
	assert.Equal(t, 1, c.reconnectAttempts)
	c.mu.Unlock()

	c.scheduleReconnect()
	c.mu.Lock()
	assert.Equal(t, api.DeviceError, c.deviceState)
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.mu.Unlock()

	c.Stop()
}

func TestEstablishedResetsBackoff(t *testing.T) {
	c := newTestController(true)
	c.mu.Lock()
	c.deviceState = api.DeviceConnecting
	c.reconnectAttempts = 3
	c.reconnectDelay = 8 * time.Second
	c.mu.Unlock()

	c.ConnectionEvent("some-client", hass.ConnectionEstablished)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, api.DeviceConnected, c.deviceState)
	assert.Zero(t, c.reconnectAttempts)
	assert.Equal(t, time.Second, c.reconnectDelay)
}

func TestAvailableEntitiesRouting(t *testing.T) {
	c := newTestController(true)
	target := &fakeSink{}
	other := &fakeSink{}
	c.NewSession("target", target)
	c.NewSession("other", other)

	c.AvailableEntities(hass.StatesRequest{RemoteID: "target", ReqID: 42},
		[]api.AvailableEntity{{EntityID: "light.kitchen", EntityType: api.EntityLight}})

	msg := target.last(t)
	assert.Equal(t, api.KindResponse, msg.Kind)
	assert.Equal(t, api.MsgAvailableEntities, msg.Msg)
	require.NotNil(t, msg.ReqID)
	assert.Equal(t, uint32(42), *msg.ReqID)
	assert.Len(t, other.messages(), 1)

	// replies for unknown sessions are dropped
	c.EntityStates(hass.StatesRequest{RemoteID: "gone", ReqID: 1}, nil)
}

func TestAssistantEventRouting(t *testing.T) {
	c := newTestController(true)
	voice := &fakeSink{}
	other := &fakeSink{}
	c.NewSession("voice", voice)
	c.NewSession("other", other)

	c.mu.Lock()
	c.sessions["voice"].voiceSessionID = 7
	c.mu.Unlock()

	c.AssistantEvent(api.AssistantEvent{EventType: api.AssistantReady, SessionID: 7})

	msg := voice.last(t)
	assert.Equal(t, api.MsgAssistantEvent, msg.Msg)
	assert.Len(t, other.messages(), 1)

	// standby drops assistant events too
	c.mu.Lock()
	c.sessions["voice"].standby = true
	c.mu.Unlock()
	c.AssistantEvent(api.AssistantEvent{EventType: api.AssistantFinished, SessionID: 7})
	assert.Len(t, voice.messages(), 2)
}

func TestDriverVersionRequest(t *testing.T) {
	c := newTestController(true)
	c.NewSession("r1", &fakeSink{})

	resp, err := c.R2Request("r1", 5, api.MsgGetDriverVersion, nil)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, api.MsgDriverVersion, resp.Msg)
	assert.Equal(t, uint32(5), *resp.ReqID)

	var version api.DriverVersion
	require.NoError(t, json.Unmarshal(resp.MsgData, &version))
	assert.Equal(t, "Home Assistant Bridge", version.Name)
	assert.Equal(t, integrationAPIVersion, version.Version.API)
	assert.Equal(t, "0.1.0", version.Version.Driver)
}

func TestDriverMetadataRequest(t *testing.T) {
	c := newTestController(true)
	c.NewSession("r1", &fakeSink{})

	resp, err := c.R2Request("r1", 6, api.MsgGetDriverMetadata, nil)
	require.NoError(t, err)
	require.NotNil(t, resp)

	var meta api.DriverMetadata
	require.NoError(t, json.Unmarshal(resp.MsgData, &meta))
	assert.Equal(t, "hass", meta.DriverID)
	assert.NotNil(t, meta.SetupSchema)
}

func TestSubscribeEvents(t *testing.T) {
	c := newTestController(true)
	c.NewSession("r1", &fakeSink{})

	resp, err := c.R2Request("r1", 7, api.MsgSubscribeEvents,
		json.RawMessage(`{"entity_ids": ["light.kitchen", "cover.hall"]}`))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 200, *resp.Code)

	c.mu.Lock()
	assert.Contains(t, c.sessions["r1"].subscribed, "light.kitchen")
	assert.Contains(t, c.sessions["r1"].subscribed, "cover.hall")
	c.mu.Unlock()

	_, err = c.R2Request("r1", 8, api.MsgUnsubscribeEvents,
		json.RawMessage(`{"entity_ids": ["light.kitchen"]}`))
	require.NoError(t, err)

	c.mu.Lock()
	assert.NotContains(t, c.sessions["r1"].subscribed, "light.kitchen")
	assert.Contains(t, c.sessions["r1"].subscribed, "cover.hall")
	c.mu.Unlock()
}

func TestRequestsRejectedBeforeSetup(t *testing.T) {
	c := newTestController(false)
	c.NewSession("r1", &fakeSink{})

	_, err := c.R2Request("r1", 9, api.MsgSubscribeEvents, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, 503, errors.GetStatusCode(err))

	c.mu.Lock()
	assert.Equal(t, modeRequireSetup, c.machine.current())
	c.mu.Unlock()
}

func TestEntityCommandWithoutConnection(t *testing.T) {
	c := newTestController(true)
	c.NewSession("r1", &fakeSink{})

	_, err := c.R2Request("r1", 10, api.MsgEntityCommand,
		json.RawMessage(`{"entity_id": "light.kitchen", "cmd_id": "on"}`))
	require.Error(t, err)
	assert.Equal(t, 503, errors.GetStatusCode(err))
}

func TestEntityCommandValidation(t *testing.T) {
	c := newTestController(true)
	c.NewSession("r1", &fakeSink{})

	_, err := c.R2Request("r1", 11, api.MsgEntityCommand, json.RawMessage(`{"cmd_id": "on"}`))
	require.Error(t, err)
	assert.Equal(t, 400, errors.GetStatusCode(err))
}

func TestUnknownRequestRejected(t *testing.T) {
	c := newTestController(true)
	c.NewSession("r1", &fakeSink{})

	_, err := c.R2Request("r1", 12, "frobnicate", nil)
	require.Error(t, err)
	assert.Equal(t, 400, errors.GetStatusCode(err))
}

func TestGetDeviceStateSendsEvent(t *testing.T) {
	c := newTestController(true)
	sink := &fakeSink{}
	c.NewSession("r1", sink)

	resp, err := c.R2Request("r1", 13, api.MsgGetDeviceState, nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Len(t, sink.messages(), 2)
	assert.Equal(t, api.MsgDeviceState, sink.last(t).Msg)
}

func TestStandbyEvents(t *testing.T) {
	c := newTestController(true)
	c.NewSession("r1", &fakeSink{})
	c.NewSession("r2", &fakeSink{})

	c.R2Event("r1", api.MsgEnterStandby, nil)
	c.mu.Lock()
	assert.True(t, c.sessions["r1"].standby)
	assert.False(t, c.allStandbyLocked())
	c.mu.Unlock()

	c.R2Event("r2", api.MsgEnterStandby, nil)
	c.mu.Lock()
	assert.True(t, c.allStandbyLocked())
	c.mu.Unlock()

	c.R2Event("r1", api.MsgExitStandby, nil)
	c.mu.Lock()
	assert.False(t, c.sessions["r1"].standby)
	c.mu.Unlock()
}

func TestParseVoiceStart(t *testing.T) {
	cmd := api.EntityCommand{
		EntityID: "media_player.voice",
		CmdID:    "voice_start",
		Params: map[string]interface{}{
			"session_id":      float64(7),
			"audio_cfg":       map[string]interface{}{"sample_rate": float64(44100)},
			"speech_response": true,
			"timeout":         float64(30),
			"pipeline":        "Voice",
		},
	}

	start, err := parseVoiceStart(cmd)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), start.SessionID)
	assert.Equal(t, 44100, start.SampleRate)
	assert.True(t, start.SpeechResponse)
	assert.Equal(t, 30, start.Timeout)
	assert.Equal(t, "Voice", start.Pipeline)

	_, err = parseVoiceStart(api.EntityCommand{CmdID: "voice_start", Params: map[string]interface{}{}})
	require.Error(t, err)
	assert.Equal(t, 400, errors.GetStatusCode(err))

	// sample rate defaults when no audio_cfg is sent
	start, err = parseVoiceStart(api.EntityCommand{
		CmdID:  "voice_start",
		Params: map[string]interface{}{"session_id": float64(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, 16000, start.SampleRate)
}

func TestRegisterClientSkipsAlreadyClosed(t *testing.T) {
	c := newTestController(true)

	// A connection that failed fast reports its closed event before the
	// dial returns. Registering it afterwards must not resurrect it.
	c.mu.Lock()
	c.deviceState = api.DeviceConnecting
	c.mu.Unlock()
	c.ConnectionEvent("dead", hass.ConnectionClosed)

	dead := &fakeHAClient{id: "dead"}
	assert.False(t, c.registerClient(dead, c.cfg.HomeAssistant))
	c.mu.Lock()
	assert.Nil(t, c.client)
	c.mu.Unlock()

	// The next attempt yields a new client id, which registers normally.
	alive := &fakeHAClient{id: "alive"}
	assert.True(t, c.registerClient(alive, c.cfg.HomeAssistant))
	c.mu.Lock()
	assert.Equal(t, alive, c.client)
	c.mu.Unlock()

	c.Stop()
}

func TestEntityCommandForwardsServiceCall(t *testing.T) {
	c := newTestController(true)
	c.NewSession("r1", &fakeSink{})

	client := &fakeHAClient{id: "c1"}
	require.True(t, c.registerClient(client, c.cfg.HomeAssistant))

	resp, err := c.R2Request("r1", 14, api.MsgEntityCommand,
		json.RawMessage(`{"entity_id": "light.kitchen", "cmd_id": "on"}`))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 200, *resp.Code)

	client.mu.Lock()
	require.Len(t, client.services, 1)
	assert.Equal(t, "light.kitchen", client.services[0].EntityID)
	assert.Equal(t, "on", client.services[0].CmdID)
	client.mu.Unlock()
}

func TestAudioChunkWithoutVoiceSessionDropped(t *testing.T) {
	c := newTestController(true)
	c.NewSession("r1", &fakeSink{})

	// must not panic without a client or voice session
	c.R2AudioChunk("r1", []byte{0x01, 0x02})
}
