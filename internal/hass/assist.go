package hass

import (
	"encoding/json"
	"time"

	"github.com/frostdev-ops/uc-bridge-go/internal/api"
	"github.com/frostdev-ops/uc-bridge-go/internal/metrics"
	"github.com/frostdev-ops/uc-bridge-go/pkg/errors"
)

// assistSessionMaxAge is the inactivity window after which a voice session is
// swept from the table.
const assistSessionMaxAge = 60 * time.Second

// assistSession tracks one assist pipeline run. The run id doubles as the
// correlation key for the events Home Assistant streams back.
type assistSession struct {
	runID     uint32
	entityID  string
	sessionID uint32
	handlerID *byte
	created   time.Time
	runEnded  bool
}

// AssistStart carries the parameters of a voice_start command.
type AssistStart struct {
	EntityID       string
	SessionID      uint32
	SampleRate     int
	SpeechResponse bool
	Timeout        int
	Pipeline       string
}

// Pipeline is one entry of the assist pipeline list.
type Pipeline struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SttEngine string `json:"stt_engine"`
}

// PipelineList is the parsed assist_pipeline/pipeline/list result.
type PipelineList struct {
	Pipelines []Pipeline `json:"pipelines"`
	Preferred string     `json:"preferred_pipeline"`
}

// assist pipeline event payloads
type assistEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type assistRunStart struct {
	RunnerData struct {
		SttBinaryHandlerID *byte `json:"stt_binary_handler_id"`
	} `json:"runner_data"`
}

type assistSttEnd struct {
	SttOutput struct {
		Text string `json:"text"`
	} `json:"stt_output"`
}

type assistIntentEnd struct {
	IntentOutput struct {
		Response struct {
			Speech struct {
				Plain struct {
					Speech string `json:"speech"`
				} `json:"plain"`
			} `json:"speech"`
		} `json:"response"`
	} `json:"intent_output"`
}

type assistTtsEnd struct {
	TtsOutput struct {
		URL string `json:"url"`
	} `json:"tts_output"`
}

type assistError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunAssistPipeline starts a voice pipeline run. The call blocks for Home
// Assistant's synchronous acknowledgement; pipeline events then stream to the
// handler as assistant events tagged with the remote session id.
func (c *Client) RunAssistPipeline(start AssistStart) error {
	c.sweepAssistSessions()

	pipelineID := ""
	if start.Pipeline != "" {
		list, err := c.ListAssistPipelines(true)
		if err != nil {
			return err
		}
		for _, p := range list.Pipelines {
			if p.Name == start.Pipeline || p.ID == start.Pipeline {
				pipelineID = p.ID
				break
			}
		}
		if pipelineID == "" {
			return errors.NotFound("no pipeline %q with speech recognition", start.Pipeline)
		}
	}

	// Register before the run frame is written: pipeline events for this id
	// can arrive ahead of the synchronous result.
	id, p, err := c.nextPending(pendingAssistRun, nil)
	if err != nil {
		return err
	}
	sess := &assistSession{
		runID:     id,
		entityID:  start.EntityID,
		sessionID: start.SessionID,
		created:   time.Now(),
	}
	c.mu.Lock()
	c.assist[id] = sess
	c.mu.Unlock()

	msg := map[string]interface{}{
		"id":          id,
		"type":        "assist_pipeline/run",
		"start_stage": "stt",
		"end_stage":   assistEndStage(start.SpeechResponse),
		"input": map[string]interface{}{
			"sample_rate": start.SampleRate,
		},
	}
	if start.Timeout > 0 {
		msg["timeout"] = start.Timeout
	}
	if pipelineID != "" {
		msg["pipeline"] = pipelineID
	}
	if err := c.send(msg); err != nil {
		c.removePending(id)
		c.dropAssistSession(id)
		return err
	}

	res, err := c.awaitResult(id, p)
	if err == nil && (res.Success == nil || !*res.Success) {
		err = errors.ServiceUnavailable("assist pipeline run rejected")
	}
	if err != nil {
		c.dropAssistSession(id)
		return err
	}
	return nil
}

func (c *Client) dropAssistSession(id uint32) {
	c.mu.Lock()
	delete(c.assist, id)
	c.mu.Unlock()
}

func assistEndStage(speechResponse bool) string {
	if speechResponse {
		return "tts"
	}
	return "intent"
}

// ListAssistPipelines fetches the configured pipelines. With requireStt the
// list is filtered to pipelines that can transcribe speech, clearing the
// preferred pipeline when it got filtered out.
func (c *Client) ListAssistPipelines(requireStt bool) (*PipelineList, error) {
	id, p, err := c.sendRequest(pendingListPipelines, nil, func(id uint32) interface{} {
		return map[string]interface{}{"id": id, "type": "assist_pipeline/pipeline/list"}
	})
	if err != nil {
		return nil, err
	}

	msg, err := c.awaitResult(id, p)
	if err != nil {
		return nil, err
	}
	if msg.Success == nil || !*msg.Success {
		return nil, errors.ServiceUnavailable("pipeline list rejected")
	}

	var list PipelineList
	if err := json.Unmarshal(msg.Result, &list); err != nil {
		return nil, errors.Internal("invalid pipeline list: %v", err)
	}
	if requireStt {
		filterPipelines(&list)
	}
	return &list, nil
}

// filterPipelines keeps only pipelines with a speech-to-text engine.
func filterPipelines(list *PipelineList) {
	filtered := list.Pipelines[:0]
	preferredAlive := false
	for _, p := range list.Pipelines {
		if p.SttEngine == "" {
			continue
		}
		filtered = append(filtered, p)
		if p.ID == list.Preferred {
			preferredAlive = true
		}
	}
	list.Pipelines = filtered
	if !preferredAlive {
		list.Preferred = ""
	}
}

// SendAudioChunk forwards one binary audio chunk for the voice session. The
// frame written to Home Assistant is the chunk prefixed with the handler byte
// assigned in run-start.
func (c *Client) SendAudioChunk(sessionID uint32, chunk []byte) error {
	handlerID, err := c.assistHandlerID(sessionID)
	if err != nil {
		return err
	}
	metrics.AssistAudioChunks.Inc()
	return c.sendBinary(buildAudioFrame(handlerID, chunk))
}

// StopAudio signals end of audio with a bare handler-byte frame.
func (c *Client) StopAudio(sessionID uint32) error {
	handlerID, err := c.assistHandlerID(sessionID)
	if err != nil {
		return err
	}
	return c.sendBinary([]byte{handlerID})
}

func (c *Client) assistHandlerID(sessionID uint32) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sess := range c.assist {
		if sess.sessionID == sessionID {
			if sess.handlerID == nil {
				return 0, errors.ServiceUnavailable("voice session %d has no audio handler yet", sessionID)
			}
			return *sess.handlerID, nil
		}
	}
	return 0, errors.NotFound("no voice session %d", sessionID)
}

// buildAudioFrame prepends the handler byte to an audio chunk.
func buildAudioFrame(handlerID byte, chunk []byte) []byte {
	frame := make([]byte, 1+len(chunk))
	frame[0] = handlerID
	copy(frame[1:], chunk)
	return frame
}

// sweepAssistSessions drops sessions older than the inactivity window. Runs
// on every new session creation.
func (c *Client) sweepAssistSessions() {
	cutoff := time.Now().Add(-assistSessionMaxAge)
	c.mu.Lock()
	for id, sess := range c.assist {
		if sess.created.Before(cutoff) {
			delete(c.assist, id)
		}
	}
	c.mu.Unlock()
}

// handleAssistEvent translates one pipeline event into an assistant event for
// the remote. Errors may arrive after run-end and are still forwarded.
func (c *Client) handleAssistEvent(sess *assistSession, raw json.RawMessage) {
	var event assistEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		c.log.WithError(err).Warn("Invalid assist pipeline event")
		return
	}

	out := api.AssistantEvent{SessionID: sess.sessionID}

	switch event.Type {
	case "run-start":
		var data assistRunStart
		if err := json.Unmarshal(event.Data, &data); err == nil && data.RunnerData.SttBinaryHandlerID != nil {
			c.mu.Lock()
			sess.handlerID = data.RunnerData.SttBinaryHandlerID
			c.mu.Unlock()
		}
		out.EventType = api.AssistantReady

	case "stt-end":
		var data assistSttEnd
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return
		}
		out.EventType = api.AssistantSttResponse
		out.Data = api.SttResponseData{Text: data.SttOutput.Text}

	case "intent-end":
		var data assistIntentEnd
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return
		}
		out.EventType = api.AssistantTextResponse
		out.Data = api.TextResponseData{Text: data.IntentOutput.Response.Speech.Plain.Speech}

	case "tts-end":
		var data assistTtsEnd
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return
		}
		out.EventType = api.AssistantSpeechResponse
		out.Data = api.SpeechResponseData{URL: mediaImageURL(c.serverURL, data.TtsOutput.URL)}

	case "run-end":
		c.mu.Lock()
		sess.runEnded = true
		c.mu.Unlock()
		out.EventType = api.AssistantFinished

	case "error":
		var data assistError
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return
		}
		out.EventType = api.AssistantError
		out.Data = api.AssistantErrorData{Code: data.Code, Message: data.Message}

	default:
		// stage progress events the remote has no use for
		return
	}

	c.handler.AssistantEvent(out)
}
