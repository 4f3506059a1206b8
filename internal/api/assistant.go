package api

// Assistant event types forwarded to the remote while a voice session runs.
const (
	AssistantReady          = "ready"
	AssistantFinished       = "finished"
	AssistantSttResponse    = "stt_response"
	AssistantTextResponse   = "text_response"
	AssistantSpeechResponse = "speech_response"
	AssistantError          = "error"
)

// AssistantEvent is the msg_data payload of an assistant_event.
type AssistantEvent struct {
	EventType string      `json:"event_type"`
	SessionID uint32      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

// SttResponseData carries the recognized text of the user's speech.
type SttResponseData struct {
	Text string `json:"text"`
}

// TextResponseData carries the assistant's textual answer.
type TextResponseData struct {
	Text string `json:"text"`
}

// SpeechResponseData carries the URL of the synthesized answer audio.
type SpeechResponseData struct {
	URL string `json:"url"`
}

// AssistantErrorData carries a pipeline error forwarded to the remote.
type AssistantErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAssistantEvent builds an assistant_event ENTITY frame.
func NewAssistantEvent(event AssistantEvent) WsMessage {
	return NewEvent(MsgAssistantEvent, CategoryEntity, event)
}
