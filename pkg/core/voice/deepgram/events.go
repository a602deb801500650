package deepgram

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type EventType string

const (
	EventWelcome              EventType = "Welcome"
	EventSettingsApplied      EventType = "SettingsApplied"
	EventConversationText     EventType = "ConversationText"
	EventFunctionCallRequest  EventType = "FunctionCallRequest"
	EventUserStartedSpeaking  EventType = "UserStartedSpeaking"
	EventUserEndedSpeaking    EventType = "UserEndedSpeaking"
	EventAgentThinking        EventType = "AgentThinking"
	EventAgentStartedSpeaking EventType = "AgentStartedSpeaking"
	EventAgentEndedSpeaking   EventType = "AgentEndedSpeaking"
	EventSpeechStarted        EventType = "SpeechStarted"
	EventAgentAudioDone       EventType = "AgentAudioDone"
	EventError                EventType = "Error"
	EventWarning              EventType = "Warning"

	// EventAudio marks a binary frame of synthesized agent speech.
	EventAudio EventType = "Audio"
)

// ErrMalformedEvent wraps text frames that are not valid event JSON.
var ErrMalformedEvent = errors.New("malformed event")

// Event is one inbound frame. Only the fields relevant to Type are set.
type Event struct {
	Type EventType

	// ConversationText
	Role    string
	Content string

	// FunctionCallRequest
	Functions []FunctionCall

	// Error / Warning
	Description string
	Code        string

	// Audio
	Audio []byte
}

// FunctionCall is a single tool invocation requested by the agent.
// Arguments arrive either as a JSON-encoded string or as an object.
type FunctionCall struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	ClientSide bool            `json:"client_side"`
}

// Args decodes Arguments into a map. Missing, null or empty arguments give
// an empty map.
func (f FunctionCall) Args() (map[string]any, error) {
	raw := bytes.TrimSpace(f.Arguments)
	if len(raw) > 0 && raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return map[string]any{}, fmt.Errorf("decode %s arguments: %w", f.Name, err)
		}
		raw = bytes.TrimSpace([]byte(encoded))
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{}, fmt.Errorf("decode %s arguments: %w", f.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

type wireEvent struct {
	Type        EventType      `json:"type"`
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	Functions   []FunctionCall `json:"functions"`
	Description string         `json:"description"`
	Message     string         `json:"message"`
	Code        string         `json:"code"`
}

// ParseEvent decodes a JSON text frame.
func ParseEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if w.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	ev := Event{
		Type:        w.Type,
		Role:        w.Role,
		Content:     w.Content,
		Functions:   w.Functions,
		Description: w.Description,
		Code:        w.Code,
	}
	if ev.Description == "" {
		ev.Description = w.Message
	}
	return ev, nil
}

// FunctionCallResponse answers one FunctionCall. Content is a JSON string.
type FunctionCallResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}
