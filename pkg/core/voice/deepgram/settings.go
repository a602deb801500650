package deepgram

// Settings is the first message sent on a voice agent connection.
type Settings struct {
	Type  string        `json:"type"`
	Audio AudioSettings `json:"audio"`
	Agent AgentSettings `json:"agent"`
}

type AudioSettings struct {
	Input  AudioFormat `json:"input"`
	Output AudioFormat `json:"output"`
}

type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

type AgentSettings struct {
	Language string `json:"language,omitempty"`
	Listen   Listen `json:"listen"`
	Think    Think  `json:"think"`
	Speak    Speak  `json:"speak"`
	Greeting string `json:"greeting,omitempty"`
}

type Provider struct {
	Type        string   `json:"type"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type Listen struct {
	Provider Provider `json:"provider"`
}

type Think struct {
	Provider  Provider   `json:"provider"`
	Prompt    string     `json:"prompt,omitempty"`
	Functions []Function `json:"functions,omitempty"`
}

type Speak struct {
	Provider Provider `json:"provider"`
}

// Function is a tool definition exposed to the think model.
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NewTelephonySettings returns Settings for 8 kHz mu-law audio in both
// directions with a raw (containerless) output stream.
func NewTelephonySettings() Settings {
	return Settings{
		Type: "Settings",
		Audio: AudioSettings{
			Input:  AudioFormat{Encoding: "mulaw", SampleRate: 8000},
			Output: AudioFormat{Encoding: "mulaw", SampleRate: 8000, Container: "none"},
		},
	}
}

// FunctionNames lists the configured function names in order.
func (s Settings) FunctionNames() []string {
	out := make([]string, 0, len(s.Agent.Think.Functions))
	for _, fn := range s.Agent.Think.Functions {
		out = append(out, fn.Name)
	}
	return out
}
