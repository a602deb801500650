// Package twilio implements the Twilio Media Streams side of a voice call.
package twilio

// Inbound events sent by Twilio on a media stream.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
)

type inboundFrame struct {
	Event          string         `json:"event"`
	SequenceNumber string         `json:"sequenceNumber,omitempty"`
	StreamSID      string         `json:"streamSid,omitempty"`
	Start          *startPayload  `json:"start,omitempty"`
	Media          *mediaPayload  `json:"media,omitempty"`
	Stop           *stopPayload   `json:"stop,omitempty"`
	DTMF           *dtmfPayload   `json:"dtmf,omitempty"`
	Mark           map[string]any `json:"mark,omitempty"`
}

type startPayload struct {
	StreamSID   string   `json:"streamSid"`
	AccountSID  string   `json:"accountSid,omitempty"`
	CallSID     string   `json:"callSid,omitempty"`
	Tracks      []string `json:"tracks,omitempty"`
	MediaFormat struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type stopPayload struct {
	AccountSID string `json:"accountSid,omitempty"`
	CallSID    string `json:"callSid,omitempty"`
}

type dtmfPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

type outboundMedia struct {
	Event     string             `json:"event"`
	StreamSID string             `json:"streamSid"`
	Media     outboundMediaChunk `json:"media"`
}

type outboundMediaChunk struct {
	Payload string `json:"payload"`
}

// outboundClear tells Twilio to drop any agent audio it has buffered.
type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}
