package handlers

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	sayVoice = "alice"

	msgCallUnavailable = "We are sorry, the business you called is not available at the moment. Please try again later."
	msgTextUnavailable = "We are sorry, the business you texted is not available at the moment. Please try again later."
	msgInvalidRequest  = "Invalid request. Please check the number and try again."
)

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Message string        `xml:"Message,omitempty"`
}

type twimlSay struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

func writeTwiML(w http.ResponseWriter, resp twimlResponse) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(resp)
}

// streamURL builds the media-stream URL Twilio connects to. base may carry a
// scheme; the stream always uses wss.
func streamURL(base, host, agentID, conversationID string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = host
	}
	base = strings.TrimPrefix(base, "https://")
	base = strings.TrimPrefix(base, "http://")
	base = strings.TrimRight(base, "/")
	return "wss://" + base + "/agent/ws/" + url.PathEscape(agentID) + "/twilio/" + url.PathEscape(conversationID)
}

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
