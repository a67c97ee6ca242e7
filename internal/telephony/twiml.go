package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"sort"
	"strings"
)

// Minimal Twilio Markup Language builder. It intentionally avoids any
// provider SDK dependency; only the verbs the voice engine emits are
// modeled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// StreamOptions describes a media-stream connect response. Parameters are
// surfaced to the stream handler in Twilio's start event as customParameters.
type StreamOptions struct {
	URL        string
	Say        string
	Parameters map[string]string
}

// StreamTwiML renders a response that bridges the call onto a websocket
// media stream, optionally after a spoken greeting.
func StreamTwiML(opts StreamOptions) (string, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return "", errors.New("telephony: stream url required")
	}

	stream := twimlStream{URL: opts.URL}
	names := make([]string, 0, len(opts.Parameters))
	for name := range opts.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: name, Value: opts.Parameters[name]})
	}

	var r twimlResponse
	if opts.Say != "" {
		r.Verbs = append(r.Verbs, twimlSay{Text: opts.Say})
	}
	r.Verbs = append(r.Verbs, twimlConnect{Stream: stream})
	return renderTwiML(r)
}

// HangupTwiML renders a spoken message followed by a hangup. Used when a
// call cannot proceed; Twilio expects a 200 with valid TwiML even then.
func HangupTwiML(message string) string {
	r := twimlResponse{Verbs: []any{twimlSay{Text: message}, twimlHangup{}}}
	out, err := renderTwiML(r)
	if err != nil {
		// Static verbs cannot fail to encode.
		return xml.Header + "<Response><Hangup/></Response>"
	}
	return out
}

func renderTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
