package stream

// Twilio Media Streams wire frames. Inbound events arrive as JSON text
// frames over the websocket; we emit media and clear frames back.
// Ref: https://www.twilio.com/docs/voice/media-streams

const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventStop      = "stop"
	eventClear     = "clear"
)

type inboundFrame struct {
	Event string        `json:"event"`
	Start *startPayload `json:"start,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
}

type startPayload struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid"`
}

type mediaPayload struct {
	Payload string `json:"payload"` // base64 mu-law bytes
}

type mediaFrame struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type clearFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}
