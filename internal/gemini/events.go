package gemini

// Event is one decoded item from the live session's server stream.
// Consumers receive these from Client.Events on a single dedicated
// goroutine; there is no callback registration.
type Event interface {
	eventType() string
}

// AudioChunk carries raw 16-bit linear PCM at 24kHz from the model.
type AudioChunk struct {
	Data []byte
}

func (AudioChunk) eventType() string { return "audio" }

// ToolCall is a function invocation requested by the model. ID is the
// correlation key that must round-trip unchanged through SendToolResult.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

func (ToolCall) eventType() string { return "tool_call" }

// TurnComplete marks the end of one model turn.
type TurnComplete struct{}

func (TurnComplete) eventType() string { return "turn_complete" }

// Interrupted signals that the model truncated its own generation because
// the caller started speaking. The media session must flush any audio it
// has already queued toward the phone.
type Interrupted struct{}

func (Interrupted) eventType() string { return "interrupted" }

// Transcript direction values.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Transcript carries speech-to-text of either side of the conversation.
type Transcript struct {
	Text      string
	Direction Direction
}

func (Transcript) eventType() string { return "transcript" }

// SessionError is the terminal event emitted when the upstream connection
// fails; the event channel is closed right after it.
type SessionError struct {
	Err error
}

func (SessionError) eventType() string { return "error" }

// ToolSchema is a function declaration exposed to the model at setup time.
// Parameters is a JSON-schema object in the Live API's expected shape.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}
