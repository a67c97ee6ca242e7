package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the Live API websocket endpoint.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	defaultConnectTimeout = 15 * time.Second
	eventBuffer           = 256
)

// ErrNotConnected is returned by operations that require a live session.
var ErrNotConnected = errors.New("gemini: session not connected")

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// Config holds the Live API client settings.
type Config struct {
	APIKey string
	Model  string
	Voice  string

	// Endpoint overrides the Live API URL; tests point it at a local
	// websocket server.
	Endpoint string

	Logger *slog.Logger
}

// Client wraps one bidirectional Live API session: audio in/out, tool
// calls out, tool results in. One live connection per instance; Connect
// while connected tears the previous session down first.
//
// All Send* methods are safe to call concurrently; the read loop is the
// only reader of the socket and Events() is consumed by one goroutine.
type Client struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	writeMu sync.Mutex

	events     chan Event
	readerDone chan struct{}
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, log: log, state: StateDisconnected}
}

// Connect dials the Live API, sends the session setup (audio response
// modality, system instruction, tool declarations, transcription capture)
// and waits for setupComplete. Returns an error when credentials are
// missing or the handshake fails.
func (c *Client) Connect(ctx context.Context, systemPrompt string, tools []ToolSchema) error {
	if c.cfg.APIKey == "" {
		return errors.New("gemini: API key is required")
	}

	c.mu.Lock()
	if c.state == StateConnected {
		conn := c.conn
		done := c.readerDone
		c.conn = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close()
		if done != nil {
			<-done
		}
		c.mu.Lock()
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	url := c.cfg.Endpoint + "?key=" + c.cfg.APIKey
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("gemini: dial: %w", err)
	}

	setup := setupMessage{}
	setup.Setup.Model = c.cfg.Model
	setup.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	if c.cfg.Voice != "" {
		sc := &speechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = c.cfg.Voice
		setup.Setup.GenerationConfig.SpeechConfig = sc
	}
	if systemPrompt != "" {
		setup.Setup.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	if len(tools) > 0 {
		setup.Setup.Tools = []toolDeclaration{{FunctionDeclarations: tools}}
	}
	setup.Setup.InputAudioTranscription = &struct{}{}
	setup.Setup.OutputAudioTranscription = &struct{}{}

	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("gemini: setup write: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultConnectTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("gemini: setup response: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var resp serverMessage
	if err := json.Unmarshal(raw, &resp); err != nil {
		_ = conn.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("gemini: setup parse: %w", err)
	}
	if resp.SetupComplete == nil {
		_ = conn.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("gemini: expected setupComplete, got %s", truncate(raw, 200))
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.events = make(chan Event, eventBuffer)
	c.readerDone = make(chan struct{})
	events, done := c.events, c.readerDone
	c.mu.Unlock()

	go c.readLoop(conn, events, done)

	c.log.Info("gemini session established", "model", c.cfg.Model)
	return nil
}

// Events returns the decoded server event stream for the current session.
// The channel is closed when the session ends; a connection failure is
// surfaced as a terminal SessionError event first.
func (c *Client) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// SendAudio forwards a 16kHz linear PCM frame as realtime input. Audio is
// best effort: empty frames are ignored and frames sent while disconnected
// are dropped with a log line, never an error, so the caller's pipeline
// cannot stall on a single frame.
func (c *Client) SendAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	msg := realtimeInputMessage{}
	msg.RealtimeInput.MediaChunks = []blob{{
		MimeType: "audio/pcm;rate=16000",
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}}
	if err := c.writeJSON(msg); err != nil {
		c.log.Debug("dropped audio frame", "bytes", len(pcm), "err", err)
	}
}

// SendText injects a synthetic user turn. Used right after the telephony
// stream starts to elicit the opening greeting, since the model has no
// other signal that the call connected.
func (c *Client) SendText(text string) error {
	msg := clientContentMessage{}
	msg.ClientContent.Turns = []content{{Role: "user", Parts: []part{{Text: text}}}}
	msg.ClientContent.TurnComplete = true
	return c.writeJSON(msg)
}

// SendToolResult returns a tool's result to the model so the conversation
// can continue. Dropped with a warning when not connected.
func (c *Client) SendToolResult(id, name string, payload map[string]any) error {
	msg := toolResponseMessage{}
	msg.ToolResponse.FunctionResponses = []functionResponse{{ID: id, Name: name, Response: payload}}
	if err := c.writeJSON(msg); err != nil {
		c.log.Warn("dropped tool result", "tool", name, "id", id, "err", err)
		return err
	}
	return nil
}

// Interrupt signals barge-in. The Live API's own voice activity detection
// truncates generation server-side, so no wire frame is required; the call
// exists so the media session can flush its buffers in lockstep.
func (c *Client) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return nil
}

// Close releases the session. Idempotent and safe from failure paths.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	done := c.readerDone
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) readLoop(conn *websocket.Conn, events chan Event, done chan struct{}) {
	defer close(done)
	defer close(events)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.state == StateClosed || c.conn != conn
			c.mu.Unlock()
			if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.emit(events, SessionError{Err: err})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn("unparseable server frame", "err", err)
			continue
		}
		c.decode(events, msg)
	}
}

func (c *Client) decode(events chan Event, msg serverMessage) {
	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			c.emit(events, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		c.emit(events, Transcript{Text: sc.InputTranscription.Text, Direction: DirectionInput})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		c.emit(events, Transcript{Text: sc.OutputTranscription.Text, Direction: DirectionOutput})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MimeType, "audio/pcm") {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				c.log.Warn("bad audio chunk encoding", "err", err)
				continue
			}
			c.emit(events, AudioChunk{Data: data})
		}
	}
	if sc.Interrupted {
		c.emit(events, Interrupted{})
	}
	if sc.TurnComplete {
		c.emit(events, TurnComplete{})
	}
}

func (c *Client) emit(events chan Event, ev Event) {
	select {
	case events <- ev:
	default:
		// Never stall the read loop behind a stopped consumer.
		c.log.Warn("event dropped, consumer backlogged", "type", ev.eventType())
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
