package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"voice-engine/internal/audio"
	"voice-engine/internal/gemini"
	"voice-engine/internal/store"
	"voice-engine/internal/tools"
)

// State is the media session lifecycle.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateDraining
	StateClosed
)

const (
	defaultQueueSize    = 64
	toolJoinTimeout     = 5 * time.Second
	greetingPrimingText = "The call has connected. Please introduce yourself and ask how you can help."
)

// Socket is the duplex telephony connection. *websocket.Conn satisfies it.
// ReadMessage is called from exactly one goroutine; WriteJSON calls are
// serialized inside the session.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
}

// AISession is the upstream conversational session consumed by the media
// pipeline. *gemini.Client satisfies it; tests substitute a scripted fake.
type AISession interface {
	Connect(ctx context.Context, systemPrompt string, toolSchemas []gemini.ToolSchema) error
	SendAudio(pcm []byte)
	SendText(text string) error
	SendToolResult(id, name string, payload map[string]any) error
	Interrupt() error
	Events() <-chan gemini.Event
	Close() error
}

// CallInfo carries the optional correlation fields an outbound call
// inherits from its originating reservation request. Inbound calls leave
// it zero.
type CallInfo struct {
	RequestID      string
	RestaurantID   string
	RestaurantName string
	UserID         string
}

// Config assembles one media session. Store may be nil: the session then
// degrades to pure audio bridging with no persistence.
type Config struct {
	Socket       Socket
	AI           AISession
	Store        store.Store
	Dispatcher   *tools.Dispatcher
	SystemPrompt string
	Info         CallInfo
	Logger       *slog.Logger
	QueueSize    int
}

// Session bridges one Twilio media stream to one live AI session: decodes
// inbound mu-law to 16kHz PCM, returns the model's 24kHz PCM as mu-law,
// routes tool calls and drives the call record's lifecycle.
//
// Three long-lived goroutines cooperate per session: the inbound reader
// (Run itself, the only writer of session identity fields), the upstream
// receiver, and the outbound sender. Tool dispatches run as short-lived
// goroutines so a slow store can never back up audio.
type Session struct {
	sock       Socket
	ai         AISession
	store      store.Store
	dispatcher *tools.Dispatcher
	prompt     string
	info       CallInfo
	log        *slog.Logger

	state atomic.Int32

	mu        sync.Mutex
	streamSID string
	callSID   string
	callID    string
	finalized bool
	seen      map[string]struct{} // invocation ids already dispatched

	bookingSaved atomic.Bool

	outbound chan []byte
	writeMu  sync.Mutex

	toolWG sync.WaitGroup
}

func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = defaultQueueSize
	}
	return &Session{
		sock:       cfg.Socket,
		ai:         cfg.AI,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		prompt:     cfg.SystemPrompt,
		info:       cfg.Info,
		log:        cfg.Logger,
		seen:       map[string]struct{}{},
		outbound:   make(chan []byte, qs),
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Run connects the AI session and pumps the stream until the telephony
// socket closes or a stop event arrives, then drains and joins all
// session work. The AI session is closed only after every pump has
// stopped, so no send can race a closed upstream handle.
func (s *Session) Run(ctx context.Context) error {
	if err := s.ai.Connect(ctx, s.prompt, tools.Schemas()); err != nil {
		s.state.Store(int32(StateClosed))
		return fmt.Errorf("stream: connect AI session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		s.receiveLoop(runCtx)
	}()
	go func() {
		defer pumps.Done()
		s.sendLoop(runCtx)
	}()

	// Inbound reader. The only goroutine that mutates session identity.
	for {
		if ctx.Err() != nil {
			break
		}
		_, data, err := s.sock.ReadMessage()
		if err != nil {
			s.log.Info("telephony socket closed", "err", err)
			break
		}
		if stop := s.handleFrame(runCtx, data); stop {
			break
		}
	}

	s.state.Store(int32(StateDraining))

	cancel()
	pumps.Wait()
	// Join in-flight dispatches first so a booking that lands during the
	// stop exchange is reflected in the final status.
	s.joinTools()
	s.finalizeCall(context.WithoutCancel(ctx))
	_ = s.ai.Close()

	s.state.Store(int32(StateClosed))
	return nil
}

// handleFrame processes one inbound protocol frame; the return reports
// whether the stream should begin draining. Malformed frames are dropped
// and logged, never fatal.
func (s *Session) handleFrame(ctx context.Context, data []byte) (stop bool) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.log.Warn("dropped unparseable frame", "err", err)
		return false
	}

	switch frame.Event {
	case eventConnected:
		s.log.Info("telephony stream connected")

	case eventStart:
		if frame.Start == nil || frame.Start.StreamSID == "" || frame.Start.CallSID == "" {
			s.log.Warn("start event missing identifiers")
			return false
		}
		s.mu.Lock()
		s.streamSID = frame.Start.StreamSID
		s.callSID = frame.Start.CallSID
		s.mu.Unlock()
		s.state.Store(int32(StateStreaming))
		s.log.Info("stream started", "stream_sid", frame.Start.StreamSID, "call_sid", frame.Start.CallSID)

		s.createCallRecord(ctx)

		if err := s.ai.SendText(greetingPrimingText); err != nil {
			s.log.Warn("greeting priming failed", "err", err)
		}

	case eventMedia:
		if frame.Media == nil || frame.Media.Payload == "" {
			s.log.Warn("dropped empty media frame")
			return false
		}
		mulaw, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
		if err != nil {
			s.log.Warn("dropped undecodable media payload", "err", err)
			return false
		}
		s.ai.SendAudio(audio.DecodeMuLaw(mulaw))

	case eventStop:
		s.log.Info("stream stopped", "call_id", s.currentCallID())
		return true

	default:
		s.log.Debug("ignoring event", "event", frame.Event)
	}
	return false
}

// createCallRecord persists the call row best-effort; a missing store or a
// failed insert degrades to an unpersisted session, it never ends the call.
func (s *Session) createCallRecord(ctx context.Context) {
	if s.store == nil {
		s.log.Warn("store not available, skipping call record")
		return
	}

	rec := store.Record{
		"twilio_sid": s.currentCallSID(),
		"status":     store.CallStatusOngoing,
	}
	if s.info.RequestID != "" {
		rec["request_id"] = s.info.RequestID
	}
	if s.info.RestaurantID != "" {
		rec["restaurant_id"] = s.info.RestaurantID
	}
	if s.info.UserID != "" {
		rec["user_id"] = s.info.UserID
	}

	saved, err := s.store.Insert(ctx, store.TableCalls, rec)
	if err != nil {
		s.log.Error("call record creation failed", "err", err)
		return
	}

	s.mu.Lock()
	s.callID = saved.String("id")
	s.mu.Unlock()
	s.log.Info("call record created", "call_id", saved.String("id"))

	if s.info.RequestID != "" {
		if _, err := s.store.Update(ctx, store.TableReservationRequests,
			store.Record{"status": store.RequestStatusInProgress},
			store.Filter{"id": s.info.RequestID},
		); err != nil {
			s.log.Error("request status update failed", "request_id", s.info.RequestID, "err", err)
		}
	}
}

// finalizeCall advances the call to its terminal status exactly once:
// completed only when a booking was saved during this session.
func (s *Session) finalizeCall(ctx context.Context) {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return
	}
	s.finalized = true
	callID := s.callID
	s.mu.Unlock()

	if s.store == nil || callID == "" {
		s.log.Warn("skipping call status update", "have_store", s.store != nil, "call_id", callID)
		return
	}

	status := store.CallStatusFailed
	if s.bookingSaved.Load() {
		status = store.CallStatusCompleted
	}
	if _, err := s.store.Update(ctx, store.TableCalls,
		store.Record{"status": status},
		store.Filter{"id": callID},
	); err != nil {
		s.log.Error("call status update failed", "call_id", callID, "err", err)
		return
	}
	s.log.Info("call finalized", "call_id", callID, "status", status)
}

// receiveLoop pulls events from the AI session, transcodes audio onto the
// outbound queue and spawns tool dispatches.
func (s *Session) receiveLoop(ctx context.Context) {
	events := s.ai.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case gemini.AudioChunk:
				mulaw, err := audio.EncodeMuLaw(e.Data, audio.RateOutput)
				if err != nil {
					s.log.Warn("dropped malformed audio chunk", "err", err)
					continue
				}
				select {
				case s.outbound <- mulaw:
				case <-ctx.Done():
					return
				}
			case gemini.ToolCall:
				s.dispatchTool(ctx, e)
			case gemini.Interrupted:
				s.handleBargeIn()
			case gemini.Transcript:
				s.log.Info("transcript", "direction", e.Direction, "text", e.Text)
			case gemini.TurnComplete:
				s.log.Debug("model turn complete")
			case gemini.SessionError:
				s.log.Error("AI session failed", "err", e.Err)
				return
			}
		}
	}
}

// dispatchTool runs one invocation in its own goroutine so a slow tool
// never blocks audio. At most one dispatch happens per invocation id.
func (s *Session) dispatchTool(ctx context.Context, call gemini.ToolCall) {
	s.mu.Lock()
	if _, dup := s.seen[call.ID]; dup {
		s.mu.Unlock()
		s.log.Warn("duplicate tool invocation ignored", "tool", call.Name, "id", call.ID)
		return
	}
	s.seen[call.ID] = struct{}{}
	s.mu.Unlock()

	s.log.Info("tool call received", "tool", call.Name, "id", call.ID)

	s.toolWG.Add(1)
	go func() {
		defer s.toolWG.Done()

		// Tool side effects must survive session teardown; only the
		// bounded join below limits them.
		res, known := s.dispatcher.Dispatch(context.WithoutCancel(ctx), s.callContext(), call.Name, call.Args)
		if !known {
			s.log.Warn("unknown tool invoked", "tool", call.Name, "id", call.ID)
			return
		}
		if call.Name == tools.NameSaveBooking && res["success"] == true {
			s.bookingSaved.Store(true)
		}
		if err := s.ai.SendToolResult(call.ID, call.Name, res); err != nil {
			s.log.Warn("tool result delivery failed", "tool", call.Name, "id", call.ID, "err", err)
		}
	}()
}

// handleBargeIn flushes everything queued toward the phone and tells
// Twilio to discard buffered playback, so the caller stops hearing stale
// audio as soon as they speak over the model.
func (s *Session) handleBargeIn() {
	drained := 0
	for {
		select {
		case <-s.outbound:
			drained++
		default:
			if sid := s.currentStreamSID(); sid != "" {
				if err := s.writeJSON(clearFrame{Event: eventClear, StreamSID: sid}); err != nil {
					s.log.Warn("clear frame failed", "err", err)
				}
			}
			_ = s.ai.Interrupt()
			s.log.Info("barge-in handled", "frames_dropped", drained)
			return
		}
	}
}

// sendLoop drains the outbound queue to the telephony socket, flushing
// whatever remains when the session shuts down.
func (s *Session) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case mulaw := <-s.outbound:
					s.writeMedia(mulaw)
				default:
					return
				}
			}
		case mulaw := <-s.outbound:
			s.writeMedia(mulaw)
		}
	}
}

func (s *Session) writeMedia(mulaw []byte) {
	sid := s.currentStreamSID()
	if sid == "" {
		return
	}
	frame := mediaFrame{
		Event:     eventMedia,
		StreamSID: sid,
		Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
	if err := s.writeJSON(frame); err != nil {
		s.log.Debug("media frame write failed", "err", err)
	}
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.sock.WriteJSON(v)
}

// joinTools waits for in-flight tool dispatches with a bound. They are not
// aborted mid-store-write; a dispatch that outlives the bound finishes on
// its own and merely fails to deliver its result.
func (s *Session) joinTools() {
	done := make(chan struct{})
	go func() {
		s.toolWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(toolJoinTimeout):
		s.log.Warn("tool dispatches still running at shutdown")
	}
}

func (s *Session) callContext() tools.CallContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tools.CallContext{
		CallID:         s.callID,
		RequestID:      s.info.RequestID,
		RestaurantID:   s.info.RestaurantID,
		RestaurantName: s.info.RestaurantName,
		UserID:         s.info.UserID,
	}
}

func (s *Session) currentStreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

func (s *Session) currentCallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

func (s *Session) currentCallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}
