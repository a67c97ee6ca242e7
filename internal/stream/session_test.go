package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"voice-engine/internal/gemini"
	"voice-engine/internal/store"
	"voice-engine/internal/tools"
)

// fakeSocket replays a scripted sequence of inbound frames and records
// everything written back.
type fakeSocket struct {
	mu      sync.Mutex
	inbound []string
	next    int
	written []map[string]any
	release chan struct{} // optional gate before EOF
}

func newFakeSocket(frames ...string) *fakeSocket {
	return &fakeSocket{inbound: frames}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	if f.next < len(f.inbound) {
		data := f.inbound[f.next]
		f.next++
		f.mu.Unlock()
		return 1, []byte(data), nil
	}
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return 0, nil, io.EOF
}

func (f *fakeSocket) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.written = append(f.written, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) frames(event string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, m := range f.written {
		if m["event"] == event {
			out = append(out, m)
		}
	}
	return out
}

// fakeAI is a scripted upstream session. Events pushed onto the script
// channel are delivered to the session's receive loop.
type fakeAI struct {
	mu          sync.Mutex
	connectErr  error
	prompt      string
	schemas     []gemini.ToolSchema
	audio       [][]byte
	texts       []string
	toolResults []toolResult
	interrupts  int
	closed      bool

	events chan gemini.Event
}

type toolResult struct {
	id, name string
	payload  map[string]any
}

func newFakeAI() *fakeAI {
	return &fakeAI{events: make(chan gemini.Event, 32)}
}

func (f *fakeAI) Connect(ctx context.Context, prompt string, schemas []gemini.ToolSchema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompt = prompt
	f.schemas = schemas
	return f.connectErr
}

func (f *fakeAI) SendAudio(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), pcm...))
}

func (f *fakeAI) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeAI) SendToolResult(id, name string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolResults = append(f.toolResults, toolResult{id, name, payload})
	return nil
}

func (f *fakeAI) Interrupt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return nil
}

func (f *fakeAI) Events() <-chan gemini.Event { return f.events }

func (f *fakeAI) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func startFrame(streamSID, callSID string) string {
	return fmt.Sprintf(`{"event":"start","start":{"streamSid":%q,"callSid":%q}}`, streamSID, callSID)
}

func mediaFrameJSON(mulaw []byte) string {
	return fmt.Sprintf(`{"event":"media","media":{"payload":%q}}`, base64.StdEncoding.EncodeToString(mulaw))
}

func runSession(t *testing.T, cfg Config) {
	t.Helper()
	runSessionWith(t, cfg, nil)
}

// runSessionWith drives a session to completion. When during is set it
// runs after the start frame has been processed, so scripted AI events
// cannot race the stream identifiers.
func runSessionWith(t *testing.T, cfg Config, during func(s *Session)) {
	t.Helper()
	s := New(cfg)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	if during != nil {
		deadline := time.After(2 * time.Second)
		for s.State() != StateStreaming {
			select {
			case <-deadline:
				t.Fatalf("session never started streaming")
			case <-time.After(time.Millisecond):
			}
		}
		during(s)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not finish")
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %v, want closed", s.State())
	}
}

func TestSessionLifecycleWithoutBooking(t *testing.T) {
	m := store.NewMemoryStore()
	ai := newFakeAI()
	sock := newFakeSocket(
		`{"event":"connected"}`,
		startFrame("MS1", "CA1"),
		`{"event":"stop"}`,
	)

	runSession(t, Config{
		Socket:     sock,
		AI:         ai,
		Store:      m,
		Dispatcher: tools.NewDispatcher(m, nil),
	})

	calls := m.Rows(store.TableCalls)
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	if calls[0].String("twilio_sid") != "CA1" {
		t.Fatalf("twilio_sid = %q", calls[0].String("twilio_sid"))
	}
	if calls[0].String("status") != store.CallStatusFailed {
		t.Fatalf("status = %q, want failed when no booking was saved", calls[0].String("status"))
	}
	if !ai.closed {
		t.Fatalf("AI session not closed")
	}
	if len(ai.texts) != 1 {
		t.Fatalf("greeting texts = %d", len(ai.texts))
	}
}

func TestSessionForwardsCallerAudioUpsampled(t *testing.T) {
	ai := newFakeAI()
	mulaw := make([]byte, 160)
	for i := range mulaw {
		mulaw[i] = 0xFF // mu-law silence
	}
	sock := newFakeSocket(
		startFrame("MS1", "CA1"),
		mediaFrameJSON(mulaw),
		`{"event":"stop"}`,
	)

	runSession(t, Config{Socket: sock, AI: ai})

	ai.mu.Lock()
	defer ai.mu.Unlock()
	if len(ai.audio) != 1 {
		t.Fatalf("audio chunks = %d", len(ai.audio))
	}
	// 160 mu-law bytes become 320 samples at 16kHz, 640 bytes of PCM.
	if got := len(ai.audio[0]); got != 640 {
		t.Fatalf("pcm bytes = %d, want 640", got)
	}
}

func TestSessionReturnsModelAudioAsMedia(t *testing.T) {
	ai := newFakeAI()
	sock := newFakeSocket(startFrame("MS1", "CA1"))
	sock.release = make(chan struct{})

	runSessionWith(t, Config{Socket: sock, AI: ai}, func(*Session) {
		// 480 bytes of 24kHz PCM decimate to 80 mu-law bytes.
		ai.events <- gemini.AudioChunk{Data: make([]byte, 480)}
		go func() {
			deadline := time.After(2 * time.Second)
			for {
				if len(sock.frames(eventMedia)) > 0 {
					close(sock.release)
					return
				}
				select {
				case <-deadline:
					close(sock.release)
					return
				case <-time.After(5 * time.Millisecond):
				}
			}
		}()
	})

	media := sock.frames(eventMedia)
	if len(media) != 1 {
		t.Fatalf("media frames = %d", len(media))
	}
	if media[0]["streamSid"] != "MS1" {
		t.Fatalf("streamSid = %v", media[0]["streamSid"])
	}
	payload := media[0]["media"].(map[string]any)["payload"].(string)
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("payload not base64: %v", err)
	}
	if len(raw) != 80 {
		t.Fatalf("mu-law bytes = %d, want 80", len(raw))
	}
}

func TestSessionDispatchesToolAndCompletesCall(t *testing.T) {
	m := store.NewMemoryStore()
	ai := newFakeAI()
	sock := newFakeSocket(startFrame("MS1", "CA1"))
	sock.release = make(chan struct{})

	cfg := Config{
		Socket:     sock,
		AI:         ai,
		Store:      m,
		Dispatcher: tools.NewDispatcher(m, nil),
	}
	runSessionWith(t, cfg, func(*Session) {
		ai.events <- gemini.ToolCall{
			ID:   "inv-1",
			Name: tools.NameSaveBooking,
			Args: map[string]any{
				"confirmed_date": "2025-03-10",
				"confirmed_time": "19:00",
				"party_size":     float64(2),
			},
		}
		go func() {
			deadline := time.After(2 * time.Second)
			for {
				ai.mu.Lock()
				n := len(ai.toolResults)
				ai.mu.Unlock()
				if n > 0 {
					close(sock.release)
					return
				}
				select {
				case <-deadline:
					close(sock.release)
					return
				case <-time.After(5 * time.Millisecond):
				}
			}
		}()
	})

	if len(m.Rows(store.TableReservations)) != 1 {
		t.Fatalf("reservations = %d", len(m.Rows(store.TableReservations)))
	}
	calls := m.Rows(store.TableCalls)
	if calls[0].String("status") != store.CallStatusCompleted {
		t.Fatalf("status = %q, want completed after saved booking", calls[0].String("status"))
	}

	ai.mu.Lock()
	defer ai.mu.Unlock()
	if len(ai.toolResults) != 1 {
		t.Fatalf("tool results = %d", len(ai.toolResults))
	}
	tr := ai.toolResults[0]
	if tr.id != "inv-1" || tr.name != tools.NameSaveBooking || tr.payload["success"] != true {
		t.Fatalf("tool result = %+v", tr)
	}
}

func TestSessionIgnoresDuplicateToolInvocation(t *testing.T) {
	m := store.NewMemoryStore()
	ai := newFakeAI()
	sock := newFakeSocket(startFrame("MS1", "CA1"))
	sock.release = make(chan struct{})

	cfg := Config{
		Socket:     sock,
		AI:         ai,
		Store:      m,
		Dispatcher: tools.NewDispatcher(m, nil),
	}
	runSessionWith(t, cfg, func(*Session) {
		call := gemini.ToolCall{
			ID:   "inv-dup",
			Name: tools.NameSaveBooking,
			Args: map[string]any{
				"confirmed_date": "2025-03-10",
				"confirmed_time": "19:00",
				"party_size":     float64(2),
			},
		}
		ai.events <- call
		ai.events <- call
		go func() {
			deadline := time.After(2 * time.Second)
			for {
				ai.mu.Lock()
				n := len(ai.toolResults)
				ai.mu.Unlock()
				if n > 0 {
					// Give a duplicate dispatch a moment to surface.
					time.Sleep(50 * time.Millisecond)
					close(sock.release)
					return
				}
				select {
				case <-deadline:
					close(sock.release)
					return
				case <-time.After(5 * time.Millisecond):
				}
			}
		}()
	})

	if got := len(m.Rows(store.TableReservations)); got != 1 {
		t.Fatalf("reservations = %d, want 1 despite duplicate invocation", got)
	}
	ai.mu.Lock()
	defer ai.mu.Unlock()
	if len(ai.toolResults) != 1 {
		t.Fatalf("tool results = %d", len(ai.toolResults))
	}
}

func TestSessionBargeInClearsPlayback(t *testing.T) {
	ai := newFakeAI()
	sock := newFakeSocket(startFrame("MS1", "CA1"))
	sock.release = make(chan struct{})

	runSessionWith(t, Config{Socket: sock, AI: ai}, func(*Session) {
		ai.events <- gemini.Interrupted{}
		go func() {
			deadline := time.After(2 * time.Second)
			for {
				if len(sock.frames(eventClear)) > 0 {
					close(sock.release)
					return
				}
				select {
				case <-deadline:
					close(sock.release)
					return
				case <-time.After(5 * time.Millisecond):
				}
			}
		}()
	})

	clears := sock.frames(eventClear)
	if len(clears) != 1 {
		t.Fatalf("clear frames = %d", len(clears))
	}
	if clears[0]["streamSid"] != "MS1" {
		t.Fatalf("streamSid = %v", clears[0]["streamSid"])
	}
	ai.mu.Lock()
	defer ai.mu.Unlock()
	if ai.interrupts != 1 {
		t.Fatalf("interrupts = %d", ai.interrupts)
	}
}

func TestSessionSurvivesMalformedFrames(t *testing.T) {
	m := store.NewMemoryStore()
	ai := newFakeAI()
	sock := newFakeSocket(
		`not json at all`,
		`{"event":"media"}`,
		`{"event":"media","media":{"payload":"!!not-base64!!"}}`,
		`{"event":"start","start":{"streamSid":"","callSid":""}}`,
		startFrame("MS1", "CA1"),
		`{"event":"mark"}`,
		`{"event":"stop"}`,
	)

	runSession(t, Config{
		Socket:     sock,
		AI:         ai,
		Store:      m,
		Dispatcher: tools.NewDispatcher(m, nil),
	})

	if len(m.Rows(store.TableCalls)) != 1 {
		t.Fatalf("calls = %d", len(m.Rows(store.TableCalls)))
	}
}

func TestSessionRunsWithoutStore(t *testing.T) {
	ai := newFakeAI()
	sock := newFakeSocket(
		startFrame("MS1", "CA1"),
		`{"event":"stop"}`,
	)
	runSession(t, Config{Socket: sock, AI: ai})
	if !ai.closed {
		t.Fatalf("AI session not closed")
	}
}

func TestSessionConnectFailure(t *testing.T) {
	ai := newFakeAI()
	ai.connectErr = fmt.Errorf("dial refused")
	s := New(Config{Socket: newFakeSocket(), AI: ai})
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %v", s.State())
	}
}

func TestSessionPropagatesOutboundCorrelation(t *testing.T) {
	m := store.NewMemoryStore()
	m.Seed(store.TableReservationRequests, store.Record{"id": "req-9", "status": store.RequestStatusCalling})
	ai := newFakeAI()
	sock := newFakeSocket(
		startFrame("MS1", "CA1"),
		`{"event":"stop"}`,
	)

	runSession(t, Config{
		Socket:     sock,
		AI:         ai,
		Store:      m,
		Dispatcher: tools.NewDispatcher(m, nil),
		Info: CallInfo{
			RequestID:    "req-9",
			RestaurantID: "rest-9",
			UserID:       "u-9",
		},
	})

	calls := m.Rows(store.TableCalls)
	c := calls[0]
	if c.String("request_id") != "req-9" || c.String("restaurant_id") != "rest-9" || c.String("user_id") != "u-9" {
		t.Fatalf("correlation fields = %+v", c)
	}
	reqs := m.Rows(store.TableReservationRequests)
	if reqs[0].String("status") != store.RequestStatusInProgress {
		t.Fatalf("request status = %q", reqs[0].String("status"))
	}
}
