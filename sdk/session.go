package oa

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/overhearing/oa-go/pkg/core"
	"github.com/overhearing/oa-go/pkg/core/types"
)

// SessionClient owns one logical duplex connection to a session's event
// stream. It keeps a SessionStore in sync with the server, rebroadcasts
// inbound events on a typed bus, and reconnects with bounded jittered
// backoff after abnormal disconnects.
type SessionClient struct {
	client    *Client
	sessionID string
	logger    *slog.Logger

	store *SessionStore
	bus   *eventBus

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	// generation supersedes stale read and reconnect loops: each Connect or
	// Close bumps it, and loops belonging to an older generation stop
	// instead of touching connection state.
	generation atomic.Int64

	connected  atomic.Bool
	connecting atomic.Bool
	closed     atomic.Bool
	// terminal is set when the server sends session_close; no reconnect is
	// attempted afterwards.
	terminal atomic.Bool

	loaded    atomic.Bool
	readyOnce sync.Once
	readyCh   chan struct{}

	micSource MicSource
	micCloser io.Closer
	micMu     sync.Mutex
	micErr    error

	audioSink func(pcm []byte)

	maxReconnectAttempts int
	reconnectBase        time.Duration
}

// Session creates a client for one session id. Call Connect to open the
// event stream.
func (c *Client) Session(sessionID string, opts ...SessionOption) *SessionClient {
	s := &SessionClient{
		client:               c,
		sessionID:            sessionID,
		logger:               c.logger.With("session_id", sessionID),
		bus:                  newEventBus(),
		readyCh:              make(chan struct{}),
		maxReconnectAttempts: c.maxReconnectAttempts,
		reconnectBase:        time.Second,
	}
	s.store = NewSessionStore(s.logger)
	for _, opt := range opts {
		opt(s)
	}
	if s.audioSink != nil {
		s.store.SetAudioSink(s.audioSink)
	}
	return s
}

// Store returns the session's state store.
func (s *SessionClient) Store() *SessionStore { return s.store }

// ID returns the session id.
func (s *SessionClient) ID() string { return s.sessionID }

// Connected reports whether the event stream is currently open.
func (s *SessionClient) Connected() bool { return s.connected.Load() }

// MicErr returns the most recent microphone acquisition failure, if any.
// Audio capture is best-effort; a failure here never blocks the connection.
func (s *SessionClient) MicErr() error {
	s.micMu.Lock()
	defer s.micMu.Unlock()
	return s.micErr
}

// Connect opens the event stream, fetches the session snapshot into the
// store, and starts the read loop. Any prior connection or in-flight
// reconnect loop is superseded. A missing session surfaces as a *core.Error
// with type core.ErrNotFound.
func (s *SessionClient) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return core.NewConnectionError("session client is closed")
	}
	gen := s.generation.Add(1)
	s.closeConn(websocket.CloseNormalClosure)
	return s.connect(ctx, gen)
}

func (s *SessionClient) connect(ctx context.Context, gen int64) error {
	s.connecting.Store(true)
	defer s.connecting.Store(false)

	wsURL, err := s.client.websocketURL(s.sessionID)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return &TransportError{Op: "dial", URL: wsURL, Err: err}
	}

	// The snapshot is fetched on every connect, including reconnects, so the
	// store never resumes from a possibly gapped view.
	state, err := s.client.GetSessionState(ctx, s.sessionID)
	if err != nil {
		conn.Close()
		return err
	}

	if s.generation.Load() != gen {
		conn.Close()
		return core.NewConnectionError("connection superseded")
	}

	s.store.LoadState(state)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)
	s.logger.Info("session stream connected")

	go s.readLoop(conn, gen)
	go s.acquireMic()

	s.loaded.Store(true)
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.bus.publish(ReadyEvent{State: state})
	return nil
}

func (s *SessionClient) acquireMic() {
	if s.micSource == nil {
		return
	}
	s.micMu.Lock()
	defer s.micMu.Unlock()
	if s.micCloser != nil {
		return
	}
	closer, err := s.micSource(func(pcm []byte) {
		s.AppendAudio(pcm)
	})
	if err != nil {
		s.micErr = err
		s.logger.Warn("microphone unavailable, continuing without capture", "error", err)
		return
	}
	s.micErr = nil
	s.micCloser = closer
}

func (s *SessionClient) releaseMic() {
	s.micMu.Lock()
	defer s.micMu.Unlock()
	if s.micCloser != nil {
		s.micCloser.Close()
		s.micCloser = nil
	}
}

func (s *SessionClient) readLoop(conn *websocket.Conn, gen int64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.generation.Load() == gen {
				s.handleDisconnect(err, gen)
			}
			return
		}
		ev, decodeErr := types.UnmarshalServerEvent(data)
		if decodeErr != nil {
			s.logger.Warn("dropping malformed frame", "error", decodeErr)
			continue
		}
		if _, ok := ev.(types.SessionCloseEvent); ok {
			s.terminal.Store(true)
		}
		s.store.HandleEvent(ev)
		s.bus.publish(ev)
	}
}

func (s *SessionClient) handleDisconnect(err error, gen int64) {
	s.connected.Store(false)
	s.releaseMic()

	if s.closed.Load() || s.terminal.Load() {
		s.logger.Info("session stream closed")
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
		s.logger.Info("session stream closed cleanly")
		return
	}

	s.logger.Warn("session stream lost, reconnecting", "error", err)
	go s.reconnectLoop(gen)
}

// reconnectLoop retries connect with linear backoff plus jitter: attempt k
// waits k*reconnectBase plus uniform(0, reconnectBase). It stops on success,
// when superseded by a newer Connect/Close, or after maxReconnectAttempts,
// which is the terminal gave-up state.
func (s *SessionClient) reconnectLoop(gen int64) {
	for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
		delay := time.Duration(attempt)*s.reconnectBase + time.Duration(rand.Int63n(int64(s.reconnectBase)+1))
		time.Sleep(delay)

		if s.generation.Load() != gen || s.closed.Load() || s.terminal.Load() {
			return
		}

		err := s.connect(context.Background(), gen)
		if err == nil {
			s.logger.Info("session stream reconnected", "attempt", attempt)
			return
		}
		s.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}
	s.logger.Error("giving up on reconnection", "attempts", s.maxReconnectAttempts)
}

// Close sends a normal closure frame, releases the microphone, and tears
// down the bus. Idempotent; the client cannot be reused afterwards.
func (s *SessionClient) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.generation.Add(1)
	s.connected.Store(false)
	s.releaseMic()
	s.closeConn(websocket.CloseNormalClosure)
	s.bus.closeAll()
	return nil
}

func (s *SessionClient) closeConn(code int) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return
	}
	s.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	conn.Close()
}

// writeJSON sends one outbound frame. Sends are fire-and-forget: when the
// stream is not open the frame is dropped silently.
func (s *SessionClient) writeJSON(v any) {
	if !s.connected.Load() {
		return
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	s.writeMu.Lock()
	err := conn.WriteJSON(v)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warn("dropped outbound frame", "error", err)
	}
}

// SendMessage sends a user text message to the session.
func (s *SessionClient) SendMessage(content string) {
	s.writeJSON(types.NewSendMessage(content))
}

// SendAudioMessage sends a complete audio utterance as one message, with
// optional text wrapped around the transcription.
func (s *SessionClient) SendAudioMessage(pcm []byte, textPrefix, textSuffix *string) {
	dataB64 := base64.StdEncoding.EncodeToString(pcm)
	s.writeJSON(types.NewSendAudioMessage(dataB64, textPrefix, textSuffix))
}

// AppendAudio streams one chunk of raw input PCM to the session.
func (s *SessionClient) AppendAudio(pcm []byte) {
	dataB64 := base64.StdEncoding.EncodeToString(pcm)
	s.writeJSON(types.NewInputAudioDelta(dataB64))
}

// LogClientEvent sends a structured client-side telemetry record.
func (s *SessionClient) LogClientEvent(key string, data map[string]any) {
	s.writeJSON(types.NewClientEventLog(key, data))
}

// Subscribe registers for events of one type (or EventAll for every event).
// The returned cancel func must be called to release the subscription; it
// closes the channel.
func (s *SessionClient) Subscribe(eventType string) (<-chan types.ServerEvent, func()) {
	return s.bus.subscribe(eventType)
}

// WaitForReady blocks until the initial snapshot has been loaded. It returns
// immediately when the session is already loaded, so concurrent and repeated
// calls are all safe.
func (s *SessionClient) WaitForReady(ctx context.Context) error {
	if s.loaded.Load() {
		return nil
	}
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForFullReply blocks until the next completed root-level assistant
// reply: a root message with the assistant role and no tool calls, or a
// round_complete signal when such a message is already in the transcript.
// Each call installs its own listeners, so concurrent waiters each get
// their own first match.
func (s *SessionClient) WaitForFullReply(ctx context.Context) (*types.ChatMessage, error) {
	messages, cancelMessages := s.Subscribe(types.EventRootMessage)
	defer cancelMessages()
	rounds, cancelRounds := s.Subscribe(types.EventRoundComplete)
	defer cancelRounds()

	for {
		select {
		case ev, ok := <-messages:
			if !ok {
				return nil, core.NewConnectionError("session closed while waiting for reply")
			}
			msg, ok := ev.(types.RootMessageEvent)
			if !ok {
				continue
			}
			if isFullReply(msg.Msg) {
				reply := msg.Msg
				return &reply, nil
			}
		case _, ok := <-rounds:
			if !ok {
				return nil, core.NewConnectionError("session closed while waiting for reply")
			}
			// The round may have ended after its reply was delivered while
			// this waiter's channel was backed up; fall back to the
			// transcript.
			transcript := s.store.RootTranscript()
			for i := len(transcript) - 1; i >= 0; i-- {
				if isFullReply(transcript[i]) {
					reply := transcript[i]
					return &reply, nil
				}
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func isFullReply(msg types.ChatMessage) bool {
	return msg.Role == types.RoleAssistant && msg.ToolCalls == nil
}
