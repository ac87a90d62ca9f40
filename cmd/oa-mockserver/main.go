// Command oa-mockserver is a development stand-in for an overhearing-agents
// session server. It serves the snapshot and saves API plus the websocket
// event stream, and answers every user message with a canned delegation
// round: a child agent spawns, streams a reply, and reports back to the
// root. Useful for exercising clients without any model backend.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/overhearing/oa-go/internal/envfile"
	"github.com/overhearing/oa-go/pkg/core/types"
)

const defaultAddr = "127.0.0.1:8000"

func nowTS() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// mockSession is one in-memory session: its node tree, its event log, and
// the websocket connections watching it.
type mockSession struct {
	mu     sync.Mutex
	meta   types.SessionMeta
	nodes  []types.KaniState
	events []types.ServerEvent
	conns  map[*websocket.Conn]struct{}

	writeMu sync.Mutex
}

func newMockSession(startContent string) *mockSession {
	now := nowTS()
	s := &mockSession{
		meta: types.SessionMeta{
			ID:           uuid.NewString(),
			Created:      now,
			LastModified: now,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
	root := types.KaniState{
		ID:         uuid.NewString(),
		State:      types.RunStateStopped,
		Name:       "root",
		EngineType: "MockEngine",
	}
	s.nodes = append(s.nodes, root)
	s.record(types.KaniSpawnEvent{Timestamp: now, State: root})
	if strings.TrimSpace(startContent) != "" {
		s.record(types.RootMessageEvent{Timestamp: now, Msg: types.UserMessage(startContent)})
	}
	return s
}

// record appends to the event log and broadcasts to every watcher. Callers
// must not hold s.mu.
func (s *mockSession) record(ev types.ServerEvent) {
	frame, err := types.MarshalServerEvent(ev)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	s.meta.NEvents = len(s.events)
	s.meta.LastModified = nowTS()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, conn := range conns {
		conn.WriteMessage(websocket.TextMessage, frame)
	}
}

func (s *mockSession) metaCopy() types.SessionMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

func (s *mockSession) snapshot() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SessionState{
		SessionMeta: s.meta,
		State:       append([]types.KaniState(nil), s.nodes...),
	}
}

func (s *mockSession) rootID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[0].ID
}

func (s *mockSession) addNode(node types.KaniState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = append(s.nodes, node)
	if node.Parent != nil {
		for i := range s.nodes {
			if s.nodes[i].ID == *node.Parent {
				s.nodes[i].Children = append(s.nodes[i].Children, node.ID)
				break
			}
		}
	}
}

func (s *mockSession) setNodeState(id string, state types.RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.nodes {
		if s.nodes[i].ID == id {
			s.nodes[i].State = state
			return
		}
	}
}

func (s *mockSession) attach(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *mockSession) detach(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// runRound plays the canned delegation script in response to one user
// message: the root delegates to a fresh child, the child streams its
// answer, and the root relays it.
func (s *mockSession) runRound(content string) {
	rootID := s.rootID()
	s.record(types.RootMessageEvent{Timestamp: nowTS(), Msg: types.UserMessage(content)})
	s.setNodeState(rootID, types.RunStateWaiting)
	s.record(types.KaniStateChangeEvent{Timestamp: nowTS(), ID: rootID, State: types.RunStateWaiting})

	child := types.KaniState{
		ID:         uuid.NewString(),
		Depth:      1,
		Parent:     &rootID,
		State:      types.RunStateRunning,
		Name:       "delegate-" + uuid.NewString()[:8],
		EngineType: "MockEngine",
	}
	s.addNode(child)
	s.record(types.KaniSpawnEvent{Timestamp: nowTS(), State: child})

	reply := fmt.Sprintf("Understood: %q. Nothing further to do.", content)
	for _, word := range strings.SplitAfter(reply, " ") {
		s.record(types.StreamDeltaEvent{Timestamp: nowTS(), ID: child.ID, Delta: word, Role: types.RoleAssistant})
		time.Sleep(20 * time.Millisecond)
	}
	s.record(types.KaniMessageEvent{Timestamp: nowTS(), ID: child.ID, Msg: types.AssistantMessage(reply)})
	s.record(types.TokensUsedEvent{Timestamp: nowTS(), ID: child.ID, PromptTokens: 20, CompletionTokens: 10})
	s.setNodeState(child.ID, types.RunStateStopped)
	s.record(types.KaniStateChangeEvent{Timestamp: nowTS(), ID: child.ID, State: types.RunStateStopped})

	s.record(types.RootMessageEvent{Timestamp: nowTS(), Msg: types.AssistantMessage(reply)})
	s.setNodeState(rootID, types.RunStateStopped)
	s.record(types.KaniStateChangeEvent{Timestamp: nowTS(), ID: rootID, State: types.RunStateStopped})
	s.record(types.RoundCompleteEvent{Timestamp: nowTS(), SessionID: s.meta.ID})
}

// hub is the in-memory session registry behind the HTTP handlers. Closed
// sessions move to saves.
type hub struct {
	mu       sync.Mutex
	sessions map[string]*mockSession
	saves    map[string]*mockSession
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		sessions: make(map[string]*mockSession),
		saves:    make(map[string]*mockSession),
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *hub) listStates(c echo.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.SessionMeta, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.metaCopy())
	}
	return c.JSON(http.StatusOK, out)
}

func (h *hub) createState(c echo.Context) error {
	var body struct {
		StartContent string `json:"start_content"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	s := newMockSession(body.StartContent)
	h.mu.Lock()
	h.sessions[s.meta.ID] = s
	h.mu.Unlock()
	h.logger.Info("created session", "session_id", s.meta.ID)
	if strings.TrimSpace(body.StartContent) != "" {
		go s.runRound(body.StartContent)
	}
	return c.JSON(http.StatusOK, s.snapshot())
}

func (h *hub) session(id string) (*mockSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

func (h *hub) getState(c echo.Context) error {
	s, ok := h.session(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such session")
	}
	return c.JSON(http.StatusOK, s.snapshot())
}

func (h *hub) listSaves(c echo.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.SaveMeta, 0, len(h.saves))
	for _, s := range h.saves {
		out = append(out, types.SaveMeta{SessionMeta: s.metaCopy()})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *hub) getSave(c echo.Context) error {
	h.mu.Lock()
	s, ok := h.saves[c.Param("id")]
	h.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such save")
	}
	return c.JSON(http.StatusOK, s.snapshot())
}

func (h *hub) getSaveEvents(c echo.Context) error {
	h.mu.Lock()
	s, ok := h.saves[c.Param("id")]
	h.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such save")
	}
	s.mu.Lock()
	events := append([]types.ServerEvent(nil), s.events...)
	s.mu.Unlock()

	frames := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		frame, err := types.MarshalServerEvent(ev)
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return c.JSON(http.StatusOK, frames)
}

func (h *hub) deleteSave(c echo.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.saves[c.Param("id")]; !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such save")
	}
	delete(h.saves, c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// closeState moves a session to saves and tells watchers the session is
// over; clients seeing session_close do not reconnect.
func (h *hub) closeState(c echo.Context) error {
	id := c.Param("id")
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
		h.saves[id] = s
	}
	h.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such session")
	}
	s.record(types.SessionCloseEvent{Timestamp: nowTS(), SessionID: id})
	h.logger.Info("session closed", "session_id", id)
	return c.NoContent(http.StatusNoContent)
}

func (h *hub) serveWS(c echo.Context) error {
	s, ok := h.session(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such session")
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	s.attach(conn)
	h.logger.Info("client connected", "session_id", s.meta.ID)

	defer func() {
		s.detach(conn)
		conn.Close()
		h.logger.Info("client disconnected", "session_id", s.meta.ID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		h.handleClientFrame(s, data)
	}
}

func (h *hub) handleClientFrame(s *mockSession, data []byte) {
	var envelope struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		Key     string `json:"key"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		h.logger.Warn("dropping malformed client frame", "error", err)
		return
	}
	switch envelope.Type {
	case types.EventSendMessage:
		go s.runRound(envelope.Content)
	case types.EventSendAudioMessage:
		go s.runRound("(audio message)")
	case types.EventInputAudioDelta:
		// Accepted and discarded; nothing transcribes here.
	case types.EventLogClientEvent:
		h.logger.Debug("client event", "session_id", s.meta.ID, "key", envelope.Key)
	default:
		h.logger.Warn("unknown client frame", "type", envelope.Type)
	}
}

func main() {
	if err := envfile.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "oa-mockserver: %v\n", err)
		os.Exit(1)
	}

	addr := flag.String("addr", defaultAddr, "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	h := newHub(logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetOutput(io.Discard)

	e.GET("/api/states", h.listStates)
	e.POST("/api/states", h.createState)
	e.GET("/api/states/:id", h.getState)
	e.DELETE("/api/states/:id", h.closeState)
	e.GET("/api/saves", h.listSaves)
	e.GET("/api/saves/:id", h.getSave)
	e.GET("/api/saves/:id/events", h.getSaveEvents)
	e.DELETE("/api/saves/:id", h.deleteSave)
	e.GET("/api/ws/:id", h.serveWS)

	logger.Info("mock session server listening", "addr", *addr)
	if err := e.Start(*addr); err != nil && err != http.ErrServerClosed {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
