package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/overhearing/oa-go/pkg/core/types"
	oa "github.com/overhearing/oa-go/sdk"
)

func newTestServer(t *testing.T) (*hub, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := newHub(logger)

	e := echo.New()
	e.HideBanner = true
	e.GET("/api/states", h.listStates)
	e.POST("/api/states", h.createState)
	e.GET("/api/states/:id", h.getState)
	e.DELETE("/api/states/:id", h.closeState)
	e.GET("/api/saves", h.listSaves)
	e.GET("/api/saves/:id", h.getSave)
	e.GET("/api/saves/:id/events", h.getSaveEvents)
	e.DELETE("/api/saves/:id", h.deleteSave)
	e.GET("/api/ws/:id", h.serveWS)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return h, srv
}

func TestMockRoundTrip(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := oa.NewClient(
		oa.WithBaseURL(srv.URL),
		oa.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	state, err := client.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(state.State) != 1 {
		t.Fatalf("new session has %d nodes, want just the root", len(state.State))
	}

	session := client.Session(state.ID)
	defer session.Close()
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	session.SendMessage("plan dinner")
	reply, err := session.WaitForFullReply(ctx)
	if err != nil {
		t.Fatalf("WaitForFullReply: %v", err)
	}
	if reply.Text() == "" {
		t.Fatal("empty reply text")
	}

	// The canned round spawns exactly one delegate under the root.
	store := session.Store()
	root, ok := store.Node(store.RootID())
	if !ok {
		t.Fatal("root missing from store")
	}
	if len(root.Children) != 1 {
		t.Fatalf("root has %d children, want 1", len(root.Children))
	}
	child, ok := store.Node(root.Children[0])
	if !ok {
		t.Fatal("child missing from store")
	}
	if len(child.ChatHistory) != 1 {
		t.Fatalf("child history = %d messages, want 1", len(child.ChatHistory))
	}
	if store.TokenUsageFor(child.ID).Total() == 0 {
		t.Fatal("no token usage recorded for the delegate")
	}
}

func TestMockCloseMovesSessionToSaves(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := oa.NewClient(
		oa.WithBaseURL(srv.URL),
		oa.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	state, err := client.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodDelete, srv.URL+"/api/states/"+state.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close status = %d", resp.StatusCode)
	}

	saves, err := client.ListSaves(ctx)
	if err != nil {
		t.Fatalf("ListSaves: %v", err)
	}
	if len(saves) != 1 || saves[0].ID != state.ID {
		t.Fatalf("saves = %+v, want the closed session", saves)
	}

	events, err := client.GetSaveEvents(ctx, state.ID)
	if err != nil {
		t.Fatalf("GetSaveEvents: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("save has no events")
	}
	if _, ok := events[0].(types.KaniSpawnEvent); !ok {
		t.Fatalf("first event is %T, want the root spawn", events[0])
	}

	// Replaying the save reconstructs the tree.
	store := oa.NewSessionStore(nil)
	store.ReplayEvents(events)
	if store.RootID() == "" {
		t.Fatal("replay produced no root")
	}

	if err := client.DeleteSave(ctx, state.ID); err != nil {
		t.Fatalf("DeleteSave: %v", err)
	}
	saves, err = client.ListSaves(ctx)
	if err != nil {
		t.Fatalf("ListSaves after delete: %v", err)
	}
	if len(saves) != 0 {
		t.Fatalf("saves = %d after delete, want 0", len(saves))
	}
}

func TestMarshaledFramesDecode(t *testing.T) {
	t.Parallel()
	s := newMockSession("hello")
	s.runRound("test message")

	s.mu.Lock()
	events := append([]types.ServerEvent(nil), s.events...)
	s.mu.Unlock()

	for _, ev := range events {
		frame, err := types.MarshalServerEvent(ev)
		if err != nil {
			t.Fatalf("marshal %T: %v", ev, err)
		}
		decoded, err := types.UnmarshalServerEvent(frame)
		if err != nil {
			t.Fatalf("decode %T frame: %v", ev, err)
		}
		if decoded.EventType() != ev.EventType() {
			t.Fatalf("round trip changed type: %s -> %s", ev.EventType(), decoded.EventType())
		}
	}
}
