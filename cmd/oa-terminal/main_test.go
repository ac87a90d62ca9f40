package main

import (
	"strings"
	"testing"

	"github.com/overhearing/oa-go/pkg/core/types"
	oa "github.com/overhearing/oa-go/sdk"
)

func TestParseTerminalConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := parseTerminalConfig(nil, func(string) string { return "" })
	if err != nil {
		t.Fatalf("parseTerminalConfig: %v", err)
	}
	if cfg.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, defaultBaseURL)
	}
	if cfg.Timeout != defaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, defaultTimeout)
	}
	if cfg.Mic || cfg.Speaker || cfg.ListOnly {
		t.Errorf("audio/list flags should default off: %+v", cfg)
	}
}

func TestParseTerminalConfigEnvBaseURL(t *testing.T) {
	t.Parallel()
	getenv := func(key string) string {
		if key == "OA_BASE_URL" {
			return "https://agents.example.com"
		}
		return ""
	}
	cfg, err := parseTerminalConfig(nil, getenv)
	if err != nil {
		t.Fatalf("parseTerminalConfig: %v", err)
	}
	if cfg.BaseURL != "https://agents.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}

	// An explicit flag still wins over the environment.
	cfg, err = parseTerminalConfig([]string{"-base-url", "http://other:9000"}, getenv)
	if err != nil {
		t.Fatalf("parseTerminalConfig with flag: %v", err)
	}
	if cfg.BaseURL != "http://other:9000" {
		t.Errorf("BaseURL = %q, want flag value", cfg.BaseURL)
	}
}

func TestParseTerminalConfigRejectsBadInput(t *testing.T) {
	t.Parallel()
	cases := [][]string{
		{"-base-url", ""},
		{"-base-url", "not a url"},
		{"-base-url", "http://user:pw@host"},
		{"-timeout", "0s"},
		{"-session", "abc", "-start", "hi"},
	}
	for _, args := range cases {
		if _, err := parseTerminalConfig(args, func(string) string { return "" }); err == nil {
			t.Errorf("parseTerminalConfig(%v) succeeded, want error", args)
		}
	}
}

func newTreeStore() *oa.SessionStore {
	store := oa.NewSessionStore(nil)
	parent := "r"
	store.ReplayEvents([]types.ServerEvent{
		types.KaniSpawnEvent{State: types.KaniState{ID: "r", Name: "root", State: types.RunStateWaiting}},
		types.KaniSpawnEvent{State: types.KaniState{ID: "a", Name: "cook", Parent: &parent, Depth: 1, State: types.RunStateRunning}},
		types.KaniSpawnEvent{State: types.KaniState{ID: "b", Name: "scout", Parent: &parent, Depth: 1, State: types.RunStateStopped}},
		types.TokensUsedEvent{ID: "a", PromptTokens: 7, CompletionTokens: 3},
	})
	return store
}

func TestRenderTree(t *testing.T) {
	t.Parallel()
	got := renderTree(newTreeStore())
	want := "root [waiting]\n  cook [running] tokens=10\n  scout [stopped]\n"
	if got != want {
		t.Errorf("renderTree:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderTreeNoRoot(t *testing.T) {
	t.Parallel()
	store := oa.NewSessionStore(nil)
	if got := renderTree(store); !strings.Contains(got, "no root") {
		t.Errorf("renderTree on empty store = %q", got)
	}
}

func TestRenderTreeShowsOrphans(t *testing.T) {
	t.Parallel()
	store := newTreeStore()
	ghost := "ghost"
	store.ReplayEvents([]types.ServerEvent{
		types.KaniSpawnEvent{State: types.KaniState{ID: "x", Name: "lost", Parent: &ghost, Depth: 2, State: types.RunStateStopped}},
	})
	got := renderTree(store)
	if !strings.Contains(got, "lost [stopped] (unlinked)") {
		t.Errorf("renderTree missing orphan line:\n%s", got)
	}
}

func TestHandleSlashCommand(t *testing.T) {
	t.Parallel()
	client := oa.NewClient()
	session := client.Session("test")
	session.Store().ReplayEvents([]types.ServerEvent{
		types.KaniSpawnEvent{State: types.KaniState{ID: "r", Name: "root", State: types.RunStateStopped}},
		types.SessionMetaUpdateEvent{Title: "Dinner plans"},
		types.TokensUsedEvent{ID: "r", PromptTokens: 4, CompletionTokens: 6},
	})

	var out strings.Builder
	if !handleSlashCommand("/title", session, &out) {
		t.Fatal("/title not handled")
	}
	if !strings.Contains(out.String(), "Dinner plans") {
		t.Errorf("/title output = %q", out.String())
	}

	out.Reset()
	if !handleSlashCommand("/tokens", session, &out) {
		t.Fatal("/tokens not handled")
	}
	if !strings.Contains(out.String(), "total=10") {
		t.Errorf("/tokens output = %q", out.String())
	}

	out.Reset()
	if !handleSlashCommand("/tree", session, &out) {
		t.Fatal("/tree not handled")
	}
	if !strings.Contains(out.String(), "root [stopped]") {
		t.Errorf("/tree output = %q", out.String())
	}

	if handleSlashCommand("not a command", session, &out) {
		t.Error("plain text treated as a command")
	}
}

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()
	if got := formatTimestamp(0); got != "-" {
		t.Errorf("formatTimestamp(0) = %q", got)
	}
	if got := formatTimestamp(1700000000); got != "2023-11-14T22:13:20Z" {
		t.Errorf("formatTimestamp = %q", got)
	}
}
