package oa

import (
	"encoding/json"
	"testing"

	"github.com/overhearing/oa-go/pkg/core/types"
)

func strPtr(s string) *string { return &s }

func rootNode(id string) types.KaniState {
	return types.KaniState{ID: id, Depth: 0, State: types.RunStateStopped, Name: id}
}

func childNode(id, parent string, depth int) types.KaniState {
	return types.KaniState{ID: id, Depth: depth, Parent: strPtr(parent), State: types.RunStateStopped, Name: id}
}

func TestStoreSpawnRoot(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	store.HandleEvent(types.KaniSpawnEvent{State: rootNode("r")})

	if store.RootID() != "r" {
		t.Fatalf("RootID = %q, want %q", store.RootID(), "r")
	}
	if got := store.RootTranscript(); len(got) != 0 {
		t.Fatalf("root transcript has %d messages, want 0", len(got))
	}
}

func TestStoreRootTranscriptIsCopied(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	root := rootNode("r")
	root.ChatHistory = []types.ChatMessage{types.UserMessage("hello")}
	store.HandleEvent(types.KaniSpawnEvent{State: root})

	// Appending to the root node's history must not leak into the transcript
	// view; root_message events are its only append path.
	store.HandleEvent(types.KaniMessageEvent{ID: "r", Msg: types.AssistantMessage("hi")})

	if got := store.RootTranscript(); len(got) != 1 {
		t.Fatalf("root transcript has %d messages, want 1", len(got))
	}
	store.HandleEvent(types.RootMessageEvent{Msg: types.AssistantMessage("hi")})
	if got := store.RootTranscript(); len(got) != 2 {
		t.Fatalf("root transcript has %d messages after root_message, want 2", len(got))
	}
}

func TestStoreChildLinkIdempotent(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	store.HandleEvent(types.KaniSpawnEvent{State: rootNode("r")})
	store.HandleEvent(types.KaniSpawnEvent{State: childNode("c", "r", 1)})
	store.HandleEvent(types.KaniSpawnEvent{State: childNode("c", "r", 1)})

	root, ok := store.Node("r")
	if !ok {
		t.Fatal("root node missing")
	}
	if len(root.Children) != 1 || root.Children[0] != "c" {
		t.Fatalf("root children = %v, want [c]", root.Children)
	}
}

func TestStoreDuplicateSpawnKeepsStoredNode(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	store.HandleEvent(types.KaniSpawnEvent{State: rootNode("r")})
	first := childNode("c", "r", 1)
	first.Name = "first"
	store.HandleEvent(types.KaniSpawnEvent{State: first})

	dup := childNode("c", "r", 1)
	dup.Name = "second"
	store.HandleEvent(types.KaniSpawnEvent{State: dup})

	node, ok := store.Node("c")
	if !ok {
		t.Fatal("child node missing")
	}
	if node.Name != "first" {
		t.Fatalf("node name = %q, want the originally spawned node kept", node.Name)
	}
}

func TestStoreSingleRoot(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	store.HandleEvent(types.KaniSpawnEvent{State: rootNode("r1")})
	store.HandleEvent(types.KaniSpawnEvent{State: rootNode("r2")})

	if store.RootID() != "r1" {
		t.Fatalf("RootID = %q, want first root kept", store.RootID())
	}
	roots := 0
	for _, node := range store.Nodes() {
		if node.Parent == nil {
			roots++
		}
	}
	// Both parentless nodes live in the map, but only one is the root view.
	if roots != 2 {
		t.Fatalf("parentless nodes = %d, want 2 stored", roots)
	}
}

func TestStoreParentMissingDropsLink(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	store.HandleEvent(types.KaniSpawnEvent{State: childNode("orphan", "ghost", 3)})

	if _, ok := store.Node("orphan"); !ok {
		t.Fatal("orphan node should still be inserted")
	}
	if _, ok := store.Node("ghost"); ok {
		t.Fatal("ghost parent must not be synthesized")
	}
}

func TestStoreStateChange(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	store.HandleEvent(types.KaniSpawnEvent{State: rootNode("r")})
	store.HandleEvent(types.KaniStateChangeEvent{ID: "r", State: types.RunStateRunning})

	node, _ := store.Node("r")
	if node.State != types.RunStateRunning {
		t.Fatalf("state = %q, want running", node.State)
	}

	// Unknown id is dropped without effect.
	store.HandleEvent(types.KaniStateChangeEvent{ID: "nope", State: types.RunStateErrored})
}

func TestStoreStreamBufferAccumulatesAndSupersedes(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	store.HandleEvent(types.KaniSpawnEvent{State: rootNode("r")})
	store.HandleEvent(types.KaniSpawnEvent{State: childNode("c", "r", 1)})

	store.HandleEvent(types.StreamDeltaEvent{ID: "c", Delta: "Hel", Role: types.RoleAssistant})
	store.HandleEvent(types.StreamDeltaEvent{ID: "c", Delta: "lo", Role: types.RoleAssistant})

	if got := store.StreamBuffer("c"); got != "Hello" {
		t.Fatalf("buffer = %q, want %q", got, "Hello")
	}

	// Non-assistant deltas are ignored.
	store.HandleEvent(types.StreamDeltaEvent{ID: "c", Delta: "x", Role: types.RoleUser})
	if got := store.StreamBuffer("c"); got != "Hello" {
		t.Fatalf("buffer = %q after user delta, want unchanged", got)
	}

	store.HandleEvent(types.KaniMessageEvent{ID: "c", Msg: types.AssistantMessage("Hello")})
	if got := store.StreamBuffer("c"); got != "" {
		t.Fatalf("buffer = %q after completed message, want empty", got)
	}
	node, _ := store.Node("c")
	if len(node.ChatHistory) != 1 {
		t.Fatalf("chat history length = %d, want 1", len(node.ChatHistory))
	}
}

func TestStoreUnknownEventIsNoOp(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)
	store.HandleEvent(types.KaniSpawnEvent{State: rootNode("r")})

	before := len(store.Nodes())
	store.HandleEvent(types.UnknownEvent{Type: "future_event", Raw: json.RawMessage(`{"type":"future_event"}`)})

	if got := len(store.Nodes()); got != before {
		t.Fatalf("node count changed on unknown event: %d -> %d", before, got)
	}
}

func TestStoreSnapshotReplaces(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	a := rootNode("a")
	store.LoadState(&types.SessionState{
		State:             []types.KaniState{a},
		SuggestionHistory: []types.Suggestion{{ID: "s1", SuggestType: "followup"}},
	})
	if store.RootID() != "a" {
		t.Fatalf("RootID = %q, want a", store.RootID())
	}

	b := rootNode("b")
	store.LoadState(&types.SessionState{State: []types.KaniState{b, childNode("b1", "b", 1)}})

	if _, ok := store.Node("a"); ok {
		t.Fatal("node from snapshot A survived load of snapshot B")
	}
	if store.RootID() != "b" {
		t.Fatalf("RootID = %q, want b", store.RootID())
	}
	if got := len(store.Suggestions()); got != 0 {
		t.Fatalf("suggestions = %d after replace, want 0", got)
	}
}

func TestStoreSuggestionsAppendOnly(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	store.HandleEvent(types.SuggestionEvent{Suggestion: types.Suggestion{ID: "s1", SuggestType: "followup"}})
	store.HandleEvent(types.SuggestionEvent{Suggestion: types.Suggestion{ID: "s1", SuggestType: "followup"}})

	// Duplicate ids are accepted at face value, not deduplicated.
	if got := len(store.Suggestions()); got != 2 {
		t.Fatalf("suggestions = %d, want 2", got)
	}
}

func TestStoreTokenUsageAccumulates(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	store.HandleEvent(types.KaniSpawnEvent{State: rootNode("r")})
	store.HandleEvent(types.TokensUsedEvent{ID: "r", PromptTokens: 10, CompletionTokens: 5})
	store.HandleEvent(types.TokensUsedEvent{ID: "r", PromptTokens: 3, CompletionTokens: 2})

	usage := store.TokenUsageFor("r")
	if usage.Prompt != 13 || usage.Completion != 7 {
		t.Fatalf("usage = %+v, want prompt 13 completion 7", usage)
	}
	if total := store.TotalTokenUsage(); total.Total() != 20 {
		t.Fatalf("total = %d, want 20", total.Total())
	}
}

func TestStoreAudioSink(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	var got []byte
	store.SetAudioSink(func(pcm []byte) { got = append(got, pcm...) })

	// "AAEC" is base64 for bytes 0x00 0x01 0x02.
	store.HandleEvent(types.OutputAudioDeltaEvent{ID: "r", Delta: "AAEC"})
	if len(got) != 3 || got[1] != 0x01 {
		t.Fatalf("sink received %v, want [0 1 2]", got)
	}

	// Undecodable payloads are dropped, not fatal.
	store.HandleEvent(types.OutputAudioDeltaEvent{ID: "r", Delta: "!!!"})
	if len(got) != 3 {
		t.Fatalf("sink received %d bytes after bad delta, want 3", len(got))
	}
}

func TestStoreSessionMetaUpdate(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)
	store.HandleEvent(types.SessionMetaUpdateEvent{Title: "Kitchen chat"})
	if store.Title() != "Kitchen chat" {
		t.Fatalf("title = %q", store.Title())
	}
}

func TestStoreReplayEvents(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)

	store.ReplayEvents([]types.ServerEvent{
		types.KaniSpawnEvent{State: rootNode("r")},
		types.KaniSpawnEvent{State: childNode("c", "r", 1)},
		types.KaniMessageEvent{ID: "c", Msg: types.AssistantMessage("done")},
	})

	node, ok := store.Node("c")
	if !ok || len(node.ChatHistory) != 1 {
		t.Fatalf("replay did not build expected tree: ok=%v history=%d", ok, len(node.ChatHistory))
	}
}

func TestStoreAccessorsReturnCopies(t *testing.T) {
	t.Parallel()
	store := NewSessionStore(nil)
	store.HandleEvent(types.KaniSpawnEvent{State: rootNode("r")})
	store.HandleEvent(types.KaniSpawnEvent{State: childNode("c", "r", 1)})

	node, _ := store.Node("r")
	node.Children[0] = "mutated"

	fresh, _ := store.Node("r")
	if fresh.Children[0] != "c" {
		t.Fatal("mutating an accessor result leaked into the store")
	}
}
