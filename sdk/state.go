package oa

import (
	"log/slog"
	"sync"

	"github.com/overhearing/oa-go/pkg/audio"
	"github.com/overhearing/oa-go/pkg/core/types"
)

// TokenUsage is the cumulative token count reported for one node.
type TokenUsage struct {
	Prompt     int
	Completion int
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int { return u.Prompt + u.Completion }

// SessionStore mirrors the server's agent tree for one session. It is a pure
// reducer over the inbound event stream plus a bulk snapshot load; all
// mutation goes through LoadState and HandleEvent, and accessors hand out
// copies rather than aliases into the live maps.
type SessionStore struct {
	mu sync.RWMutex

	nodes  map[string]*types.KaniState
	rootID string

	// rootTranscript mirrors the root node's messages plus any root_message
	// events, as its own copy.
	rootTranscript []types.ChatMessage

	// streamBuffers accumulates in-flight assistant text per node id until a
	// completed message for that node supersedes it.
	streamBuffers map[string]string

	suggestions []types.Suggestion
	tokens      map[string]TokenUsage
	title       string

	audioSink func(pcm []byte)
	logger    *slog.Logger
}

// NewSessionStore creates an empty store.
func NewSessionStore(logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		nodes:         make(map[string]*types.KaniState),
		streamBuffers: make(map[string]string),
		tokens:        make(map[string]TokenUsage),
		logger:        logger,
	}
}

// SetAudioSink routes decoded output audio to the given sink. Pass nil to
// discard audio deltas.
func (s *SessionStore) SetAudioSink(sink func(pcm []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioSink = sink
}

// LoadState replaces the store's contents with a full snapshot. The old node
// map is discarded, not merged into. Stream buffers are left alone; partial
// text from before a resync is irrelevant to the fresh snapshot.
func (s *SessionStore) LoadState(state *types.SessionState) {
	if s == nil || state == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]*types.KaniState, len(state.State))
	s.tokens = make(map[string]TokenUsage, len(state.State))
	s.rootID = ""
	s.rootTranscript = nil

	for i := range state.State {
		node := state.State[i]
		s.insertNodeLocked(&node)
	}

	s.suggestions = append([]types.Suggestion(nil), state.SuggestionHistory...)
}

// HandleEvent applies one inbound event to the store. It never fails:
// unknown event types and integrity violations are logged and skipped, since
// the server is authoritative and the next snapshot load heals any gap.
func (s *SessionStore) HandleEvent(ev types.ServerEvent) {
	if s == nil || ev == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case types.KaniSpawnEvent:
		s.handleSpawnLocked(&e.State)
	case types.KaniStateChangeEvent:
		s.handleStateChangeLocked(e.ID, e.State)
	case types.TokensUsedEvent:
		s.handleTokensUsedLocked(e)
	case types.KaniMessageEvent:
		s.handleMessageLocked(e.ID, e.Msg)
	case types.RootMessageEvent:
		s.rootTranscript = append(s.rootTranscript, e.Msg)
	case types.StreamDeltaEvent:
		s.handleStreamDeltaLocked(e)
	case types.OutputAudioDeltaEvent:
		s.handleAudioDeltaLocked(e)
	case types.SuggestionEvent:
		s.suggestions = append(s.suggestions, e.Suggestion)
	case types.SessionMetaUpdateEvent:
		s.title = e.Title
	case types.ErrorEvent:
		s.logger.Warn("server reported error", "message", e.Msg)
	case types.RoundCompleteEvent, types.SessionCloseEvent:
		// Lifecycle signals; no tree mutation. The session client reacts to
		// these on the bus.
	case types.UnknownEvent:
		s.logger.Debug("ignoring unknown event type", "type", e.Type)
	default:
		s.logger.Debug("ignoring unhandled event", "type", ev.EventType())
	}
}

// ReplayEvents applies a recorded event log in order, e.g. a save's event
// stream fetched via Client.GetSaveEvents.
func (s *SessionStore) ReplayEvents(events []types.ServerEvent) {
	for _, ev := range events {
		s.HandleEvent(ev)
	}
}

func (s *SessionStore) insertNodeLocked(node *types.KaniState) {
	if _, exists := s.nodes[node.ID]; exists {
		// Duplicate spawn keeps the stored node; only child linking proceeds.
		node = s.nodes[node.ID]
	} else {
		s.nodes[node.ID] = node
	}

	if node.IsRoot() {
		if s.rootID == "" {
			s.rootID = node.ID
			s.rootTranscript = append([]types.ChatMessage(nil), node.ChatHistory...)
		}
		return
	}

	parent, ok := s.nodes[*node.Parent]
	if !ok {
		s.logger.Warn("spawned node references unknown parent", "id", node.ID, "parent", *node.Parent)
		return
	}
	for _, child := range parent.Children {
		if child == node.ID {
			return
		}
	}
	parent.Children = append(parent.Children, node.ID)
}

func (s *SessionStore) handleSpawnLocked(state *types.KaniState) {
	node := *state
	s.insertNodeLocked(&node)
}

func (s *SessionStore) handleStateChangeLocked(id string, state types.RunState) {
	node, ok := s.nodes[id]
	if !ok {
		s.logger.Warn("state change for unknown node", "id", id)
		return
	}
	node.State = state
}

func (s *SessionStore) handleTokensUsedLocked(e types.TokensUsedEvent) {
	if _, ok := s.nodes[e.ID]; !ok {
		s.logger.Warn("token usage for unknown node", "id", e.ID)
		return
	}
	usage := s.tokens[e.ID]
	usage.Prompt += e.PromptTokens
	usage.Completion += e.CompletionTokens
	s.tokens[e.ID] = usage
}

func (s *SessionStore) handleMessageLocked(id string, msg types.ChatMessage) {
	node, ok := s.nodes[id]
	if !ok {
		s.logger.Warn("message for unknown node", "id", id)
		return
	}
	node.ChatHistory = append(node.ChatHistory, msg)
	// A completed message supersedes any in-flight partial for this node.
	delete(s.streamBuffers, id)
}

func (s *SessionStore) handleStreamDeltaLocked(e types.StreamDeltaEvent) {
	if e.Role != types.RoleAssistant {
		return
	}
	s.streamBuffers[e.ID] += e.Delta
}

func (s *SessionStore) handleAudioDeltaLocked(e types.OutputAudioDeltaEvent) {
	if s.audioSink == nil {
		return
	}
	pcm, err := audio.DecodePCM(e.Delta)
	if err != nil {
		s.logger.Warn("dropping undecodable audio delta", "id", e.ID, "error", err)
		return
	}
	s.audioSink(pcm)
}

// RootID returns the root node's id, or "" when no root is known.
func (s *SessionStore) RootID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootID
}

// Node returns a copy of one node, or false when the id is unknown.
func (s *SessionStore) Node(id string) (types.KaniState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return types.KaniState{}, false
	}
	return copyNode(node), true
}

// Nodes returns a copy of every node keyed by id.
func (s *SessionStore) Nodes() map[string]types.KaniState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.KaniState, len(s.nodes))
	for id, node := range s.nodes {
		out[id] = copyNode(node)
	}
	return out
}

// RootTranscript returns a copy of the root-level message transcript.
func (s *SessionStore) RootTranscript() []types.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.ChatMessage(nil), s.rootTranscript...)
}

// StreamBuffer returns the in-progress assistant text for one node; "" when
// nothing is buffered.
func (s *SessionStore) StreamBuffer(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamBuffers[id]
}

// Suggestions returns a copy of the suggestion history in arrival order.
func (s *SessionStore) Suggestions() []types.Suggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Suggestion(nil), s.suggestions...)
}

// TokenUsageFor returns the cumulative token usage reported for one node.
func (s *SessionStore) TokenUsageFor(id string) TokenUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[id]
}

// TotalTokenUsage sums token usage across all nodes.
func (s *SessionStore) TotalTokenUsage() TokenUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total TokenUsage
	for _, usage := range s.tokens {
		total.Prompt += usage.Prompt
		total.Completion += usage.Completion
	}
	return total
}

// Title returns the session title, updated by session_meta_update events.
func (s *SessionStore) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

func copyNode(node *types.KaniState) types.KaniState {
	out := *node
	out.Children = append([]string(nil), node.Children...)
	out.AlwaysIncludedMessages = append([]types.ChatMessage(nil), node.AlwaysIncludedMessages...)
	out.ChatHistory = append([]types.ChatMessage(nil), node.ChatHistory...)
	out.Functions = append([]types.AIFunctionState(nil), node.Functions...)
	return out
}
