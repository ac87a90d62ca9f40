package types

import (
	"encoding/json"
)

// RunState is the execution state of one node in the agent tree.
type RunState string

const (
	// RunStateStopped: not currently running anything or waiting on a child.
	RunStateStopped RunState = "stopped"
	// RunStateRunning: the engine is generating.
	RunStateRunning RunState = "running"
	// RunStateWaiting: waiting on the results of a child node.
	RunStateWaiting RunState = "waiting"
	// RunStateErrored: hit a fatal error; internal state is indeterminate.
	RunStateErrored RunState = "errored"
)

// AIFunctionState describes one callable function exposed to a node's engine.
// Immutable after the node is created.
type AIFunctionState struct {
	Name         string         `json:"name"`
	Desc         string         `json:"desc"`
	AutoRetry    bool           `json:"auto_retry"`
	AutoTruncate *int           `json:"auto_truncate"`
	After        ChatRole       `json:"after"`
	JSONSchema   map[string]any `json:"json_schema"`
}

// KaniState is the server-assigned state of one node (a "kani") in the agent
// hierarchy. The client mirrors it; identity and descriptive fields are
// immutable after creation.
type KaniState struct {
	ID                     string            `json:"id"`
	Depth                  int               `json:"depth"`
	Parent                 *string           `json:"parent"`
	Children               []string          `json:"children"`
	AlwaysIncludedMessages []ChatMessage     `json:"always_included_messages"`
	ChatHistory            []ChatMessage     `json:"chat_history"`
	State                  RunState          `json:"state"`
	Name                   string            `json:"name"`
	EngineType             string            `json:"engine_type"`
	EngineRepr             string            `json:"engine_repr,omitempty"`
	Functions              []AIFunctionState `json:"functions"`
}

// IsRoot reports whether the node is root-shaped (no parent).
func (k *KaniState) IsRoot() bool {
	return k.Parent == nil
}

// Suggestion is a discriminated auxiliary recommendation surfaced to the
// user, independent of the chat tree. SuggestType selects the concrete
// payload schema; the full payload is preserved verbatim in Raw so
// unrecognized suggestion kinds survive a decode/encode round trip.
type Suggestion struct {
	ID          string
	SuggestType string
	Raw         json.RawMessage
}

// UnmarshalJSON decodes the discriminator fields and keeps the raw payload.
func (s *Suggestion) UnmarshalJSON(data []byte) error {
	var head struct {
		ID          string `json:"id"`
		SuggestType string `json:"suggest_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	s.ID = head.ID
	s.SuggestType = head.SuggestType
	s.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON re-emits the original payload when available.
func (s Suggestion) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return append(json.RawMessage(nil), s.Raw...), nil
	}
	return json.Marshal(struct {
		ID          string `json:"id"`
		SuggestType string `json:"suggest_type"`
	}{ID: s.ID, SuggestType: s.SuggestType})
}

// Payload decodes the type-specific suggestion fields into out.
func (s Suggestion) Payload(out any) error {
	if len(s.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(s.Raw, out)
}
