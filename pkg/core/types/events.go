package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Server event type tags. These are the topics on the session event bus.
const (
	EventError             = "error"
	EventKaniSpawn         = "kani_spawn"
	EventKaniStateChange   = "kani_state_change"
	EventTokensUsed        = "tokens_used"
	EventKaniMessage       = "kani_message"
	EventRootMessage       = "root_message"
	EventStreamDelta       = "stream_delta"
	EventOutputAudioDelta  = "output_audio_delta"
	EventRoundComplete     = "round_complete"
	EventSessionClose      = "session_close"
	EventSessionMetaUpdate = "session_meta_update"
	EventSuggestion        = "suggestion"
)

// ServerEvent is one event from the session event stream.
//
// The union is closed over the tags above plus UnknownEvent, which absorbs
// any tag added by newer servers so decoding is total.
type ServerEvent interface {
	// EventType returns the wire tag of the event.
	EventType() string
}

// ErrorEvent carries a human-readable error notification from the server.
type ErrorEvent struct {
	Timestamp float64 `json:"timestamp"`
	Msg       string  `json:"msg"`
}

func (e ErrorEvent) EventType() string { return EventError }

// KaniSpawnEvent announces a new node, including its full state.
type KaniSpawnEvent struct {
	Timestamp float64   `json:"timestamp"`
	State     KaniState `json:"state"`
}

func (e KaniSpawnEvent) EventType() string { return EventKaniSpawn }

// KaniStateChangeEvent announces a node's run state change.
type KaniStateChangeEvent struct {
	Timestamp float64  `json:"timestamp"`
	ID        string   `json:"id"`
	State     RunState `json:"state"`
}

func (e KaniStateChangeEvent) EventType() string { return EventKaniStateChange }

// TokensUsedEvent reports token usage for one engine request by a node.
type TokensUsedEvent struct {
	Timestamp        float64 `json:"timestamp"`
	ID               string  `json:"id"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
}

func (e TokensUsedEvent) EventType() string { return EventTokensUsed }

// KaniMessageEvent announces a completed message in a node's chat history.
type KaniMessageEvent struct {
	Timestamp float64     `json:"timestamp"`
	ID        string      `json:"id"`
	Msg       ChatMessage `json:"msg"`
}

func (e KaniMessageEvent) EventType() string { return EventKaniMessage }

// RootMessageEvent mirrors a completed root-node message. Fired in addition
// to the node-level kani_message event.
type RootMessageEvent struct {
	Timestamp float64     `json:"timestamp"`
	Msg       ChatMessage `json:"msg"`
}

func (e RootMessageEvent) EventType() string { return EventRootMessage }

// StreamDeltaEvent carries one in-progress text fragment for a node.
type StreamDeltaEvent struct {
	Timestamp float64  `json:"timestamp"`
	ID        string   `json:"id"`
	Delta     string   `json:"delta"`
	Role      ChatRole `json:"role"`
	IsRoot    *bool    `json:"is_root,omitempty"`
}

func (e StreamDeltaEvent) EventType() string { return EventStreamDelta }

// OutputAudioDeltaEvent carries one base64-encoded PCM chunk of the audio a
// node is currently playing.
type OutputAudioDeltaEvent struct {
	Timestamp float64 `json:"timestamp"`
	ID        string  `json:"id"`
	Delta     string  `json:"delta"`
}

func (e OutputAudioDeltaEvent) EventType() string { return EventOutputAudioDelta }

// RoundCompleteEvent signals the root node finished a full round and control
// is back with the user.
type RoundCompleteEvent struct {
	Timestamp float64 `json:"timestamp"`
	SessionID string  `json:"session_id"`
}

func (e RoundCompleteEvent) EventType() string { return EventRoundComplete }

// SessionCloseEvent signals the session is closing; clients should not
// attempt to reconnect.
type SessionCloseEvent struct {
	Timestamp float64 `json:"timestamp"`
	SessionID string  `json:"session_id"`
}

func (e SessionCloseEvent) EventType() string { return EventSessionClose }

// SessionMetaUpdateEvent announces a change to the session metadata.
type SessionMetaUpdateEvent struct {
	Timestamp float64 `json:"timestamp"`
	Title     string  `json:"title"`
}

func (e SessionMetaUpdateEvent) EventType() string { return EventSessionMetaUpdate }

// SuggestionEvent appends one suggestion to the suggestion history.
type SuggestionEvent struct {
	Timestamp  float64    `json:"timestamp"`
	Suggestion Suggestion `json:"suggestion"`
}

func (e SuggestionEvent) EventType() string { return EventSuggestion }

// UnknownEvent is the fallback variant for tags this client does not
// recognize. Handling it is a no-op; the raw frame is kept for logging.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) EventType() string { return e.Type }

// UnmarshalServerEvent decodes one text frame from the event stream.
//
// A missing or undecodable envelope is an error (the frame is malformed); an
// unrecognized tag is not, and yields an UnknownEvent.
func UnmarshalServerEvent(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("event frame missing type")
	}

	decode := func(v any) error {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode %s: %w", typ, err)
		}
		return nil
	}

	switch typ {
	case EventError:
		var ev ErrorEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventKaniSpawn:
		var ev KaniSpawnEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventKaniStateChange:
		var ev KaniStateChangeEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventTokensUsed:
		var ev TokensUsedEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventKaniMessage:
		var ev KaniMessageEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventRootMessage:
		var ev RootMessageEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventStreamDelta:
		var ev StreamDeltaEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventOutputAudioDelta:
		var ev OutputAudioDeltaEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventRoundComplete:
		var ev RoundCompleteEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventSessionClose:
		var ev SessionCloseEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventSessionMetaUpdate:
		var ev SessionMetaUpdateEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventSuggestion:
		var ev SuggestionEvent
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return UnknownEvent{
			Type: typ,
			Raw:  append(json.RawMessage(nil), data...),
		}, nil
	}
}

// MarshalServerEvent encodes one event as a wire frame, injecting the type
// tag alongside the event's own fields. The inverse of UnmarshalServerEvent.
func MarshalServerEvent(ev ServerEvent) ([]byte, error) {
	if unknown, ok := ev.(UnknownEvent); ok && len(unknown.Raw) > 0 {
		return append(json.RawMessage(nil), unknown.Raw...), nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	tag, err := json.Marshal(ev.EventType())
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// Client event type tags.
const (
	EventSendMessage      = "send_message"
	EventSendAudioMessage = "send_audio_message"
	EventInputAudioDelta  = "input_audio_delta"
	EventLogClientEvent   = "log_client_event"
)

// SendMessage sends one user text message.
type SendMessage struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	Content   string  `json:"content"`
}

// SendAudioMessage sends one complete audio query, optionally wrapped in
// text.
type SendAudioMessage struct {
	Type       string  `json:"type"`
	Timestamp  float64 `json:"timestamp"`
	DataB64    string  `json:"data_b64"`
	TextPrefix *string `json:"text_prefix,omitempty"`
	TextSuffix *string `json:"text_suffix,omitempty"`
}

// InputAudioDelta streams one chunk of captured input audio.
type InputAudioDelta struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	DataB64   string  `json:"data_b64"`
}

// ClientEventLog carries arbitrary client-side telemetry for later analysis.
// It does not affect server state.
type ClientEventLog struct {
	Type      string         `json:"type"`
	Timestamp float64        `json:"timestamp"`
	Key       string         `json:"key"`
	Data      map[string]any `json:"data"`
}

// NewSendMessage builds a send_message frame stamped with the current time.
func NewSendMessage(content string) SendMessage {
	return SendMessage{Type: EventSendMessage, Timestamp: nowTimestamp(), Content: content}
}

// NewSendAudioMessage builds a send_audio_message frame.
func NewSendAudioMessage(dataB64 string, textPrefix, textSuffix *string) SendAudioMessage {
	return SendAudioMessage{
		Type:       EventSendAudioMessage,
		Timestamp:  nowTimestamp(),
		DataB64:    dataB64,
		TextPrefix: textPrefix,
		TextSuffix: textSuffix,
	}
}

// NewInputAudioDelta builds an input_audio_delta frame.
func NewInputAudioDelta(dataB64 string) InputAudioDelta {
	return InputAudioDelta{Type: EventInputAudioDelta, Timestamp: nowTimestamp(), DataB64: dataB64}
}

// NewClientEventLog builds a log_client_event frame.
func NewClientEventLog(key string, data map[string]any) ClientEventLog {
	return ClientEventLog{Type: EventLogClientEvent, Timestamp: nowTimestamp(), Key: key, Data: data}
}

func nowTimestamp() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
