// Package types defines the wire model shared by the session event stream
// and the out-of-band snapshot API.
package types

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleFunction  ChatRole = "function"
)

// MessagePart is one typed element of multi-part message content.
// The Type field is the discriminator: "text" or "audio".
type MessagePart struct {
	Type string `json:"type"`

	// text parts
	Text string `json:"text,omitempty"`

	// audio parts
	OAIType    string  `json:"oai_type,omitempty"`
	Transcript *string `json:"transcript,omitempty"`
	AudioB64   string  `json:"audio_b64,omitempty"`
}

const (
	PartTypeText  = "text"
	PartTypeAudio = "audio"
)

// TextPart builds a plain text message part.
func TextPart(text string) MessagePart {
	return MessagePart{Type: PartTypeText, Text: text}
}

// AudioPart builds an input-audio message part from base64 PCM data.
func AudioPart(audioB64 string) MessagePart {
	return MessagePart{Type: PartTypeAudio, OAIType: "input_audio", AudioB64: audioB64}
}

// MessageContent is the content of a chat message: plain text, null, or an
// ordered sequence of typed parts. Exactly one of Text/Parts is set; both nil
// means null content.
type MessageContent struct {
	Text  *string
	Parts []MessagePart
}

// TextContent builds plain-text content.
func TextContent(text string) MessageContent {
	return MessageContent{Text: &text}
}

// PartsContent builds multi-part content.
func PartsContent(parts ...MessagePart) MessageContent {
	return MessageContent{Parts: parts}
}

// IsNull reports whether the content is null.
func (c MessageContent) IsNull() bool {
	return c.Text == nil && c.Parts == nil
}

// Flatten returns the text of the content, concatenating the text and audio
// transcript parts of multi-part content.
func (c MessageContent) Flatten() string {
	if c.Text != nil {
		return *c.Text
	}
	var sb strings.Builder
	for _, part := range c.Parts {
		switch part.Type {
		case PartTypeText:
			sb.WriteString(part.Text)
		case PartTypeAudio:
			if part.Transcript != nil {
				sb.WriteString(*part.Transcript)
			}
		}
	}
	return sb.String()
}

// MarshalJSON encodes the content as a string, an array of parts, or null.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	switch {
	case c.Parts != nil:
		return json.Marshal(c.Parts)
	case c.Text != nil:
		return json.Marshal(*c.Text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a string, an array of parts, or null.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = MessageContent{}
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*c = MessageContent{Text: &text}
		return nil
	}
	var parts []MessagePart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*c = MessageContent{Parts: parts}
	return nil
}

// FunctionCall is the function invocation inside a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one requested tool invocation on an assistant message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ChatMessage is one entry in a node's chat history.
type ChatMessage struct {
	Role       ChatRole       `json:"role"`
	Content    MessageContent `json:"content"`
	Name       *string        `json:"name,omitempty"`
	ToolCallID *string        `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
}

// Text returns the flattened text of the message content.
func (m ChatMessage) Text() string {
	return m.Content.Flatten()
}

// UserMessage builds a plain-text user message.
func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: TextContent(text)}
}

// AssistantMessage builds a plain-text assistant message.
func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: TextContent(text)}
}
