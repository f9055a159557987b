// Package message defines the wire-agnostic conversation types shared by
// the planner, step executor, and task store: Message, Part, ToolCall, and
// ToolResponse. Part is a closed sum type; transports layer their own wire
// representations on top.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartKind tags which variant a Part holds.
type PartKind string

const (
	PartText     PartKind = "text"
	PartData     PartKind = "data"
	PartImage    PartKind = "image"
	PartToolCall PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
	PartArtifact PartKind = "artifact"
)

// Part is one piece of a Message's content. Exactly one of the typed fields
// matching Kind is populated; callers should switch on Kind rather than
// probe fields directly.
type Part struct {
	Kind PartKind

	Text string `json:"text,omitempty"`

	Data any `json:"data,omitempty"`

	// Image holds inline bytes, or ImageURL holds a remote reference —
	// at most one is set.
	Image    []byte `json:"image,omitempty"`
	ImageURL string `json:"image_url,omitempty"`

	ToolCall   *ToolCall     `json:"tool_call,omitempty"`
	ToolResult *ToolResponse `json:"tool_result,omitempty"`

	Artifact *ArtifactRef `json:"artifact,omitempty"`
}

// TextPart builds a Part carrying plain text.
func TextPart(text string) Part { return Part{Kind: PartText, Text: text} }

// DataPart builds a Part carrying arbitrary JSON-serializable data.
func DataPart(data any) Part { return Part{Kind: PartData, Data: data} }

// ImagePart builds a Part carrying inline image bytes.
func ImagePart(bytes []byte) Part { return Part{Kind: PartImage, Image: bytes} }

// ImageURLPart builds a Part referencing a remote image.
func ImageURLPart(url string) Part { return Part{Kind: PartImage, ImageURL: url} }

// ToolCallPart builds a Part wrapping a tool invocation request.
func ToolCallPart(tc *ToolCall) Part { return Part{Kind: PartToolCall, ToolCall: tc} }

// ToolResultPart builds a Part wrapping a tool invocation result.
func ToolResultPart(tr *ToolResponse) Part { return Part{Kind: PartToolResult, ToolResult: tr} }

// ArtifactPart builds a Part referencing a promoted artifact.
func ArtifactPart(ref *ArtifactRef) Part { return Part{Kind: PartArtifact, Artifact: ref} }

// ArtifactRef points at a stored artifact; large tool-result parts are
// promoted to artifacts instead of being carried inline.
type ArtifactRef struct {
	Name    string `json:"name"`
	Version int64  `json:"version"`
	MIME    string `json:"mime,omitempty"`
}

// Message is one append-only entry in a Task's history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Name      string    `json:"name,omitempty"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates a Message with a generated ID and the given timestamp. The
// caller supplies `now` rather than calling time.Now() here so that the
// monotonic created_at ordering stays under the caller's control — the task
// store is the ultimate arbiter of ordering on ties.
func New(role Role, now time.Time, parts ...Part) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Parts:     parts,
		CreatedAt: now,
	}
}

// Text concatenates all text parts of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCall is a single requested tool invocation.
type ToolCall struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Input      any    `json:"input"`
}

// NewToolCall creates a ToolCall with a generated ID.
func NewToolCall(toolName string, input any) *ToolCall {
	return &ToolCall{ToolCallID: uuid.NewString(), ToolName: toolName, Input: input}
}

// ToolResponse is the result of executing a ToolCall.
type ToolResponse struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Parts      []Part `json:"parts"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ErrorResponse builds a ToolResponse carrying a single error text part.
func ErrorResponse(toolCallID, toolName, errText string) *ToolResponse {
	return &ToolResponse{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Parts:      []Part{TextPart(errText)},
		IsError:    true,
	}
}

// Text concatenates all text parts of the response.
func (r *ToolResponse) Text() string {
	var out string
	for _, p := range r.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}
