package contract

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation log. The log is append-only and its
// insertion order is the causal dialogue order.
type Message struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// ToolInvocation is a tool call emitted by the model. It exists only for the
// duration of one turn; CallID correlates any later result.
type ToolInvocation struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	CallID    string          `json:"call_id"`
}

// ToolDef is one tool advertised to the model; stored as tenant data, never
// hard-coded.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type CapabilityKind string

const (
	CapabilityHTTP       CapabilityKind = "http"
	CapabilityRPC        CapabilityKind = "rpc"
	CapabilitySpecialist CapabilityKind = "specialist"
)

// Capability is a tenant-scoped binding from a tool name to a dispatch target.
type Capability struct {
	Name     string         `json:"name"`
	Kind     CapabilityKind `json:"kind"`
	Endpoint string         `json:"endpoint"`
	Async    bool           `json:"async"`
}

// DispatchPayload is what a routed skill receives. Depth counts delegated
// turns so a misconfigured specialist chain cannot recurse forever.
type DispatchPayload struct {
	CallID     string          `json:"tool_call_id"`
	TenantID   int64           `json:"tenant_id"`
	CustomerID int64           `json:"customer_id"`
	ChatHandle string          `json:"chat_handle"`
	Arguments  json.RawMessage `json:"arguments"`
	Depth      int             `json:"depth,omitempty"`
}

// ToolOutcome is the result of a resolved tool invocation, fed back to the
// model as a function-result turn.
type ToolOutcome struct {
	CallID string          `json:"tool_call_id"`
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result"`
}

type TurnStatus string

const (
	TurnDispatched TurnStatus = "dispatched"
	TurnFinal      TurnStatus = "final"
)

// TurnResult is the outcome of exactly one orchestrator turn: either a
// dispatched capability acknowledgement or a finalized customer reply.
type TurnResult struct {
	Status     TurnStatus `json:"status"`
	Capability string     `json:"dispatched_capability,omitempty"`
	Reply      string     `json:"final_text,omitempty"`
	// Skipped lists tool names that could not be routed; each failure was
	// isolated to its own call.
	Skipped []string `json:"skipped_capabilities,omitempty"`
}

type Category string

const (
	CategoryResponses  Category = "responses"
	CategoryHandoff    Category = "handoff"
	CategoryRecruiting Category = "recruiting"
	CategoryPartners   Category = "partners"
)

// NotificationTarget routes one staff recipient for one category.
type NotificationTarget struct {
	Category   Category `json:"category"`
	ChatHandle string   `json:"chat_handle"`
}

type MessagingProvider string

const (
	ProviderWAMe  MessagingProvider = "wame"
	ProviderCloud MessagingProvider = "cloud"
)

// MessagingCredentials parameterize the outbound-messaging provider call.
type MessagingCredentials struct {
	Provider MessagingProvider `json:"provider"`
	Token    string            `json:"token"`
	SenderID string            `json:"sender_id,omitempty"`
}
