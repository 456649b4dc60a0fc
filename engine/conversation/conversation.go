package conversation

import (
	"context"
	"errors"
	"strings"

	contractx "github.com/ajudei/concierge/engine/contract"
)

var (
	// ErrHandleConflict means the stored last-response handle moved while this
	// turn was running; the compare-and-swap lost.
	ErrHandleConflict = errors.New("conversation handle changed concurrently")
)

// Customer is an identity keyed by an external messaging handle.
type Customer struct {
	ID         int64  `json:"id"`
	TenantID   int64  `json:"tenant_id"`
	UUID       string `json:"uuid"`
	ChatHandle string `json:"chat_handle"`
}

// Conversation holds one customer's ordered message log plus the opaque
// handles a stateful model backend needs. Created on first inbound message,
// mutated only by append, never hard-deleted.
type Conversation struct {
	ID       int64    `json:"id"`
	TenantID int64    `json:"tenant_id"`
	Customer Customer `json:"customer"`

	// Handle is the model-side conversation handle; LastResponseHandle always
	// reflects the most recently stored model turn, whether or not its side
	// effect has completed.
	Handle             string `json:"handle,omitempty"`
	LastResponseHandle string `json:"last_response_handle,omitempty"`

	// At most one tool invocation is unresolved per conversation.
	PendingCallID   string `json:"pending_call_id,omitempty"`
	PendingToolName string `json:"pending_tool_name,omitempty"`

	Messages []contractx.Message `json:"messages,omitempty"`
}

// Ref addresses a conversation either directly or by the customer's
// messaging handle (first contact creates the conversation).
type Ref struct {
	ConversationID int64
	TenantID       int64
	ChatHandle     string
}

// Store is the persistence contract used by the orchestrator.
type Store interface {
	Resolve(ctx context.Context, ref Ref) (*Conversation, error)
	Append(ctx context.Context, conversationID int64, msgs ...contractx.Message) error
	// UpdateHandles swaps the stored handles only when expectLastResponse
	// still matches; ErrHandleConflict otherwise.
	UpdateHandles(ctx context.Context, conversationID int64, expectLastResponse, handle, lastResponse string) error
	SetPending(ctx context.Context, conversationID int64, callID, toolName string) error
	ClearPending(ctx context.Context, conversationID int64, callID string) error
}

// LastUserText returns the newest user utterance, or "".
func (c *Conversation) LastUserText() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Role == contractx.RoleUser && strings.TrimSpace(m.Content) != "" {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}

// HasToolResult reports whether a tool message for callID was already
// appended; used to make tool-result callbacks idempotent.
func (c *Conversation) HasToolResult(callID string) bool {
	if strings.TrimSpace(callID) == "" {
		return false
	}
	for _, m := range c.Messages {
		if m.Role == contractx.RoleTool && m.ToolCallID == callID {
			return true
		}
	}
	return false
}
