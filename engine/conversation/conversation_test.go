package conversation

import (
	"testing"

	contractx "github.com/ajudei/concierge/engine/contract"
)

func TestLastUserText(t *testing.T) {
	t.Parallel()

	c := &Conversation{Messages: []contractx.Message{
		{Role: contractx.RoleUser, Content: "oi"},
		{Role: contractx.RoleAssistant, Content: "olá!"},
		{Role: contractx.RoleUser, Content: "  tem mesa?  "},
		{Role: contractx.RoleAssistant, ToolCallID: "call_1", ToolName: "agendar", Content: `{}`},
	}}

	if got := c.LastUserText(); got != "tem mesa?" {
		t.Fatalf("LastUserText = %q", got)
	}

	empty := &Conversation{}
	if got := empty.LastUserText(); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestHasToolResult(t *testing.T) {
	t.Parallel()

	c := &Conversation{Messages: []contractx.Message{
		{Role: contractx.RoleAssistant, ToolCallID: "call_1", ToolName: "agendar", Content: `{}`},
		{Role: contractx.RoleTool, ToolCallID: "call_1", ToolName: "agendar", Content: `{"ok":true}`},
	}}

	if !c.HasToolResult("call_1") {
		t.Fatal("expected call_1 resolved")
	}
	if c.HasToolResult("call_2") {
		t.Fatal("call_2 was never resolved")
	}
	// an assistant tool-call entry alone is not a result
	pending := &Conversation{Messages: []contractx.Message{
		{Role: contractx.RoleAssistant, ToolCallID: "call_9", Content: `{}`},
	}}
	if pending.HasToolResult("call_9") {
		t.Fatal("unresolved call must not count as result")
	}
	if c.HasToolResult("  ") {
		t.Fatal("blank call id never matches")
	}
}
