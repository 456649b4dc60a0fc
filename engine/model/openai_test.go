package model

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/ajudei/concierge/engine/contract"
)

func TestBuildChatMessagesReplaysLog(t *testing.T) {
	t.Parallel()

	req := Request{
		Instructions: "seja cordial",
		History: []contractx.Message{
			{Role: contractx.RoleUser, Content: "quero reservar"},
			{Role: contractx.RoleAssistant, ToolCallID: "call_1", ToolName: "agendar", Content: `{"dia":"sexta"}`},
			{Role: contractx.RoleTool, ToolCallID: "call_1", ToolName: "agendar", Content: `{"status":"ok"}`},
			{Role: contractx.RoleAssistant, Content: "Reservado!"},
		},
	}

	msgs, err := buildChatMessages(req)
	if err != nil {
		t.Fatalf("buildChatMessages: %v", err)
	}
	// system + four history entries
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if msgs[0].OfSystem == nil {
		t.Fatal("instructions must become the system message")
	}
	if msgs[2].OfAssistant == nil || len(msgs[2].OfAssistant.ToolCalls) != 1 {
		t.Fatalf("tool-call turn not replayed: %+v", msgs[2])
	}
	if msgs[2].OfAssistant.ToolCalls[0].ID != "call_1" {
		t.Fatal("tool call id must survive the replay")
	}
	if msgs[3].OfTool == nil || msgs[3].OfTool.ToolCallID != "call_1" {
		t.Fatalf("tool result not replayed: %+v", msgs[3])
	}
}

func TestBuildChatMessagesMergesSplitToolCallTurn(t *testing.T) {
	t.Parallel()

	// A turn that requested two tools is stored as two assistant rows, and
	// only the first call ever produced an output.
	req := Request{
		History: []contractx.Message{
			{Role: contractx.RoleUser, Content: "quero reservar e ver o cardapio"},
			{Role: contractx.RoleAssistant, ToolCallID: "call_a", ToolName: "agendar", Content: `{"dia":"sexta"}`},
			{Role: contractx.RoleAssistant, ToolCallID: "call_b", ToolName: "cardapio", Content: `{}`},
			{Role: contractx.RoleTool, ToolCallID: "call_a", ToolName: "agendar", Content: `{"status":"ok"}`},
			{Role: contractx.RoleAssistant, Content: "Reservado!"},
			{Role: contractx.RoleUser, Content: "obrigado"},
		},
	}

	msgs, err := buildChatMessages(req)
	if err != nil {
		t.Fatalf("buildChatMessages: %v", err)
	}
	// user, assistant(call_a+call_b), tool(call_a), tool(call_b), assistant, user
	if len(msgs) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}
	if msgs[1].OfAssistant == nil || len(msgs[1].OfAssistant.ToolCalls) != 2 {
		t.Fatalf("calls of one turn must replay as a single assistant message: %+v", msgs[1])
	}
	if msgs[2].OfTool == nil || msgs[2].OfTool.ToolCallID != "call_a" {
		t.Fatalf("call_a output must sit directly behind its call: %+v", msgs[2])
	}
	if msgs[3].OfTool == nil || msgs[3].OfTool.ToolCallID != "call_b" {
		t.Fatalf("call_b must be closed right after the assistant turn: %+v", msgs[3])
	}
	if got := msgs[3].OfTool.Content.OfString.Value; got != supersededResult {
		t.Fatalf("unresolved call must replay a superseded result, got %q", got)
	}
	if msgs[4].OfAssistant == nil || msgs[4].OfAssistant.ToolCalls != nil {
		t.Fatalf("plain assistant reply must follow the closed calls: %+v", msgs[4])
	}
}

func TestBuildChatMessagesRequiresHistory(t *testing.T) {
	t.Parallel()

	_, err := buildChatMessages(Request{})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBuildChatTools(t *testing.T) {
	t.Parallel()

	tools := buildChatTools([]contractx.ToolDef{{
		Name:        "agendar_visita",
		Description: "agenda uma visita",
		Parameters:  map[string]any{"type": "object"},
	}})
	if len(tools) != 1 {
		t.Fatalf("expected one tool, got %d", len(tools))
	}
	if tools[0].Function.Name != "agendar_visita" {
		t.Fatalf("unexpected tool %+v", tools[0])
	}
	if buildChatTools(nil) != nil {
		t.Fatal("no defs means no tools param")
	}
}

func TestBuildResponseTools(t *testing.T) {
	t.Parallel()

	tools := buildResponseTools([]contractx.ToolDef{{
		Name:       "agendar_visita",
		Parameters: map[string]any{"type": "object"},
	}})
	if len(tools) != 1 || tools[0].OfFunction == nil {
		t.Fatalf("unexpected tools %+v", tools)
	}
	if tools[0].OfFunction.Name != "agendar_visita" {
		t.Fatalf("unexpected tool name %+v", tools[0].OfFunction)
	}
}

func TestHandleOrDefault(t *testing.T) {
	t.Parallel()

	if got := handleOrDefault("conv_1", "resp_1"); got != "conv_1" {
		t.Fatalf("existing handle must win, got %q", got)
	}
	if got := handleOrDefault("  ", "resp_1"); got != "resp_1" {
		t.Fatalf("blank handle falls back to response id, got %q", got)
	}
}

func TestCompleteRejectsMissingCredentials(t *testing.T) {
	t.Parallel()

	g := NewOpenAIGateway(Config{Stateful: true})

	_, err := g.Complete(context.Background(), Request{Model: "gpt-4.1"})
	if !errors.Is(err, contractx.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing for empty key, got %v", err)
	}

	_, err = g.Complete(context.Background(), Request{APIKey: "sk-x"})
	if !errors.Is(err, contractx.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing for empty model, got %v", err)
	}
}
