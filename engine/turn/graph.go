package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/ajudei/concierge/engine/contract"
	convx "github.com/ajudei/concierge/engine/conversation"
	modelx "github.com/ajudei/concierge/engine/model"
	tenantx "github.com/ajudei/concierge/engine/tenant"
)

const (
	nodeResolveConversation = "resolve_conversation"
	nodeResolveTenant       = "resolve_tenant"
	nodeBuildModelInput     = "build_model_input"
	nodeInvokeModel         = "invoke_model"
	nodePersistTurn         = "persist_turn"
	nodeRouteCapability     = "route_capability"
	nodeFinalizeReply       = "finalize_reply"
)

// turnState is threaded through the graph; each node fills in its slice of
// the turn and hands the state to the next.
type turnState struct {
	Req Request
	Now time.Time

	Conv   *convx.Conversation
	Tenant *tenantx.Snapshot
	Prompt *tenantx.PromptConfig

	ModelIn modelx.Request
	Out     *modelx.Turn
}

func (s *Service) compileTurnGraph(ctx context.Context) (compose.Runnable[*turnState, contractx.TurnResult], error) {
	graph := compose.NewGraph[*turnState, contractx.TurnResult]()

	if err := graph.AddLambdaNode(nodeResolveConversation, compose.InvokableLambda(s.resolveConversation)); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeResolveConversation, err)
	}
	if err := graph.AddLambdaNode(nodeResolveTenant, compose.InvokableLambda(s.resolveTenant)); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeResolveTenant, err)
	}
	if err := graph.AddLambdaNode(nodeBuildModelInput, compose.InvokableLambda(s.buildModelInput)); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeBuildModelInput, err)
	}
	if err := graph.AddLambdaNode(nodeInvokeModel, compose.InvokableLambda(s.invokeModel)); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeInvokeModel, err)
	}
	if err := graph.AddLambdaNode(nodePersistTurn, compose.InvokableLambda(s.persistTurn)); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodePersistTurn, err)
	}

	routeNode := compose.InvokableLambda(func(ctx context.Context, st *turnState) (contractx.TurnResult, error) {
		return s.routeCapabilities(ctx, st)
	})
	if err := graph.AddLambdaNode(nodeRouteCapability, routeNode); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeRouteCapability, err)
	}
	finalizeNode := compose.InvokableLambda(func(ctx context.Context, st *turnState) (contractx.TurnResult, error) {
		return s.finalize(ctx, st.Conv, st.Tenant, st.Out.Text), nil
	})
	if err := graph.AddLambdaNode(nodeFinalizeReply, finalizeNode); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeFinalizeReply, err)
	}

	if err := graph.AddEdge(compose.START, nodeResolveConversation); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(nodeResolveConversation, nodeResolveTenant); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(nodeResolveTenant, nodeBuildModelInput); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(nodeBuildModelInput, nodeInvokeModel); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(nodeInvokeModel, nodePersistTurn); err != nil {
		return nil, err
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, st *turnState) (string, error) {
			if len(st.Out.ToolCalls) > 0 {
				return nodeRouteCapability, nil
			}
			return nodeFinalizeReply, nil
		},
		map[string]bool{nodeRouteCapability: true, nodeFinalizeReply: true},
	)
	if err := graph.AddBranch(nodePersistTurn, branch); err != nil {
		return nil, fmt.Errorf("add turn branch: %w", err)
	}

	if err := graph.AddEdge(nodeRouteCapability, compose.END); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(nodeFinalizeReply, compose.END); err != nil {
		return nil, err
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("conversation_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile turn graph: %w", err)
	}
	return runner, nil
}

func (s *Service) resolveConversation(ctx context.Context, st *turnState) (*turnState, error) {
	conv, err := s.store.Resolve(ctx, st.Req.Ref)
	if err != nil {
		return nil, err
	}
	st.Conv = conv

	// A precomputed user turn is written to the log up front so the record
	// exists even when the model call later fails.
	if text := strings.TrimSpace(st.Req.UserText); text != "" {
		userMsg := contractx.Message{Role: contractx.RoleUser, Content: text}
		if err := s.store.Append(ctx, conv.ID, userMsg); err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, userMsg)
	}
	return st, nil
}

// resolveTenant loads a fresh tenant snapshot for every turn; prompt or
// credential edits apply to the very next trigger.
func (s *Service) resolveTenant(ctx context.Context, st *turnState) (*turnState, error) {
	snap, err := s.tenants.Resolve(ctx, st.Conv.TenantID)
	if err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	st.Tenant = snap

	if st.Req.specialist == "" {
		st.Prompt = snap.Principal
		return st, nil
	}
	prompt, err := snap.Specialist(st.Req.specialist)
	if err != nil {
		return nil, err
	}
	st.Prompt = prompt
	return st, nil
}

func (s *Service) buildModelInput(ctx context.Context, st *turnState) (*turnState, error) {
	userText := strings.TrimSpace(st.Req.UserText)
	if userText == "" {
		userText = st.Conv.LastUserText()
	}
	if userText == "" {
		return nil, fmt.Errorf("%w: conversation=%d has no user input to respond to", contractx.ErrValidation, st.Conv.ID)
	}

	st.ModelIn = modelx.Request{
		APIKey:       st.Tenant.ModelAPIKey,
		Model:        st.Prompt.Model,
		Instructions: buildInstructions(st.Now, st.Tenant, st.Prompt, st.Conv),
		Tools:        st.Prompt.Tools,
		Input:        userText,
	}

	// Delegated turns run on a fresh context: the narrower prompt plus the
	// delegation request, not the principal's response chain.
	if st.Req.specialist != "" {
		st.ModelIn.History = []contractx.Message{{Role: contractx.RoleUser, Content: userText}}
		return st, nil
	}

	st.ModelIn.History = st.Conv.Messages
	st.ModelIn.Handle = st.Conv.Handle
	st.ModelIn.PreviousResponseID = st.Conv.LastResponseHandle

	// A new trigger arriving while an earlier tool call is still open
	// supersedes it. The open call is closed with a synthetic result so the
	// response chain stays continuable, and its late callback becomes a
	// replay no-op.
	if st.Conv.PendingCallID != "" {
		if err := s.supersedePending(ctx, st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *Service) supersedePending(ctx context.Context, st *turnState) error {
	conv := st.Conv
	log.Warn().
		Int64("conversation_id", conv.ID).
		Str("call_id", conv.PendingCallID).
		Msg("new trigger supersedes unresolved tool call")

	outcome := contractx.ToolOutcome{
		CallID: conv.PendingCallID,
		Name:   conv.PendingToolName,
		Result: json.RawMessage(`{"status":"superseded"}`),
	}
	toolMsg := contractx.Message{
		Role:       contractx.RoleTool,
		Content:    string(outcome.Result),
		ToolCallID: outcome.CallID,
		ToolName:   outcome.Name,
	}
	if err := s.store.Append(ctx, conv.ID, toolMsg); err != nil {
		return err
	}
	if err := s.store.ClearPending(ctx, conv.ID, conv.PendingCallID); err != nil {
		return err
	}
	conv.Messages = append(conv.Messages, toolMsg)
	conv.PendingCallID = ""
	conv.PendingToolName = ""

	st.ModelIn.History = conv.Messages
	st.ModelIn.ToolOutcome = &outcome
	return nil
}

func (s *Service) invokeModel(ctx context.Context, st *turnState) (*turnState, error) {
	out, err := s.gateway.Complete(ctx, st.ModelIn)
	if err != nil {
		return nil, err
	}
	st.Out = out
	return st, nil
}

func (s *Service) persistTurn(ctx context.Context, st *turnState) (*turnState, error) {
	if err := s.persistModelTurn(ctx, st.Conv, st.Out); err != nil {
		return nil, err
	}
	return st, nil
}
