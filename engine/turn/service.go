// Package turn owns the per-turn state machine: build context, call the
// model, classify the output, route or finalize, persist, fan out. Every
// invocation is stateless; conversation state is reconstructed from the
// store and advanced under a per-conversation lease.
package turn

import (
	"context"
	"encoding/json"
	"errors"
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

// ToolCallPolicy decides what happens when one model turn requests several
// tools at once.
type ToolCallPolicy string

const (
	// PolicyFirst dispatches only the first requested tool.
	PolicyFirst ToolCallPolicy = "first"
	// PolicyAll dispatches every requested tool.
	PolicyAll ToolCallPolicy = "all"
)

type Config struct {
	ToolCallPolicy     ToolCallPolicy `split_words:"true" default:"first"`
	DispatchTimeout    time.Duration  `split_words:"true" default:"30s"`
	MaxDelegationDepth int            `split_words:"true" default:"2"`
}

func (c Config) withDefaults() Config {
	if c.ToolCallPolicy != PolicyAll {
		c.ToolCallPolicy = PolicyFirst
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 30 * time.Second
	}
	if c.MaxDelegationDepth <= 0 {
		c.MaxDelegationDepth = 2
	}
	return c
}

// Request triggers one turn for a conversation, optionally carrying a
// precomputed new user utterance.
type Request struct {
	Ref      convx.Ref
	UserText string

	// specialist names the prompt configuration a delegated turn runs with;
	// empty means the principal prompt. depth guards runaway delegation.
	specialist string
	depth      int
}

// ResumeRequest applies the result of an asynchronous two-phase capability.
type ResumeRequest struct {
	Ref    convx.Ref
	CallID string
	Result json.RawMessage
}

type Service struct {
	store    convx.Store
	tenants  tenantx.Source
	registry contractx.Registry
	dispatch contractx.Dispatcher
	gateway  modelx.Gateway
	msgr     contractx.Messenger
	notifier contractx.Notifier
	lease    contractx.Lease

	graphRunner compose.Runnable[*turnState, contractx.TurnResult]

	cfg Config
	now func() time.Time
}

func New(
	store convx.Store,
	tenants tenantx.Source,
	registry contractx.Registry,
	dispatch contractx.Dispatcher,
	gateway modelx.Gateway,
	msgr contractx.Messenger,
	notifier contractx.Notifier,
	lease contractx.Lease,
	cfg Config,
) (*Service, error) {
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if tenants == nil {
		return nil, errors.New("tenant source is required")
	}
	if registry == nil {
		return nil, errors.New("capability registry is required")
	}
	if dispatch == nil {
		return nil, errors.New("capability dispatcher is required")
	}
	if gateway == nil {
		return nil, errors.New("model gateway is required")
	}
	if msgr == nil {
		return nil, errors.New("messenger is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if lease == nil {
		return nil, errors.New("conversation lease is required")
	}

	s := &Service{
		store:    store,
		tenants:  tenants,
		registry: registry,
		dispatch: dispatch,
		gateway:  gateway,
		msgr:     msgr,
		notifier: notifier,
		lease:    lease,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}

	runner, err := s.compileTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	s.graphRunner = runner
	return s, nil
}

// Execute runs exactly one turn under the conversation lease and returns
// either a dispatched-capability acknowledgement or a finalized reply.
func (s *Service) Execute(ctx context.Context, req Request) (contractx.TurnResult, error) {
	conv, err := s.store.Resolve(ctx, req.Ref)
	if err != nil {
		return contractx.TurnResult{}, err
	}

	release, err := s.lease.Acquire(ctx, conv.ID)
	if err != nil {
		return contractx.TurnResult{}, err
	}
	defer release()

	req.Ref = convx.Ref{ConversationID: conv.ID}
	return s.run(ctx, req)
}

// run executes the turn pipeline without touching the lease; delegated
// specialist turns re-enter here under the parent's lease.
func (s *Service) run(ctx context.Context, req Request) (contractx.TurnResult, error) {
	return s.graphRunner.Invoke(ctx, &turnState{Req: req, Now: s.now()})
}

// ResumeToolResult folds a completed asynchronous capability back into the
// conversation. Replays of an already-applied call id are no-ops.
func (s *Service) ResumeToolResult(ctx context.Context, req ResumeRequest) (contractx.TurnResult, error) {
	if strings.TrimSpace(req.CallID) == "" {
		return contractx.TurnResult{}, fmt.Errorf("%w: tool call id is required", contractx.ErrValidation)
	}

	conv, err := s.store.Resolve(ctx, req.Ref)
	if err != nil {
		return contractx.TurnResult{}, err
	}

	release, err := s.lease.Acquire(ctx, conv.ID)
	if err != nil {
		return contractx.TurnResult{}, err
	}
	defer release()

	// Reload under the lease: a concurrent trigger may have applied this
	// callback already.
	conv, err = s.store.Resolve(ctx, convx.Ref{ConversationID: conv.ID})
	if err != nil {
		return contractx.TurnResult{}, err
	}
	if conv.HasToolResult(req.CallID) {
		log.Info().
			Int64("conversation_id", conv.ID).
			Str("call_id", req.CallID).
			Msg("tool result already applied, skipping replay")
		return contractx.TurnResult{Status: contractx.TurnFinal}, nil
	}
	if conv.PendingCallID != req.CallID {
		return contractx.TurnResult{}, fmt.Errorf("%w: call id %s is not pending for conversation=%d", contractx.ErrValidation, req.CallID, conv.ID)
	}

	snap, err := s.tenants.Resolve(ctx, conv.TenantID)
	if err != nil {
		return contractx.TurnResult{}, err
	}

	outcome := contractx.ToolOutcome{
		CallID: req.CallID,
		Name:   conv.PendingToolName,
		Result: req.Result,
	}
	return s.applyToolOutcome(ctx, conv, snap, snap.Principal, outcome)
}

// applyToolOutcome appends the function-result turn, asks the model to
// finish on the same response chain, persists, clears the pending call and
// finalizes the reply.
func (s *Service) applyToolOutcome(
	ctx context.Context,
	conv *convx.Conversation,
	snap *tenantx.Snapshot,
	prompt *tenantx.PromptConfig,
	outcome contractx.ToolOutcome,
) (contractx.TurnResult, error) {
	result := outcome.Result
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}

	toolMsg := contractx.Message{
		Role:       contractx.RoleTool,
		Content:    string(result),
		ToolCallID: outcome.CallID,
		ToolName:   outcome.Name,
	}
	if err := s.store.Append(ctx, conv.ID, toolMsg); err != nil {
		return contractx.TurnResult{}, err
	}
	conv.Messages = append(conv.Messages, toolMsg)

	modelReq := modelx.Request{
		APIKey:             snap.ModelAPIKey,
		Model:              prompt.Model,
		Instructions:       buildInstructions(s.now(), snap, prompt, conv),
		Tools:              prompt.Tools,
		History:            conv.Messages,
		Handle:             conv.Handle,
		PreviousResponseID: conv.LastResponseHandle,
		ToolOutcome:        &outcome,
	}

	out, err := s.gateway.Complete(ctx, modelReq)
	if err != nil {
		return contractx.TurnResult{}, err
	}
	if len(out.ToolCalls) > 0 {
		return contractx.TurnResult{}, fmt.Errorf("%w: tool-result turn requested another tool", contractx.ErrUpstreamModel)
	}

	if err := s.persistModelTurn(ctx, conv, out); err != nil {
		return contractx.TurnResult{}, err
	}
	if err := s.store.ClearPending(ctx, conv.ID, outcome.CallID); err != nil {
		log.Error().Err(err).Int64("conversation_id", conv.ID).Msg("clear pending call failed")
	}

	return s.finalize(ctx, conv, snap, out.Text), nil
}

// persistModelTurn writes the raw model turn to the log and advances the
// stored handles before any externally visible action. This is the only step
// whose failure aborts the whole turn.
func (s *Service) persistModelTurn(ctx context.Context, conv *convx.Conversation, out *modelx.Turn) error {
	var msgs []contractx.Message
	if len(out.ToolCalls) > 0 {
		for _, call := range out.ToolCalls {
			msgs = append(msgs, contractx.Message{
				Role:       contractx.RoleAssistant,
				Content:    string(call.Arguments),
				ToolCallID: call.CallID,
				ToolName:   call.Name,
			})
		}
	} else {
		msgs = append(msgs, contractx.Message{
			Role:    contractx.RoleAssistant,
			Content: out.Text,
		})
	}

	if err := s.store.Append(ctx, conv.ID, msgs...); err != nil {
		return fmt.Errorf("persist model turn for conversation=%d: %w", conv.ID, err)
	}

	// Handles advance on every stored turn, tool-call turns included;
	// skipping them here silently truncates later context.
	if err := s.store.UpdateHandles(ctx, conv.ID, conv.LastResponseHandle, out.Handle, out.ResponseID); err != nil {
		return err
	}

	conv.Messages = append(conv.Messages, msgs...)
	conv.Handle = out.Handle
	conv.LastResponseHandle = out.ResponseID
	return nil
}
