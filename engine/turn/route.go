package turn

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	capx "github.com/ajudei/concierge/engine/capability"
	contractx "github.com/ajudei/concierge/engine/contract"
	convx "github.com/ajudei/concierge/engine/conversation"
	"github.com/ajudei/concierge/engine/notify"
	tenantx "github.com/ajudei/concierge/engine/tenant"
)

// routedCall pairs a model tool request with its registry entry.
type routedCall struct {
	Call       contractx.ToolInvocation
	Capability contractx.Capability
}

// routeCapabilities handles a model turn that requested tools. Lookup
// failures are isolated per call: the turn proceeds with whatever resolved,
// and the skipped names are reported on the result.
func (s *Service) routeCapabilities(ctx context.Context, st *turnState) (contractx.TurnResult, error) {
	calls := st.Out.ToolCalls
	if s.cfg.ToolCallPolicy == PolicyFirst && len(calls) > 1 {
		log.Warn().
			Int64("conversation_id", st.Conv.ID).
			Int("requested", len(calls)).
			Msg("model requested multiple tools, dispatching first only")
		calls = calls[:1]
	}

	var routed []routedCall
	var skipped []string
	for _, call := range calls {
		capability, err := s.registry.Lookup(ctx, st.Conv.TenantID, call.Name)
		if err != nil {
			if errors.Is(err, contractx.ErrUnknownCapability) {
				log.Warn().
					Int64("tenant_id", st.Conv.TenantID).
					Str("tool", call.Name).
					Msg("model requested unregistered capability, skipping")
				skipped = append(skipped, call.Name)
				continue
			}
			return contractx.TurnResult{}, err
		}
		routed = append(routed, routedCall{Call: call, Capability: capability})
	}

	if len(routed) == 0 {
		return contractx.TurnResult{}, fmt.Errorf("%w: no requested tool resolved for tenant=%d", contractx.ErrUnknownCapability, st.Conv.TenantID)
	}

	// A synchronous non-specialist call folds its result back into the reply
	// on the same turn; this only applies when it is the sole routed call.
	if len(routed) == 1 && !routed[0].Capability.Async && routed[0].Capability.Kind != contractx.CapabilitySpecialist {
		result, err := s.dispatchSync(ctx, st, routed[0])
		if err != nil {
			return contractx.TurnResult{}, err
		}
		result.Skipped = skipped
		return result, nil
	}

	first := routed[0].Capability.Name
	for _, rc := range routed {
		if err := s.dispatchRouted(ctx, st, rc); err != nil {
			return contractx.TurnResult{}, err
		}
	}

	return contractx.TurnResult{
		Status:     contractx.TurnDispatched,
		Capability: first,
		Skipped:    skipped,
	}, nil
}

func (s *Service) dispatchRouted(ctx context.Context, st *turnState, rc routedCall) error {
	payload := s.buildPayload(st, rc.Call)

	if rc.Capability.Async {
		// Two-phase: remember the open call id so the callback can be
		// matched, then hand off without blocking the turn. A still-pending
		// earlier call is abandoned; its late result will no longer match.
		if st.Conv.PendingCallID != "" {
			log.Warn().
				Int64("conversation_id", st.Conv.ID).
				Str("abandoned_call_id", st.Conv.PendingCallID).
				Str("call_id", rc.Call.CallID).
				Msg("replacing unresolved pending tool call")
		}
		if err := s.store.SetPending(ctx, st.Conv.ID, rc.Call.CallID, rc.Call.Name); err != nil {
			return err
		}
		capx.Detach(ctx, s.dispatch, rc.Capability, payload, s.cfg.DispatchTimeout)
		return nil
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()
	if _, err := s.dispatch.Dispatch(dispatchCtx, rc.Capability, payload); err != nil {
		return err
	}
	return nil
}

// dispatchSync awaits the capability and asks the model to finish the reply
// on the same response chain.
func (s *Service) dispatchSync(ctx context.Context, st *turnState, rc routedCall) (contractx.TurnResult, error) {
	payload := s.buildPayload(st, rc.Call)

	dispatchCtx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()
	raw, err := s.dispatch.Dispatch(dispatchCtx, rc.Capability, payload)
	if err != nil {
		return contractx.TurnResult{}, err
	}

	outcome := contractx.ToolOutcome{
		CallID: rc.Call.CallID,
		Name:   rc.Call.Name,
		Result: raw,
	}
	result, err := s.applyToolOutcome(ctx, st.Conv, st.Tenant, st.Prompt, outcome)
	if err != nil {
		return contractx.TurnResult{}, err
	}
	result.Capability = rc.Capability.Name
	return result, nil
}

func (s *Service) buildPayload(st *turnState, call contractx.ToolInvocation) contractx.DispatchPayload {
	conv := st.Conv
	return contractx.DispatchPayload{
		CallID:     call.CallID,
		TenantID:   st.Tenant.ID,
		CustomerID: conv.Customer.ID,
		ChatHandle: conv.Customer.ChatHandle,
		Arguments:  call.Arguments,
		Depth:      st.Req.depth + 1,
	}
}

// finalize delivers the reply. Customer delivery only happens for tenants in
// production; staff fan-out happens either way. Both sides run after the
// turn is persisted, so their failures are logged and absorbed.
func (s *Service) finalize(ctx context.Context, conv *convx.Conversation, snap *tenantx.Snapshot, reply string) contractx.TurnResult {
	if snap.Production {
		if err := s.msgr.SendText(ctx, snap.Messaging, conv.Customer.ChatHandle, reply); err != nil {
			log.Error().Err(err).
				Int64("conversation_id", conv.ID).
				Str("chat_handle", conv.Customer.ChatHandle).
				Msg("customer delivery failed")
		}
	} else {
		log.Info().
			Int64("tenant_id", snap.ID).
			Int64("conversation_id", conv.ID).
			Msg("tenant not in production, customer delivery suppressed")
	}

	summary := notify.StaffSummary(conv.Customer.ChatHandle, conv.LastUserText(), reply)
	targets := snap.TargetsFor(contractx.CategoryResponses)
	if err := s.notifier.Publish(ctx, snap.Messaging, targets, contractx.CategoryResponses, summary); err != nil {
		log.Error().Err(err).
			Int64("tenant_id", snap.ID).
			Msg("staff notification fan-out incomplete")
	}

	return contractx.TurnResult{Status: contractx.TurnFinal, Reply: reply}
}
