package turn

import (
	"context"
	"encoding/json"
	"fmt"

	contractx "github.com/ajudei/concierge/engine/contract"
	convx "github.com/ajudei/concierge/engine/conversation"
)

// SpecialistInvoker runs delegated capabilities as a nested turn against the
// named specialist prompt. To the router it looks like any other dispatch;
// internally the specialist applies the same route-or-finalize contract with
// a narrower prompt and tool set.
type SpecialistInvoker struct {
	svc *Service
}

func NewSpecialistInvoker(svc *Service) *SpecialistInvoker {
	return &SpecialistInvoker{svc: svc}
}

func (si *SpecialistInvoker) Invoke(ctx context.Context, capability contractx.Capability, payload contractx.DispatchPayload) (json.RawMessage, error) {
	if capability.Endpoint == "" {
		return nil, fmt.Errorf("specialist capability %s has no prompt name", capability.Name)
	}
	if payload.Depth > si.svc.cfg.MaxDelegationDepth {
		return nil, fmt.Errorf("delegation depth %d exceeds limit %d for capability %s", payload.Depth, si.svc.cfg.MaxDelegationDepth, capability.Name)
	}

	// Delegation runs under the parent turn's lease, so the nested turn must
	// not re-acquire it.
	result, err := si.svc.run(ctx, Request{
		Ref:        convx.Ref{TenantID: payload.TenantID, ChatHandle: payload.ChatHandle},
		UserText:   delegatedRequest(payload.Arguments),
		specialist: capability.Endpoint,
		depth:      payload.Depth,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// delegatedRequest pulls the free-text request out of the delegation tool's
// arguments. The conventional argument key is "request"; when absent the
// nested turn falls back to the customer's last utterance.
func delegatedRequest(arguments json.RawMessage) string {
	if len(arguments) == 0 {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal(arguments, &args); err != nil {
		return ""
	}
	if req, ok := args["request"].(string); ok {
		return req
	}
	return ""
}
