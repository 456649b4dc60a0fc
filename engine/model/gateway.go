package model

import (
	"context"

	contractx "github.com/ajudei/concierge/engine/contract"
)

// Request is one model call. Exactly one calling convention applies:
// stateless callers fill History with the full dialogue; stateful callers
// fill Input (or ToolOutcome) plus the stored handles.
type Request struct {
	APIKey       string
	Model        string
	Instructions string
	Tools        []contractx.ToolDef

	// Stateless mode: the full message log, newest user utterance included.
	History []contractx.Message

	// Stateful mode: only the newest utterance plus the stored handles. The
	// response chain itself is addressed by PreviousResponseID; Handle names
	// the conversation for bookkeeping and adapters echo it back unchanged
	// rather than sending it upstream.
	Handle             string
	PreviousResponseID string
	Input              string

	// ToolOutcome, when set, is attached as a function-result turn on the
	// same response chain instead of a user utterance.
	ToolOutcome *contractx.ToolOutcome
}

// Turn is the classified model output. Adapters must always return updated
// handles — including for turns that produced tool calls — so later turns
// never lose context.
type Turn struct {
	Text       string
	ToolCalls  []contractx.ToolInvocation
	Handle     string
	ResponseID string
}

// Gateway abstracts the chat/completion backend.
type Gateway interface {
	Complete(ctx context.Context, req Request) (*Turn, error)
}
