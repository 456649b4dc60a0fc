package contract

import (
	"context"
	"encoding/json"
)

// Registry resolves tool names to tenant-scoped capability bindings.
// A missing entry fails with ErrUnknownCapability and rejects only that call.
type Registry interface {
	Lookup(ctx context.Context, tenantID int64, name string) (Capability, error)
}

// Dispatcher invokes a capability target. Synchronous dispatch returns the
// skill result; asynchronous bindings are detached by the caller and the
// return value is discarded.
type Dispatcher interface {
	Dispatch(ctx context.Context, capability Capability, payload DispatchPayload) (json.RawMessage, error)
}

// Messenger delivers one outbound text through the tenant's provider.
type Messenger interface {
	SendText(ctx context.Context, creds MessagingCredentials, to string, text string) error
}

// Notifier fans a staff-facing message out to every target bound to the
// category. Failures are isolated per target and never abort the turn.
type Notifier interface {
	Publish(ctx context.Context, creds MessagingCredentials, targets []NotificationTarget, category Category, text string) error
}

// Lease grants per-conversation mutual exclusion for the duration of one
// turn. Acquire fails with ErrConversationBusy when the lease is held.
type Lease interface {
	Acquire(ctx context.Context, conversationID int64) (release func(), err error)
}
