package contract

import "errors"

var (
	// ErrConfigurationMissing means the tenant has no active principal prompt
	// or no model credentials. Fatal to the turn, surfaced, never retried here.
	ErrConfigurationMissing = errors.New("tenant configuration missing")

	// ErrUnknownCapability marks a tool name with no registry binding. The
	// failure is isolated to that tool call; the turn continues.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrUpstreamModel covers backend errors and malformed model output.
	ErrUpstreamModel = errors.New("model backend failed")

	// ErrDispatch marks a failed capability call. Logged, never auto-retried,
	// never surfaced to the customer.
	ErrDispatch = errors.New("capability dispatch failed")

	// ErrNotification marks a failed staff delivery. Isolated per target.
	ErrNotification = errors.New("notification delivery failed")

	// ErrConversationBusy means another turn holds the conversation lease.
	ErrConversationBusy = errors.New("conversation is locked by another turn")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrValidation           = errors.New("validation failed")
)
