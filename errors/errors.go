package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidRequest indicates that the incoming chat request is empty or malformed
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStoreUnavailable indicates that a document store backend is unreachable
	ErrStoreUnavailable = errors.New("document store unavailable")

	// ErrAgentUnavailable indicates that an agent's synthesis step failed after retry
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrAllAgentsUnavailable indicates that every agent selected for a turn failed
	ErrAllAgentsUnavailable = errors.New("all selected agents unavailable")

	// ErrConversationNotFound indicates an append or lookup against an unknown conversation
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationInactive indicates an append against a deactivated conversation
	ErrConversationInactive = errors.New("conversation inactive")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)
