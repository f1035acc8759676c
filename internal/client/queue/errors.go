package queue

import "errors"

// Validation and configuration errors of the action queue
var (
	ErrMissingTenant   = errors.New("tenant id is required")
	ErrMissingActor    = errors.New("actor id is required")
	ErrMissingResource = errors.New("resource is required")
	ErrInvalidKind     = errors.New("invalid action kind")
	ErrInvalidPayload  = errors.New("payload is not valid JSON")
	ErrMissingTargetID = errors.New("update and delete payloads must contain an id")
	ErrNoStore         = errors.New("persistent store is required")

	// ErrNoExecutor is a non-retryable configuration error: the action still
	// counts toward retry exhaustion so it surfaces as failed, never dropped.
	ErrNoExecutor = errors.New("no executor registered for resource")
)
