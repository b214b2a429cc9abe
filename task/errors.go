package task

import "errors"

var (
	ErrTaskComplete     = errors.New("task already computed")
	ErrNilDefinition    = errors.New("nil task definition")
	ErrNoSubtasks       = errors.New("task definition has no subtasks")
	ErrNotInitialized   = errors.New("task not initialized")
	ErrMissingField     = errors.New("missing definition field")
	ErrBadTimeoutString = errors.New("malformed timeout string")
)
