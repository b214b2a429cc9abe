// Package verifier defines the pluggable contract used to judge whether the
// results a worker returned for a subtask are correct. The coordinator only
// branches on StateVerified; every other state is routed through its failure
// funnel. Richer states are extension points for domain verifiers.
package verifier

import (
	"context"
	"os"

	"go.uber.org/zap"
)

// State is the outcome of verifying one subtask's results.
type State uint8

const (
	StateUnknown State = iota
	StateWaitingForResults
	StatePartiallyVerified
	StateVerified
	StateNotVerified
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateWaitingForResults:
		return "waiting_for_results"
	case StatePartiallyVerified:
		return "partially_verified"
	case StateVerified:
		return "verified"
	case StateNotVerified:
		return "not_verified"
	case StateTimeout:
		return "timeout"
	default:
		return "invalid"
	}
}

// TaskContext is the slice of the coordinator a verifier may inspect.
type TaskContext interface {
	// TempDir is the task-scoped staging directory.
	TempDir() string
}

// Verifier judges the results returned for a subtask.
type Verifier interface {
	Verify(ctx context.Context, subtaskID string, resultFiles []string, task TaskContext) State
}

// CoreVerifier is the default verifier: results pass when the result set is
// non-empty and every listed file exists. Domain tasks plug in their own.
type CoreVerifier struct {
	log *zap.Logger
}

func NewCoreVerifier(log *zap.Logger) *CoreVerifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &CoreVerifier{log: log.Named("verifier")}
}

func (v *CoreVerifier) Verify(ctx context.Context, subtaskID string, resultFiles []string, task TaskContext) State {
	if ctx.Err() != nil {
		return StateTimeout
	}
	if len(resultFiles) == 0 {
		v.log.Info("empty result set", zap.String("subtask", subtaskID))
		return StateNotVerified
	}
	for _, file := range resultFiles {
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			v.log.Info("result file missing",
				zap.String("subtask", subtaskID),
				zap.String("file", file))
			return StateNotVerified
		}
	}
	return StateVerified
}
