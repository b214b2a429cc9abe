package task

// SubtaskStatus tracks where a dispatched subtask is in its lifecycle.
type SubtaskStatus uint8

const (
	SubtaskWaiting SubtaskStatus = iota
	SubtaskStarting
	SubtaskDownloading
	SubtaskVerifying
	SubtaskFinished
	SubtaskFailure
	SubtaskRestarted
	SubtaskResent
)

func (s SubtaskStatus) String() string {
	switch s {
	case SubtaskWaiting:
		return "waiting"
	case SubtaskStarting:
		return "starting"
	case SubtaskDownloading:
		return "downloading"
	case SubtaskVerifying:
		return "verifying"
	case SubtaskFinished:
		return "finished"
	case SubtaskFailure:
		return "failure"
	case SubtaskRestarted:
		return "restarted"
	case SubtaskResent:
		return "resent"
	default:
		return "unknown"
	}
}

// IsComputed reports whether a subtask is in flight: it has been handed to a
// worker and may still deliver results.
func (s SubtaskStatus) IsComputed() bool {
	return s == SubtaskStarting || s == SubtaskDownloading
}

// IsFailureLike reports whether a subtask already went through the failure
// funnel for the current episode.
func (s SubtaskStatus) IsFailureLike() bool {
	return s == SubtaskFailure || s == SubtaskResent
}
