package task

import (
	"fmt"
	"math/big"
	"time"
)

// Definition carries everything needed to construct a coordinator for one
// task. It is what the builder's dictionary round trip produces.
type Definition struct {
	TaskID   string
	TaskName string
	TaskType string

	TotalSubtasks int // planned work units

	FullTaskTimeout time.Duration
	SubtaskTimeout  time.Duration

	// MaxPrice is the bid in wei.
	MaxPrice *big.Int

	Resources       []string
	OutputPath      string
	EstimatedMemory uint64

	EnvironmentID string
	DockerImages  []string
}

// Defaults seeds a fresh definition for a task type.
type Defaults struct {
	TotalSubtasks   int
	FullTaskTimeout time.Duration
	SubtaskTimeout  time.Duration
}

// TypeInfo names a registered task type and how to seed its definitions.
type TypeInfo struct {
	Name     string
	Defaults Defaults
}

// Header is the task metadata advertised to workers.
type Header struct {
	TaskID          string
	NodeName        string
	OwnerKeyID      string
	OwnerAddress    string
	OwnerPort       uint16
	EnvironmentID   string
	Deadline        time.Time
	SubtaskTimeout  time.Duration
	ResourceSize    uint64
	EstimatedMemory uint64
	MaxPrice        *big.Int
	DockerImages    []string
}

// TimeoutToString renders a duration as "H:MM:SS" for the dictionary surface.
func TimeoutToString(d time.Duration) string {
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// StringToTimeout parses "H:MM:SS" back into a duration.
func StringToTimeout(s string) (time.Duration, error) {
	var h, m, sec int64
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadTimeoutString, s)
	}
	if m < 0 || m > 59 || sec < 0 || sec > 59 || h < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadTimeoutString, s)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second, nil
}
