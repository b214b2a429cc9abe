package task

import "time"

// Config tunes a single coordinator instance.
type Config struct {
	// Admission settings
	MaxPendingResults int // unconfirmed work units one worker may hold

	// Subtask settings
	UnitsPerSubtask int           // work units covered by one assignment
	SubtaskTimeout  time.Duration // deadline stamped at dispatch time
	FullTaskTimeout time.Duration

	// Result filtering
	LogSuffix    string // files with this suffix fill the stdout slot
	ErrLogSuffix string // files with this suffix fill the stderr slot
	SortResults  bool
}

func DefaultConfig() *Config {
	return &Config{
		MaxPendingResults: 1,
		UnitsPerSubtask:   1,
		SubtaskTimeout:    20 * time.Minute,
		FullTaskTimeout:   4 * time.Hour,
		LogSuffix:         ".log",
		ErrLogSuffix:      "err.log",
		SortResults:       true,
	}
}
