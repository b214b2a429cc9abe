package task

import "time"

// Assignment is the compute-task definition handed to a worker: everything a
// provider needs to run one subtask.
type Assignment struct {
	TaskID           string            `json:"task_id"`
	SubtaskID        string            `json:"subtask_id"`
	ExtraData        map[string]string `json:"extra_data"`
	ShortDescription string            `json:"short_description"`
	SrcCode          string            `json:"src_code"`
	Performance      float64           `json:"performance"`
	WorkingDirectory string            `json:"working_directory"`
	EnvironmentID    string            `json:"environment"`
	DockerImages     []string          `json:"docker_images"`
	Deadline         time.Time         `json:"deadline"`
}

// ExtraData is the outcome of an assignment request. Exactly one of the
// following holds: Verdict is VerdictAccepted and Assignment is set, or the
// verdict explains why no work was produced.
type ExtraData struct {
	Verdict    AcceptVerdict
	Assignment *Assignment
}

// ShouldWait reports whether the worker should retry later rather than being
// banned from the task.
func (e *ExtraData) ShouldWait() bool {
	return e.Verdict == VerdictShouldWait
}
