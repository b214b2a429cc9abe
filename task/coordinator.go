// Package task implements the requester-side subtask lifecycle coordinator of
// a peer-to-peer computation marketplace. The coordinator owns the
// authoritative state of every subtask it hands out: admission of workers,
// the per-subtask state machine, result classification and the retry/failure
// policy built on top of a pluggable verifier.
package task

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/todun/golem/dirmanager"
	"github.com/todun/golem/resource"
	"github.com/todun/golem/verifier"
)

// Subtask is one unit of dispatched work covering a contiguous range of the
// task's work units. Records are owned exclusively by the coordinator.
type Subtask struct {
	ID        string        `json:"id"`
	NodeID    string        `json:"node_id"`
	StartUnit int           `json:"start_task"`
	EndUnit   int           `json:"end_task"`
	Status    SubtaskStatus `json:"status"`
	Deadline  time.Time     `json:"deadline"`
	PerfIndex float64       `json:"perf_index"`

	// Result bookkeeping, populated after completion.
	Stdout      string   `json:"stdout,omitempty"`
	Stderr      string   `json:"stderr,omitempty"`
	ResultFiles []string `json:"result_files,omitempty"`
}

// Units is the number of work units this subtask covers.
func (s *Subtask) Units() int {
	return s.EndUnit - s.StartUnit + 1
}

// Coordinator drives the subtask lifecycle for one task. All mutation is
// funneled through its public operations and serialized on a single mutex;
// session callbacks for the same task share one instance.
type Coordinator struct {
	mu  sync.Mutex
	log *zap.Logger
	cfg *Config

	def    *Definition
	header *Header

	verifier verifier.Verifier
	unpacker ResultUnpacker
	provider *resource.Provider

	subtasks map[string]*Subtask
	clients  map[string]*Client

	totalUnits     int
	lastUnit       int
	unitsReceived  int
	failedSubtasks int

	tmpDir    string
	outputDir string
	resFiles  []string
}

func NewCoordinator(def *Definition, nodeName string, cfg *Config, v verifier.Verifier, log *zap.Logger) (*Coordinator, error) {
	if def == nil {
		return nil, ErrNilDefinition
	}
	if def.TotalSubtasks <= 0 {
		return nil, ErrNoSubtasks
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if v == nil {
		v = verifier.NewCoreVerifier(log)
	}

	header := &Header{
		TaskID:          def.TaskID,
		NodeName:        nodeName,
		EnvironmentID:   def.EnvironmentID,
		Deadline:        time.Now().Add(cfg.FullTaskTimeout),
		SubtaskTimeout:  cfg.SubtaskTimeout,
		EstimatedMemory: def.EstimatedMemory,
		MaxPrice:        def.MaxPrice,
		DockerImages:    append([]string(nil), def.DockerImages...),
	}

	return &Coordinator{
		log:        log.Named("task").With(zap.String("task", def.TaskID)),
		cfg:        cfg,
		def:        def,
		header:     header,
		verifier:   v,
		provider:   resource.NewProvider(log),
		subtasks:   make(map[string]*Subtask),
		clients:    make(map[string]*Client),
		totalUnits: def.TotalSubtasks,
	}, nil
}

// Initialize obtains the task's staging and output directories from the dir
// manager. The coordinator caches both for the life of the task.
func (c *Coordinator) Initialize(dm *dirmanager.DirManager) error {
	tmpDir, err := dm.TaskTemporaryDir(c.def.TaskID, true)
	if err != nil {
		return err
	}
	outputDir, err := dm.TaskOutputDir(c.def.TaskID, true)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tmpDir = tmpDir
	c.outputDir = outputDir
	return nil
}

// SetResultUnpacker installs the collaborator that decodes encoded result
// bundles. Without one, encoded payloads are classification errors.
func (c *Coordinator) SetResultUnpacker(u ResultUnpacker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unpacker = u
}

// Header returns the task metadata advertised to workers.
func (c *Coordinator) Header() *Header {
	return c.header
}

// TempDir implements verifier.TaskContext.
func (c *Coordinator) TempDir() string {
	return c.tmpDir
}

// AcceptClient is the admission gate: a sticky rejection bans the worker for
// the task's lifetime, too much unconfirmed work means wait, and acceptance
// counts as a started attempt.
func (c *Coordinator) AcceptClient(nodeID string) AcceptVerdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptClientLocked(nodeID)
}

func (c *Coordinator) acceptClientLocked(nodeID string) AcceptVerdict {
	client := AssertClientExists(nodeID, c.clients)
	if client.Rejected() {
		return VerdictRejected
	}
	finishing := client.Finishing()
	if finishing >= c.cfg.MaxPendingResults ||
		client.Started()-finishing >= c.cfg.MaxPendingResults {
		return VerdictShouldWait
	}
	client.Start()
	return VerdictAccepted
}

// Assign produces the next subtask for a worker. Admission is decided first;
// anything but acceptance short-circuits before any work is produced. A task
// whose progress already reached 1.0 rejects the call outright.
func (c *Coordinator) Assign(nodeID string, perfIndex float64, coreCount int) (*ExtraData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	verdict := c.acceptClientLocked(nodeID)
	if verdict != VerdictAccepted {
		if verdict == VerdictShouldWait {
			c.log.Warn("waiting for results from node", zap.String("node", nodeID))
		} else {
			c.log.Warn("node banned from this task", zap.String("node", nodeID))
		}
		return &ExtraData{Verdict: verdict}, nil
	}

	if c.progressLocked() >= 1.0 {
		c.log.Error("task already computed")
		return nil, ErrTaskComplete
	}

	var start, end int
	switch {
	case c.lastUnit < c.totalUnits:
		start = c.lastUnit + 1
		end = start + c.cfg.UnitsPerSubtask - 1
		if end > c.totalUnits {
			end = c.totalUnits
		}
		c.lastUnit = end
	case c.failedSubtasks > 0:
		prev := c.takeFailedLocked()
		if prev == nil {
			return &ExtraData{Verdict: VerdictShouldWait}, nil
		}
		start, end = prev.StartUnit, prev.EndUnit
		prev.Status = SubtaskResent
		c.failedSubtasks--
	default:
		return &ExtraData{Verdict: VerdictShouldWait}, nil
	}

	sub := &Subtask{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		StartUnit: start,
		EndUnit:   end,
		Status:    SubtaskWaiting,
		Deadline:  time.Now().Add(c.cfg.SubtaskTimeout),
		PerfIndex: perfIndex,
	}
	c.subtasks[sub.ID] = sub
	sub.Status = SubtaskStarting

	extra := map[string]string{
		"start_task": strconv.Itoa(start),
		"end_task":   strconv.Itoa(end),
		"num_cores":  strconv.Itoa(coreCount),
	}
	assignment := &Assignment{
		TaskID:           c.def.TaskID,
		SubtaskID:        sub.ID,
		ExtraData:        extra,
		ShortDescription: fmt.Sprintf("units %d-%d", start, end),
		Performance:      perfIndex,
		WorkingDirectory: ".",
		EnvironmentID:    c.header.EnvironmentID,
		DockerImages:     c.header.DockerImages,
		Deadline:         sub.Deadline,
	}

	c.log.Info("subtask assigned",
		zap.String("subtask", sub.ID),
		zap.String("node", nodeID),
		zap.Int("start", start),
		zap.Int("end", end))
	return &ExtraData{Verdict: VerdictAccepted, Assignment: assignment}, nil
}

// takeFailedLocked picks a subtask waiting for retry.
func (c *Coordinator) takeFailedLocked() *Subtask {
	for _, sub := range c.subtasks {
		if sub.Status == SubtaskFailure || sub.Status == SubtaskRestarted {
			return sub
		}
	}
	return nil
}

// ResultIncoming signals that a worker has begun transferring results for a
// subtask. Unknown ids are logged and ignored.
func (c *Coordinator) ResultIncoming(subtaskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subtasks[subtaskID]
	if !ok {
		c.warnNotMySubtask(subtaskID)
		return
	}
	AssertClientExists(sub.NodeID, c.clients).Finish()
	sub.Status = SubtaskDownloading
}

// ComputationFinished classifies a returned payload, runs the verifier and
// either accepts the results or routes the subtask through the failure
// funnel. Results arriving for a subtask that is not in flight are dropped.
func (c *Coordinator) ComputationFinished(ctx context.Context, subtaskID string, payload ResultPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subtasks[subtaskID]
	if !ok {
		c.warnNotMySubtask(subtaskID)
		return
	}
	if !sub.Status.IsComputed() {
		c.log.Info("not accepting results",
			zap.String("subtask", subtaskID),
			zap.String("status", sub.Status.String()))
		return
	}

	c.interpretResultsLocked(sub, payload)

	state := c.verifier.Verify(ctx, subtaskID, sub.ResultFiles, c)
	if state == verifier.StateVerified {
		c.acceptResultsLocked(sub)
		return
	}
	c.log.Info("subtask not verified",
		zap.String("subtask", subtaskID),
		zap.String("state", state.String()))
	c.markSubtaskFailedLocked(sub)
}

// ComputationFailed reports an explicit failure (worker timeout, disconnect,
// error report) for an in-flight subtask.
func (c *Coordinator) ComputationFailed(subtaskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subtasks[subtaskID]
	if !ok {
		c.warnNotMySubtask(subtaskID)
		return
	}
	c.markSubtaskFailedLocked(sub)
}

func (c *Coordinator) acceptResultsLocked(sub *Subtask) {
	sub.Status = SubtaskFinished
	c.unitsReceived += sub.Units()
	AssertClientExists(sub.NodeID, c.clients).Accept()
	c.log.Info("subtask finished",
		zap.String("subtask", sub.ID),
		zap.Float64("progress", c.progressLocked()))
}

// markSubtaskFailedLocked is the single failure funnel: it increments the
// task-level failed counter and penalizes the assigned worker, at most once
// per failure episode.
func (c *Coordinator) markSubtaskFailedLocked(sub *Subtask) {
	if sub.Status.IsFailureLike() {
		c.log.Debug("subtask already failed", zap.String("subtask", sub.ID))
		return
	}
	sub.Status = SubtaskFailure
	AssertClientExists(sub.NodeID, c.clients).Reject()
	c.failedSubtasks++
	c.log.Info("subtask failed",
		zap.String("subtask", sub.ID),
		zap.String("node", sub.NodeID))
}

// RestartSubtask requeues a subtask. An in-flight subtask is marked failed;
// a finished one additionally gives back the work units it had contributed.
// The status only moves to restarted when the subtask was not already in a
// failure-like state, so repeated restarts touch no counter twice.
func (c *Coordinator) RestartSubtask(subtaskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subtasks[subtaskID]
	if !ok {
		c.warnNotMySubtask(subtaskID)
		return
	}

	wasFailure := sub.Status.IsFailureLike()

	if sub.Status.IsComputed() {
		c.markSubtaskFailedLocked(sub)
	} else if sub.Status == SubtaskFinished {
		c.markSubtaskFailedLocked(sub)
		c.unitsReceived -= sub.Units()
	}

	if !wasFailure {
		sub.Status = SubtaskRestarted
	}
}

// Restart requeues every known subtask, used for whole-task recovery.
func (c *Coordinator) Restart() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.subtasks))
	for id := range c.subtasks {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.RestartSubtask(id)
	}
}

// ShouldAccept reports whether results for this subtask would currently be
// admitted (the subtask is known and in flight).
func (c *Coordinator) ShouldAccept(subtaskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subtasks[subtaskID]
	return ok && sub.Status.IsComputed()
}

// NeedsComputation reports whether there is still work to hand out.
func (c *Coordinator) NeedsComputation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUnit != c.totalUnits || c.failedSubtasks > 0
}

// FinishedComputation reports whether every work unit has an accepted result.
func (c *Coordinator) FinishedComputation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unitsReceived == c.totalUnits
}

// GetProgress is the accepted fraction of the task's work, in [0, 1].
func (c *Coordinator) GetProgress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

func (c *Coordinator) progressLocked() float64 {
	if c.totalUnits == 0 {
		return 0.0
	}
	return float64(c.unitsReceived) / float64(c.totalUnits)
}

// TasksLeft counts unassigned units plus failures pending retry.
func (c *Coordinator) TasksLeft() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return (c.totalUnits - c.lastUnit) + c.failedSubtasks
}

func (c *Coordinator) GetTotalTasks() int {
	return c.totalUnits
}

func (c *Coordinator) GetActiveTasks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUnit
}

// VerifySubtask reports whether a subtask reached the finished state.
// Unknown ids verify as false.
func (c *Coordinator) VerifySubtask(subtaskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subtasks[subtaskID]
	if !ok {
		c.warnNotMySubtask(subtaskID)
		return false
	}
	return sub.Status == SubtaskFinished
}

func (c *Coordinator) VerifyTask() bool {
	return c.FinishedComputation()
}

// SubtaskStatusOf exposes the current status of a subtask for supervisors.
func (c *Coordinator) SubtaskStatusOf(subtaskID string) (SubtaskStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subtasks[subtaskID]
	if !ok {
		return 0, false
	}
	return sub.Status, true
}

func (c *Coordinator) GetStdout(subtaskID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subtasks[subtaskID]; ok {
		return sub.Stdout
	}
	return ""
}

func (c *Coordinator) GetStderr(subtaskID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subtasks[subtaskID]; ok {
		return sub.Stderr
	}
	return ""
}

func (c *Coordinator) GetResults(subtaskID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subtasks[subtaskID]; ok {
		return append([]string(nil), sub.ResultFiles...)
	}
	return nil
}

// AddResources records the known resource files for delta computation.
func (c *Coordinator) AddResources(resFiles []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resFiles = append([]string(nil), resFiles...)
}

// GetResources packages the task's resources for a worker against the header
// it sent. Nil when the resource root does not exist. Deltas are staged under
// the task temp dir, so the coordinator must be initialized first.
func (c *Coordinator) GetResources(header *resource.Header, kind resource.Kind) (*resource.Delta, error) {
	c.mu.Lock()
	rootDir := resourcesRootDir(c.def.Resources)
	tmpDir := c.tmpDir
	resources := append([]string(nil), c.def.Resources...)
	c.mu.Unlock()

	if tmpDir == "" {
		return nil, ErrNotInitialized
	}

	return c.provider.GetResources(rootDir, header, kind, tmpDir, resources)
}

// ToDictionary renders the task for status surfaces.
func (c *Coordinator) ToDictionary() map[string]interface{} {
	return map[string]interface{}{
		"id":       c.def.TaskID,
		"name":     c.def.TaskName,
		"type":     c.def.TaskType,
		"subtasks": c.GetTotalTasks(),
		"progress": c.GetProgress(),
	}
}

func (c *Coordinator) warnNotMySubtask(subtaskID string) {
	c.log.Warn("this is not my subtask", zap.String("subtask", subtaskID))
}

func resourcesRootDir(resources []string) string {
	if len(resources) == 0 {
		return ""
	}
	prefix := resources[0]
	for _, r := range resources[1:] {
		for len(prefix) > 0 {
			if len(r) >= len(prefix) && r[:len(prefix)] == prefix {
				break
			}
			prefix = prefix[:len(prefix)-1]
		}
	}
	return filepath.Dir(prefix)
}

// Snapshot captures the coordinator's counters and subtask records for
// persistence. Reputation counters are runtime-only and start fresh after a
// restore, paired with Restart for whole-task recovery.
type Snapshot struct {
	TaskID         string              `json:"task_id"`
	TaskName       string              `json:"task_name"`
	TotalUnits     int                 `json:"total_tasks"`
	LastUnit       int                 `json:"last_task"`
	UnitsReceived  int                 `json:"num_tasks_received"`
	FailedSubtasks int                 `json:"num_failed_subtasks"`
	Subtasks       map[string]*Subtask `json:"subtasks"`
}

func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	subtasks := make(map[string]*Subtask, len(c.subtasks))
	for id, sub := range c.subtasks {
		clone := *sub
		clone.ResultFiles = append([]string(nil), sub.ResultFiles...)
		subtasks[id] = &clone
	}
	return &Snapshot{
		TaskID:         c.def.TaskID,
		TaskName:       c.def.TaskName,
		TotalUnits:     c.totalUnits,
		LastUnit:       c.lastUnit,
		UnitsReceived:  c.unitsReceived,
		FailedSubtasks: c.failedSubtasks,
		Subtasks:       subtasks,
	}
}

// RestoreFrom replaces the coordinator's state with a stored snapshot.
func (c *Coordinator) RestoreFrom(snap *Snapshot) error {
	if snap == nil || snap.TaskID != c.def.TaskID {
		return fmt.Errorf("snapshot does not belong to task %s", c.def.TaskID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalUnits = snap.TotalUnits
	c.lastUnit = snap.LastUnit
	c.unitsReceived = snap.UnitsReceived
	c.failedSubtasks = snap.FailedSubtasks
	c.subtasks = make(map[string]*Subtask, len(snap.Subtasks))
	for id, sub := range snap.Subtasks {
		clone := *sub
		c.subtasks[id] = &clone
	}
	return nil
}
