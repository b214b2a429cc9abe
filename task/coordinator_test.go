package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/todun/golem/dirmanager"
	"github.com/todun/golem/resource"
	"github.com/todun/golem/verifier"
)

// stubVerifier returns a fixed state for every subtask.
type stubVerifier struct {
	state verifier.State
}

func (v *stubVerifier) Verify(_ context.Context, _ string, _ []string, _ verifier.TaskContext) verifier.State {
	return v.state
}

func newTestCoordinator(t *testing.T, totalSubtasks int, v verifier.Verifier) *Coordinator {
	t.Helper()

	def := &Definition{
		TaskID:        "task-1",
		TaskName:      "test",
		TaskType:      "generic",
		TotalSubtasks: totalSubtasks,
	}
	coord, err := NewCoordinator(def, "test-node", DefaultConfig(), v, nil)
	require.NoError(t, err)

	dm := dirmanager.New(t.TempDir(), "test-node", nil)
	require.NoError(t, coord.Initialize(dm))
	return coord
}

// finishSubtask drives one subtask through the full accepted lifecycle.
func finishSubtask(t *testing.T, coord *Coordinator, nodeID string) string {
	t.Helper()

	extra, err := coord.Assign(nodeID, 1.0, 1)
	require.NoError(t, err)
	require.Equal(t, VerdictAccepted, extra.Verdict)
	require.NotNil(t, extra.Assignment)

	id := extra.Assignment.SubtaskID
	coord.ResultIncoming(id)
	coord.ComputationFinished(context.Background(), id, ResultPayload{Kind: ResultFiles})
	return id
}

func TestAssignLifecycle(t *testing.T) {
	coord := newTestCoordinator(t, 2, &stubVerifier{state: verifier.StateVerified})

	extra, err := coord.Assign("node-a", 1.5, 4)
	require.NoError(t, err)
	require.Equal(t, VerdictAccepted, extra.Verdict)

	asg := extra.Assignment
	require.Equal(t, "task-1", asg.TaskID)
	require.Equal(t, "1", asg.ExtraData["start_task"])
	require.Equal(t, "1", asg.ExtraData["end_task"])
	require.False(t, asg.Deadline.IsZero())

	status, ok := coord.SubtaskStatusOf(asg.SubtaskID)
	require.True(t, ok)
	require.Equal(t, SubtaskStarting, status)

	coord.ResultIncoming(asg.SubtaskID)
	status, _ = coord.SubtaskStatusOf(asg.SubtaskID)
	require.Equal(t, SubtaskDownloading, status)

	coord.ComputationFinished(context.Background(), asg.SubtaskID, ResultPayload{Kind: ResultFiles})
	require.True(t, coord.VerifySubtask(asg.SubtaskID))
	require.InDelta(t, 0.5, coord.GetProgress(), 1e-9)
	require.False(t, coord.FinishedComputation())

	finishSubtask(t, coord, "node-a")
	require.True(t, coord.FinishedComputation())
	require.True(t, coord.VerifyTask())
	require.InDelta(t, 1.0, coord.GetProgress(), 1e-9)
	require.False(t, coord.NeedsComputation())
}

func TestAssignSameWorkerMustWait(t *testing.T) {
	coord := newTestCoordinator(t, 4, &stubVerifier{state: verifier.StateVerified})

	extra, err := coord.Assign("node-a", 1.0, 1)
	require.NoError(t, err)
	require.Equal(t, VerdictAccepted, extra.Verdict)

	// One accepted-but-unfinished attempt is the default cap.
	extra, err = coord.Assign("node-a", 1.0, 1)
	require.NoError(t, err)
	require.Equal(t, VerdictShouldWait, extra.Verdict)
	require.True(t, extra.ShouldWait())
	require.Nil(t, extra.Assignment)
}

func TestAssignAfterTaskComplete(t *testing.T) {
	coord := newTestCoordinator(t, 1, &stubVerifier{state: verifier.StateVerified})
	finishSubtask(t, coord, "node-a")

	_, err := coord.Assign("node-b", 1.0, 1)
	require.ErrorIs(t, err, ErrTaskComplete)
}

func TestVerificationFailureFunnel(t *testing.T) {
	coord := newTestCoordinator(t, 2, &stubVerifier{state: verifier.StateNotVerified})

	extra, err := coord.Assign("node-a", 1.0, 1)
	require.NoError(t, err)
	id := extra.Assignment.SubtaskID

	coord.ResultIncoming(id)
	coord.ComputationFinished(context.Background(), id, ResultPayload{Kind: ResultFiles})

	require.False(t, coord.VerifySubtask(id))
	status, _ := coord.SubtaskStatusOf(id)
	require.Equal(t, SubtaskFailure, status)
	require.True(t, coord.NeedsComputation())

	// The penalized worker is banned from this task.
	extra, err = coord.Assign("node-a", 1.0, 1)
	require.NoError(t, err)
	require.Equal(t, VerdictRejected, extra.Verdict)
}

func TestResultsForNonComputedSubtaskDropped(t *testing.T) {
	coord := newTestCoordinator(t, 2, &stubVerifier{state: verifier.StateVerified})
	id := finishSubtask(t, coord, "node-a")

	progress := coord.GetProgress()
	coord.ComputationFinished(context.Background(), id, ResultPayload{Kind: ResultFiles})
	require.Equal(t, progress, coord.GetProgress())

	status, _ := coord.SubtaskStatusOf(id)
	require.Equal(t, SubtaskFinished, status)
}

func TestComputationFailed(t *testing.T) {
	coord := newTestCoordinator(t, 2, &stubVerifier{state: verifier.StateVerified})

	extra, err := coord.Assign("node-a", 1.0, 1)
	require.NoError(t, err)
	id := extra.Assignment.SubtaskID

	coord.ComputationFailed(id)
	status, _ := coord.SubtaskStatusOf(id)
	require.Equal(t, SubtaskFailure, status)
	require.Equal(t, 2, coord.TasksLeft()) // one unassigned plus one pending retry

	// A second failure report for the same episode changes nothing.
	coord.ComputationFailed(id)
	require.Equal(t, 2, coord.TasksLeft())
}

func TestFailedSubtaskReassigned(t *testing.T) {
	coord := newTestCoordinator(t, 1, &stubVerifier{state: verifier.StateVerified})

	extra, err := coord.Assign("node-a", 1.0, 1)
	require.NoError(t, err)
	first := extra.Assignment.SubtaskID
	coord.ComputationFailed(first)

	extra, err = coord.Assign("node-b", 1.0, 1)
	require.NoError(t, err)
	require.Equal(t, VerdictAccepted, extra.Verdict)
	require.NotEqual(t, first, extra.Assignment.SubtaskID)
	require.Equal(t, "1", extra.Assignment.ExtraData["start_task"])

	status, _ := coord.SubtaskStatusOf(first)
	require.Equal(t, SubtaskResent, status)
	require.Equal(t, 0, coord.TasksLeft())
}

func TestRestartFinishedSubtask(t *testing.T) {
	coord := newTestCoordinator(t, 2, &stubVerifier{state: verifier.StateVerified})
	id := finishSubtask(t, coord, "node-a")
	require.InDelta(t, 0.5, coord.GetProgress(), 1e-9)

	coord.RestartSubtask(id)
	status, _ := coord.SubtaskStatusOf(id)
	require.Equal(t, SubtaskRestarted, status)
	require.InDelta(t, 0.0, coord.GetProgress(), 1e-9)
	require.Equal(t, 2, coord.TasksLeft())

	// Restart is idempotent on the counters.
	coord.RestartSubtask(id)
	status, _ = coord.SubtaskStatusOf(id)
	require.Equal(t, SubtaskRestarted, status)
	require.InDelta(t, 0.0, coord.GetProgress(), 1e-9)
	require.Equal(t, 2, coord.TasksLeft())
}

func TestRestartDownloadingKeepsReceivedCounter(t *testing.T) {
	coord := newTestCoordinator(t, 2, &stubVerifier{state: verifier.StateVerified})
	finishSubtask(t, coord, "node-a")

	extra, err := coord.Assign("node-a", 1.0, 1)
	require.NoError(t, err)
	id := extra.Assignment.SubtaskID
	coord.ResultIncoming(id)

	// Restarting an in-flight subtask does not undo accepted work.
	coord.RestartSubtask(id)
	require.InDelta(t, 0.5, coord.GetProgress(), 1e-9)
	status, _ := coord.SubtaskStatusOf(id)
	require.Equal(t, SubtaskRestarted, status)
}

func TestRestartAll(t *testing.T) {
	coord := newTestCoordinator(t, 4, &stubVerifier{state: verifier.StateVerified})
	finishSubtask(t, coord, "node-a")
	finishSubtask(t, coord, "node-a")

	coord.Restart()
	require.InDelta(t, 0.0, coord.GetProgress(), 1e-9)
	require.True(t, coord.NeedsComputation())
	require.Equal(t, 4, coord.TasksLeft())
}

func TestTasksLeftScenario(t *testing.T) {
	// Four planned units: three finish, then one of them fails via restart.
	coord := newTestCoordinator(t, 4, &stubVerifier{state: verifier.StateVerified})
	finishSubtask(t, coord, "node-a")
	finishSubtask(t, coord, "node-a")
	third := finishSubtask(t, coord, "node-a")

	coord.RestartSubtask(third)

	require.True(t, coord.NeedsComputation())
	require.Equal(t, 2, coord.TasksLeft()) // one unassigned plus one failed pending retry
	require.Equal(t, 3, coord.GetActiveTasks())
	require.Equal(t, 4, coord.GetTotalTasks())
}

func TestUnknownSubtaskOperationsAreNoops(t *testing.T) {
	coord := newTestCoordinator(t, 2, &stubVerifier{state: verifier.StateVerified})
	finishSubtask(t, coord, "node-a")
	progress := coord.GetProgress()
	left := coord.TasksLeft()

	coord.ResultIncoming("bogus")
	coord.ComputationFinished(context.Background(), "bogus", ResultPayload{Kind: ResultFiles})
	coord.ComputationFailed("bogus")
	coord.RestartSubtask("bogus")
	require.False(t, coord.VerifySubtask("bogus"))
	require.False(t, coord.ShouldAccept("bogus"))
	require.Empty(t, coord.GetStdout("bogus"))
	require.Empty(t, coord.GetStderr("bogus"))
	require.Nil(t, coord.GetResults("bogus"))

	require.Equal(t, progress, coord.GetProgress())
	require.Equal(t, left, coord.TasksLeft())
}

func TestSnapshotRoundTrip(t *testing.T) {
	coord := newTestCoordinator(t, 3, &stubVerifier{state: verifier.StateVerified})
	finishSubtask(t, coord, "node-a")
	extra, err := coord.Assign("node-b", 1.0, 1)
	require.NoError(t, err)
	coord.ComputationFailed(extra.Assignment.SubtaskID)

	snap := coord.Snapshot()
	require.Equal(t, "task-1", snap.TaskID)
	require.Equal(t, 1, snap.UnitsReceived)
	require.Equal(t, 1, snap.FailedSubtasks)
	require.Len(t, snap.Subtasks, 2)

	restored := newTestCoordinator(t, 3, &stubVerifier{state: verifier.StateVerified})
	require.NoError(t, restored.RestoreFrom(snap))
	require.InDelta(t, coord.GetProgress(), restored.GetProgress(), 1e-9)
	require.Equal(t, coord.TasksLeft(), restored.TasksLeft())

	other := &Snapshot{TaskID: "someone-else"}
	require.Error(t, restored.RestoreFrom(other))
}

func TestToDictionary(t *testing.T) {
	coord := newTestCoordinator(t, 2, &stubVerifier{state: verifier.StateVerified})
	finishSubtask(t, coord, "node-a")

	dict := coord.ToDictionary()
	require.Equal(t, "task-1", dict["id"])
	require.Equal(t, 2, dict["subtasks"])
	require.InDelta(t, 0.5, dict["progress"].(float64), 1e-9)
}

func TestGetResourcesBeforeInitialize(t *testing.T) {
	res := filepath.Join(t.TempDir(), "scene.blend")
	require.NoError(t, os.WriteFile(res, []byte("scene"), 0o644))

	def := &Definition{TaskID: "task-res", TotalSubtasks: 1, Resources: []string{res}}
	coord, err := NewCoordinator(def, "node", nil, &stubVerifier{state: verifier.StateVerified}, nil)
	require.NoError(t, err)

	_, err = coord.GetResources(nil, resource.KindZip)
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, coord.Initialize(dirmanager.New(t.TempDir(), "node", nil)))
	delta, err := coord.GetResources(nil, resource.KindZip)
	require.NoError(t, err)
	require.NotNil(t, delta)
}

func TestInitializeCreatesDirs(t *testing.T) {
	root := t.TempDir()
	def := &Definition{TaskID: "task-dirs", TotalSubtasks: 1}
	coord, err := NewCoordinator(def, "node", nil, &stubVerifier{state: verifier.StateVerified}, nil)
	require.NoError(t, err)

	dm := dirmanager.New(root, "node", nil)
	require.NoError(t, coord.Initialize(dm))

	info, err := os.Stat(coord.TempDir())
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Equal(t, filepath.Join(root, "node", "task", "task-dirs", "tmp"), coord.TempDir())
}
