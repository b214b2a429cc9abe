package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/spf13/cobra"

	"github.com/todun/golem/dirmanager"
	"github.com/todun/golem/storage"
	"github.com/todun/golem/task"
)

var (
	taskName     string
	subtasks     int
	bid          float64
	taskTimeout  string
	subTimeout   string
	snapshotPath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build a task and drive a local demo round through it",
	RunE: func(_ *cobra.Command, _ []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		dict := map[string]interface{}{
			"name":            taskName,
			"subtasks":        subtasks,
			"bid":             bid,
			"timeout":         taskTimeout,
			"subtask_timeout": subTimeout,
			"options": map[string]interface{}{
				"output_path": filepath.Join(dataDir, "output"),
			},
		}
		typeInfo := task.TypeInfo{Name: "generic"}
		def, err := task.BuildDefinition(typeInfo, dict)
		if err != nil {
			return err
		}

		dm := dirmanager.New(dataDir, nodeName, log)
		builder := &task.Builder{
			NodeName:   nodeName,
			Definition: def,
			RootPath:   dataDir,
			DirManager: dm,
			Log:        log,
		}
		coord, err := builder.Build()
		if err != nil {
			return err
		}

		// Local demo: one well-behaved worker computes every subtask.
		ctx := context.Background()
		for coord.NeedsComputation() {
			extra, err := coord.Assign("local-worker", 1.0, 1)
			if err != nil {
				return err
			}
			if extra.Verdict != task.VerdictAccepted {
				break
			}
			subtaskID := extra.Assignment.SubtaskID
			coord.ResultIncoming(subtaskID)

			resultFile, err := writeDemoResult(coord.TempDir(), subtaskID)
			if err != nil {
				return err
			}
			coord.ComputationFinished(ctx, subtaskID, task.ResultPayload{
				Kind:  task.ResultFiles,
				Files: []string{resultFile},
			})
		}

		store := storage.NewTaskStore(memdb.New(), log)
		snap := coord.Snapshot()
		if err := store.SaveTask(snap); err != nil {
			return err
		}
		if snapshotPath != "" {
			if err := writeSnapshot(snapshotPath, snap); err != nil {
				return err
			}
		}

		out, _ := json.MarshalIndent(coord.ToDictionary(), "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func writeDemoResult(tmpDir, subtaskID string) (string, error) {
	dir := filepath.Join(tmpDir, subtaskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, subtaskID+".out")
	if err := os.WriteFile(path, []byte("demo result\n"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func writeSnapshot(path string, snap *task.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&taskName, "name", "demo-task", "Task name")
	runCmd.Flags().IntVar(&subtasks, "subtasks", 4, "Number of subtasks")
	runCmd.Flags().Float64Var(&bid, "bid", 0.1, "Bid in ether")
	runCmd.Flags().StringVar(&taskTimeout, "timeout", "4:00:00", "Full task timeout (H:MM:SS)")
	runCmd.Flags().StringVar(&subTimeout, "subtask-timeout", "0:20:00", "Subtask timeout (H:MM:SS)")
	runCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Write the final task snapshot to this file")
}
