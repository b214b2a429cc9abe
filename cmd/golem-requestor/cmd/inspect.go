package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/todun/golem/task"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [snapshot-file]",
	Short: "Print the state of a stored task snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		snap := &task.Snapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			return fmt.Errorf("failed to decode snapshot: %w", err)
		}

		fmt.Printf("task:     %s (%s)\n", snap.TaskID, snap.TaskName)
		fmt.Printf("units:    %d total, %d assigned, %d received, %d failed\n",
			snap.TotalUnits, snap.LastUnit, snap.UnitsReceived, snap.FailedSubtasks)
		for id, sub := range snap.Subtasks {
			fmt.Printf("  %s  units %d-%d  %s  node=%s\n",
				id, sub.StartUnit, sub.EndUnit, sub.Status, sub.NodeID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
