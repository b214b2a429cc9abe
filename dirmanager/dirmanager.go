// Package dirmanager lays out the on-disk directories a requester node uses
// for task staging and output collection.
package dirmanager

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// DirManager hands out per-task directories under a single node root.
// Layout: <root>/<node>/task/<task-id>/{tmp,output}.
type DirManager struct {
	root string
	node string
	log  *zap.Logger
}

func New(root, nodeName string, log *zap.Logger) *DirManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirManager{
		root: root,
		node: nodeName,
		log:  log.Named("dirmanager"),
	}
}

// TaskTemporaryDir returns the staging directory for a task, creating it when
// create is set. The coordinator calls this once and caches the result.
func (d *DirManager) TaskTemporaryDir(taskID string, create bool) (string, error) {
	dir := filepath.Join(d.taskDir(taskID), "tmp")
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create temporary dir: %w", err)
		}
	}
	return dir, nil
}

// TaskOutputDir returns the shared output directory for a task.
func (d *DirManager) TaskOutputDir(taskID string, create bool) (string, error) {
	dir := filepath.Join(d.taskDir(taskID), "output")
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	return dir, nil
}

// ClearTemporary removes a task's staging directory and everything under it.
func (d *DirManager) ClearTemporary(taskID string) error {
	dir := filepath.Join(d.taskDir(taskID), "tmp")
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear temporary dir: %w", err)
	}
	d.log.Debug("cleared temporary dir", zap.String("task", taskID))
	return nil
}

func (d *DirManager) taskDir(taskID string) string {
	return filepath.Join(d.root, d.node, "task", taskID)
}

// OuterDirPath maps a path one directory up. It is the relocation target for
// result files moved out of a subtask-private staging directory.
func OuterDirPath(path string) string {
	return filepath.Join(filepath.Dir(filepath.Dir(path)), filepath.Base(path))
}
