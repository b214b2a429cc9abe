// Package storage persists coordinator state so a requester node can pick a
// task back up after a restart. Snapshots are JSON values in a prefixed
// key-value database; any avalanchego database backend works, memdb in
// tests.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"go.uber.org/zap"

	"github.com/todun/golem/task"
)

var taskPrefix = []byte("task")

var ErrTaskNotFound = errors.New("task not found")

// TaskStore saves and restores task snapshots.
type TaskStore struct {
	db  database.Database
	log *zap.Logger
}

func NewTaskStore(db database.Database, log *zap.Logger) *TaskStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskStore{
		db:  prefixdb.New(taskPrefix, db),
		log: log.Named("storage"),
	}
}

func (s *TaskStore) SaveTask(snap *task.Snapshot) error {
	if snap == nil || snap.TaskID == "" {
		return errors.New("nil or unidentified snapshot")
	}
	value, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", snap.TaskID, err)
	}
	if err := s.db.Put([]byte(snap.TaskID), value); err != nil {
		return fmt.Errorf("failed to save task %s: %w", snap.TaskID, err)
	}
	s.log.Debug("task saved", zap.String("task", snap.TaskID))
	return nil
}

func (s *TaskStore) LoadTask(taskID string) (*task.Snapshot, error) {
	value, err := s.db.Get([]byte(taskID))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	snap := &task.Snapshot{}
	if err := json.Unmarshal(value, snap); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", taskID, err)
	}
	return snap, nil
}

func (s *TaskStore) DeleteTask(taskID string) error {
	if err := s.db.Delete([]byte(taskID)); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}
	return nil
}

// ListTasks returns the ids of every stored task.
func (s *TaskStore) ListTasks() ([]string, error) {
	it := s.db.NewIterator()
	defer it.Release()

	var ids []string
	for it.Next() {
		ids = append(ids, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return ids, nil
}

func (s *TaskStore) Close() error {
	return s.db.Close()
}
