package task

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/todun/golem/dirmanager"
)

// ResultKind says how a returned payload is packaged.
type ResultKind uint8

const (
	// ResultFiles: the payload is a flat list of result file paths.
	ResultFiles ResultKind = iota
	// ResultData: the payload is a list of encoded blobs that must be
	// unpacked into files under a subtask-scoped staging directory.
	ResultData
)

// ResultPayload is what a worker returned for one subtask.
type ResultPayload struct {
	Kind  ResultKind
	Files []string
	Blobs [][]byte
}

// ResultUnpacker decodes one encoded result blob into a file under dir and
// returns the written path. The blob encoding itself (CBOR plus compression
// on the reference network) is a collaborator concern, not the
// coordinator's.
type ResultUnpacker interface {
	Unpack(blob []byte, dir string) (string, error)
}

// interpretResultsLocked resets the subtask's result bookkeeping, turns the
// payload into a file list and filters it. No error escapes: classification
// problems become subtask-scoped stderr diagnostics and an empty result set.
func (c *Coordinator) interpretResultsLocked(sub *Subtask, payload ResultPayload) {
	sub.Stdout = ""
	sub.Stderr = ""

	files := c.loadResultsLocked(sub, payload)
	sub.ResultFiles = c.filterResultsLocked(sub, files)
	if c.cfg.SortResults {
		sort.Strings(sub.ResultFiles)
	}
}

func (c *Coordinator) loadResultsLocked(sub *Subtask, payload ResultPayload) []string {
	switch payload.Kind {
	case ResultFiles:
		return payload.Files

	case ResultData:
		if c.unpacker == nil || c.tmpDir == "" {
			c.log.Error("no result unpacker for encoded payload",
				zap.String("subtask", sub.ID))
			sub.Stderr = fmt.Sprintf("[GOLEM] Task result %d not supported", payload.Kind)
			return nil
		}
		outputDir := filepath.Join(c.tmpDir, sub.ID)
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			c.log.Error("cannot create result staging dir",
				zap.String("subtask", sub.ID), zap.Error(err))
			sub.Stderr = fmt.Sprintf("[GOLEM] Cannot stage results: %v", err)
			return nil
		}
		files := make([]string, 0, len(payload.Blobs))
		for _, blob := range payload.Blobs {
			path, err := c.unpacker.Unpack(blob, outputDir)
			if err != nil {
				c.log.Warn("cannot unpack result blob",
					zap.String("subtask", sub.ID), zap.Error(err))
				continue
			}
			files = append(files, path)
		}
		return files

	default:
		c.log.Error("task result kind not supported",
			zap.String("subtask", sub.ID),
			zap.Uint8("kind", uint8(payload.Kind)))
		sub.Stderr = fmt.Sprintf("[GOLEM] Task result %d not supported", payload.Kind)
		return nil
	}
}

// filterResultsLocked routes log files into the stdout/stderr slots (single
// slot, last file wins) and relocates everything else out of the
// subtask-private staging directory. A file that cannot be moved is dropped
// from the result set without failing the subtask.
func (c *Coordinator) filterResultsLocked(sub *Subtask, files []string) []string {
	var filtered []string
	for _, tr := range files {
		switch {
		case strings.HasSuffix(tr, c.cfg.ErrLogSuffix):
			sub.Stderr = tr
		case strings.HasSuffix(tr, c.cfg.LogSuffix):
			sub.Stdout = tr
		default:
			moved := dirmanager.OuterDirPath(tr)
			if _, err := os.Stat(moved); err == nil {
				if err := os.Remove(moved); err != nil {
					c.log.Warn("cannot replace result file",
						zap.String("file", moved), zap.Error(err))
					continue
				}
			}
			if err := os.Rename(tr, moved); err != nil {
				c.log.Warn("cannot move result file to new location",
					zap.String("file", tr), zap.Error(err))
				continue
			}
			filtered = append(filtered, moved)
		}
	}
	return filtered
}
