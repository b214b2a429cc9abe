// Package resource packages a task's input resources for transfer to
// workers. A worker reports what it already holds through a Header; the
// provider answers with a delta in the encoding the worker asked for.
package resource

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Kind selects the resource encoding a worker requested.
type Kind uint8

const (
	KindZip Kind = iota
	KindParts
	KindHashes
)

// FileEntry is one resource file with its content checksum.
type FileEntry struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// Header describes resources a peer already holds.
type Header struct {
	DirName string      `json:"dir_name"`
	Entries []FileEntry `json:"entries"`
}

// Has reports whether the header lists path with the given checksum.
func (h *Header) Has(path, checksum string) bool {
	if h == nil {
		return false
	}
	for _, e := range h.Entries {
		if e.Path == path && e.Checksum == checksum {
			return true
		}
	}
	return false
}

// BuildHeader walks dir and checksums every regular file under it.
func BuildHeader(dir string) (*Header, error) {
	header := &Header{DirName: dir}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		sum, err := checksumFile(path)
		if err != nil {
			return err
		}
		header.Entries = append(header.Entries, FileEntry{Path: path, Checksum: sum})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build resource header: %w", err)
	}
	return header, nil
}

// Delta is the provider's answer: exactly the field matching Kind is set.
type Delta struct {
	Kind    Kind
	ZipPath string
	Parts   []FileEntry
	Hashes  []string
}

type Provider struct {
	log *zap.Logger
}

func NewProvider(log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{log: log.Named("resource")}
}

// GetResources packages the resources a worker is missing. Returns nil when
// the resource root does not exist.
func (p *Provider) GetResources(rootDir string, header *Header, kind Kind, tmpDir string, resources []string) (*Delta, error) {
	if rootDir == "" {
		return nil, nil
	}
	if _, err := os.Stat(rootDir); err != nil {
		return nil, nil
	}

	switch kind {
	case KindZip:
		zipPath, err := p.prepareDeltaZip(header, tmpDir, resources)
		if err != nil {
			return nil, err
		}
		return &Delta{Kind: KindZip, ZipPath: zipPath}, nil

	case KindParts:
		parts, err := p.partsHeaderDelta(header, resources)
		if err != nil {
			return nil, err
		}
		return &Delta{Kind: KindParts, Parts: parts}, nil

	case KindHashes:
		return &Delta{Kind: KindHashes, Hashes: append([]string(nil), resources...)}, nil

	default:
		return nil, fmt.Errorf("unknown resource kind %d", kind)
	}
}

// prepareDeltaZip zips every resource the header does not already account
// for into an archive under the task's temporary directory.
func (p *Provider) prepareDeltaZip(header *Header, tmpDir string, resources []string) (string, error) {
	zipPath := filepath.Join(tmpDir, fmt.Sprintf("resources_%d.zip", time.Now().UnixNano()))
	out, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to create delta zip: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, res := range resources {
		sum, err := checksumFile(res)
		if err != nil {
			p.log.Warn("skipping unreadable resource",
				zap.String("file", res), zap.Error(err))
			continue
		}
		if header.Has(res, sum) {
			continue
		}
		if err := addToZip(zw, res); err != nil {
			zw.Close()
			return "", fmt.Errorf("failed to add %s to delta zip: %w", res, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize delta zip: %w", err)
	}
	return zipPath, nil
}

func (p *Provider) partsHeaderDelta(header *Header, resources []string) ([]FileEntry, error) {
	var parts []FileEntry
	for _, res := range resources {
		sum, err := checksumFile(res)
		if err != nil {
			p.log.Warn("skipping unreadable resource",
				zap.String("file", res), zap.Error(err))
			continue
		}
		if !header.Has(res, sum) {
			parts = append(parts, FileEntry{Path: res, Checksum: sum})
		}
	}
	return parts, nil
}

func addToZip(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
