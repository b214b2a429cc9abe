package resource

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeResource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func TestBuildHeader(t *testing.T) {
	dir := t.TempDir()
	a := writeResource(t, dir, "scene.blend", "scene")
	b := writeResource(t, dir, "texture.png", "texture")

	header, err := BuildHeader(dir)
	require.NoError(t, err)
	require.Equal(t, dir, header.DirName)
	require.Len(t, header.Entries, 2)

	for _, path := range []string{a, b} {
		sum, err := checksumFile(path)
		require.NoError(t, err)
		require.True(t, header.Has(path, sum))
	}
	require.False(t, header.Has(a, "0000"))
}

func TestHeaderHasNil(t *testing.T) {
	var header *Header
	require.False(t, header.Has("x", "y"))
}

func TestGetResourcesZipDelta(t *testing.T) {
	dir := t.TempDir()
	held := writeResource(t, dir, "scene.blend", "scene")
	missing := writeResource(t, dir, "texture.png", "texture")

	sum, err := checksumFile(held)
	require.NoError(t, err)
	header := &Header{DirName: dir, Entries: []FileEntry{{Path: held, Checksum: sum}}}

	p := NewProvider(nil)
	delta, err := p.GetResources(dir, header, KindZip, t.TempDir(), []string{held, missing})
	require.NoError(t, err)
	require.Equal(t, KindZip, delta.Kind)
	require.Equal(t, []string{"texture.png"}, zipNames(t, delta.ZipPath))
}

func TestGetResourcesPartsDelta(t *testing.T) {
	dir := t.TempDir()
	held := writeResource(t, dir, "scene.blend", "scene")
	missing := writeResource(t, dir, "texture.png", "texture")

	sum, err := checksumFile(held)
	require.NoError(t, err)
	header := &Header{DirName: dir, Entries: []FileEntry{{Path: held, Checksum: sum}}}

	p := NewProvider(nil)
	delta, err := p.GetResources(dir, header, KindParts, t.TempDir(), []string{held, missing})
	require.NoError(t, err)
	require.Equal(t, KindParts, delta.Kind)
	require.Len(t, delta.Parts, 1)
	require.Equal(t, missing, delta.Parts[0].Path)
}

func TestGetResourcesHashes(t *testing.T) {
	dir := t.TempDir()
	res := writeResource(t, dir, "scene.blend", "scene")

	p := NewProvider(nil)
	delta, err := p.GetResources(dir, nil, KindHashes, t.TempDir(), []string{res})
	require.NoError(t, err)
	require.Equal(t, KindHashes, delta.Kind)
	require.Equal(t, []string{res}, delta.Hashes)
}

func TestGetResourcesMissingRoot(t *testing.T) {
	p := NewProvider(nil)

	delta, err := p.GetResources("", nil, KindZip, t.TempDir(), nil)
	require.NoError(t, err)
	require.Nil(t, delta)

	delta, err = p.GetResources(filepath.Join(t.TempDir(), "gone"), nil, KindZip, t.TempDir(), nil)
	require.NoError(t, err)
	require.Nil(t, delta)
}

func TestGetResourcesUnknownKind(t *testing.T) {
	p := NewProvider(nil)
	_, err := p.GetResources(t.TempDir(), nil, Kind(9), t.TempDir(), nil)
	require.Error(t, err)
}

func TestZipDeltaSkipsUnreadable(t *testing.T) {
	dir := t.TempDir()
	res := writeResource(t, dir, "scene.blend", "scene")
	gone := filepath.Join(dir, "gone.png")

	p := NewProvider(nil)
	delta, err := p.GetResources(dir, nil, KindZip, t.TempDir(), []string{res, gone})
	require.NoError(t, err)
	require.Equal(t, []string{"scene.blend"}, zipNames(t, delta.ZipPath))
}
