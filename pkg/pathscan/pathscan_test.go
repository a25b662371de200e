package pathscan_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tkrennwa/glacier-backup/pkg/pathscan"
)

// writeFile creates a file with some content under dir and returns its path.
func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("failed to create file %s: %v", path, err)
	}
	return path
}

func mkdir(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.Mkdir(path, 0755); err != nil {
		t.Fatalf("failed to create dir %s: %v", path, err)
	}
	return path
}

func names(candidates []pathscan.Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = filepath.Base(c.Path)
	}
	return out
}

func equalNames(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolveMissingRoot(t *testing.T) {
	_, err := pathscan.Resolve(pathscan.PathPolicy{
		Root:        filepath.Join(t.TempDir(), "does-not-exist"),
		UploadFiles: true,
	})
	if !errors.Is(err, pathscan.ErrRootNotFound) {
		t.Fatalf("expected ErrRootNotFound, got %v", err)
	}
}

func TestResolveFileRoot(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "notes.txt")

	t.Run("File root is always the sole candidate", func(t *testing.T) {
		// Directory-oriented flags must be irrelevant for a plain file root.
		candidates, err := pathscan.Resolve(pathscan.PathPolicy{Root: file, UploadDirs: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(candidates) != 1 || candidates[0].Path != file {
			t.Fatalf("expected sole candidate %s, got %v", file, candidates)
		}
		if candidates[0].Kind != pathscan.KindFile {
			t.Errorf("expected file kind, got %s", candidates[0].Kind)
		}
	})

	t.Run("Exclude prefix applies to the root's own base name", func(t *testing.T) {
		candidates, err := pathscan.Resolve(pathscan.PathPolicy{Root: file, ExcludePrefix: "note"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(candidates) != 0 {
			t.Fatalf("expected no candidates, got %v", candidates)
		}
	})
}

func TestResolveDirectoryRoot(t *testing.T) {
	tests := []struct {
		name     string
		populate func(t *testing.T, root string)
		policy   pathscan.PathPolicy
		expected []string
	}{
		{
			name: "Single dir overrides child flags",
			populate: func(t *testing.T, root string) {
				writeFile(t, root, "a.txt")
				mkdir(t, root, "sub")
			},
			policy:   pathscan.PathPolicy{UploadSingleDir: true, UploadDirs: true, UploadFiles: true},
			expected: []string{""}, // placeholder, root base name checked below
		},
		{
			name: "Files only, sorted, dirs never appear",
			populate: func(t *testing.T, root string) {
				writeFile(t, root, "b.tar.gz")
				writeFile(t, root, "a.tar.gz")
				mkdir(t, root, "aa-dir")
			},
			policy:   pathscan.PathPolicy{UploadFiles: true},
			expected: []string{"a.tar.gz", "b.tar.gz"},
		},
		{
			name: "Dirs only, files never appear",
			populate: func(t *testing.T, root string) {
				writeFile(t, root, "a.txt")
				mkdir(t, root, "music")
				mkdir(t, root, "books")
			},
			policy:   pathscan.PathPolicy{UploadDirs: true},
			expected: []string{"books", "music"},
		},
		{
			name: "Union of files and dirs",
			populate: func(t *testing.T, root string) {
				writeFile(t, root, "z.txt")
				mkdir(t, root, "alpha")
			},
			policy:   pathscan.PathPolicy{UploadDirs: true, UploadFiles: true},
			expected: []string{"alpha", "z.txt"},
		},
		{
			name: "Neither flag yields zero candidates",
			populate: func(t *testing.T, root string) {
				writeFile(t, root, "a.txt")
				mkdir(t, root, "sub")
			},
			policy:   pathscan.PathPolicy{},
			expected: []string{},
		},
		{
			name: "Exclude prefix filters children",
			populate: func(t *testing.T, root string) {
				writeFile(t, root, "tmp-scratch.dat")
				writeFile(t, root, "keep.dat")
				mkdir(t, root, "tmp-cache")
			},
			policy:   pathscan.PathPolicy{UploadDirs: true, UploadFiles: true, ExcludePrefix: "tmp-"},
			expected: []string{"keep.dat"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			tc.populate(t, root)
			tc.policy.Root = root

			candidates, err := pathscan.Resolve(tc.policy)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tc.policy.UploadSingleDir {
				if len(candidates) != 1 || candidates[0].Path != root {
					t.Fatalf("expected sole candidate %s, got %v", root, candidates)
				}
				if candidates[0].Kind != pathscan.KindDir {
					t.Errorf("expected dir kind, got %s", candidates[0].Kind)
				}
				return
			}

			if !equalNames(names(candidates), tc.expected) {
				t.Errorf("expected candidates %v, got %v", tc.expected, names(candidates))
			}
		})
	}
}

func TestResolveSymlinkedChildren(t *testing.T) {
	target := t.TempDir()
	realFile := writeFile(t, target, "real.dat")
	realDir := mkdir(t, target, "realdir")

	root := t.TempDir()
	if err := os.Symlink(realFile, filepath.Join(root, "link.dat")); err != nil {
		t.Skipf("symlinks not supported here: %v", err)
	}
	if err := os.Symlink(realDir, filepath.Join(root, "linkdir")); err != nil {
		t.Fatalf("failed to create dir symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(target, "gone"), filepath.Join(root, "dangling")); err != nil {
		t.Fatalf("failed to create dangling symlink: %v", err)
	}

	candidates, err := pathscan.Resolve(pathscan.PathPolicy{
		Root:        root,
		UploadFiles: true,
		UploadDirs:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Links to real targets are candidates, classified by the target's kind.
	// The dangling link never appears.
	if !equalNames(names(candidates), []string{"link.dat", "linkdir"}) {
		t.Fatalf("expected [link.dat linkdir], got %v", names(candidates))
	}
	if candidates[0].Kind != pathscan.KindFile {
		t.Errorf("expected link.dat to resolve as a file, got %s", candidates[0].Kind)
	}
	if candidates[1].Kind != pathscan.KindDir {
		t.Errorf("expected linkdir to resolve as a dir, got %s", candidates[1].Kind)
	}
}

func TestResolveModTimePrecision(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "data.bin")

	stamp := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	if err := os.Chtimes(file, stamp, stamp); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}

	candidates, err := pathscan.Resolve(pathscan.PathPolicy{Root: dir, UploadFiles: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates))
	}

	got := candidates[0].ModTime
	if !got.Equal(stamp) {
		t.Errorf("expected mtime %v, got %v", stamp, got)
	}
	if got.Location() != time.UTC {
		t.Errorf("expected UTC mtime, got location %v", got.Location())
	}
	if got.Nanosecond() != 0 {
		t.Errorf("expected second precision, got %dns", got.Nanosecond())
	}
}

func TestResolveDeterminism(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"c", "a", "b"} {
		writeFile(t, root, name)
	}
	policy := pathscan.PathPolicy{Root: root, UploadFiles: true}

	first, err := pathscan.Resolve(policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := pathscan.Resolve(policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !equalNames(names(first), []string{"a", "b", "c"}) {
		t.Errorf("expected sorted candidates, got %v", names(first))
	}
	if !equalNames(names(first), names(second)) {
		t.Errorf("expected identical results across runs, got %v vs %v", names(first), names(second))
	}
}
