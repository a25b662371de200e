// Package pathscan resolves a configured root path and its policy into the
// ordered list of backup candidates for a single run. Resolution is read-only
// and never recurses past the direct children of a root.
package pathscan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tkrennwa/glacier-backup/pkg/plog"
)

// ErrRootNotFound is returned when a configured root path does not exist.
var ErrRootNotFound = errors.New("root path does not exist")

// PathPolicy is the resolved, immutable configuration for one root path.
type PathPolicy struct {
	// Root is the absolute path this policy applies to.
	Root string
	// UploadSingleDir treats Root itself as the sole candidate if it is a directory.
	UploadSingleDir bool
	// UploadDirs selects each direct child directory of Root as a candidate.
	UploadDirs bool
	// UploadFiles selects each direct child file of Root as a candidate.
	UploadFiles bool
	// UploadIfChanged re-uploads a candidate whose modification time is newer
	// than the last recorded upload.
	UploadIfChanged bool
	// ExcludePrefix drops any candidate whose base name starts with this
	// prefix. The empty string excludes nothing.
	ExcludePrefix string
}

// Candidate is a path selected by policy as eligible for upload in the
// current run. Candidates are recomputed every run, never persisted.
type Candidate struct {
	Path    string
	Kind    Kind
	ModTime time.Time
}

// Resolve computes the ordered candidate list for a single policy.
//
// A plain-file root is always the sole candidate. A directory root with
// UploadSingleDir set is the sole candidate, overriding the child flags.
// Otherwise the direct children selected by UploadDirs/UploadFiles are
// returned sorted by name. A missing root fails with ErrRootNotFound.
func Resolve(policy PathPolicy) ([]Candidate, error) {
	info, err := os.Stat(policy.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, policy.Root)
		}
		return nil, fmt.Errorf("cannot stat root %s: %w", policy.Root, err)
	}

	if info.Mode().IsRegular() {
		if excluded(policy.ExcludePrefix, policy.Root) {
			return []Candidate{}, nil
		}
		return []Candidate{newCandidate(policy.Root, KindFile, info.ModTime())}, nil
	}

	if !info.IsDir() {
		// Sockets, device nodes and the like are never candidates.
		plog.Debug("Root is neither a file nor a directory, yielding no candidates", "root", policy.Root)
		return []Candidate{}, nil
	}

	if policy.UploadSingleDir {
		if excluded(policy.ExcludePrefix, policy.Root) {
			return []Candidate{}, nil
		}
		return []Candidate{newCandidate(policy.Root, KindDir, info.ModTime())}, nil
	}

	if !policy.UploadDirs && !policy.UploadFiles {
		return []Candidate{}, nil
	}

	return resolveChildren(policy)
}

// resolveChildren enumerates the direct children of a directory root.
// os.ReadDir returns entries sorted by name, which gives the deterministic
// ordering the planner depends on.
func resolveChildren(policy PathPolicy) ([]Candidate, error) {
	entries, err := os.ReadDir(policy.Root)
	if err != nil {
		return nil, fmt.Errorf("cannot read root directory %s: %w", policy.Root, err)
	}

	candidates := []Candidate{}
	for _, entry := range entries {
		childPath := filepath.Join(policy.Root, entry.Name())

		// Stat follows symlinks, so a link to a real file or directory is
		// classified by its target. Dangling links, and children that vanish
		// between list and stat, are not this run's candidates.
		info, err := os.Stat(childPath)
		if err != nil {
			plog.Debug("Skipping child that cannot be stat'd", "child", entry.Name(), "error", err)
			continue
		}

		var kind Kind
		switch {
		case info.IsDir() && policy.UploadDirs:
			kind = KindDir
		case info.Mode().IsRegular() && policy.UploadFiles:
			kind = KindFile
		default:
			// Unselected kinds, sockets, device nodes etc.
			continue
		}

		if excluded(policy.ExcludePrefix, entry.Name()) {
			continue
		}

		candidates = append(candidates, newCandidate(childPath, kind, info.ModTime()))
	}
	return candidates, nil
}

// newCandidate normalizes the modification timestamp to UTC second precision,
// matching what the ledger stores.
func newCandidate(path string, kind Kind, modTime time.Time) Candidate {
	return Candidate{
		Path:    path,
		Kind:    kind,
		ModTime: modTime.UTC().Truncate(time.Second),
	}
}

func excluded(prefix, path string) bool {
	return prefix != "" && strings.HasPrefix(filepath.Base(path), prefix)
}
