// Package planner turns the configured roots into the ordered list of
// (candidate, action) pairs for one run. Planning is read-only: it resolves
// candidates, consults the ledger, and decides, but never uploads or writes.
package planner

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tkrennwa/glacier-backup/pkg/config"
	"github.com/tkrennwa/glacier-backup/pkg/ledger"
	"github.com/tkrennwa/glacier-backup/pkg/pathscan"
	"github.com/tkrennwa/glacier-backup/pkg/plog"
)

// EntrySource is the ledger capability planning needs: point lookup.
type EntrySource interface {
	Lookup(path string) (*ledger.Entry, error)
}

// PlannedItem is one candidate with its decided action.
type PlannedItem struct {
	Root      string
	Candidate pathscan.Candidate
	Decision  ledger.Decision
}

// RootDiagnostic records a per-root resolution failure. A failed root never
// aborts planning of the remaining roots.
type RootDiagnostic struct {
	Root string
	Err  error
}

// Plan is the complete, ordered work list for one run.
type Plan struct {
	DryRun      bool
	Items       []PlannedItem
	Diagnostics []RootDiagnostic
}

// Uploads returns the number of planned upload actions.
func (p *Plan) Uploads() int {
	n := 0
	for _, item := range p.Items {
		if item.Decision.Action == ledger.ActionUpload {
			n++
		}
	}
	return n
}

// PoliciesFrom converts the configured roots into resolver policies,
// normalizing each path to an absolute form without a trailing separator.
func PoliciesFrom(roots []config.RootPolicyConfig) ([]pathscan.PathPolicy, error) {
	policies := make([]pathscan.PathPolicy, 0, len(roots))
	for _, rc := range roots {
		abs, err := filepath.Abs(strings.TrimRight(rc.Path, string(filepath.Separator)))
		if err != nil {
			return nil, fmt.Errorf("cannot resolve root path %q: %w", rc.Path, err)
		}
		policies = append(policies, pathscan.PathPolicy{
			Root:            abs,
			UploadSingleDir: rc.UploadSingleDir,
			UploadDirs:      rc.UploadDirs,
			UploadFiles:     rc.UploadFiles,
			UploadIfChanged: rc.UploadIfChanged,
			ExcludePrefix:   rc.ExcludePrefix,
		})
	}
	return policies, nil
}

// BuildPlan resolves every root in configuration order and decides an action
// for each candidate in resolver order.
//
// Resolution errors are demoted to per-root diagnostics. Ledger lookup
// errors, by contrast, mean the state store itself is unusable and abort
// planning entirely.
func BuildPlan(policies []pathscan.PathPolicy, entries EntrySource, dryRun bool) (*Plan, error) {
	plan := &Plan{DryRun: dryRun}

	for _, policy := range policies {
		candidates, err := pathscan.Resolve(policy)
		if err != nil {
			if errors.Is(err, pathscan.ErrRootNotFound) {
				plog.Warn("Skipping root", "root", policy.Root, "reason", err)
			} else {
				plog.Warn("Failed to resolve root", "root", policy.Root, "error", err)
			}
			plan.Diagnostics = append(plan.Diagnostics, RootDiagnostic{Root: policy.Root, Err: err})
			continue
		}

		for _, candidate := range candidates {
			entry, err := entries.Lookup(candidate.Path)
			if err != nil {
				return nil, fmt.Errorf("ledger lookup failed: %w", err)
			}
			plan.Items = append(plan.Items, PlannedItem{
				Root:      policy.Root,
				Candidate: candidate,
				Decision:  ledger.Decide(entry, candidate.ModTime, policy.UploadIfChanged),
			})
		}
	}

	plog.Debug("Plan built",
		"items", len(plan.Items),
		"uploads", plan.Uploads(),
		"failedRoots", len(plan.Diagnostics),
	)
	return plan, nil
}
