package planner_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/tkrennwa/glacier-backup/pkg/config"
	"github.com/tkrennwa/glacier-backup/pkg/ledger"
	"github.com/tkrennwa/glacier-backup/pkg/pathscan"
	"github.com/tkrennwa/glacier-backup/pkg/planner"
)

// fakeEntries is an in-memory EntrySource.
type fakeEntries map[string]*ledger.Entry

func (f fakeEntries) Lookup(path string) (*ledger.Entry, error) {
	return f[path], nil
}

func writeFileWithMTime(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime on %s: %v", path, err)
	}
	return path
}

func TestBuildPlanNewCandidates(t *testing.T) {
	// A root with uploadFiles, two archives, empty ledger.
	root := t.TempDir()
	day1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	writeFileWithMTime(t, root, "a.tar.gz", day1)
	writeFileWithMTime(t, root, "b.tar.gz", day1)

	policies := []pathscan.PathPolicy{{Root: root, UploadFiles: true}}

	plan, err := planner.BuildPlan(policies, fakeEntries{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(plan.Items))
	}
	for i, expected := range []string{"a.tar.gz", "b.tar.gz"} {
		item := plan.Items[i]
		if filepath.Base(item.Candidate.Path) != expected {
			t.Errorf("item %d: expected %s, got %s", i, expected, item.Candidate.Path)
		}
		if item.Decision.Action != ledger.ActionUpload || item.Decision.Reason != ledger.ReasonNew {
			t.Errorf("item %d: expected Upload(New), got {%s, %s}", i, item.Decision.Action, item.Decision.Reason)
		}
	}
}

func TestBuildPlanChangeDetection(t *testing.T) {
	root := t.TempDir()
	observed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	unchanged := writeFileWithMTime(t, root, "same.dat", observed)
	changed := writeFileWithMTime(t, root, "touched.dat", observed.Add(time.Hour))

	entries := fakeEntries{
		unchanged: {Path: unchanged, ObservedMTime: observed},
		changed:   {Path: changed, ObservedMTime: observed},
	}

	t.Run("With upload_if_changed", func(t *testing.T) {
		policies := []pathscan.PathPolicy{{Root: root, UploadFiles: true, UploadIfChanged: true}}
		plan, err := planner.BuildPlan(policies, entries, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Resolver order is sorted: same.dat, touched.dat
		if plan.Items[0].Decision.Action != ledger.ActionSkip {
			t.Errorf("expected unchanged candidate to Skip, got %s", plan.Items[0].Decision.Action)
		}
		if plan.Items[1].Decision != (ledger.Decision{Action: ledger.ActionUpload, Reason: ledger.ReasonChanged}) {
			t.Errorf("expected changed candidate to Upload(Changed), got %+v", plan.Items[1].Decision)
		}
	})

	t.Run("Without upload_if_changed every known candidate skips", func(t *testing.T) {
		policies := []pathscan.PathPolicy{{Root: root, UploadFiles: true}}
		plan, err := planner.BuildPlan(policies, entries, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, item := range plan.Items {
			if item.Decision.Action != ledger.ActionSkip {
				t.Errorf("expected %s to Skip, got %s", item.Candidate.Path, item.Decision.Action)
			}
		}
	})
}

func TestBuildPlanPartialFailure(t *testing.T) {
	good := t.TempDir()
	writeFileWithMTime(t, good, "keep.dat", time.Now())
	missing := filepath.Join(t.TempDir(), "gone")

	policies := []pathscan.PathPolicy{
		{Root: missing, UploadFiles: true},
		{Root: good, UploadFiles: true},
	}

	plan, err := planner.BuildPlan(policies, fakeEntries{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Items) != 1 {
		t.Fatalf("expected the good root's item to survive, got %d items", len(plan.Items))
	}
	if len(plan.Diagnostics) != 1 {
		t.Fatalf("expected one diagnostic, got %d", len(plan.Diagnostics))
	}
	if plan.Diagnostics[0].Root != missing {
		t.Errorf("expected diagnostic for %s, got %s", missing, plan.Diagnostics[0].Root)
	}
}

func TestBuildPlanIdempotence(t *testing.T) {
	root := t.TempDir()
	writeFileWithMTime(t, root, "a", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	writeFileWithMTime(t, root, "b", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	policies := []pathscan.PathPolicy{{Root: root, UploadFiles: true}}

	first, err := planner.BuildPlan(policies, fakeEntries{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := planner.BuildPlan(policies, fakeEntries{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(first.Items, second.Items) {
		t.Errorf("expected identical plans with no fs or ledger changes:\n%+v\nvs\n%+v", first.Items, second.Items)
	}
}

func TestPoliciesFrom(t *testing.T) {
	policies, err := planner.PoliciesFrom([]config.RootPolicyConfig{
		{Path: "/var/backups/", UploadFiles: true, ExcludePrefix: "tmp-"},
		{Path: "/home/me/photos", UploadSingleDir: true, UploadIfChanged: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if policies[0].Root != "/var/backups" {
		t.Errorf("expected trailing slash to be trimmed, got %q", policies[0].Root)
	}
	if !policies[0].UploadFiles || policies[0].ExcludePrefix != "tmp-" {
		t.Errorf("policy flags not carried over: %+v", policies[0])
	}
	if !policies[1].UploadSingleDir || !policies[1].UploadIfChanged {
		t.Errorf("policy flags not carried over: %+v", policies[1])
	}
}
