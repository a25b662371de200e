package engine

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/tkrennwa/glacier-backup/pkg/ledger"
	"github.com/tkrennwa/glacier-backup/pkg/pathscan"
	"github.com/tkrennwa/glacier-backup/pkg/plog"
)

// ItemStatus is the terminal state of one planned item after execution.
type ItemStatus int

const (
	// StatusSkipped means the ledger already covered the candidate.
	StatusSkipped ItemStatus = iota
	// StatusUploaded means the archive went up and the ledger was updated.
	StatusUploaded
	// StatusFailed means packing, upload or recording failed. The ledger is
	// untouched so the candidate is retried on the next run.
	StatusFailed
	// StatusPlanned means a dry run announced the upload without performing it.
	StatusPlanned
)

var itemStatusToString = map[ItemStatus]string{
	StatusSkipped:  "skipped",
	StatusUploaded: "uploaded",
	StatusFailed:   "failed",
	StatusPlanned:  "planned",
}

// String returns the string representation of an ItemStatus.
func (s ItemStatus) String() string {
	if str, ok := itemStatusToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_item_status(%d)", s)
}

// ItemResult is the outcome of executing one planned item.
type ItemResult struct {
	Path      string
	Kind      pathscan.Kind
	Status    ItemStatus
	Reason    ledger.Reason
	ArchiveID string
	Bytes     int64
	Err       error
}

// Report is the full outcome of one run.
type Report struct {
	DryRun  bool
	Results []ItemResult
}

// FailedCount returns the number of failed items.
func (r *Report) FailedCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			n++
		}
	}
	return n
}

// UploadedCount returns the number of uploaded items.
func (r *Report) UploadedCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusUploaded {
			n++
		}
	}
	return n
}

// Log prints the per-item outcomes and a run summary.
func (r *Report) Log() {
	var bytes int64
	for _, res := range r.Results {
		switch res.Status {
		case StatusUploaded:
			plog.Info("Uploaded", "path", res.Path, "archiveID", res.ArchiveID, "size", humanize.IBytes(uint64(res.Bytes)))
			bytes += res.Bytes
		case StatusFailed:
			plog.Error("Failed", "path", res.Path, "error", res.Err)
		case StatusPlanned:
			plog.Info("[DRY RUN] Would upload", "path", res.Path, "reason", res.Reason)
		case StatusSkipped:
			plog.Debug("Skipped", "path", res.Path, "reason", res.Reason)
		}
	}
	plog.Info("Run complete",
		"uploaded", r.UploadedCount(),
		"failed", r.FailedCount(),
		"total", len(r.Results),
		"bytes", humanize.IBytes(uint64(bytes)),
		"dryRun", r.DryRun,
	)
}
