// Package engine executes a plan: it packs directory candidates, streams
// archives through the transport and records successful uploads in the
// ledger. One failed item never stops the rest of the run.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tkrennwa/glacier-backup/pkg/ledger"
	"github.com/tkrennwa/glacier-backup/pkg/metrics"
	"github.com/tkrennwa/glacier-backup/pkg/pathscan"
	"github.com/tkrennwa/glacier-backup/pkg/planner"
	"github.com/tkrennwa/glacier-backup/pkg/plog"
)

// Transport sends one archive and returns the archive id assigned by the
// storage service.
type Transport interface {
	Upload(ctx context.Context, r io.ReaderAt, size int64, description string) (string, error)
}

// Packer builds the archive file for a directory candidate.
type Packer interface {
	Pack(ctx context.Context, dirPath string) (string, error)
	ArchiveName(dirPath string) string
}

// Recorder persists a completed upload.
type Recorder interface {
	Record(entry ledger.Entry) error
}

// Runner executes plans against a transport, packer and recorder.
type Runner struct {
	transport Transport
	packer    Packer
	recorder  Recorder
	metrics   metrics.Metrics
	now       func() time.Time
}

// NewRunner creates a Runner. transport may be nil for dry runs; metrics may
// be nil to disable collection.
func NewRunner(transport Transport, packer Packer, recorder Recorder, m metrics.Metrics) *Runner {
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &Runner{
		transport: transport,
		packer:    packer,
		recorder:  recorder,
		metrics:   m,
		now:       time.Now,
	}
}

// Execute runs every item of the plan in order and returns the report.
// Context cancellation stops the run between items; items already executed
// stay in the report.
func (r *Runner) Execute(ctx context.Context, plan *planner.Plan) (*Report, error) {
	report := &Report{DryRun: plan.DryRun}

	for _, item := range plan.Items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := r.executeItem(ctx, item, plan.DryRun)
		report.Results = append(report.Results, result)

		switch result.Status {
		case StatusUploaded:
			r.metrics.AddUploaded(1)
			r.metrics.AddBytes(result.Bytes)
		case StatusSkipped:
			r.metrics.AddSkipped(1)
		case StatusFailed:
			r.metrics.AddFailed(1)
		case StatusPlanned:
			r.metrics.AddPlanned(1)
		}
	}
	return report, nil
}

func (r *Runner) executeItem(ctx context.Context, item planner.PlannedItem, dryRun bool) ItemResult {
	result := ItemResult{
		Path:   item.Candidate.Path,
		Kind:   item.Candidate.Kind,
		Reason: item.Decision.Reason,
	}

	if item.Decision.Action == ledger.ActionSkip {
		result.Status = StatusSkipped
		return result
	}

	if dryRun {
		result.Status = StatusPlanned
		return result
	}

	archiveID, name, size, err := r.uploadCandidate(ctx, item.Candidate)
	if err != nil {
		plog.Error("Upload failed", "path", item.Candidate.Path, "error", err)
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	now := r.now().UTC()
	entry := ledger.Entry{
		Path:          item.Candidate.Path,
		Name:          name,
		ArchiveID:     archiveID,
		UploadedAt:    now,
		ObservedMTime: item.Candidate.ModTime,
	}
	if err := r.recorder.Record(entry); err != nil {
		// The archive exists remotely but is not tracked. The next run will
		// upload it again, which is safe but wasteful, so make it loud.
		plog.Error("Failed to record upload", "path", item.Candidate.Path, "archiveID", archiveID, "error", err)
		result.Status = StatusFailed
		result.Err = fmt.Errorf("upload succeeded but recording failed: %w", err)
		return result
	}

	result.Status = StatusUploaded
	result.ArchiveID = archiveID
	result.Bytes = size
	return result
}

// uploadCandidate builds (for directories) and transmits the archive for a
// candidate, returning the archive id, the uploaded name and the byte size.
func (r *Runner) uploadCandidate(ctx context.Context, cand pathscan.Candidate) (string, string, int64, error) {
	switch cand.Kind {
	case pathscan.KindFile:
		return r.uploadFile(ctx, cand)
	case pathscan.KindDir:
		return r.uploadDir(ctx, cand)
	default:
		return "", "", 0, fmt.Errorf("cannot upload candidate of kind %s", cand.Kind)
	}
}

func (r *Runner) uploadFile(ctx context.Context, cand pathscan.Candidate) (string, string, int64, error) {
	f, err := os.Open(cand.Path)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to open %s: %w", cand.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to stat %s: %w", cand.Path, err)
	}

	name := info.Name()
	archiveID, err := r.transport.Upload(ctx, f, info.Size(), r.description(cand.Path))
	if err != nil {
		return "", "", 0, err
	}
	return archiveID, name, info.Size(), nil
}

func (r *Runner) uploadDir(ctx context.Context, cand pathscan.Candidate) (string, string, int64, error) {
	archivePath, err := r.packer.Pack(ctx, cand.Path)
	if err != nil {
		return "", "", 0, err
	}
	defer os.Remove(archivePath)

	f, err := os.Open(archivePath)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to stat archive %s: %w", archivePath, err)
	}

	name := r.packer.ArchiveName(cand.Path)
	archiveID, err := r.transport.Upload(ctx, f, info.Size(), r.description(cand.Path))
	if err != nil {
		return "", "", 0, err
	}
	return archiveID, name, info.Size(), nil
}

// description identifies the archive in the vault inventory.
func (r *Runner) description(path string) string {
	return path + " " + r.now().UTC().Format(time.RFC3339)
}
