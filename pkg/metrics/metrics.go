package metrics

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/tkrennwa/glacier-backup/pkg/plog"
)

// Metrics defines the interface for collecting and reporting backup run statistics.
type Metrics interface {
	AddUploaded(n int64)
	AddSkipped(n int64)
	AddFailed(n int64)
	AddPlanned(n int64)
	AddBytes(n int64)
	Log()
}

// RunMetrics holds the atomic counters for tracking a backup run's progress.
// It is the concrete implementation of the Metrics interface.
type RunMetrics struct {
	Uploaded atomic.Int64
	Skipped  atomic.Int64
	Failed   atomic.Int64
	Planned  atomic.Int64
	Bytes    atomic.Int64
}

func (m *RunMetrics) AddUploaded(n int64) { m.Uploaded.Add(n) }
func (m *RunMetrics) AddSkipped(n int64)  { m.Skipped.Add(n) }
func (m *RunMetrics) AddFailed(n int64)   { m.Failed.Add(n) }
func (m *RunMetrics) AddPlanned(n int64)  { m.Planned.Add(n) }
func (m *RunMetrics) AddBytes(n int64)    { m.Bytes.Add(n) }

// Log prints a summary of the backup run.
func (m *RunMetrics) Log() {
	plog.Info("SUM",
		"uploaded", m.Uploaded.Load(),
		"skipped", m.Skipped.Load(),
		"failed", m.Failed.Load(),
		"planned", m.Planned.Load(),
		"bytes", humanize.IBytes(uint64(m.Bytes.Load())),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddUploaded(n int64) {}
func (m *NoopMetrics) AddSkipped(n int64)  {}
func (m *NoopMetrics) AddFailed(n int64)   {}
func (m *NoopMetrics) AddPlanned(n int64)  {}
func (m *NoopMetrics) AddBytes(n int64)    {}
func (m *NoopMetrics) Log()                {}

// Statically assert that our types implement the interface.
var _ Metrics = (*RunMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
