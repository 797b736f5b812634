// Package perf provides performance measurement utilities for update runs.
package perf

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Timer tracks operation timing for performance analysis.
type Timer struct {
	name      string
	startTime time.Time
	logger    logrus.FieldLogger
}

// Start begins timing an operation.
func Start(name string, logger logrus.FieldLogger) *Timer {
	return &Timer{
		name:      name,
		startTime: time.Now(),
		logger:    logger,
	}
}

// Stop ends timing and logs the duration.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.startTime)
	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"operation":   t.name,
			"duration_ms": duration.Milliseconds(),
		}).Info("operation completed")
	}
	return duration
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	duration := time.Since(t.startTime)
	fields := logrus.Fields{
		"operation":   t.name,
		"duration_ms": duration.Milliseconds(),
	}
	if t.logger != nil {
		if duration > threshold {
			t.logger.WithFields(fields).Warn("operation exceeded threshold")
		} else {
			t.logger.WithFields(fields).Debug("operation completed")
		}
	}
	return duration
}

// UpdateMetrics tracks timing and volume for one update run.
type UpdateMetrics struct {
	mu sync.Mutex

	ScanDuration      time.Duration
	DownloadDuration  time.Duration
	RetentionDuration time.Duration
	TotalDuration     time.Duration

	BytesDownloaded   int64
	ArchivesInstalled int
	ArchivesFailed    int
	ArchivesRemoved   int
}

// NewUpdateMetrics creates a new metrics tracker.
func NewUpdateMetrics() *UpdateMetrics {
	return &UpdateMetrics{}
}

// RecordInstall records one successfully installed archive of the given size.
func (m *UpdateMetrics) RecordInstall(sizeBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BytesDownloaded += sizeBytes
	m.ArchivesInstalled++
}

// RecordFailure records one failed download.
func (m *UpdateMetrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArchivesFailed++
}

// RecordRemoval records one superseded archive removed by retention.
func (m *UpdateMetrics) RecordRemoval() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArchivesRemoved++
}

// Summary returns a formatted summary of the run.
func (m *UpdateMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return fmt.Sprintf(`
=== Update Run Metrics ===
Total Duration:      %v

Phase Durations:
  Catalog Scan:      %v
  Download:          %v
  Retention:         %v

Volume:
  Bytes Downloaded:  %d
  Installed:         %d
  Failed:            %d
  Removed (old):     %d
`,
		m.TotalDuration,
		m.ScanDuration,
		m.DownloadDuration,
		m.RetentionDuration,
		m.BytesDownloaded,
		m.ArchivesInstalled,
		m.ArchivesFailed,
		m.ArchivesRemoved,
	)
}

// LogSummary writes the run counters as structured fields.
func (m *UpdateMetrics) LogSummary(logger logrus.FieldLogger) {
	if logger == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	logger.WithFields(logrus.Fields{
		"total_ms":         m.TotalDuration.Milliseconds(),
		"scan_ms":          m.ScanDuration.Milliseconds(),
		"download_ms":      m.DownloadDuration.Milliseconds(),
		"retention_ms":     m.RetentionDuration.Milliseconds(),
		"bytes_downloaded": m.BytesDownloaded,
		"installed":        m.ArchivesInstalled,
		"failed":           m.ArchivesFailed,
		"removed":          m.ArchivesRemoved,
	}).Info("update run complete")
}
