// Package manager orchestrates the update cycle: catalog scan, download,
// store insert, library registration and retention of old versions.
package manager

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bunburya/uzak"
	"github.com/bunburya/uzak/catalog"
	"github.com/bunburya/uzak/config"
	"github.com/bunburya/uzak/database"
	"github.com/bunburya/uzak/download"
	"github.com/bunburya/uzak/perf"
)

// Library is the subset of the library port the manager drives.
type Library interface {
	Add(ctx context.Context, path string) error
	RemoveByPath(ctx context.Context, path string) error
}

// Manager wires the update pipeline together. All dependencies are
// constructed by the caller and passed in explicitly.
type Manager struct {
	cfg        *config.Config
	db         *database.DB
	source     catalog.Source
	downloader download.Downloader
	library    Library
	logger     logrus.FieldLogger

	// stdin/stdout serve the interactive confirmation prompt.
	stdin  io.Reader
	stdout io.Writer
}

// New returns a Manager over the given dependencies.
func New(cfg *config.Config, db *database.DB, source catalog.Source, downloader download.Downloader, library Library, logger logrus.FieldLogger) *Manager {
	return &Manager{
		cfg:        cfg,
		db:         db,
		source:     source,
		downloader: downloader,
		library:    library,
		logger:     logger,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
	}
}

// UpdateOptions control one update run.
type UpdateOptions struct {
	// Prompt asks for confirmation once, before any download starts.
	Prompt bool

	// Quiet suppresses progress output.
	Quiet bool

	// SkipLengthCheck disables the remote-size probe and free-disk
	// admission check.
	SkipLengthCheck bool
}

// Update scans the catalog for new versions of watched archives, downloads
// them, records and registers each, and applies retention. Download failures
// are isolated per archive; Update returns an error if any archive failed.
func (m *Manager) Update(ctx context.Context, opts UpdateOptions) error {
	metrics := perf.NewUpdateMetrics()
	runStart := time.Now()

	scanTimer := perf.Start("catalog-scan", m.logger)
	rows, err := m.source.Rows(ctx)
	if err != nil {
		return fmt.Errorf("scanning catalog: %w", err)
	}
	downloads, err := catalog.FindUpdates(ctx, rows, m.cfg.References(), m.db)
	if err != nil {
		return err
	}
	metrics.ScanDuration = scanTimer.Stop()

	if len(downloads) == 0 {
		m.logger.Info("Nothing to download")
		return nil
	}

	if opts.Prompt {
		ok, err := m.confirm(downloads)
		if err != nil {
			return err
		}
		if !ok {
			m.logger.Info("Aborting")
			return nil
		}
	}

	dlTimer := perf.Start("download-batch", m.logger)
	results, err := m.downloader.DownloadAll(ctx, downloads, !opts.SkipLengthCheck, opts.Quiet)
	metrics.DownloadDuration = dlTimer.Stop()
	if err != nil {
		return err
	}

	retentionStart := time.Now()
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			m.logger.WithField("file", res.Download.FileName()).WithError(res.Err).Error("Download failed")
			metrics.RecordFailure()
			failed++
			continue
		}
		if err := m.install(ctx, *res.Archive, metrics); err != nil {
			m.logger.WithField("file", res.Archive.FileName).WithError(err).Error("Install failed")
			metrics.RecordFailure()
			failed++
			continue
		}
		metrics.RecordInstall(res.Download.SizeBytes)
	}
	metrics.RetentionDuration = time.Since(retentionStart) // includes per-archive install bookkeeping

	metrics.TotalDuration = time.Since(runStart)
	metrics.LogSummary(m.logger)

	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(results))
	}
	return nil
}

// confirm prints a one-line summary of the pending batch and reads a y/N
// answer.
func (m *Manager) confirm(downloads []uzak.Download) (bool, error) {
	var total int64
	for _, dl := range downloads {
		total += dl.SizeBytes
	}
	fmt.Fprintf(m.stdout, "Will download %d archive(s) totalling approx %s. Proceed? [y/N] ",
		len(downloads), catalog.FormatSize(total))

	line, err := bufio.NewReader(m.stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	return strings.EqualFold(strings.TrimSpace(line), "y"), nil
}

// install records a downloaded archive, registers it with the library and,
// when configured, removes the versions it supersedes.
func (m *Manager) install(ctx context.Context, arch uzak.Archive, metrics *perf.UpdateMetrics) error {
	if err := m.db.Insert(ctx, arch); err != nil {
		return err
	}
	if err := m.library.Add(ctx, filepath.Join(m.cfg.ArchiveDir(), arch.FileName)); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"file": arch.FileName,
		"date": uzak.FormatMonth(arch.DateCreated),
	}).Info("Archive installed")

	if m.cfg.DeleteOld {
		if err := m.removeSuperseded(ctx, arch, metrics); err != nil {
			return err
		}
	}
	return nil
}
