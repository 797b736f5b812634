// Package library maintains the external content-server library by shelling
// out to a kiwix-manage style executable.
//
// The tool's "show" output is line oriented: each book is a block of
// "key: value" lines, of which only "id:" and "path:" matter here. A path
// line belongs to the most recently seen id line.
package library

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Entry is one book in the library listing.
type Entry struct {
	ID   string
	Path string
}

// runner executes the external tool and returns its combined stdout.
// Swappable for tests.
type runner func(ctx context.Context, exe string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, exe string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, exe, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("running %s %s: %w", exe, strings.Join(args, " "), err)
	}
	return out, nil
}

// Manager wraps one library file managed by one executable.
type Manager struct {
	execPath    string
	libraryPath string
	logger      logrus.FieldLogger
	run         runner
}

// NewManager returns a Manager driving execPath against the library file at
// libraryPath.
func NewManager(execPath, libraryPath string, logger logrus.FieldLogger) *Manager {
	return &Manager{
		execPath:    execPath,
		libraryPath: libraryPath,
		logger:      logger,
		run:         execRunner,
	}
}

// Add registers the archive file at path with the library.
func (m *Manager) Add(ctx context.Context, path string) error {
	if _, err := m.run(ctx, m.execPath, m.libraryPath, "add", path); err != nil {
		return fmt.Errorf("adding %s to library: %w", path, err)
	}
	if m.logger != nil {
		m.logger.WithField("path", path).Info("Added archive to library")
	}
	return nil
}

// Show lists the library's entries.
func (m *Manager) Show(ctx context.Context) ([]Entry, error) {
	out, err := m.run(ctx, m.execPath, m.libraryPath, "show")
	if err != nil {
		return nil, fmt.Errorf("listing library: %w", err)
	}
	return parseListing(string(out)), nil
}

// Remove deregisters the book with the given id.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if _, err := m.run(ctx, m.execPath, m.libraryPath, "remove", id); err != nil {
		return fmt.Errorf("removing book %s from library: %w", id, err)
	}
	return nil
}

// IDByPath returns the id of the book whose content file is at path, or ""
// if no such book is registered.
func (m *Manager) IDByPath(ctx context.Context, path string) (string, error) {
	entries, err := m.Show(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Path == path {
			return e.ID, nil
		}
	}
	return "", nil
}

// RemoveByPath deregisters the book whose content file is at path. A path
// with no registered book is a no-op, so removal can be rerun after a
// partial failure.
func (m *Manager) RemoveByPath(ctx context.Context, path string) error {
	id, err := m.IDByPath(ctx, path)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	if err := m.Remove(ctx, id); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"path": path,
			"id":   id,
		}).Info("Removed archive from library")
	}
	return nil
}

// parseListing extracts (id, path) pairs from "show" output. The id line
// precedes the other lines of its block; a path line without a preceding id
// is ignored.
func parseListing(out string) []Entry {
	var entries []Entry
	var latestID string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "id:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				latestID = fields[1]
			}
		case strings.HasPrefix(line, "path:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 && latestID != "" {
				entries = append(entries, Entry{ID: latestID, Path: fields[1]})
			}
		}
	}
	return entries
}
