package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bunburya/uzak"
	"github.com/bunburya/uzak/perf"
)

// removeSuperseded deletes every strictly older version of the same
// reference: the file first, then the store record, then the library entry.
// Each step tolerates the target already being gone, so an interrupted
// removal completes on the next run.
func (m *Manager) removeSuperseded(ctx context.Context, arch uzak.Archive, metrics *perf.UpdateMetrics) error {
	older, err := m.db.ListOlderThan(ctx, arch.Reference, arch.DateCreated)
	if err != nil {
		return err
	}

	for _, old := range older {
		path := filepath.Join(m.cfg.ArchiveDir(), old.FileName)
		m.logger.WithField("path", path).Info("Deleting superseded archive")

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		if err := m.db.Delete(ctx, old.Reference, old.DateCreated); err != nil {
			return err
		}
		if err := m.library.RemoveByPath(ctx, path); err != nil {
			return err
		}
		if metrics != nil {
			metrics.RecordRemoval()
		}
	}
	return nil
}
