package manager

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bunburya/uzak"
	"github.com/bunburya/uzak/catalog"
	"github.com/bunburya/uzak/config"
	"github.com/bunburya/uzak/download"
)

// AddFile registers an already-downloaded ZIM file under the given
// reference. When dateCreated is the zero time, the month is parsed from the
// trailing "_YYYY-MM" of the file name. The file is moved (or copied) into
// the archive directory under the canonical name, hashed, recorded in the
// store, and the reference is appended to the configuration watch list if
// not already on it.
func (m *Manager) AddFile(ctx context.Context, path string, ref uzak.ArchiveReference, dateCreated time.Time, copyFile bool) (uzak.Archive, error) {
	if dateCreated.IsZero() {
		base := strings.TrimSuffix(filepath.Base(path), ".zim")
		parts := strings.Split(base, "_")
		parsed, err := uzak.ParseMonth(parts[len(parts)-1])
		if err != nil {
			return uzak.Archive{}, fmt.Errorf("cannot infer creation date from %s: %w", path, err)
		}
		dateCreated = parsed
	}

	exists, err := m.db.Exists(ctx, ref, dateCreated)
	if err != nil {
		return uzak.Archive{}, err
	}
	if exists {
		return uzak.Archive{}, fmt.Errorf("archive already recorded: %s", uzak.FileName(ref, dateCreated))
	}

	fileName := uzak.FileName(ref, dateCreated)
	destPath := filepath.Join(m.cfg.ArchiveDir(), fileName)
	if _, err := os.Stat(destPath); err == nil {
		return uzak.Archive{}, fmt.Errorf("file already exists: %s", destPath)
	}

	sha, err := download.FileSHA256(path)
	if err != nil {
		return uzak.Archive{}, err
	}

	if copyFile {
		if err := copyRegularFile(path, destPath); err != nil {
			return uzak.Archive{}, err
		}
	} else {
		if err := os.Rename(path, destPath); err != nil {
			return uzak.Archive{}, fmt.Errorf("moving %s into archive dir: %w", path, err)
		}
	}

	arch := uzak.Archive{
		Reference:   ref,
		DateCreated: dateCreated,
		FileName:    fileName,
		SHA256:      sha,
	}
	if err := m.db.Insert(ctx, arch); err != nil {
		return uzak.Archive{}, err
	}

	if !m.cfg.Watched(ref) {
		if err := m.cfg.Append(ref); err != nil {
			return uzak.Archive{}, err
		}
	}

	m.logger.WithField("file", fileName).Info("Added file to archive")
	return arch, nil
}

func copyRegularFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return out.Sync()
}

// ArchiveConfigs scrapes the catalog and renders every available reference
// as an [[archive]] section, for pasting into a configuration file. lang
// optionally filters by language.
func (m *Manager) ArchiveConfigs(ctx context.Context, lang string) (string, error) {
	rows, err := m.source.Rows(ctx)
	if err != nil {
		return "", fmt.Errorf("scanning catalog: %w", err)
	}
	refs, err := catalog.FindReferences(rows, lang)
	if err != nil {
		return "", err
	}
	sections := make([]string, len(refs))
	for i, ref := range refs {
		sections[i] = config.Section(ref)
	}
	return strings.Join(sections, "\n"), nil
}
