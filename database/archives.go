package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bunburya/uzak"
)

// ErrArchiveExists indicates that a record with the same
// (project, language, flavor, date_created) key is already in the store.
var ErrArchiveExists = errors.New("archive already recorded")

// dateLayout is the on-disk serialization of date_created. The day is always
// 01; the format exists so that string comparison in SQL orders
// chronologically.
const dateLayout = "2006-01-02"

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date_created %q: %w", s, err)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
}

// Exists reports whether an archive with the given reference and creation
// date has been recorded.
func (d *DB) Exists(ctx context.Context, ref uzak.ArchiveReference, dateCreated time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM archives
			WHERE project = ? AND language = ? AND flavor = ? AND date_created = ?
		)
	`

	var exists bool
	err := d.db.QueryRowContext(ctx, query,
		ref.Project, ref.Language, ref.Flavor, formatDate(dateCreated),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check archive existence: %w", err)
	}
	return exists, nil
}

// Insert records a newly installed archive. It returns ErrArchiveExists if a
// record with the same key is already present; the existing record is left
// untouched.
func (d *DB) Insert(ctx context.Context, arch uzak.Archive) error {
	query := `
		INSERT INTO archives (project, language, flavor, date_created, file_name, sha256)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := d.db.ExecContext(ctx, query,
		arch.Reference.Project, arch.Reference.Language, arch.Reference.Flavor,
		formatDate(arch.DateCreated), arch.FileName, arch.SHA256,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrArchiveExists, arch.FileName)
		}
		return fmt.Errorf("failed to insert archive: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. Other constraint classes (CHECK, NOT NULL) must not be mistaken
// for a duplicate key.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ListOlderThan returns every recorded archive for the given reference whose
// creation date is strictly before dateCreated, newest first.
func (d *DB) ListOlderThan(ctx context.Context, ref uzak.ArchiveReference, dateCreated time.Time) ([]uzak.Archive, error) {
	query := `
		SELECT project, language, flavor, date_created, file_name, sha256
		FROM archives
		WHERE project = ? AND language = ? AND flavor = ? AND date_created < ?
		ORDER BY date_created DESC
	`

	rows, err := d.db.QueryContext(ctx, query,
		ref.Project, ref.Language, ref.Flavor, formatDate(dateCreated),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list older archives: %w", err)
	}
	defer rows.Close()

	return scanArchives(rows)
}

// Delete removes the record with the given key. Deleting a record that does
// not exist is not an error, so a partially completed removal can be rerun.
func (d *DB) Delete(ctx context.Context, ref uzak.ArchiveReference, dateCreated time.Time) error {
	query := `
		DELETE FROM archives
		WHERE project = ? AND language = ? AND flavor = ? AND date_created = ?
	`

	_, err := d.db.ExecContext(ctx, query,
		ref.Project, ref.Language, ref.Flavor, formatDate(dateCreated),
	)
	if err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return nil
}

// ListAll returns every recorded version of the given reference, newest
// first.
func (d *DB) ListAll(ctx context.Context, ref uzak.ArchiveReference) ([]uzak.Archive, error) {
	query := `
		SELECT project, language, flavor, date_created, file_name, sha256
		FROM archives
		WHERE project = ? AND language = ? AND flavor = ?
		ORDER BY date_created DESC
	`

	rows, err := d.db.QueryContext(ctx, query, ref.Project, ref.Language, ref.Flavor)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	defer rows.Close()

	return scanArchives(rows)
}

func scanArchives(rows *sql.Rows) ([]uzak.Archive, error) {
	var archives []uzak.Archive
	for rows.Next() {
		var arch uzak.Archive
		var dateCreated string

		err := rows.Scan(
			&arch.Reference.Project, &arch.Reference.Language, &arch.Reference.Flavor,
			&dateCreated, &arch.FileName, &arch.SHA256,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive: %w", err)
		}

		arch.DateCreated, err = parseDate(dateCreated)
		if err != nil {
			return nil, err
		}

		archives = append(archives, arch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archives: %w", err)
	}

	return archives, nil
}
