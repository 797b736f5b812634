// Package catalog models the remote Kiwix catalog as a feed of structured
// rows and computes the set of archive versions that need downloading.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/bunburya/uzak"
)

// Row is one catalog entry as exposed by the library page: the reference
// fields, a human-readable size, a "YYYY-MM" creation string and the four
// remote locators.
type Row struct {
	Project  string
	Language string
	Flavor   string
	Size     string
	Created  string

	ZimURL     string
	SHA256URL  string
	TorrentURL string
	MagnetURL  string
}

// Source produces an ordered snapshot of catalog rows.
type Source interface {
	Rows(ctx context.Context) ([]Row, error)
}

// Error indicates a malformed catalog row or page. A single bad row aborts
// the whole scan: the catalog snapshot is all-or-nothing, never partially
// trusted.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog: %s: %v", e.Msg, e.Err)
	}
	return "catalog: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Store is the read side of the archive store consulted during a scan.
type Store interface {
	Exists(ctx context.Context, ref uzak.ArchiveReference, dateCreated time.Time) (bool, error)
}

// FindUpdates walks the catalog snapshot in row order and emits a download
// for every watched reference whose (reference, date) pair is not yet in the
// store. The returned slice preserves catalog row order.
//
// The scan itself does not mutate anything, so re-running it against an
// unchanged store yields an identical request set.
func FindUpdates(ctx context.Context, rows []Row, watch map[uzak.ArchiveReference]struct{}, store Store) ([]uzak.Download, error) {
	var downloads []uzak.Download
	for i, row := range rows {
		dl, err := parseRow(row)
		if err != nil {
			return nil, &Error{Msg: fmt.Sprintf("row %d", i), Err: err}
		}
		if _, watched := watch[dl.Reference]; !watched {
			continue
		}
		exists, err := store.Exists(ctx, dl.Reference, dl.DateCreated)
		if err != nil {
			return nil, fmt.Errorf("checking store for %s: %w", dl.FileName(), err)
		}
		if !exists {
			downloads = append(downloads, dl)
		}
	}
	return downloads, nil
}

// FindReferences returns the distinct references present in the catalog, in
// first-occurrence order, optionally filtered by language. It performs no
// store lookup; it exists for configuration bootstrapping.
func FindReferences(rows []Row, lang string) ([]uzak.ArchiveReference, error) {
	seen := make(map[uzak.ArchiveReference]struct{})
	var refs []uzak.ArchiveReference
	for i, row := range rows {
		ref, err := parseReference(row)
		if err != nil {
			return nil, &Error{Msg: fmt.Sprintf("row %d", i), Err: err}
		}
		if lang != "" && ref.Language != lang {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs, nil
}

func parseReference(row Row) (uzak.ArchiveReference, error) {
	if row.Project == "" {
		return uzak.ArchiveReference{}, fmt.Errorf("missing project")
	}
	if row.Language == "" {
		return uzak.ArchiveReference{}, fmt.Errorf("missing language")
	}
	return uzak.ArchiveReference{
		Project:  row.Project,
		Language: row.Language,
		Flavor:   row.Flavor,
	}, nil
}

func parseRow(row Row) (uzak.Download, error) {
	ref, err := parseReference(row)
	if err != nil {
		return uzak.Download{}, err
	}
	dateCreated, err := uzak.ParseMonth(row.Created)
	if err != nil {
		return uzak.Download{}, err
	}
	sizeBytes, err := ParseSize(row.Size)
	if err != nil {
		return uzak.Download{}, err
	}
	if row.ZimURL == "" || row.SHA256URL == "" || row.TorrentURL == "" || row.MagnetURL == "" {
		return uzak.Download{}, fmt.Errorf("missing locator URL")
	}
	return uzak.Download{
		Reference:   ref,
		DateCreated: dateCreated,
		SizeBytes:   sizeBytes,
		ZimURL:      row.ZimURL,
		SHA256URL:   row.SHA256URL,
		TorrentURL:  row.TorrentURL,
		MagnetURL:   row.MagnetURL,
	}, nil
}
