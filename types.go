// Package uzak defines the shared data model for the ZIM archive
// synchronizer: archive identity, installed records and pending downloads.
package uzak

import "time"

// ArchiveReference identifies an archive lineage on the remote catalog,
// independent of any particular version. It is a plain value type with
// field-wise equality, safe to use as a map or set key.
type ArchiveReference struct {
	Project  string
	Language string
	Flavor   string
}

// Archive is one installed version of a reference.
type Archive struct {
	Reference ArchiveReference

	// DateCreated has month granularity; the day is always 1.
	DateCreated time.Time

	// FileName is the on-disk name, derived deterministically from
	// (Reference, DateCreated) by FileName.
	FileName string

	// SHA256 is the lowercase hex digest of the file. Empty when
	// verification was skipped (e.g. torrent transfers).
	SHA256 string
}

// Download holds everything needed to fetch the current version of an
// archive: its identity, the declared size, and the four remote locators
// exposed by the catalog.
type Download struct {
	Reference   ArchiveReference
	DateCreated time.Time
	SizeBytes   int64

	ZimURL     string
	SHA256URL  string
	TorrentURL string
	MagnetURL  string
}

// FileName returns the name the archive will be installed under.
func (d Download) FileName() string {
	return FileName(d.Reference, d.DateCreated)
}

// Archive returns the record that a successful install of this download
// produces. sha256 may be empty if verification was skipped.
func (d Download) Archive(sha256 string) Archive {
	return Archive{
		Reference:   d.Reference,
		DateCreated: d.DateCreated,
		FileName:    d.FileName(),
		SHA256:      sha256,
	}
}
