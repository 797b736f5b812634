// Package download fetches archive files over HTTP and verifies their
// integrity before they are handed to the installer.
package download

import (
	"context"
	"fmt"

	"github.com/bunburya/uzak"
)

// Downloader is a strategy for transferring a batch of archive files into
// the archive directory. Implementations differ in transport (direct HTTP,
// external torrent client) but share the same contract: on return, every
// successful Result names a complete file at its final path. How integrity
// is established depends on the transport: direct HTTP verifies the
// published SHA-256 digest, torrents are verified piecewise by the client.
type Downloader interface {
	// DownloadAll transfers the given downloads. It returns one Result per
	// requested download unless a batch-level failure prevents the whole
	// operation, in which case it returns a non-nil error. checkLength
	// controls whether the remote size is probed and checked against free
	// disk space before transfer; quiet suppresses progress output.
	DownloadAll(ctx context.Context, downloads []uzak.Download, checkLength, quiet bool) ([]Result, error)
}

// Result is the outcome of one download within a batch. Exactly one of
// Archive and Err is set.
type Result struct {
	// Download is the request this result answers.
	Download uzak.Download

	// Archive is the verified archive record, nil on failure.
	Archive *uzak.Archive

	// Err is the failure, nil on success.
	Err error
}

// Error wraps a failure in the transfer or verification of a single file.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download: %s: %v", e.Msg, e.Err)
	}
	return "download: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }
