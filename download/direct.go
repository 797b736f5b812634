package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bunburya/uzak"
	"github.com/bunburya/uzak/progress"
)

// copyBlockSize is the streaming block used when writing a download to disk.
const copyBlockSize = 1024 * 1024

// partSuffix marks a file still being written. A crash leaves the partial
// file behind under this suffix; the final name only ever appears via rename
// after verification.
const partSuffix = ".part"

// Direct downloads archive files over plain HTTP, verifying each against its
// published SHA-256 digest before moving it to its final name.
type Direct struct {
	// ArchiveDir is the destination directory for completed files.
	ArchiveDir string

	// Client is the HTTP client used for all requests. Defaults to
	// http.DefaultClient.
	Client *http.Client

	// Logger receives per-file progress at debug level and failures at
	// error level.
	Logger logrus.FieldLogger

	// Out receives human-readable progress lines. Defaults to os.Stdout.
	Out io.Writer

	// MaxConcurrent bounds the number of files transferred in parallel.
	// Zero or negative means unbounded.
	MaxConcurrent int

	// freeSpace is swappable for tests.
	freeSpace func(path string) (uint64, error)
}

func (d *Direct) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func (d *Direct) out() io.Writer {
	if d.Out != nil {
		return d.Out
	}
	return os.Stdout
}

func (d *Direct) free(path string) (uint64, error) {
	if d.freeSpace != nil {
		return d.freeSpace(path)
	}
	return uzak.FreeSpace(path)
}

// DownloadAll transfers each download independently. A failure on one file
// is recorded in its Result and does not affect the others. Results are
// returned in input order.
func (d *Direct) DownloadAll(ctx context.Context, downloads []uzak.Download, checkLength, quiet bool) ([]Result, error) {
	printer := progress.NewPrinter(d.out(), len(downloads), quiet)
	results := make([]Result, len(downloads))

	if d.MaxConcurrent == 1 || len(downloads) == 1 {
		for i, dl := range downloads {
			results[i] = d.one(ctx, dl, checkLength, printer)
		}
		return results, nil
	}

	sem := make(chan struct{}, concurrency(d.MaxConcurrent, len(downloads)))
	var wg sync.WaitGroup
	for i, dl := range downloads {
		wg.Add(1)
		go func(i int, dl uzak.Download) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = d.one(ctx, dl, checkLength, printer)
		}(i, dl)
	}
	wg.Wait()

	return results, nil
}

func concurrency(max, n int) int {
	if max <= 0 || max > n {
		return n
	}
	return max
}

func (d *Direct) one(ctx context.Context, dl uzak.Download, checkLength bool, printer *progress.Printer) Result {
	arch, err := d.download(ctx, dl, checkLength, printer)
	if err != nil {
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"file": dl.FileName(),
				"url":  dl.ZimURL,
			}).WithError(err).Error("Download failed")
		}
		return Result{Download: dl, Err: err}
	}
	return Result{Download: dl, Archive: &arch}
}

// download performs the full transfer of a single file: optional size and
// disk-space probe, checksum fetch, streaming write to a .part file, hash
// verification and final rename.
func (d *Direct) download(ctx context.Context, dl uzak.Download, checkLength bool, printer *progress.Printer) (uzak.Archive, error) {
	fileName := dl.FileName()
	destPath := filepath.Join(d.ArchiveDir, fileName)
	partPath := destPath + partSuffix

	size := dl.SizeBytes
	if checkLength {
		probed, err := d.probeLength(ctx, dl.ZimURL)
		if err != nil {
			return uzak.Archive{}, err
		}
		size = probed

		free, err := d.free(d.ArchiveDir)
		if err != nil {
			return uzak.Archive{}, err
		}
		if uint64(size) > free {
			return uzak.Archive{}, &Error{Msg: fmt.Sprintf(
				"not enough disk space for %s: need %d bytes, have %d", fileName, size, free)}
		}
	}

	wantSHA, err := fetchChecksum(ctx, d.client(), dl.SHA256URL)
	if err != nil {
		return uzak.Archive{}, &Error{Msg: "fetching checksum for " + fileName, Err: err}
	}

	task := printer.StartTask(fileName, size)
	if err := d.fetchToFile(ctx, dl.ZimURL, partPath, task); err != nil {
		return uzak.Archive{}, &Error{Msg: "transferring " + fileName, Err: err}
	}

	gotSHA, err := FileSHA256(partPath)
	if err != nil {
		return uzak.Archive{}, &Error{Msg: "verifying " + fileName, Err: err}
	}
	if gotSHA != wantSHA {
		// The partial file is corrupt; do not leave it around for a
		// later run to mistake for a resumable transfer.
		if rmErr := os.Remove(partPath); rmErr != nil && d.Logger != nil {
			d.Logger.WithField("path", partPath).WithError(rmErr).Warn("Failed to remove corrupt partial file")
		}
		return uzak.Archive{}, &Error{Msg: fmt.Sprintf(
			"checksum mismatch for %s: expected %s, got %s", fileName, wantSHA, gotSHA)}
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return uzak.Archive{}, &Error{Msg: "finalizing " + fileName, Err: err}
	}
	task.Finish()

	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"file":   fileName,
			"sha256": gotSHA,
		}).Info("Download verified")
	}
	return dl.Archive(gotSHA), nil
}

// probeLength issues a HEAD request and requires a Content-Length in the
// response. An unknown length means the disk-space check cannot be done, so
// it is treated as an error when the caller asked for the check.
func (d *Direct) probeLength(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("building probe request: %w", err)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return 0, &Error{Msg: "probing " + url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, &Error{Msg: fmt.Sprintf("probing %s: unexpected status %s", url, resp.Status)}
	}
	if resp.ContentLength < 0 {
		return 0, &Error{Msg: "probing " + url + ": no Content-Length in response"}
	}
	return resp.ContentLength, nil
}

func (d *Direct) fetchToFile(ctx context.Context, url, path string, task *progress.Task) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, copyBlockSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			task.Add(int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	return f.Sync()
}
