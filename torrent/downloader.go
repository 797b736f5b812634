package torrent

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/bunburya/uzak"
	"github.com/bunburya/uzak/download"
	"github.com/bunburya/uzak/progress"
)

const (
	// stagingSuffix and partSuffix name the two per-file staging
	// directories the client works in: the completed payload lands under
	// "<dest>.files", in-flight pieces under "<dest>.files.part".
	stagingSuffix = ".files"
	partSuffix    = ".part"

	// defaultRegisterAttempts and defaultRegisterWait bound the poll for a
	// freshly added torrent to appear in the client's job list.
	defaultRegisterAttempts = 5
	defaultRegisterWait     = 1 * time.Second

	// defaultPollInterval is the completion poll cadence when the
	// configuration does not set one.
	defaultPollInterval = 10 * time.Second
)

// Downloader transfers archive files through an external torrent client.
//
// A batch runs in three phases: every torrent is registered paused, then the
// batch is admitted (or rejected) against free disk space as a whole, then a
// single coordinator loop polls the client until every job has completed and
// its payload has been moved into place.
type Downloader struct {
	// Client is the torrent client port. Required.
	Client Client

	// ArchiveDir is the destination directory for completed files.
	ArchiveDir string

	// PollInterval is the completion poll cadence. Zero means
	// defaultPollInterval.
	PollInterval time.Duration

	// Logger receives per-job lifecycle events.
	Logger logrus.FieldLogger

	// Out receives human-readable progress lines. Defaults to os.Stdout.
	Out io.Writer

	// registerAttempts/registerWait bound the phase-1 appearance poll;
	// freeSpace is swappable. All three exist for tests.
	registerAttempts uint64
	registerWait     time.Duration
	freeSpace        func(path string) (uint64, error)
}

func (d *Downloader) out() io.Writer {
	if d.Out != nil {
		return d.Out
	}
	return os.Stdout
}

func (d *Downloader) free(path string) (uint64, error) {
	if d.freeSpace != nil {
		return d.freeSpace(path)
	}
	return uzak.FreeSpace(path)
}

func (d *Downloader) pollInterval() time.Duration {
	if d.PollInterval > 0 {
		return d.PollInterval
	}
	return defaultPollInterval
}

func (d *Downloader) attempts() uint64 {
	if d.registerAttempts > 0 {
		return d.registerAttempts
	}
	return defaultRegisterAttempts
}

func (d *Downloader) wait() time.Duration {
	if d.registerWait > 0 {
		return d.registerWait
	}
	return defaultRegisterWait
}

// job tracks one registered transfer through the batch.
type job struct {
	download uzak.Download
	hash     string
	size     int64
	savePath string
	task     *progress.Task
}

// DownloadAll registers, admits and completes the batch. Unlike the direct
// strategy, admission is all-or-nothing: a registration failure or an
// aggregate free-space shortfall deletes every registered job and fails the
// whole batch. Results are emitted in completion order.
func (d *Downloader) DownloadAll(ctx context.Context, downloads []uzak.Download, checkLength, quiet bool) ([]download.Result, error) {
	if len(downloads) == 0 {
		return nil, nil
	}

	// Tag all jobs of this run so concurrent runs never claim each
	// other's torrents.
	tag := "uzak-" + ulid.MustNew(ulid.Now(), rand.Reader).String()
	log := d.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("tag", tag)

	jobs, err := d.register(ctx, downloads, tag, log)
	if err != nil {
		return nil, err
	}

	if err := d.admit(ctx, jobs, checkLength, log); err != nil {
		return nil, err
	}

	return d.await(ctx, jobs, tag, quiet, log)
}

// register adds every torrent paused and waits for each to appear in the
// client's job list. A torrent that never appears fails the batch; jobs
// already registered are deleted so nothing is left behind.
func (d *Downloader) register(ctx context.Context, downloads []uzak.Download, tag string, log logrus.FieldLogger) ([]*job, error) {
	var jobs []*job
	for _, dl := range downloads {
		savePath := filepath.Join(d.ArchiveDir, dl.FileName()) + stagingSuffix
		dlPath := savePath + partSuffix

		if err := d.Client.Add(ctx, dl.TorrentURL, tag, savePath, dlPath, true); err != nil {
			d.deleteJobs(ctx, jobs, log)
			return nil, &download.Error{Msg: "registering torrent for " + dl.FileName(), Err: err}
		}

		info, err := d.awaitRegistration(ctx, tag, savePath)
		if err != nil {
			d.deleteJobs(ctx, jobs, log)
			return nil, &download.Error{Msg: "torrent for " + dl.FileName() + " never appeared in client", Err: err}
		}

		log.WithFields(logrus.Fields{
			"file": dl.FileName(),
			"hash": info.Hash,
			"size": info.Size,
		}).Info("Torrent registered")

		jobs = append(jobs, &job{
			download: dl,
			hash:     info.Hash,
			size:     info.Size,
			savePath: savePath,
		})
	}
	return jobs, nil
}

// awaitRegistration polls the client's job list until the newly added
// torrent shows up, identified by its save path.
func (d *Downloader) awaitRegistration(ctx context.Context, tag, savePath string) (Job, error) {
	var found Job
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.wait()), d.attempts()-1),
		ctx,
	)
	err := backoff.Retry(func() error {
		jobs, err := d.Client.JobsByTag(ctx, tag)
		if err != nil {
			return backoff.Permanent(err)
		}
		for _, j := range jobs {
			if j.SavePath == savePath {
				found = j
				return nil
			}
		}
		return fmt.Errorf("torrent with save path %s not yet listed", savePath)
	}, policy)
	if err != nil {
		return Job{}, err
	}
	return found, nil
}

// admit applies the aggregate free-space check and starts the batch. The
// sizes come from the client's own metadata, so the check covers the whole
// batch at once rather than file by file.
func (d *Downloader) admit(ctx context.Context, jobs []*job, checkLength bool, log logrus.FieldLogger) error {
	hashes := make([]string, len(jobs))
	var total int64
	for i, j := range jobs {
		hashes[i] = j.hash
		total += j.size
	}

	if checkLength {
		free, err := d.free(d.ArchiveDir)
		if err != nil {
			d.deleteJobs(ctx, jobs, log)
			return err
		}
		if uint64(total) > free {
			d.deleteJobs(ctx, jobs, log)
			return &download.Error{Msg: fmt.Sprintf(
				"batch would not fit on disk: need %d bytes, have %d", total, free)}
		}
	}

	if err := d.Client.Start(ctx, hashes); err != nil {
		d.deleteJobs(ctx, jobs, log)
		return &download.Error{Msg: "starting torrents", Err: err}
	}
	log.WithField("count", len(jobs)).Info("Torrent batch started")
	return nil
}

// await polls the client until every job is done, finalizing each as it
// completes. Cancelling the context stops the loop between polls; running
// transfers stay registered in the client for a later run to observe.
func (d *Downloader) await(ctx context.Context, jobs []*job, tag string, quiet bool, log logrus.FieldLogger) ([]download.Result, error) {
	printer := progress.NewPrinter(d.out(), len(jobs), quiet)
	pending := make(map[string]*job, len(jobs))
	hashes := make([]string, len(jobs))
	for i, j := range jobs {
		j.task = printer.StartTask(j.download.FileName(), j.size)
		pending[j.hash] = j
		hashes[i] = j.hash
	}

	var results []download.Result
	ticker := time.NewTicker(d.pollInterval())
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case <-ticker.C:
		}

		infos, err := d.Client.JobsByHashes(ctx, hashes)
		if err != nil {
			log.WithError(err).Warn("Torrent status poll failed")
			continue
		}

		for _, info := range infos {
			j, ok := pending[info.Hash]
			if !ok {
				continue
			}
			j.task.Set(info.Completed)
			if info.Completed < info.Size {
				continue
			}
			// The client moves the payload from the .part staging dir
			// to the save path only once the transfer is complete, so
			// require the directory to exist before finalizing.
			if _, err := os.Stat(j.savePath); err != nil {
				continue
			}

			results = append(results, d.finalize(ctx, j, log))
			delete(pending, info.Hash)
		}
	}

	return results, nil
}

// finalize moves the completed payload to its destination, clears the
// staging directories and deregisters the job from the client.
func (d *Downloader) finalize(ctx context.Context, j *job, log logrus.FieldLogger) download.Result {
	fileName := j.download.FileName()
	destPath := filepath.Join(d.ArchiveDir, fileName)

	entries, err := os.ReadDir(j.savePath)
	if err != nil {
		return download.Result{Download: j.download, Err: &download.Error{
			Msg: "reading staging dir for " + fileName, Err: err}}
	}
	if len(entries) != 1 {
		return download.Result{Download: j.download, Err: &download.Error{
			Msg: fmt.Sprintf("expected 1 staged file for %s, found %d", fileName, len(entries))}}
	}

	if err := os.Rename(filepath.Join(j.savePath, entries[0].Name()), destPath); err != nil {
		return download.Result{Download: j.download, Err: &download.Error{
			Msg: "moving staged file for " + fileName, Err: err}}
	}

	if err := os.RemoveAll(j.savePath); err != nil {
		log.WithField("path", j.savePath).WithError(err).Warn("Failed to remove staging dir")
	}
	if err := os.RemoveAll(j.savePath + partSuffix); err != nil {
		log.WithField("path", j.savePath+partSuffix).WithError(err).Warn("Failed to remove staging dir")
	}

	if err := d.Client.Delete(ctx, []string{j.hash}, false); err != nil {
		log.WithField("hash", j.hash).WithError(err).Warn("Failed to deregister completed torrent")
	}

	j.task.Finish()
	log.WithFields(logrus.Fields{
		"file": fileName,
		"hash": j.hash,
	}).Info("Torrent download complete")

	// Torrent payloads are verified piecewise by the client, so the
	// record carries no separately computed digest.
	arch := j.download.Archive("")
	return download.Result{Download: j.download, Archive: &arch}
}

// deleteJobs removes jobs registered so far, with their staged data. Used on
// batch-level failure paths.
func (d *Downloader) deleteJobs(ctx context.Context, jobs []*job, log logrus.FieldLogger) {
	if len(jobs) == 0 {
		return
	}
	hashes := make([]string, len(jobs))
	for i, j := range jobs {
		hashes[i] = j.hash
	}
	if err := d.Client.Delete(ctx, hashes, true); err != nil {
		log.WithError(err).Warn("Failed to delete registered torrents after batch failure")
	}
}
