package manager

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunburya/uzak"
	"github.com/bunburya/uzak/catalog"
	"github.com/bunburya/uzak/config"
	"github.com/bunburya/uzak/database"
	"github.com/bunburya/uzak/download"
)

// fakeSource returns a fixed catalog snapshot.
type fakeSource struct {
	rows []catalog.Row
	err  error
}

func (s *fakeSource) Rows(context.Context) ([]catalog.Row, error) {
	return s.rows, s.err
}

// fakeDownloader materializes each requested file in the archive dir and
// reports success, unless told to fail a given file name.
type fakeDownloader struct {
	archiveDir string
	fail       map[string]error
	requests   [][]uzak.Download
}

func (d *fakeDownloader) DownloadAll(_ context.Context, downloads []uzak.Download, _, _ bool) ([]download.Result, error) {
	d.requests = append(d.requests, downloads)
	results := make([]download.Result, len(downloads))
	for i, dl := range downloads {
		if err, ok := d.fail[dl.FileName()]; ok {
			results[i] = download.Result{Download: dl, Err: err}
			continue
		}
		if err := os.WriteFile(filepath.Join(d.archiveDir, dl.FileName()), []byte("zim"), 0o644); err != nil {
			return nil, err
		}
		arch := dl.Archive("fakesha")
		results[i] = download.Result{Download: dl, Archive: &arch}
	}
	return results, nil
}

// fakeLibrary records add/remove calls.
type fakeLibrary struct {
	added   []string
	removed []string
}

func (l *fakeLibrary) Add(_ context.Context, path string) error {
	l.added = append(l.added, path)
	return nil
}

func (l *fakeLibrary) RemoveByPath(_ context.Context, path string) error {
	l.removed = append(l.removed, path)
	return nil
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func catalogRow(project, language, flavor, size, created string) catalog.Row {
	return catalog.Row{
		Project:    project,
		Language:   language,
		Flavor:     flavor,
		Size:       size,
		Created:    created,
		ZimURL:     "https://example.org/a.zim",
		SHA256URL:  "https://example.org/a.zim.sha256",
		TorrentURL: "https://example.org/a.zim.torrent",
		MagnetURL:  "magnet:?xt=urn:btih:abc",
	}
}

type fixture struct {
	mgr     *Manager
	cfg     *config.Config
	db      *database.DB
	source  *fakeSource
	dl      *fakeDownloader
	library *fakeLibrary
}

func newFixture(t *testing.T, configBody string, rows []catalog.Row) *fixture {
	t.Helper()
	baseDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, "archives"), 0o755))

	cfgPath := filepath.Join(baseDir, "config.toml")
	body := strings.ReplaceAll(configBody, "BASE_DIR", baseDir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	db, err := database.New(database.DefaultConfig(cfg.DBPath()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	source := &fakeSource{rows: rows}
	dl := &fakeDownloader{archiveDir: cfg.ArchiveDir(), fail: map[string]error{}}
	library := &fakeLibrary{}

	mgr := New(cfg, db, source, dl, library, quietLogger())
	mgr.stdout = io.Discard
	return &fixture{mgr: mgr, cfg: cfg, db: db, source: source, dl: dl, library: library}
}

const watchConfig = `
content_url = "https://library.kiwix.org"
base_dir = "BASE_DIR"
delete_old = true
kiwix_manage_exec = "/usr/bin/kiwix-manage"

[[archive]]
project = "wikipedia"
language = "en"
flavor = "nopic"
`

func TestUpdateInstallsNewArchives(t *testing.T) {
	f := newFixture(t, watchConfig, []catalog.Row{
		catalogRow("wikipedia", "en", "nopic", "1 GB", "2024-01"),
		catalogRow("wikipedia", "fr", "nopic", "1 GB", "2024-01"), // not watched
	})

	require.NoError(t, f.mgr.Update(context.Background(), UpdateOptions{Quiet: true}))

	// Only the watched reference was requested.
	require.Len(t, f.dl.requests, 1)
	require.Len(t, f.dl.requests[0], 1)
	assert.Equal(t, "wikipedia_en_nopic_2024-01.zim", f.dl.requests[0][0].FileName())

	// Recorded and registered.
	ref := uzak.ArchiveReference{Project: "wikipedia", Language: "en", Flavor: "nopic"}
	d, _ := uzak.ParseMonth("2024-01")
	exists, err := f.db.Exists(context.Background(), ref, d)
	require.NoError(t, err)
	assert.True(t, exists)
	require.Len(t, f.library.added, 1)
	assert.Equal(t, filepath.Join(f.cfg.ArchiveDir(), "wikipedia_en_nopic_2024-01.zim"), f.library.added[0])
}

func TestUpdateNothingToDownload(t *testing.T) {
	f := newFixture(t, watchConfig, []catalog.Row{
		catalogRow("wikipedia", "en", "nopic", "1 GB", "2024-01"),
	})
	require.NoError(t, f.mgr.Update(context.Background(), UpdateOptions{Quiet: true}))

	// A second run sees the recorded archive and requests nothing.
	require.NoError(t, f.mgr.Update(context.Background(), UpdateOptions{Quiet: true}))
	assert.Len(t, f.dl.requests, 1)
}

func TestUpdateRetentionDeletesSupersededVersions(t *testing.T) {
	f := newFixture(t, watchConfig, []catalog.Row{
		catalogRow("wikipedia", "en", "nopic", "1 GB", "2024-01"),
	})
	ctx := context.Background()

	// Seed two older versions of the watched reference and one archive of
	// a different flavor that must survive.
	seed := func(flavor, month string) string {
		d, err := uzak.ParseMonth(month)
		require.NoError(t, err)
		ref := uzak.ArchiveReference{Project: "wikipedia", Language: "en", Flavor: flavor}
		arch := uzak.Archive{Reference: ref, DateCreated: d, FileName: uzak.FileName(ref, d), SHA256: "old"}
		require.NoError(t, f.db.Insert(ctx, arch))
		path := filepath.Join(f.cfg.ArchiveDir(), arch.FileName)
		require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
		return path
	}
	old1 := seed("nopic", "2023-11")
	old2 := seed("nopic", "2023-12")
	other := seed("maxi", "2023-11")

	require.NoError(t, f.mgr.Update(ctx, UpdateOptions{Quiet: true}))

	for _, path := range []string{old1, old2} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "superseded file %s must be deleted", path)
		assert.Contains(t, f.library.removed, path)
	}
	_, err := os.Stat(other)
	assert.NoError(t, err, "other flavor must be untouched")

	d, _ := uzak.ParseMonth("2023-12")
	exists, err := f.db.Exists(ctx, uzak.ArchiveReference{Project: "wikipedia", Language: "en", Flavor: "nopic"}, d)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpdateRetentionToleratesMissingFile(t *testing.T) {
	f := newFixture(t, watchConfig, []catalog.Row{
		catalogRow("wikipedia", "en", "nopic", "1 GB", "2024-01"),
	})
	ctx := context.Background()

	// Record an older version whose file is already gone.
	d, err := uzak.ParseMonth("2023-12")
	require.NoError(t, err)
	ref := uzak.ArchiveReference{Project: "wikipedia", Language: "en", Flavor: "nopic"}
	require.NoError(t, f.db.Insert(ctx, uzak.Archive{
		Reference: ref, DateCreated: d, FileName: uzak.FileName(ref, d),
	}))

	require.NoError(t, f.mgr.Update(ctx, UpdateOptions{Quiet: true}))

	exists, err := f.db.Exists(ctx, ref, d)
	require.NoError(t, err)
	assert.False(t, exists, "record must be deleted even though the file was missing")
}

func TestUpdateReportsPartialFailure(t *testing.T) {
	cfg := strings.Replace(watchConfig, "delete_old = true", "delete_old = false", 1) + `
[[archive]]
project = "wiktionary"
language = "fr"
flavor = "all maxi"
`
	f := newFixture(t, cfg, []catalog.Row{
		catalogRow("wikipedia", "en", "nopic", "1 GB", "2024-01"),
		catalogRow("wiktionary", "fr", "all maxi", "1 GB", "2024-01"),
	})
	f.dl.fail["wiktionary_fr_all_maxi_2024-01.zim"] = errors.New("network down")

	err := f.mgr.Update(context.Background(), UpdateOptions{Quiet: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 downloads failed")

	// The successful sibling must still be installed.
	d, _ := uzak.ParseMonth("2024-01")
	exists, dbErr := f.db.Exists(context.Background(),
		uzak.ArchiveReference{Project: "wikipedia", Language: "en", Flavor: "nopic"}, d)
	require.NoError(t, dbErr)
	assert.True(t, exists)
}

func TestUpdatePromptDeclined(t *testing.T) {
	f := newFixture(t, watchConfig, []catalog.Row{
		catalogRow("wikipedia", "en", "nopic", "1 GB", "2024-01"),
	})
	f.mgr.stdin = strings.NewReader("n\n")

	require.NoError(t, f.mgr.Update(context.Background(), UpdateOptions{Prompt: true, Quiet: true}))
	assert.Empty(t, f.dl.requests, "declined prompt must not download anything")
}

func TestUpdatePromptAccepted(t *testing.T) {
	f := newFixture(t, watchConfig, []catalog.Row{
		catalogRow("wikipedia", "en", "nopic", "1 GB", "2024-01"),
	})
	f.mgr.stdin = strings.NewReader("y\n")

	require.NoError(t, f.mgr.Update(context.Background(), UpdateOptions{Prompt: true, Quiet: true}))
	assert.Len(t, f.dl.requests, 1)
}

func TestAddFile(t *testing.T) {
	f := newFixture(t, watchConfig, nil)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "wikivoyage_en_all_2024-02.zim")
	require.NoError(t, os.WriteFile(src, []byte("zim data"), 0o644))

	ref := uzak.ArchiveReference{Project: "wikivoyage", Language: "en", Flavor: "all"}
	arch, err := f.mgr.AddFile(ctx, src, ref, time.Time{}, false)
	require.NoError(t, err)

	// Date inferred from the file name.
	assert.Equal(t, "2024-02", uzak.FormatMonth(arch.DateCreated))
	assert.NotEmpty(t, arch.SHA256)

	// Moved into the archive dir under the canonical name.
	_, err = os.Stat(filepath.Join(f.cfg.ArchiveDir(), "wikivoyage_en_all_2024-02.zim"))
	assert.NoError(t, err)
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source must be moved, not copied")

	exists, err := f.db.Exists(ctx, ref, arch.DateCreated)
	require.NoError(t, err)
	assert.True(t, exists)

	// The previously unwatched reference was appended to the config file.
	reloaded, err := config.Load(f.cfg.Path)
	require.NoError(t, err)
	assert.True(t, reloaded.Watched(ref))
}

func TestAddFileCopyKeepsSource(t *testing.T) {
	f := newFixture(t, watchConfig, nil)

	src := filepath.Join(t.TempDir(), "input.zim")
	require.NoError(t, os.WriteFile(src, []byte("zim data"), 0o644))

	ref := uzak.ArchiveReference{Project: "wikipedia", Language: "en", Flavor: "nopic"}
	d, err := uzak.ParseMonth("2024-03")
	require.NoError(t, err)

	_, err = f.mgr.AddFile(context.Background(), src, ref, d, true)
	require.NoError(t, err)

	_, err = os.Stat(src)
	assert.NoError(t, err, "source must survive in copy mode")
	_, err = os.Stat(filepath.Join(f.cfg.ArchiveDir(), "wikipedia_en_nopic_2024-03.zim"))
	assert.NoError(t, err)
}

func TestAddFileRejectsDuplicates(t *testing.T) {
	f := newFixture(t, watchConfig, nil)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "input.zim")
	require.NoError(t, os.WriteFile(src, []byte("zim data"), 0o644))

	ref := uzak.ArchiveReference{Project: "wikipedia", Language: "en", Flavor: "nopic"}
	d, err := uzak.ParseMonth("2024-03")
	require.NoError(t, err)

	_, err = f.mgr.AddFile(ctx, src, ref, d, true)
	require.NoError(t, err)

	_, err = f.mgr.AddFile(ctx, src, ref, d, true)
	assert.Error(t, err)
}

func TestArchiveConfigs(t *testing.T) {
	f := newFixture(t, watchConfig, []catalog.Row{
		catalogRow("wikipedia", "en", "nopic", "1 GB", "2024-01"),
		catalogRow("wiktionary", "fr", "all maxi", "1 GB", "2024-01"),
	})

	out, err := f.mgr.ArchiveConfigs(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, out, "[[archive]]\nproject = \"wikipedia\"")
	assert.Contains(t, out, "flavor = \"all maxi\"")

	frOnly, err := f.mgr.ArchiveConfigs(context.Background(), "fr")
	require.NoError(t, err)
	assert.NotContains(t, frOnly, "wikipedia")
	assert.Contains(t, frOnly, "wiktionary")
}
