package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunburya/uzak"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(DefaultConfig(filepath.Join(t.TempDir(), "archives.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testArchive(t *testing.T, project, language, flavor, month string) uzak.Archive {
	t.Helper()
	d, err := uzak.ParseMonth(month)
	require.NoError(t, err)
	ref := uzak.ArchiveReference{Project: project, Language: language, Flavor: flavor}
	return uzak.Archive{
		Reference:   ref,
		DateCreated: d,
		FileName:    uzak.FileName(ref, d),
		SHA256:      "deadbeef",
	}
}

func TestInsertAndExists(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	arch := testArchive(t, "wikipedia", "en", "nopic", "2024-01")

	exists, err := db.Exists(ctx, arch.Reference, arch.DateCreated)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, db.Insert(ctx, arch))

	exists, err = db.Exists(ctx, arch.Reference, arch.DateCreated)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(errors.New(
		"constraint failed: UNIQUE constraint failed: archives.project, archives.language, archives.flavor, archives.date_created (2067)")))
	// Other constraint classes are not duplicate keys.
	assert.False(t, isUniqueViolation(errors.New("constraint failed: NOT NULL constraint failed: archives.file_name (1299)")))
	assert.False(t, isUniqueViolation(errors.New("constraint failed: CHECK constraint failed: archives (275)")))
	assert.False(t, isUniqueViolation(errors.New("database is locked (5)")))
}

func TestInsertDuplicate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	arch := testArchive(t, "wikipedia", "en", "nopic", "2024-01")

	require.NoError(t, db.Insert(ctx, arch))
	err := db.Insert(ctx, arch)
	assert.ErrorIs(t, err, ErrArchiveExists)
}

func TestInsertSameReferenceDifferentDates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Insert(ctx, testArchive(t, "wikipedia", "en", "nopic", "2023-12")))
	require.NoError(t, db.Insert(ctx, testArchive(t, "wikipedia", "en", "nopic", "2024-01")))

	ref := uzak.ArchiveReference{Project: "wikipedia", Language: "en", Flavor: "nopic"}
	all, err := db.ListAll(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListOlderThan(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, month := range []string{"2023-11", "2023-12", "2024-01"} {
		require.NoError(t, db.Insert(ctx, testArchive(t, "wikipedia", "en", "nopic", month)))
	}
	// Same reference fields except flavor; must not show up below.
	require.NoError(t, db.Insert(ctx, testArchive(t, "wikipedia", "en", "maxi", "2023-11")))

	cutoff, err := uzak.ParseMonth("2024-01")
	require.NoError(t, err)
	ref := uzak.ArchiveReference{Project: "wikipedia", Language: "en", Flavor: "nopic"}

	older, err := db.ListOlderThan(ctx, ref, cutoff)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "wikipedia_en_nopic_2023-12.zim", older[0].FileName)
	assert.Equal(t, "wikipedia_en_nopic_2023-11.zim", older[1].FileName)
	for _, arch := range older {
		assert.Equal(t, time.UTC, arch.DateCreated.Location())
		assert.Equal(t, 1, arch.DateCreated.Day())
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	arch := testArchive(t, "wikipedia", "en", "nopic", "2024-01")

	require.NoError(t, db.Insert(ctx, arch))
	require.NoError(t, db.Delete(ctx, arch.Reference, arch.DateCreated))

	exists, err := db.Exists(ctx, arch.Reference, arch.DateCreated)
	require.NoError(t, err)
	assert.False(t, exists)

	// Second delete of the same key is a no-op.
	assert.NoError(t, db.Delete(ctx, arch.Reference, arch.DateCreated))
}

func TestListAllNewestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Insert(ctx, testArchive(t, "wikipedia", "en", "nopic", "2023-12")))
	require.NoError(t, db.Insert(ctx, testArchive(t, "wikipedia", "en", "nopic", "2024-02")))
	// A different reference must not appear in the listing.
	require.NoError(t, db.Insert(ctx, testArchive(t, "wiktionary", "fr", "all maxi", "2024-01")))

	ref := uzak.ArchiveReference{Project: "wikipedia", Language: "en", Flavor: "nopic"}
	all, err := db.ListAll(ctx, ref)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "wikipedia_en_nopic_2024-02.zim", all[0].FileName)
	assert.Equal(t, "wikipedia_en_nopic_2023-12.zim", all[1].FileName)
}

func TestReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archives.db")
	ctx := context.Background()

	db, err := New(DefaultConfig(path))
	require.NoError(t, err)
	arch := testArchive(t, "wikipedia", "en", "nopic", "2024-01")
	require.NoError(t, db.Insert(ctx, arch))
	require.NoError(t, db.Close())

	db2, err := New(DefaultConfig(path))
	require.NoError(t, err)
	defer db2.Close()

	exists, err := db2.Exists(ctx, arch.Reference, arch.DateCreated)
	require.NoError(t, err)
	assert.True(t, exists)
}
