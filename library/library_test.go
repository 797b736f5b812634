package library

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const showOutput = `
1.
	id:		abcd-1234
	path:		/data/archives/wikipedia_en_nopic_2024-01.zim
	title:		Wikipedia
2.
	id:		efgh-5678
	path:		/data/archives/wiktionary_fr_all_maxi_2023-12.zim
	title:		Wiktionnaire
`

type call struct {
	exe  string
	args []string
}

func fakeManager(output string, err error) (*Manager, *[]call) {
	var calls []call
	m := NewManager("/usr/bin/kiwix-manage", "/data/library.xml", nil)
	m.run = func(_ context.Context, exe string, args ...string) ([]byte, error) {
		calls = append(calls, call{exe: exe, args: args})
		if err != nil {
			return nil, err
		}
		return []byte(output), nil
	}
	return m, &calls
}

func TestAdd(t *testing.T) {
	m, calls := fakeManager("", nil)

	require.NoError(t, m.Add(context.Background(), "/data/archives/a.zim"))
	require.Len(t, *calls, 1)
	assert.Equal(t, "/usr/bin/kiwix-manage", (*calls)[0].exe)
	assert.Equal(t, []string{"/data/library.xml", "add", "/data/archives/a.zim"}, (*calls)[0].args)
}

func TestShow(t *testing.T) {
	m, _ := fakeManager(showOutput, nil)

	entries, err := m.Show(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{ID: "abcd-1234", Path: "/data/archives/wikipedia_en_nopic_2024-01.zim"},
		{ID: "efgh-5678", Path: "/data/archives/wiktionary_fr_all_maxi_2023-12.zim"},
	}, entries)
}

func TestIDByPath(t *testing.T) {
	m, _ := fakeManager(showOutput, nil)

	id, err := m.IDByPath(context.Background(), "/data/archives/wiktionary_fr_all_maxi_2023-12.zim")
	require.NoError(t, err)
	assert.Equal(t, "efgh-5678", id)

	id, err = m.IDByPath(context.Background(), "/data/archives/unknown.zim")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestRemoveByPath(t *testing.T) {
	m, calls := fakeManager(showOutput, nil)

	require.NoError(t, m.RemoveByPath(context.Background(), "/data/archives/wikipedia_en_nopic_2024-01.zim"))
	require.Len(t, *calls, 2)
	assert.Equal(t, []string{"/data/library.xml", "show"}, (*calls)[0].args)
	assert.Equal(t, []string{"/data/library.xml", "remove", "abcd-1234"}, (*calls)[1].args)
}

func TestRemoveByPathAbsentIsNoOp(t *testing.T) {
	m, calls := fakeManager(showOutput, nil)

	require.NoError(t, m.RemoveByPath(context.Background(), "/data/archives/unknown.zim"))
	// Only the show call; no remove issued.
	require.Len(t, *calls, 1)
	assert.Equal(t, []string{"/data/library.xml", "show"}, (*calls)[0].args)
}

func TestRemoveByPathPropagatesExecError(t *testing.T) {
	execErr := errors.New("exec failed")
	m, _ := fakeManager("", execErr)

	err := m.RemoveByPath(context.Background(), "/data/archives/a.zim")
	assert.ErrorIs(t, err, execErr)
}

func TestParseListingIgnoresPathWithoutID(t *testing.T) {
	entries := parseListing(strings.Join([]string{
		"path: /orphan.zim",
		"id: abc",
		"path: /real.zim",
	}, "\n"))
	assert.Equal(t, []Entry{{ID: "abc", Path: "/real.zim"}}, entries)
}
