package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "history.db")
	store, err := Open(path)
	require.NoError(t, err)
	return store, path
}

func TestRecordAndList(t *testing.T) {
	store, _ := openTemp(t)
	defer func() { _ = store.Close() }()

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run, err := store.Record(Run{
			StartedAt: started.Add(time.Duration(i) * time.Hour),
			Duration:  1500 * time.Millisecond,
			Source:    "/photos",
			Dest:      "/web",
			Planned:   i + 1,
			Copied:    int64(i),
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), run.ID)
	}

	runs, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// newest first
	assert.Equal(t, uint64(3), runs[0].ID)
	assert.Equal(t, uint64(1), runs[2].ID)
	assert.Equal(t, int64(2), runs[0].Copied)
	assert.True(t, runs[0].StartedAt.Equal(started.Add(2*time.Hour)))
	assert.Equal(t, 1500*time.Millisecond, runs[1].Duration)
	assert.Equal(t, "/web", runs[1].Dest)
}

func TestList_Limit(t *testing.T) {
	store, _ := openTemp(t)
	defer func() { _ = store.Close() }()

	for i := 0; i < 5; i++ {
		_, err := store.Record(Run{Planned: i})
		require.NoError(t, err)
	}

	runs, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 4, runs[0].Planned)
	assert.Equal(t, 3, runs[1].Planned)
}

func TestList_Empty(t *testing.T) {
	store, _ := openTemp(t)
	defer func() { _ = store.Close() }()

	runs, err := store.List(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestReopenKeepsRuns(t *testing.T) {
	store, path := openTemp(t)
	_, err := store.Record(Run{Source: "/a", DryRun: true})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	run, err := store.Record(Run{Source: "/b"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), run.ID)

	runs, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[1].DryRun)
}
