package quality

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quality.json")

	tr, err := NewTracker(path)
	require.NoError(t, err)
	tr.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }

	_, err = tr.Update(idA, manifestWithSegments("segment7.ts"))
	require.NoError(t, err)
	_, err = tr.Update(idB, "")
	require.NoError(t, err)
	_, err = tr.Update(idB, "")
	require.NoError(t, err)

	reloaded, err := NewTracker(path)
	require.NoError(t, err)

	a, err := reloaded.Get(idA)
	require.NoError(t, err)
	b, err := reloaded.Get(idB)
	require.NoError(t, err)

	orig, err := tr.Get(idA)
	require.NoError(t, err)
	assert.Equal(t, orig, a)
	assert.True(t, a.HasEverWorked)
	assert.Equal(t, Snapshot{Score: MinQuality}, b)
	assert.Equal(t, 2, reloaded.records[idB].ConsecutiveManifestFailures)
}

func TestLoadDropsInvalidIdentifiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quality.json")

	blob := map[string]Record{
		idA:             {Score: 42, HasEverWorked: true},
		"../../bad-key": {Score: 99},
		"deadbeef":      {Score: 10},
	}
	data, err := json.Marshal(blob)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	tr, err := NewTracker(path)
	require.NoError(t, err)

	assert.Len(t, tr.records, 1)
	snap, err := tr.Get(idA)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Score: 42, HasEverWorked: true}, snap)
}

func TestLoadClampsOutOfRangeScores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quality.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"`+idA+`": {"score": 1000}}`), 0o644))

	tr, err := NewTracker(path)
	require.NoError(t, err)

	snap, err := tr.Get(idA)
	require.NoError(t, err)
	assert.Equal(t, MaxQuality, snap.Score)
}

func TestLoadMissingFile(t *testing.T) {
	tr, err := NewTracker(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Empty(t, tr.records)
}

func TestWatchReloadsExternalEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quality.json")

	tr, err := NewTracker(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Watch(ctx)
	}()

	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)

	data, err := json.Marshal(map[string]Record{idA: {Score: 33, HasEverWorked: true}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.Eventually(t, func() bool {
		snap, err := tr.Get(idA)
		return err == nil && snap.Score == 33
	}, 3*time.Second, 50*time.Millisecond, "external edit should be picked up")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}
