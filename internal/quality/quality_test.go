package quality

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ace2g/internal/contentid"
)

const (
	idA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	idB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	tr, err := NewTracker(filepath.Join(t.TempDir(), "quality.json"))
	require.NoError(t, err)

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func manifestWithSegments(segs ...string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:10\n")
	for _, s := range segs {
		b.WriteString("#EXTINF:10.0,\n")
		b.WriteString(s + "\n")
	}
	return b.String()
}

func TestUpdateEmptyManifestRepeated(t *testing.T) {
	tr, _ := newTestTracker(t)

	wantRatings := []int{0, -1, -2}
	for i, want := range wantRatings {
		rating, err := tr.Update(idA, "")
		require.NoError(t, err)
		assert.Equal(t, want, rating, "call %d", i+1)

		snap, err := tr.Get(idA)
		require.NoError(t, err)
		assert.Equal(t, MinQuality, snap.Score, "score floored at minimum")
		assert.False(t, snap.HasEverWorked)
	}
	assert.Equal(t, 3, tr.records[idA].ConsecutiveManifestFailures)
}

func TestUpdateSequenceProgress(t *testing.T) {
	tr, now := newTestTracker(t)

	rating, err := tr.Update(idA, manifestWithSegments("segment42.ts"))
	require.NoError(t, err)
	assert.Equal(t, maxProgressReward, rating, "first observation jumps from zero")

	snap, err := tr.Get(idA)
	require.NoError(t, err)
	assert.True(t, snap.HasEverWorked)
	assert.Equal(t, QualityOnFirstSuccess+maxProgressReward, snap.Score)

	*now = now.Add(5 * time.Second)
	rating, err = tr.Update(idA, manifestWithSegments("segment42.ts", "segment44.ts"))
	require.NoError(t, err)
	assert.Equal(t, 2, rating, "clamp(44-42, 1, 5)")
}

func TestUpdateLargeJumpCapped(t *testing.T) {
	tr, now := newTestTracker(t)

	_, err := tr.Update(idA, manifestWithSegments("segment10.ts"))
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	rating, err := tr.Update(idA, manifestWithSegments("segment500.ts"))
	require.NoError(t, err)
	assert.Equal(t, maxProgressReward, rating)
}

func TestUpdateSameSequenceWithinInterval(t *testing.T) {
	tr, now := newTestTracker(t)

	m := manifestWithSegments("segment42.ts")
	_, err := tr.Update(idA, m)
	require.NoError(t, err)

	before, err := tr.Get(idA)
	require.NoError(t, err)

	*now = now.Add(3 * time.Second) // within the 10s EXTINF interval
	rating, err := tr.Update(idA, m)
	require.NoError(t, err)
	assert.Equal(t, 0, rating)

	after, err := tr.Get(idA)
	require.NoError(t, err)
	assert.Equal(t, before.Score, after.Score)
}

func TestUpdateStallPenalties(t *testing.T) {
	tests := []struct {
		name string
		seg  string
		want int
	}{
		{"young stream", "segment5.ts", -1},
		{"established stream", "segment42.ts", -4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, now := newTestTracker(t)
			m := manifestWithSegments(tt.seg)

			_, err := tr.Update(idA, m)
			require.NoError(t, err)

			*now = now.Add(30 * time.Second) // well past the 10s interval
			rating, err := tr.Update(idA, m)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rating)
		})
	}
}

func TestUpdateUnparsableSequence(t *testing.T) {
	tr, _ := newTestTracker(t)

	_, err := tr.Update(idA, manifestWithSegments("segment42.ts"))
	require.NoError(t, err)
	before, err := tr.Get(idA)
	require.NoError(t, err)

	_, err = tr.Update(idA, "#EXTM3U\n#EXTINF:10.0,\nsegment-without-suffix\n")
	assert.True(t, errors.Is(err, ErrUnparsableSequence))

	after, err := tr.Get(idA)
	require.NoError(t, err)
	assert.Equal(t, before, after, "aborted update must not change state")
}

func TestUpdateRecoveryAfterFailures(t *testing.T) {
	tr, _ := newTestTracker(t)

	for i := 0; i < 3; i++ {
		_, err := tr.Update(idA, "")
		require.NoError(t, err)
	}
	require.Equal(t, 3, tr.records[idA].ConsecutiveManifestFailures)

	_, err := tr.Update(idA, manifestWithSegments("segment1.ts"))
	require.NoError(t, err)
	assert.Equal(t, 0, tr.records[idA].ConsecutiveManifestFailures, "success resets the failure streak")

	snap, err := tr.Get(idA)
	require.NoError(t, err)
	assert.True(t, snap.HasEverWorked)
	assert.GreaterOrEqual(t, snap.Score, QualityOnFirstSuccess)
}

func TestHasEverWorkedNeverReverts(t *testing.T) {
	tr, _ := newTestTracker(t)

	_, err := tr.Update(idA, manifestWithSegments("segment1.ts"))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		_, err := tr.Update(idA, "")
		require.NoError(t, err)
	}
	snap, err := tr.Get(idA)
	require.NoError(t, err)
	assert.True(t, snap.HasEverWorked)
	assert.GreaterOrEqual(t, snap.Score, MinQuality)
	assert.LessOrEqual(t, snap.Score, MaxQuality)
}

func TestUpdateInvalidID(t *testing.T) {
	tr, _ := newTestTracker(t)

	_, err := tr.Update("not-an-id", "")
	assert.True(t, errors.Is(err, contentid.ErrInvalid))
	_, err = tr.Get("xyz")
	assert.True(t, errors.Is(err, contentid.ErrInvalid))
	assert.Empty(t, tr.records, "invalid identifiers never reach the map")
}

func TestGetNormalizesCase(t *testing.T) {
	tr, _ := newTestTracker(t)

	_, err := tr.Update(strings.ToUpper(idA), manifestWithSegments("segment1.ts"))
	require.NoError(t, err)

	snap, err := tr.Get(idA)
	require.NoError(t, err)
	assert.True(t, snap.HasEverWorked)
}
