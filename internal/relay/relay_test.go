package relay

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/ace2g/internal/acestream"
	"github.com/ManuGH/ace2g/internal/contentid"
	"github.com/ManuGH/ace2g/internal/pool"
	"github.com/ManuGH/ace2g/internal/quality"
)

const (
	relayID    = "dddddddddddddddddddddddddddddddddddddddd"
	publicBase = "http://stream.example.org:8000"
)

type testRelay struct {
	*Relay
	tracker   *quality.Tracker
	storePath string
}

func newTestRelay(t *testing.T, engine *acestream.MockEngine) *testRelay {
	t.Helper()
	p := pool.New(acestream.New(engine.URL), pool.Config{MaxSize: 2})
	storePath := filepath.Join(t.TempDir(), "quality.json")
	tracker, err := quality.NewTracker(storePath)
	require.NoError(t, err)
	return &testRelay{
		Relay:     New(p, tracker, engine.URL, publicBase),
		tracker:   tracker,
		storePath: storePath,
	}
}

// failures reads the persisted failure counter for id from the durable store.
func (tr *testRelay) failures(t *testing.T, id string) int {
	t.Helper()
	data, err := os.ReadFile(tr.storePath)
	require.NoError(t, err)
	var records map[string]struct {
		ConsecutiveManifestFailures int `json:"consecutive_manifest_failures"`
	}
	require.NoError(t, json.Unmarshal(data, &records))
	return records[id].ConsecutiveManifestFailures
}

func liveManifest(engineBase string) string {
	return "#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:10\n" +
		"#EXTINF:10.0,\n" +
		engineBase + "/ace/c/s1/segment41.ts\n" +
		"#EXTINF:10.0,\n" +
		engineBase + "/ace/c/s1/segment42.ts\n"
}

func TestManifestSuccess(t *testing.T) {
	engine := acestream.NewMockEngine()
	defer engine.Close()
	engine.SetManifest(relayID, liveManifest(engine.URL))
	r := newTestRelay(t, engine)

	res, err := r.Manifest(context.Background(), relayID)
	require.NoError(t, err)

	body := string(res.Body)
	assert.Contains(t, body, publicBase+"/ace/c/s1/segment42.ts", "content lines re-pointed")
	assert.NotContains(t, body, engine.URL, "upstream address must not leak")
	assert.Empty(t, res.Header.Get("Content-Length"), "hop-by-hop headers stripped")
	assert.NotEmpty(t, res.Header.Get("Content-Type"))

	snap, err := r.tracker.Get(relayID)
	require.NoError(t, err)
	assert.True(t, snap.HasEverWorked, "success reported to quality tracker")
	assert.GreaterOrEqual(t, snap.Score, quality.QualityOnFirstSuccess)
}

func TestManifestMalformed(t *testing.T) {
	engine := acestream.NewMockEngine()
	defer engine.Close()
	engine.SetManifest(relayID, "<html><body>not a playlist</body></html>")
	r := newTestRelay(t, engine)

	_, err := r.Manifest(context.Background(), relayID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))

	var malformed *MalformedError
	require.True(t, errors.As(err, &malformed))
	assert.Contains(t, malformed.Excerpt, "not a playlist")

	snap, err := r.tracker.Get(relayID)
	require.NoError(t, err)
	assert.False(t, snap.HasEverWorked, "malformed body counts as a failure")
	assert.Equal(t, 1, r.failures(t, relayID))
}

func TestManifestExcerptBounded(t *testing.T) {
	engine := acestream.NewMockEngine()
	defer engine.Close()
	engine.SetManifest(relayID, strings.Repeat("x", 5000))
	r := newTestRelay(t, engine)

	_, err := r.Manifest(context.Background(), relayID)
	var malformed *MalformedError
	require.True(t, errors.As(err, &malformed))
	assert.Len(t, malformed.Excerpt, excerptLimit)
}

func TestManifestUpstreamDown(t *testing.T) {
	engine := acestream.NewMockEngine()
	defer engine.Close()
	engine.SetManifest(relayID, liveManifest(engine.URL))
	r := newTestRelay(t, engine)

	// Bind and resolve while healthy, then lose the engine.
	_, err := r.Manifest(context.Background(), relayID)
	require.NoError(t, err)
	engine.SetDown(true)

	_, err = r.Manifest(context.Background(), relayID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))

	snap, err := r.tracker.Get(relayID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.failures(t, relayID), "fetch failure reported")
	assert.True(t, snap.HasEverWorked, "earlier success is not forgotten")
}

func TestManifestUnresolvedEntry(t *testing.T) {
	engine := acestream.NewMockEngine()
	defer engine.Close()
	engine.SetStartFailure(true)
	r := newTestRelay(t, engine)

	_, err := r.Manifest(context.Background(), relayID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.Equal(t, 1, r.failures(t, relayID))
}

func TestManifestInvalidID(t *testing.T) {
	engine := acestream.NewMockEngine()
	defer engine.Close()
	r := newTestRelay(t, engine)

	_, err := r.Manifest(context.Background(), "junk")
	assert.True(t, errors.Is(err, contentid.ErrInvalid))
}
