// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package relay fetches playlist manifests from a pool entry's engine
// session, rewrites them for client delivery and reports every outcome to
// the quality tracker.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/ace2g/internal/log"
	"github.com/ManuGH/ace2g/internal/metrics"
	"github.com/ManuGH/ace2g/internal/pool"
	"github.com/ManuGH/ace2g/internal/quality"
)

const (
	// fetchTimeout bounds one upstream manifest fetch. No automatic retry:
	// stacking latency on an unhealthy upstream helps nobody.
	fetchTimeout = 10 * time.Second

	// excerptLimit bounds the diagnostic excerpt returned for bad streams.
	excerptLimit = 1000
)

var (
	// ErrUpstream covers connection failures, timeouts and unresolved
	// entries; the affected request degrades, nothing else does.
	ErrUpstream = errors.New("relay: upstream manifest fetch failed")

	// ErrMalformed marks a response without the #EXTM3U marker.
	ErrMalformed = errors.New("relay: malformed manifest")
)

// MalformedError carries a diagnostic excerpt of the received content.
type MalformedError struct {
	Excerpt string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMalformed, e.Excerpt)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// hopByHopHeaders are dropped before relaying: body length and framing change
// after rewriting.
var hopByHopHeaders = []string{
	"Content-Encoding",
	"Content-Length",
	"Transfer-Encoding",
	"Connection",
	"Keep-Alive",
}

// Result is a relayed manifest ready for client delivery.
type Result struct {
	Body   []byte
	Header http.Header
	Status int
}

// Relay wires the pool, the quality tracker and the public address together.
type Relay struct {
	pool    *pool.Pool
	quality *quality.Tracker

	upstreamBase string
	publicBase   string

	httpClient *http.Client
}

// New returns a relay. upstreamBase is the engine address found in manifest
// lines; publicBase is this service's externally visible address.
func New(p *pool.Pool, q *quality.Tracker, upstreamBase, publicBase string) *Relay {
	return &Relay{
		pool:         p,
		quality:      q,
		upstreamBase: upstreamBase,
		publicBase:   publicBase,
		httpClient:   &http.Client{Timeout: fetchTimeout},
	}
}

// Manifest resolves contentID through the pool, fetches the entry's manifest,
// validates and rewrites it. Fetch failures and malformed bodies are reported
// to the quality tracker as failures; valid manifests as successes.
func (r *Relay) Manifest(ctx context.Context, rawID string) (*Result, error) {
	logger := log.WithComponentFromContext(ctx, "relay")

	manifestURL, err := r.pool.Resolve(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if manifestURL == "" {
		// Binding exists but the engine session is not resolved yet.
		r.reportFailure(rawID)
		metrics.IncRelayRequest("upstream_error")
		return nil, fmt.Errorf("%w: engine session not ready", ErrUpstream)
	}

	body, header, status, err := r.fetch(ctx, manifestURL)
	if err != nil {
		r.reportFailure(rawID)
		metrics.IncRelayRequest("upstream_error")
		logger.Warn().
			Err(err).
			Str("event", "relay.fetch_failed").
			Str("content_id", rawID).
			Msg("upstream manifest fetch failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if !strings.Contains(body, "#EXTM3U") {
		r.reportFailure(rawID)
		metrics.IncRelayRequest("malformed")
		logger.Warn().
			Str("event", "relay.malformed").
			Str("content_id", rawID).
			Int("received_bytes", len(body)).
			Msg("upstream response is not an HLS playlist")
		return nil, &MalformedError{Excerpt: excerpt(body)}
	}

	if _, err := r.quality.Update(rawID, body); err != nil && !errors.Is(err, quality.ErrUnparsableSequence) {
		logger.Warn().
			Err(err).
			Str("event", "relay.quality_report_failed").
			Str("content_id", rawID).
			Msg("quality update failed")
	}
	metrics.IncRelayRequest("ok")

	rewritten := RewriteManifest(body, r.upstreamBase, r.publicBase)
	return &Result{
		Body:   []byte(rewritten),
		Header: stripHopByHop(header),
		Status: status,
	}, nil
}

func (r *Relay) fetch(ctx context.Context, url string) (string, http.Header, int, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, 0, err
	}

	start := time.Now()
	res, err := r.httpClient.Do(req)
	metrics.ObserveRelayFetch(time.Since(start))
	if err != nil {
		return "", nil, 0, err
	}
	defer res.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", nil, 0, err
	}
	if res.StatusCode >= 400 {
		return "", nil, 0, fmt.Errorf("upstream status %d", res.StatusCode)
	}
	return string(body), res.Header, res.StatusCode, nil
}

func (r *Relay) reportFailure(rawID string) {
	if _, err := r.quality.Update(rawID, ""); err != nil {
		logger := log.WithComponent("relay")
		logger.Warn().
			Err(err).
			Str("event", "relay.quality_report_failed").
			Str("content_id", rawID).
			Msg("quality failure report failed")
	}
}

func stripHopByHop(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	return out
}

func excerpt(body string) string {
	if len(body) > excerptLimit {
		return body[:excerptLimit]
	}
	return body
}
