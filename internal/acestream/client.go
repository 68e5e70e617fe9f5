// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package acestream is a minimal HTTP client for the AceStream engine API.
//
// Every engine call is control-plane traffic with a short timeout; transport
// failures and structurally unexpected payloads are converted to sentinel
// errors so callers can degrade instead of crashing.
package acestream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const controlTimeout = 3 * time.Second

// Session describes one started playback session on the engine.
type Session struct {
	PlaybackURL string `json:"playback_url"`
	StatURL     string `json:"stat_url"`
	CommandURL  string `json:"command_url"`
	Infohash    string `json:"infohash"`
}

// Client talks to a single AceStream engine base address.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for the given engine base address, e.g. "http://127.0.0.1:6878".
func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: controlTimeout},
	}
}

// Base returns the engine base address the client was built with.
func (c *Client) Base() string {
	return c.base
}

// Start asks the engine to begin playback of contentID on process pid and
// returns the session descriptor. transcodeAudio requests AC3 transcoding.
func (c *Client) Start(ctx context.Context, contentID string, pid int, transcodeAudio bool) (*Session, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("content_id", contentID)
	q.Set("pid", strconv.Itoa(pid))
	q.Set("transcode_ac3", strconv.FormatBool(transcodeAudio))
	u := c.base + "/ace/manifest.m3u8?" + q.Encode()

	var payload struct {
		Response *Session `json:"response"`
		Error    string   `json:"error"`
	}
	if err := c.getJSON(ctx, "start", u, &payload); err != nil {
		return nil, err
	}
	if payload.Error != "" {
		return nil, &EngineError{Sentinel: ErrBadResponse, Operation: "start", Body: payload.Error}
	}
	if payload.Response == nil || payload.Response.PlaybackURL == "" {
		return nil, &EngineError{Sentinel: ErrBadResponse, Operation: "start", Body: "empty response payload"}
	}
	return payload.Response, nil
}

// Stat fetches the raw statistics blob for a session. The payload is
// engine-defined and surfaced verbatim, so it stays a json.RawMessage.
func (c *Client) Stat(ctx context.Context, statURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statURL, nil)
	if err != nil {
		return nil, &EngineError{Sentinel: ErrBadResponse, Operation: "stat", Err: err}
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, transportError("stat", err)
	}
	defer res.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, transportError("stat", err)
	}
	if !json.Valid(body) {
		return nil, &EngineError{Sentinel: ErrBadResponse, Operation: "stat", Status: res.StatusCode, Body: excerpt(body)}
	}
	return json.RawMessage(body), nil
}

// Stop issues a stop command for the session behind commandURL.
func (c *Client) Stop(ctx context.Context, commandURL string) error {
	u := commandURL
	if strings.Contains(u, "?") {
		u += "&method=stop"
	} else {
		u += "?method=stop"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &EngineError{Sentinel: ErrBadResponse, Operation: "stop", Err: err}
	}
	res, err := c.http.Do(req)
	if err != nil {
		return transportError("stop", err)
	}
	defer res.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, res.Body)
	if res.StatusCode >= 400 {
		return &EngineError{Sentinel: ErrBadResponse, Operation: "stop", Status: res.StatusCode}
	}
	return nil
}

// Version queries the engine service endpoint for its version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	u := c.base + "/webui/api/service?method=get_version"
	var payload struct {
		Result *struct {
			Version string `json:"version"`
		} `json:"result"`
		Error string `json:"error"`
	}
	if err := c.getJSON(ctx, "version", u, &payload); err != nil {
		return "", err
	}
	if payload.Error != "" || payload.Result == nil || payload.Result.Version == "" {
		return "", &EngineError{Sentinel: ErrBadResponse, Operation: "version", Body: payload.Error}
	}
	return payload.Result.Version, nil
}

func (c *Client) getJSON(ctx context.Context, op, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &EngineError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	res, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer res.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return transportError(op, err)
	}
	if res.StatusCode >= 400 {
		return &EngineError{Sentinel: ErrUnavailable, Operation: op, Status: res.StatusCode, Body: excerpt(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &EngineError{Sentinel: ErrBadResponse, Operation: op, Status: res.StatusCode, Body: excerpt(body), Err: err}
	}
	return nil
}

func transportError(op string, err error) error {
	sentinel := ErrUnavailable
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		sentinel = ErrTimeout
	} else if errors.Is(err, context.DeadlineExceeded) {
		sentinel = ErrTimeout
	}
	return &EngineError{Sentinel: sentinel, Operation: op, Err: err}
}

func excerpt(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return fmt.Sprintf("%s... (%d bytes)", s[:max], len(s))
	}
	return s
}
