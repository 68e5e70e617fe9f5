// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package acestream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockEngine provides a configurable AceStream engine mock for testing.
// It answers the playback-start, stat, command and version endpoints and
// records every stop command it receives.
type MockEngine struct {
	*httptest.Server
	mu        sync.RWMutex
	version   string
	manifests map[string]string // content id -> manifest body served
	stops     []string          // content ids stopped, in order
	startFail bool              // start endpoint returns an engine error
	downAll   bool              // every endpoint returns 502
}

// NewMockEngine creates a mock engine with sane defaults.
func NewMockEngine() *MockEngine {
	m := &MockEngine{
		version:   "3.1.49",
		manifests: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ace/manifest.m3u8", m.handleStart)
	mux.HandleFunc("/ace/m/", m.handleManifest)
	mux.HandleFunc("/ace/stat/", m.handleStat)
	mux.HandleFunc("/ace/cmd/", m.handleCommand)
	mux.HandleFunc("/webui/api/service", m.handleService)

	m.Server = httptest.NewServer(mux)
	return m
}

// SetManifest configures the manifest body served for a content id.
func (m *MockEngine) SetManifest(contentID, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[contentID] = body
}

// SetStartFailure makes the start endpoint return an engine-level error.
func (m *MockEngine) SetStartFailure(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startFail = fail
}

// SetDown makes every endpoint answer 502.
func (m *MockEngine) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downAll = down
}

// Stops returns the content ids that received a stop command, in order.
func (m *MockEngine) Stops() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.stops))
	copy(out, m.stops)
	return out
}

func (m *MockEngine) down(w http.ResponseWriter) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.downAll {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return true
	}
	return false
}

func (m *MockEngine) handleStart(w http.ResponseWriter, r *http.Request) {
	if m.down(w) {
		return
	}
	m.mu.RLock()
	fail := m.startFail
	m.mu.RUnlock()

	id := r.URL.Query().Get("content_id")
	if fail {
		writeJSON(w, map[string]any{"response": nil, "error": "cannot start playback"})
		return
	}
	writeJSON(w, map[string]any{
		"response": map[string]any{
			"playback_url": m.URL + "/ace/m/" + id + "/manifest.m3u8",
			"stat_url":     m.URL + "/ace/stat/" + id,
			"command_url":  m.URL + "/ace/cmd/" + id,
			"infohash":     id,
		},
		"error": "",
	})
}

func (m *MockEngine) handleManifest(w http.ResponseWriter, r *http.Request) {
	if m.down(w) {
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/ace/m/"), "/")
	if len(parts) < 1 {
		http.NotFound(w, r)
		return
	}
	m.mu.RLock()
	body, ok := m.manifests[parts[0]]
	m.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	fmt.Fprint(w, body)
}

func (m *MockEngine) handleStat(w http.ResponseWriter, r *http.Request) {
	if m.down(w) {
		return
	}
	writeJSON(w, map[string]any{
		"response": map[string]any{
			"status": "dl", "peers": 12, "speed_down": 3120, "downloaded": 1 << 20,
		},
	})
}

func (m *MockEngine) handleCommand(w http.ResponseWriter, r *http.Request) {
	if m.down(w) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/ace/cmd/")
	if r.URL.Query().Get("method") == "stop" {
		m.mu.Lock()
		m.stops = append(m.stops, id)
		m.mu.Unlock()
	}
	writeJSON(w, map[string]any{"response": "ok"})
}

func (m *MockEngine) handleService(w http.ResponseWriter, r *http.Request) {
	if m.down(w) {
		return
	}
	if r.URL.Query().Get("method") != "get_version" {
		http.NotFound(w, r)
		return
	}
	m.mu.RLock()
	v := m.version
	m.mu.RUnlock()
	writeJSON(w, map[string]any{"result": map[string]any{"version": v}, "error": nil})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
