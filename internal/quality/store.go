// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package quality

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"

	"github.com/ManuGH/ace2g/internal/contentid"
	"github.com/ManuGH/ace2g/internal/log"
)

// selfWriteWindow suppresses watcher reloads triggered by our own persist.
const selfWriteWindow = 2 * time.Second

// load reads the durable score map. The store is treated as untrusted input:
// identifiers failing validation are dropped with a warning.
func (t *Tracker) load() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return t.replaceFrom(data)
}

func (t *Tracker) replaceFrom(data []byte) error {
	var raw map[string]*Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	logger := log.WithComponent("quality")
	records := make(map[string]*Record, len(raw))
	for id, rec := range raw {
		norm, err := contentid.Normalize(id)
		if err != nil {
			logger.Warn().
				Str("event", "quality.drop_invalid").
				Str("content_id", id).
				Msg("dropping cache entry with invalid content identifier")
			continue
		}
		rec.Score = clamp(rec.Score, MinQuality, MaxQuality)
		records[norm] = rec
	}

	t.mu.Lock()
	t.records = records
	t.mu.Unlock()
	return nil
}

// persistLocked writes the full score map atomically. Caller holds the lock.
func (t *Tracker) persistLocked() error {
	data, err := json.MarshalIndent(t.records, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(t.path, data, 0o644); err != nil {
		return err
	}
	t.lastPersist = t.now()
	return nil
}

// Watch reloads the store when the file changes on disk, so manual cache
// edits take effect without a restart. Blocks until ctx is cancelled.
func (t *Tracker) Watch(ctx context.Context) error {
	logger := log.WithComponent("quality")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = watcher.Close()
	}()

	// Watch the parent directory: atomic replaces swap the inode.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return err
	}

	target := filepath.Base(t.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("quality: watcher channel closed")
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			t.mu.Lock()
			selfWrite := t.now().Sub(t.lastPersist) < selfWriteWindow
			t.mu.Unlock()
			if selfWrite {
				continue
			}
			if err := t.load(); err != nil {
				logger.Warn().
					Err(err).
					Str("event", "quality.reload_failed").
					Str("path", t.path).
					Msg("external cache edit could not be loaded")
				continue
			}
			logger.Info().
				Str("event", "quality.reloaded").
				Str("path", t.path).
				Msg("quality store reloaded after external edit")
		case werr, ok := <-watcher.Errors:
			if !ok {
				return errors.New("quality: watcher error channel closed")
			}
			logger.Warn().Err(werr).Msg("quality store watcher error")
		}
	}
}
