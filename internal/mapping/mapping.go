// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package mapping persists the content-id to infohash associations observed
// on engine session starts. The on-disk format is a two column CSV without a
// header; the file is rewritten in full on every change.
package mapping

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/ace2g/internal/contentid"
	"github.com/ManuGH/ace2g/internal/log"
)

// Store is an in-memory bidirectional map backed by a CSV file.
type Store struct {
	mu        sync.Mutex
	path      string
	byContent map[string]string
	byAux     map[string]string
}

// Open loads the store at path, creating an empty one when the file does not
// exist. Rows with malformed content identifiers are dropped with a warning.
func Open(path string) (*Store, error) {
	s := &Store{
		path:      path,
		byContent: make(map[string]string),
		byAux:     make(map[string]string),
	}

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read mapping file: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = 2
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse mapping file %s: %w", path, err)
	}

	logger := log.WithComponent("mapping")
	for _, row := range rows {
		id, err := contentid.Normalize(row[0])
		if err != nil {
			logger.Warn().
				Str("event", "mapping.drop_invalid").
				Str("content_id", row[0]).
				Msg("dropping mapping row with invalid content identifier")
			continue
		}
		s.byContent[id] = row[1]
		s.byAux[row[1]] = id
	}
	return s, nil
}

// Record stores the association and rewrites the file. Recording an existing
// identical pair is a no-op.
func (s *Store) Record(rawID, aux string) error {
	id, err := contentid.Normalize(rawID)
	if err != nil {
		return err
	}
	if aux == "" {
		return fmt.Errorf("mapping: empty auxiliary identifier")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byContent[id] == aux {
		return nil
	}
	if old, ok := s.byContent[id]; ok {
		delete(s.byAux, old)
	}
	s.byContent[id] = aux
	s.byAux[aux] = id
	return s.persistLocked()
}

// AuxFor returns the auxiliary identifier mapped to contentID.
func (s *Store) AuxFor(rawID string) (string, bool) {
	id, err := contentid.Normalize(rawID)
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	aux, ok := s.byContent[id]
	return aux, ok
}

// ContentFor returns the content identifier mapped to aux.
func (s *Store) ContentFor(aux string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byAux[aux]
	return id, ok
}

// Len returns the number of stored associations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byContent)
}

func (s *Store) persistLocked() error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for id, aux := range s.byContent {
		if err := w.Write([]string{id, aux}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return renameio.WriteFile(s.path, buf.Bytes(), 0o644)
}
