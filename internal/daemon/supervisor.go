// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon supervises the long-lived background tasks of the gateway.
// A task that returns early or panics is logged and restarted instead of
// silently dying; cancellation of the parent context stops everything.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/ace2g/internal/log"
)

// defaultRestartDelay spaces restarts of a crashing task.
const defaultRestartDelay = 5 * time.Second

type task struct {
	name string
	run  func(context.Context) error
}

// Supervisor runs a fixed set of named tasks for the process lifetime.
type Supervisor struct {
	tasks        []task
	restartDelay time.Duration
}

// NewSupervisor returns an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{restartDelay: defaultRestartDelay}
}

// Add registers a named task. Must be called before Run.
func (s *Supervisor) Add(name string, run func(context.Context) error) {
	s.tasks = append(s.tasks, task{name: name, run: run})
}

// Run starts every task and blocks until ctx is cancelled and all tasks have
// returned.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.supervise(ctx, t)
		}()
	}
	wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, t task) {
	logger := log.WithComponent("daemon").With().Str("task", t.name).Logger()
	for {
		err := runRecovered(ctx, t)
		if ctx.Err() != nil {
			logger.Info().Str("event", "task.stopped").Msg("task stopped")
			return
		}
		if err != nil {
			logger.Error().
				Err(err).
				Str("event", "task.crashed").
				Dur("restart_in", s.restartDelay).
				Msg("background task exited unexpectedly, restarting")
		} else {
			logger.Warn().
				Str("event", "task.returned").
				Dur("restart_in", s.restartDelay).
				Msg("background task returned without error, restarting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.restartDelay):
		}
	}
}

func runRecovered(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.run(ctx)
}
