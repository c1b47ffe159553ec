package run

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cloudfold/backup-operator/internal/backup"
	"github.com/cloudfold/backup-operator/internal/config"
	"github.com/cloudfold/backup-operator/internal/storage"
)

// Status is the outcome of one backup interface entry.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is the per-interface outcome of a run.
type Result struct {
	Interface string
	Status    Status
	Err       error
	Elapsed   time.Duration
}

// Report aggregates per-interface results for one run.
type Report struct {
	Results []Result
}

// Failed reports whether any enabled interface failed.
func (r Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}

type entry struct {
	name    string
	enabled bool
	impl    backup.Interface
}

// Orchestrator invokes the enabled backup interfaces of one configuration
// sequentially, in declaration order, against a single shared storage.
type Orchestrator struct {
	name     string
	entries  []entry
	graceful bool
}

// New builds the storage instance and the enabled backup interfaces.
// Instantiation failures here are configuration-time errors and abort the run.
func New(cfg config.Config, graceful bool) (*Orchestrator, error) {
	store, err := storage.New(cfg.Storage.Interface, cfg.Storage.Attrs)
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", cfg.Storage.Interface, err)
	}

	o := &Orchestrator{name: cfg.Name, graceful: graceful}
	for _, e := range cfg.Interfaces {
		if !e.Enabled {
			o.entries = append(o.entries, entry{name: e.Interface})
			continue
		}
		impl, err := backup.New(e.Interface, e.Attrs, store)
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", e.Interface, err)
		}
		o.entries = append(o.entries, entry{name: e.Interface, enabled: true, impl: impl})
	}
	return o, nil
}

// Run executes every enabled entry and captures per-interface outcomes.
// One interface failing does not prevent the others from running unless
// graceful error handling is disabled.
func (o *Orchestrator) Run(ctx context.Context) Report {
	log.Info().Str("config", o.name).Msg("starting backup run")

	var rep Report
	aborted := false

	for _, e := range o.entries {
		if !e.enabled || aborted {
			if !aborted {
				log.Info().Str("interface", e.name).Msg("interface disabled, skipping")
			}
			rep.Results = append(rep.Results, Result{Interface: e.name, Status: StatusSkipped})
			continue
		}

		start := time.Now()
		err := e.impl.Validate(ctx)
		if err == nil {
			err = e.impl.Run(ctx)
		}
		elapsed := time.Since(start)

		if err != nil {
			log.Error().Err(err).
				Str("interface", e.name).
				Dur("elapsed_ms", elapsed).
				Msg("interface failed")
			rep.Results = append(rep.Results, Result{Interface: e.name, Status: StatusFailed, Err: err, Elapsed: elapsed})
			if !o.graceful {
				aborted = true
			}
			continue
		}
		rep.Results = append(rep.Results, Result{Interface: e.name, Status: StatusSuccess, Elapsed: elapsed})
	}
	return rep
}
