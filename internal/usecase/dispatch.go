// File: internal/usecase/dispatch.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/adapter"
	"sales-crm-docgen/internal/infra/logging"
	"sales-crm-docgen/internal/infra/metrics"
	"sales-crm-docgen/internal/stream"
)

// Mode is how one generation request is carried out.
type Mode string

const (
	ModeSync            Mode = "sync"
	ModeAsyncBackground Mode = "async-background"
	ModeAsyncStream     Mode = "async-stream"
)

// CallerFlags are the caller's dispatch preferences.
type CallerFlags struct {
	Sync   bool
	Async  bool
	Stream bool
}

// Decide picks the dispatch mode. Streaming always wins. Actions cheap enough
// to bound within a request run synchronously unless the caller asks for a
// job; every other action runs as a background job whatever the flags say.
func Decide(action model.Action, f CallerFlags) Mode {
	if f.Stream {
		return ModeAsyncStream
	}
	spec, _ := action.Spec()
	if spec.SyncAllowed && (f.Sync || !f.Async) {
		return ModeSync
	}
	return ModeAsyncBackground
}

// Scheduler runs a task off the request path. worker.Pool satisfies it.
type Scheduler interface {
	Submit(task func(ctx context.Context) error) error
}

type DispatchRequest struct {
	OwnerID string
	Action  model.Action
	Input   model.JobInput
	Flags   CallerFlags
	// OnStart, when set, sees the claimed job before a live stream begins.
	OnStart func(job *model.DocJob)
}

// DispatchResult carries Generation for sync dispatch and Job otherwise.
// For stream dispatch Job is the terminal snapshot.
type DispatchResult struct {
	Mode       Mode
	Job        *model.DocJob
	Generation *Generation
}

// Dispatcher routes generation requests to sync, background or live-stream
// execution. Each created job is executed exactly once.
type Dispatcher struct {
	jobs        *JobManager
	scheduler   Scheduler
	notifier    adapter.JobNotifier
	syncTimeout time.Duration
	log         *zerolog.Logger

	// base outlives any request; background executions derive from it.
	base context.Context
}

func NewDispatcher(base context.Context, jobs *JobManager, scheduler Scheduler, notifier adapter.JobNotifier, syncTimeout time.Duration, logger *zerolog.Logger) *Dispatcher {
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Dispatcher{
		jobs:        jobs,
		scheduler:   scheduler,
		notifier:    notifier,
		syncTimeout: syncTimeout,
		log:         logging.Component(logger, "Dispatcher"),
		base:        base,
	}
}

// Dispatch validates the request and runs it in the mode Decide selects.
// sink is used only in stream mode.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest, sink stream.Sink) (*DispatchResult, error) {
	if err := req.Action.Validate(req.Input); err != nil {
		return nil, err
	}
	mode := Decide(req.Action, req.Flags)
	metrics.IncDispatch(string(req.Action), string(mode))
	logging.With(ctx, d.log).Debug().Str("action", string(req.Action)).Str("mode", string(mode)).Msg("dispatching")

	switch mode {
	case ModeSync:
		if d.syncTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.syncTimeout)
			defer cancel()
		}
		gen, err := d.jobs.Generate(ctx, req.OwnerID, req.Action, req.Input)
		if err != nil {
			return nil, err
		}
		return &DispatchResult{Mode: mode, Generation: gen}, nil

	case ModeAsyncStream:
		job, err := d.createAndClaim(ctx, req)
		if err != nil {
			return nil, err
		}
		if req.OnStart != nil {
			req.OnStart(job)
		}
		// The job keeps running when the receiver goes away; it stays pollable.
		final, err := d.jobs.Execute(context.WithoutCancel(ctx), job, sink)
		if err != nil {
			logging.With(ctx, d.log).Error().Err(err).Str("job_id", job.ID).Msg("stream job not persisted")
		}
		return &DispatchResult{Mode: mode, Job: final}, nil

	default:
		job, err := d.createAndClaim(ctx, req)
		if err != nil {
			return nil, err
		}
		d.schedule(ctx, job)
		return &DispatchResult{Mode: mode, Job: job}, nil
	}
}

// ClaimAndRun claims the caller's pending job and schedules its execution.
func (d *Dispatcher) ClaimAndRun(ctx context.Context, id, ownerID string) (*model.DocJob, error) {
	job, err := d.jobs.Claim(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	d.schedule(ctx, job)
	return job, nil
}

func (d *Dispatcher) createAndClaim(ctx context.Context, req DispatchRequest) (*model.DocJob, error) {
	job, err := d.jobs.Create(ctx, req.OwnerID, req.Action, req.Input)
	if err != nil {
		return nil, err
	}
	claimed, err := d.jobs.Claim(ctx, job.ID, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("claim new job: %w", err)
	}
	return claimed, nil
}

// schedule hands a claimed job to the scheduler. A full queue falls back to a
// detached goroutine so a claimed job is never left unexecuted.
func (d *Dispatcher) schedule(ctx context.Context, job *model.DocJob) {
	trace := logging.TraceID(ctx)
	task := func(ctx context.Context) error {
		if trace != "" {
			ctx = logging.WithTraceID(ctx, trace)
		}
		d.RunClaimed(ctx, job)
		return nil
	}
	if d.scheduler != nil {
		err := d.scheduler.Submit(task)
		if err == nil {
			return
		}
		d.log.Warn().Err(err).Str("job_id", job.ID).Msg("scheduler rejected job, running detached")
	}
	go func() { _ = task(d.base) }()
}

// RunClaimed executes a claimed job and notifies on completion.
func (d *Dispatcher) RunClaimed(ctx context.Context, job *model.DocJob) *model.DocJob {
	final, err := d.jobs.Execute(ctx, job, nil)
	if err != nil {
		d.log.Error().Err(err).Str("job_id", job.ID).Msg("background job not persisted")
		return final
	}
	if d.notifier != nil {
		if nerr := d.notifier.JobFinished(context.WithoutCancel(ctx), final); nerr != nil {
			d.log.Warn().Err(nerr).Str("job_id", job.ID).Msg("job notification failed")
		}
	}
	return final
}
