// File: internal/usecase/docjob_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/adapter"
	"sales-crm-docgen/internal/domain/ports/repository"
	"sales-crm-docgen/internal/infra/logging"
	"sales-crm-docgen/internal/infra/metrics"
	"sales-crm-docgen/internal/normalize"
	"sales-crm-docgen/internal/retry"
	"sales-crm-docgen/internal/stream"
)

// TokenEstimator counts tokens locally when a provider reports no usage.
type TokenEstimator interface {
	Estimate(text string) int
}

// Generation is the outcome of one upstream reply after normalization.
type Generation struct {
	Content   string      `json:"content"`
	Usage     model.Usage `json:"usage"`
	Truncated bool        `json:"-"`
	Warning   string      `json:"warning,omitempty"`
}

const truncationWarning = "the reply was cut off at the token limit; the document may be incomplete"

// JobManagerOptions tunes a JobManager. Zero values select defaults.
type JobManagerOptions struct {
	// MaxTokens applies when the prompt does not set its own limit.
	MaxTokens int
	// WriteTimeout bounds the terminal write, which runs detached from the caller.
	WriteTimeout time.Duration
	// ExecTimeout bounds one Execute run, prompt to normalized reply. 0 means no limit.
	ExecTimeout time.Duration
	Estimator   TokenEstimator
	// ProviderName labels metrics; it never affects routing.
	ProviderName func(model string) string
	Now          func() time.Time
}

// JobManager owns the document job state machine:
// pending -> processing -> completed | failed.
type JobManager struct {
	jobs       repository.DocJobRepository
	provider   adapter.LLMProvider
	prompts    adapter.PromptSource
	models     adapter.ModelSelector
	creds      adapter.CredentialResolver
	retry      *retry.Controller
	normalizer *normalize.Normalizer
	opts       JobManagerOptions
	log        *zerolog.Logger
}

func NewJobManager(
	jobs repository.DocJobRepository,
	provider adapter.LLMProvider,
	prompts adapter.PromptSource,
	models adapter.ModelSelector,
	creds adapter.CredentialResolver,
	retrier *retry.Controller,
	normalizer *normalize.Normalizer,
	opts JobManagerOptions,
	logger *zerolog.Logger,
) *JobManager {
	if normalizer == nil {
		normalizer = normalize.New(normalize.Options{})
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProviderName == nil {
		opts.ProviderName = func(string) string { return "unknown" }
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &JobManager{
		jobs:       jobs,
		provider:   provider,
		prompts:    prompts,
		models:     models,
		creds:      creds,
		retry:      retrier,
		normalizer: normalizer,
		opts:       opts,
		log:        logging.Component(logger, "JobManager"),
	}
}

// Create validates the request and inserts a pending job.
func (m *JobManager) Create(ctx context.Context, ownerID string, action model.Action, input model.JobInput) (*model.DocJob, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrInvalidArgument)
	}
	if err := action.Validate(input); err != nil {
		return nil, err
	}
	job := &model.DocJob{
		ID:        ulid.Make().String(),
		OwnerID:   ownerID,
		Action:    action,
		Input:     input,
		Status:    model.DocJobStatusPending,
		CreatedAt: m.opts.Now().UTC(),
	}
	if err := m.jobs.Create(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	logging.With(logging.WithJobID(ctx, job.ID), m.log).Info().Str("action", string(action)).Msg("job created")
	return job, nil
}

// Claim moves the caller's pending job to processing.
func (m *JobManager) Claim(ctx context.Context, id, ownerID string) (*model.DocJob, error) {
	job, err := m.jobs.ClaimByID(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	logging.With(logging.WithJobID(ctx, job.ID), m.log).Info().Msg("job claimed")
	return job, nil
}

// ClaimNext claims the oldest pending job of any owner, or returns domain.ErrNotFound.
func (m *JobManager) ClaimNext(ctx context.Context) (*model.DocJob, error) {
	return m.jobs.ClaimNext(ctx)
}

// Get returns the caller's job. Jobs of other owners read as not found.
func (m *JobManager) Get(ctx context.Context, id, ownerID string) (*model.DocJob, error) {
	job, err := m.jobs.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// Generate runs one action without a job record, using a single
// request/response call. Errors are returned to the caller as they are.
func (m *JobManager) Generate(ctx context.Context, ownerID string, action model.Action, input model.JobInput) (*Generation, error) {
	if err := action.Validate(input); err != nil {
		return nil, err
	}
	gen, err := m.run(ctx, ownerID, action, input, nil, false)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", domain.ErrJobTimeout, err)
		}
		return nil, err
	}
	return gen, nil
}

// Execute runs a claimed job to a terminal state. Every failure, panics
// included, becomes a failed write; the returned error only reports that the
// terminal write itself could not be persisted. The returned snapshot
// reflects the outcome either way.
//
// sink, when set, receives reply fragments as they arrive.
func (m *JobManager) Execute(ctx context.Context, job *model.DocJob, sink stream.Sink) (*model.DocJob, error) {
	ctx = logging.WithJobID(logging.WithOwnerID(ctx, job.OwnerID), job.ID)
	log := logging.With(ctx, m.log)
	defer logging.TraceDuration(log, "JobManager.Execute")()

	if job.Status != model.DocJobStatusProcessing {
		return job, fmt.Errorf("%w: status is %s", domain.ErrJobNotClaimable, job.Status)
	}

	start := m.opts.Now()
	runCtx, cancelRun := ctx, context.CancelFunc(func() {})
	if m.opts.ExecTimeout > 0 {
		runCtx, cancelRun = context.WithTimeout(ctx, m.opts.ExecTimeout)
	}
	gen, runErr := func() (gen *Generation, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("execute panic: %v", r)
			}
		}()
		return m.run(runCtx, job.OwnerID, job.Action, job.Input, sink, true)
	}()
	runErrCtx := runCtx.Err()
	cancelRun()

	// The terminal write must land even when the caller has gone away.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.WriteTimeout)
	defer cancel()

	snapshot := *job
	finished := m.opts.Now().UTC()
	snapshot.CompletedAt = &finished

	var writeErr error
	if runErr == nil {
		out := model.DocJobOutput{Content: gen.Content, Usage: gen.Usage}
		writeErr = m.jobs.Complete(wctx, job.ID, out, gen.Truncated)
		snapshot.Status = model.DocJobStatusCompleted
		snapshot.Output = &out
		snapshot.Truncated = gen.Truncated
	} else {
		snapshot.ErrorMessage = failureMessage(runErrCtx, runErr)
		writeErr = m.jobs.Fail(wctx, job.ID, snapshot.ErrorMessage)
		snapshot.Status = model.DocJobStatusFailed
		log.Warn().Err(runErr).Msg("job execution failed")
	}

	metrics.IncDocJob(string(job.Action), string(snapshot.Status))
	log.Info().
		Str("status", string(snapshot.Status)).
		Dur("duration", m.opts.Now().Sub(start)).
		Msg("job finished")

	if writeErr != nil {
		log.Error().Err(writeErr).Msg("terminal write failed")
		return &snapshot, fmt.Errorf("persist terminal state: %w", writeErr)
	}
	return &snapshot, nil
}

// failureMessage reports a deadline, whether it surfaced in err or only as
// ctxErr, as ErrJobTimeout.
func failureMessage(ctxErr, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded) {
		return domain.ErrJobTimeout.Error()
	}
	return err.Error()
}

// run is the pipeline shared by every dispatch mode: prompt, model,
// credential, retried upstream call, aggregation, normalization.
func (m *JobManager) run(ctx context.Context, ownerID string, action model.Action, input model.JobInput, sink stream.Sink, streaming bool) (*Generation, error) {
	log := logging.With(ctx, m.log)

	prompt, err := m.prompts.Build(action, input)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}
	modelID := prompt.Model
	if modelID == "" {
		modelID = m.models.ModelFor(action)
	}
	key, err := m.creds.Resolve(ctx, ownerID, modelID)
	if err != nil {
		return nil, err
	}

	req := adapter.CompletionRequest{
		Model:     modelID,
		Messages:  promptMessages(prompt),
		MaxTokens: prompt.MaxTokens,
		APIKey:    key,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = m.opts.MaxTokens
	}

	rc := m.retryFor(log, modelID)
	provider := m.opts.ProviderName(modelID)
	start := time.Now()

	var (
		text   string
		usage  model.Usage
		finish string
		mode   = "complete"
	)
	if streaming {
		mode = "stream"
		text, usage, finish, err = m.callStreaming(ctx, rc, req, sink)
		if errors.Is(err, domain.ErrStreamingUnsupported) {
			mode = "complete"
			text, usage, finish, err = m.callComplete(ctx, rc, req)
			if err == nil && sink != nil {
				_ = sink(text)
			}
		}
	} else {
		text, usage, finish, err = m.callComplete(ctx, rc, req)
	}
	latency := time.Since(start).Milliseconds()
	if err != nil {
		metrics.ObserveCall(provider, modelID, mode, 0, 0, 0, latency, false)
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		metrics.ObserveCall(provider, modelID, mode, 0, 0, 0, latency, false)
		return nil, domain.ErrEmptyReply
	}

	if usage.IsZero() && m.opts.Estimator != nil {
		usage = model.Usage{
			InputTokens:  m.opts.Estimator.Estimate(prompt.System + "\n" + prompt.User),
			OutputTokens: m.opts.Estimator.Estimate(text),
		}
	}
	usage = usage.Normalized()
	metrics.ObserveCall(provider, modelID, mode, usage.InputTokens, usage.OutputTokens, usage.TotalTokens, latency, true)

	truncated := finish == adapter.FinishReasonLength
	gen := &Generation{
		Content:   m.normalizer.Normalize(action.ContentType(), text, truncated),
		Usage:     usage,
		Truncated: truncated,
	}
	if truncated {
		gen.Warning = truncationWarning
	}
	return gen, nil
}

func (m *JobManager) retryFor(log *zerolog.Logger, modelID string) *retry.Controller {
	var rc retry.Controller
	if m.retry != nil {
		rc = *m.retry
	}
	next := rc.OnRetry
	rc.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.IncRetry(modelID)
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Str("model", modelID).Msg("upstream rate limited, retrying")
		if next != nil {
			next(attempt, delay, err)
		}
	}
	return &rc
}

func (m *JobManager) callComplete(ctx context.Context, rc *retry.Controller, req adapter.CompletionRequest) (string, model.Usage, string, error) {
	c, err := retry.Do(ctx, rc, func(ctx context.Context) (adapter.Completion, error) {
		return m.provider.Complete(ctx, req)
	})
	if err != nil {
		return "", model.Usage{}, "", err
	}
	return c.Text, c.Usage, c.FinishReason, nil
}

// callStreaming retries only the opening of the stream. Once the body is
// open, a failure ends the attempt.
func (m *JobManager) callStreaming(ctx context.Context, rc *retry.Controller, req adapter.CompletionRequest, sink stream.Sink) (string, model.Usage, string, error) {
	body, err := retry.Do(ctx, rc, func(ctx context.Context) (io.ReadCloser, error) {
		return m.provider.OpenStream(ctx, req)
	})
	if err != nil {
		return "", model.Usage{}, "", err
	}

	res, dropped, err := stream.Aggregate(ctx, body, sink)
	metrics.AddDroppedFrames(dropped)
	if res.SinkErr != nil {
		metrics.IncStreamClientGone()
		logging.With(ctx, m.log).Info().Err(res.SinkErr).Msg("stream receiver gone, continuing without forwarding")
	}
	if err != nil {
		return "", model.Usage{}, "", err
	}
	return res.Text, res.Usage, res.FinishReason, nil
}

func promptMessages(p adapter.Prompt) []adapter.Message {
	msgs := make([]adapter.Message, 0, 2)
	if strings.TrimSpace(p.System) != "" {
		msgs = append(msgs, adapter.Message{Role: "system", Content: p.System})
	}
	return append(msgs, adapter.Message{Role: "user", Content: p.User})
}
