package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/adapter"
	"sales-crm-docgen/internal/domain/ports/repository"
)

// memDocJobRepo is an in-memory DocJobRepository with the same transition
// rules as the postgres one.
type memDocJobRepo struct {
	mu          sync.Mutex
	jobs        map[string]*model.DocJob
	completeErr error
}

func newMemDocJobRepo() *memDocJobRepo {
	return &memDocJobRepo{jobs: make(map[string]*model.DocJob)}
}

func (r *memDocJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.DocJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memDocJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.DocJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *memDocJobRepo) ClaimByID(ctx context.Context, id, ownerID string) (*model.DocJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	if j.Status != model.DocJobStatusPending {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrJobNotClaimable, j.Status)
	}
	return r.markProcessing(j), nil
}

func (r *memDocJobRepo) ClaimNext(ctx context.Context) (*model.DocJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []*model.DocJob
	for _, j := range r.jobs {
		if j.Status == model.DocJobStatusPending {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(pending, func(a, b int) bool {
		if !pending[a].CreatedAt.Equal(pending[b].CreatedAt) {
			return pending[a].CreatedAt.Before(pending[b].CreatedAt)
		}
		return pending[a].ID < pending[b].ID
	})
	return r.markProcessing(pending[0]), nil
}

func (r *memDocJobRepo) markProcessing(j *model.DocJob) *model.DocJob {
	now := time.Now().UTC()
	j.Status = model.DocJobStatusProcessing
	j.StartedAt = &now
	cp := *j
	return &cp
}

func (r *memDocJobRepo) Complete(ctx context.Context, id string, out model.DocJobOutput, truncated bool) error {
	if r.completeErr != nil {
		return r.completeErr
	}
	return r.finish(id, func(j *model.DocJob) {
		j.Status = model.DocJobStatusCompleted
		j.Output = &out
		j.Truncated = truncated
	})
}

func (r *memDocJobRepo) Fail(ctx context.Context, id, message string) error {
	return r.finish(id, func(j *model.DocJob) {
		j.Status = model.DocJobStatusFailed
		j.ErrorMessage = message
	})
}

func (r *memDocJobRepo) finish(id string, apply func(*model.DocJob)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != model.DocJobStatusProcessing {
		return domain.ErrJobNotClaimable
	}
	apply(j)
	now := time.Now().UTC()
	j.CompletedAt = &now
	return nil
}

func (r *memDocJobRepo) FailStale(ctx context.Context, olderThan time.Time, message string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, j := range r.jobs {
		if j.Status == model.DocJobStatusProcessing && j.StartedAt != nil && j.StartedAt.Before(olderThan) {
			j.Status = model.DocJobStatusFailed
			j.ErrorMessage = message
			ids = append(ids, j.ID)
		}
	}
	return ids, nil
}

func (r *memDocJobRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// stubProvider answers from canned functions and counts calls.
type stubProvider struct {
	mu          sync.Mutex
	completes   int
	streams     int
	lastRequest adapter.CompletionRequest

	complete func(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error)
	stream   func(ctx context.Context, req adapter.CompletionRequest) (io.ReadCloser, error)
}

func (p *stubProvider) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	p.mu.Lock()
	p.completes++
	p.lastRequest = req
	p.mu.Unlock()
	if p.complete == nil {
		return adapter.Completion{}, errors.New("complete not stubbed")
	}
	return p.complete(ctx, req)
}

func (p *stubProvider) OpenStream(ctx context.Context, req adapter.CompletionRequest) (io.ReadCloser, error) {
	p.mu.Lock()
	p.streams++
	p.lastRequest = req
	p.mu.Unlock()
	if p.stream == nil {
		return nil, domain.ErrStreamingUnsupported
	}
	return p.stream(ctx, req)
}

func (p *stubProvider) calls() (completes, streams int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completes, p.streams
}

// sseChunks renders a chat-completions stream of parts ending with finish.
func sseChunks(finish string, in, out int, parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&b, "data: {\"choices\":[{\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", p)
	}
	fmt.Fprintf(&b, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":%q}]}\n\n", finish)
	fmt.Fprintf(&b, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":%d,\"completion_tokens\":%d}}\n\n", in, out)
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func streamOf(body string) func(context.Context, adapter.CompletionRequest) (io.ReadCloser, error) {
	return func(context.Context, adapter.CompletionRequest) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

type stubPrompts struct{}

func (stubPrompts) Build(action model.Action, input model.JobInput) (adapter.Prompt, error) {
	return adapter.Prompt{System: "You write " + string(action), User: fmt.Sprint(input)}, nil
}

type fixedModel string

func (m fixedModel) ModelFor(model.Action) string { return string(m) }

type stubCreds struct {
	key string
	err error
}

func (c stubCreds) Resolve(ctx context.Context, ownerID, model string) (string, error) {
	return c.key, c.err
}

type lenEstimator struct{}

func (lenEstimator) Estimate(text string) int { return len(text) }

// inlineScheduler runs tasks on the submitting goroutine.
type inlineScheduler struct{}

func (inlineScheduler) Submit(task func(ctx context.Context) error) error {
	return task(context.Background())
}

type fullScheduler struct{}

func (fullScheduler) Submit(func(ctx context.Context) error) error {
	return errors.New("worker queue full")
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []*model.DocJob
}

func (n *recordingNotifier) JobFinished(ctx context.Context, job *model.DocJob) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.jobs)
}
