package apiv1

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/repository"
	"sales-crm-docgen/internal/infra/adapters/ai"
	"sales-crm-docgen/internal/infra/logging"
	"sales-crm-docgen/internal/stream"
	"sales-crm-docgen/internal/usecase"
)

// Dispatcher is the part of usecase.Dispatcher the API drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, req usecase.DispatchRequest, sink stream.Sink) (*usecase.DispatchResult, error)
	ClaimAndRun(ctx context.Context, id, ownerID string) (*model.DocJob, error)
}

// Jobs is the part of usecase.JobManager the API drives.
type Jobs interface {
	Create(ctx context.Context, ownerID string, action model.Action, input model.JobInput) (*model.DocJob, error)
	Get(ctx context.Context, id, ownerID string) (*model.DocJob, error)
}

type Server struct {
	dispatcher Dispatcher
	jobs       Jobs
	creds      repository.CredentialRepository
	log        *zerolog.Logger
}

func NewServer(dispatcher Dispatcher, jobs Jobs, creds repository.CredentialRepository, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Server{dispatcher: dispatcher, jobs: jobs, creds: creds, log: logging.Component(logger, "apiv1")}
}

// Routes groups the handlers so callers can attach per-route middleware.
type Routes struct {
	Generate      http.HandlerFunc
	CreateJob     http.HandlerFunc
	GetJob        http.HandlerFunc
	ClaimJob      http.HandlerFunc
	PutCredential http.HandlerFunc
}

func (s *Server) Routes() Routes {
	return Routes{
		Generate:      s.generate,
		CreateJob:     s.createJob,
		GetJob:        s.getJob,
		ClaimJob:      s.claimJob,
		PutCredential: s.putCredential,
	}
}

type generateRequest struct {
	Action string         `json:"action"`
	Input  model.JobInput `json:"input"`
	Sync   bool           `json:"sync"`
	Async  bool           `json:"async"`
	Stream bool           `json:"stream"`
}

type generationResponse struct {
	Mode    usecase.Mode `json:"mode"`
	Content string       `json:"content"`
	Usage   model.Usage  `json:"usage"`
	Warning string       `json:"warning,omitempty"`
}

// JobView is the external shape of a job.
type JobView struct {
	JobID       string             `json:"job_id"`
	Action      model.Action       `json:"action"`
	Status      model.DocJobStatus `json:"status"`
	Content     string             `json:"content,omitempty"`
	Usage       *model.Usage       `json:"usage,omitempty"`
	Truncated   bool               `json:"truncated,omitempty"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

func viewOf(j *model.DocJob) JobView {
	v := JobView{
		JobID:       j.ID,
		Action:      j.Action,
		Status:      j.Status,
		Truncated:   j.Truncated,
		Error:       j.ErrorMessage,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Output != nil {
		v.Content = j.Output.Content
		u := j.Output.Usage
		v.Usage = &u
	}
	return v
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFrom(r.Context())
	var req generateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	action, err := model.ParseAction(req.Action)
	if err != nil {
		writeError(w, err)
		return
	}

	dreq := usecase.DispatchRequest{
		OwnerID: owner,
		Action:  action,
		Input:   req.Input,
		Flags:   usecase.CallerFlags{Sync: req.Sync, Async: req.Async, Stream: req.Stream},
	}
	if usecase.Decide(action, dreq.Flags) == usecase.ModeAsyncStream {
		s.generateStream(w, r, dreq)
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), dreq, nil)
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Str("action", string(action)).Msg("generation failed")
		writeError(w, err)
		return
	}
	if res.Mode == usecase.ModeSync {
		writeJSON(w, http.StatusOK, generationResponse{
			Mode:    res.Mode,
			Content: res.Generation.Content,
			Usage:   res.Generation.Usage,
			Warning: res.Generation.Warning,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(res.Job))
}

func (s *Server) generateStream(w http.ResponseWriter, r *http.Request, dreq usecase.DispatchRequest) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}
	dreq.OnStart = func(job *model.DocJob) {
		sse.start()
		_ = sse.send(streamEvent{Type: "job", JobID: job.ID})
	}

	res, err := s.dispatcher.Dispatch(r.Context(), dreq, func(fragment string) error {
		return sse.send(streamEvent{Type: "chunk", Text: fragment})
	})
	if err != nil {
		if !sse.started() {
			writeError(w, err)
			return
		}
		_ = sse.send(streamEvent{Type: "error", Error: err.Error()})
		return
	}

	job := res.Job
	if job.Status != model.DocJobStatusCompleted {
		_ = sse.send(streamEvent{Type: "error", JobID: job.ID, Error: job.ErrorMessage})
		return
	}
	_ = sse.send(streamEvent{
		Type:      "done",
		JobID:     job.ID,
		Content:   job.Output.Content,
		Usage:     &job.Output.Usage,
		Truncated: job.Truncated,
	})
}

type createJobRequest struct {
	Action string         `json:"action"`
	Input  model.JobInput `json:"input"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	action, err := model.ParseAction(req.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.jobs.Create(r.Context(), OwnerFrom(r.Context()), action, req.Input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(job))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"), OwnerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}

func (s *Server) claimJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.dispatcher.ClaimAndRun(r.Context(), chi.URLParam(r, "id"), OwnerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(job))
}

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

var knownProviders = map[string]bool{
	ai.ProviderOpenAI:    true,
	ai.ProviderAnthropic: true,
	ai.ProviderGemini:    true,
}

func (s *Server) putCredential(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	if !knownProviders[provider] {
		writeError(w, badRequest("unknown provider: "+provider))
		return
	}
	var req credentialRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	owner, key := OwnerFrom(r.Context()), strings.TrimSpace(req.APIKey)
	if err := s.creds.SaveAPIKey(r.Context(), nil, owner, provider, key); err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).
			Str("owner_id", logging.Redact(owner)).
			Str("provider", provider).
			Str("key", logging.Redact(key)).
			Msg("save credential failed")
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const maxBodyBytes = 4 << 20

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}
