//go:build !integration

package apiv1_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/repository"
	apiv1 "sales-crm-docgen/internal/infra/api/apiv1"
	"sales-crm-docgen/internal/stream"
	"sales-crm-docgen/internal/usecase"
)

//
// ---------------- fakes ----------------
//

type fakeDispatcher struct {
	lastReq  usecase.DispatchRequest
	result   *usecase.DispatchResult
	err      error
	chunks   []string
	claimed  *model.DocJob
	claimErr error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req usecase.DispatchRequest, sink stream.Sink) (*usecase.DispatchResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if req.OnStart != nil && f.result.Job != nil {
		req.OnStart(f.result.Job)
	}
	for _, c := range f.chunks {
		if sink != nil {
			_ = sink(c)
		}
	}
	return f.result, nil
}

func (f *fakeDispatcher) ClaimAndRun(ctx context.Context, id, ownerID string) (*model.DocJob, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.claimed, nil
}

type fakeJobs struct {
	jobs map[string]*model.DocJob
}

func (f *fakeJobs) Create(ctx context.Context, ownerID string, action model.Action, input model.JobInput) (*model.DocJob, error) {
	if err := action.Validate(input); err != nil {
		return nil, err
	}
	j := &model.DocJob{ID: "job-new", OwnerID: ownerID, Action: action, Status: model.DocJobStatusPending, CreatedAt: time.Now()}
	f.jobs[j.ID] = j
	return j, nil
}

func (f *fakeJobs) Get(ctx context.Context, id, ownerID string) (*model.DocJob, error) {
	j, ok := f.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

type fakeCreds struct {
	repository.CredentialRepository
	saved map[string]string
	err   error
}

func (f *fakeCreds) SaveAPIKey(ctx context.Context, tx repository.Tx, ownerID, provider, apiKey string) error {
	if f.err != nil {
		return f.err
	}
	f.saved[ownerID+"/"+provider] = apiKey
	return nil
}

type env struct {
	router *chi.Mux
	disp   *fakeDispatcher
	jobs   *fakeJobs
	creds  *fakeCreds
}

func newEnv() *env { return newEnvWithLogger(nil) }

func newEnvWithLogger(logger *zerolog.Logger) *env {
	e := &env{
		disp:  &fakeDispatcher{},
		jobs:  &fakeJobs{jobs: map[string]*model.DocJob{}},
		creds: &fakeCreds{saved: map[string]string{}},
	}
	srv := apiv1.NewServer(e.disp, e.jobs, e.creds, logger)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(apiv1.WithOwner(r.Context(), "owner-1")))
		})
	})
	rt := srv.Routes()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", rt.Generate)
		r.Post("/jobs", rt.CreateJob)
		r.Get("/jobs/{id}", rt.GetJob)
		r.Post("/jobs/{id}/claim", rt.ClaimJob)
		r.Put("/credentials/{provider}", rt.PutCredential)
	})
	e.router = r
	return e
}

func (e *env) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

//
// ---------------- tests ----------------
//

func TestGenerate_Sync(t *testing.T) {
	e := newEnv()
	e.disp.result = &usecase.DispatchResult{
		Mode:       usecase.ModeSync,
		Generation: &usecase.Generation{Content: "1. Goal", Usage: model.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}},
	}

	rec := e.do(http.MethodPost, "/api/v1/documents", `{"action":"generate_goals","input":{"transcripts":["call"]}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Mode    string      `json:"mode"`
		Content string      `json:"content"`
		Usage   model.Usage `json:"usage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Mode != "sync" || body.Content != "1. Goal" || body.Usage.TotalTokens != 5 {
		t.Fatalf("unexpected body %+v", body)
	}
	if e.disp.lastReq.OwnerID != "owner-1" || e.disp.lastReq.Action != model.ActionGenerateGoals {
		t.Fatalf("unexpected dispatch request %+v", e.disp.lastReq)
	}
}

func TestGenerate_Background(t *testing.T) {
	e := newEnv()
	e.disp.result = &usecase.DispatchResult{
		Mode: usecase.ModeAsyncBackground,
		Job:  &model.DocJob{ID: "j1", Action: model.ActionGenerateSOW, Status: model.DocJobStatusProcessing},
	}
	rec := e.do(http.MethodPost, "/api/v1/documents", `{"action":"generate_sow","input":{"goals":"x"},"async":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var v apiv1.JobView
	_ = json.Unmarshal(rec.Body.Bytes(), &v)
	if v.JobID != "j1" || v.Status != model.DocJobStatusProcessing {
		t.Fatalf("unexpected view %+v", v)
	}
	if !e.disp.lastReq.Flags.Async {
		t.Fatal("async flag not forwarded")
	}
}

func TestGenerate_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"no credential", domain.ErrNoCredential, http.StatusFailedDependency},
		{"exhausted", domain.ErrRateLimitExhausted, http.StatusTooManyRequests},
		{"timeout", domain.ErrJobTimeout, http.StatusGatewayTimeout},
		{"invalid", domain.ErrInvalidArgument, http.StatusBadRequest},
		{"upstream", domain.ErrNonRetryable, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv()
			e.disp.err = tc.err
			rec := e.do(http.MethodPost, "/api/v1/documents", `{"action":"generate_goals","input":{"transcripts":["x"]}}`)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestGenerate_BadRequests(t *testing.T) {
	e := newEnv()
	if rec := e.do(http.MethodPost, "/api/v1/documents", `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
	if rec := e.do(http.MethodPost, "/api/v1/documents", `{"action":"write_poem"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}
}

func TestGenerate_StreamEvents(t *testing.T) {
	e := newEnv()
	job := &model.DocJob{ID: "s1", Status: model.DocJobStatusCompleted, Output: &model.DocJobOutput{Content: "Hello", Usage: model.Usage{TotalTokens: 9}}}
	e.disp.result = &usecase.DispatchResult{Mode: usecase.ModeAsyncStream, Job: job}
	e.disp.chunks = []string{"Hel", "lo"}

	rec := e.do(http.MethodPost, "/api/v1/documents", `{"action":"generate_follow_up","input":{"transcripts":["x"]},"stream":true}`)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var types []string
	var last map[string]any
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		types = append(types, ev["type"].(string))
		last = ev
	}
	want := []string{"job", "chunk", "chunk", "done"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events %v, want %v", types, want)
	}
	if last["content"] != "Hello" || last["job_id"] != "s1" {
		t.Fatalf("unexpected done event %v", last)
	}
}

func TestGenerate_StreamFailedJob(t *testing.T) {
	e := newEnv()
	job := &model.DocJob{ID: "s2", Status: model.DocJobStatusFailed, ErrorMessage: "upstream rate limit persisted"}
	e.disp.result = &usecase.DispatchResult{Mode: usecase.ModeAsyncStream, Job: job}

	rec := e.do(http.MethodPost, "/api/v1/documents", `{"action":"generate_sow","input":{"goals":"x"},"stream":true}`)
	if !strings.Contains(rec.Body.String(), `"type":"error"`) || !strings.Contains(rec.Body.String(), "rate limit persisted") {
		t.Fatalf("expected error event, got %s", rec.Body.String())
	}
}

func TestGenerate_StreamValidationFailsAsJSON(t *testing.T) {
	e := newEnv()
	e.disp.err = domain.ErrInvalidArgument
	rec := e.do(http.MethodPost, "/api/v1/documents", `{"action":"generate_sow","input":{},"stream":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestJobs_CreateGetClaim(t *testing.T) {
	e := newEnv()

	rec := e.do(http.MethodPost, "/api/v1/jobs", `{"action":"generate_presentation","input":{"sow":"## Scope"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create: expected 202, got %d", rec.Code)
	}

	rec = e.do(http.MethodGet, "/api/v1/jobs/job-new", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	e.jobs.jobs["other"] = &model.DocJob{ID: "other", OwnerID: "owner-2"}
	if rec := e.do(http.MethodGet, "/api/v1/jobs/other", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign job: expected 404, got %d", rec.Code)
	}

	e.disp.claimed = &model.DocJob{ID: "job-new", Status: model.DocJobStatusProcessing}
	if rec := e.do(http.MethodPost, "/api/v1/jobs/job-new/claim", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("claim: expected 202, got %d", rec.Code)
	}
	e.disp.claimErr = domain.ErrJobNotClaimable
	if rec := e.do(http.MethodPost, "/api/v1/jobs/job-new/claim", ""); rec.Code != http.StatusConflict {
		t.Fatalf("reclaim: expected 409, got %d", rec.Code)
	}
}

func TestPutCredential(t *testing.T) {
	e := newEnv()
	if rec := e.do(http.MethodPut, "/api/v1/credentials/openai", `{"api_key":" sk-1 "}`); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if e.creds.saved["owner-1/openai"] != "sk-1" {
		t.Fatalf("key not saved: %v", e.creds.saved)
	}
	if rec := e.do(http.MethodPut, "/api/v1/credentials/mistral", `{"api_key":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown provider: expected 400, got %d", rec.Code)
	}
	if rec := e.do(http.MethodPut, "/api/v1/credentials/openai", `{"api_key":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty key: expected 400, got %d", rec.Code)
	}
}

func TestPutCredential_StoreFailureLogRedactsKey(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := newEnvWithLogger(&logger)
	e.creds.err = errors.New("db down")

	rec := e.do(http.MethodPut, "/api/v1/credentials/openai", `{"api_key":"sk-live-0123456789"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-live") {
		t.Fatalf("key leaked in response: %s", rec.Body.String())
	}
	logged := buf.String()
	if !strings.Contains(logged, "save credential failed") {
		t.Fatalf("missing log line: %s", logged)
	}
	if strings.Contains(logged, "sk-live-0123456789") {
		t.Fatalf("key leaked in log: %s", logged)
	}
	if !strings.Contains(logged, "sk-l...89") {
		t.Fatalf("expected key preview in log: %s", logged)
	}
}
