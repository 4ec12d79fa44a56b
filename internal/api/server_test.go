package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/orbitlabs/orbit/internal/cache"
	"github.com/orbitlabs/orbit/internal/config"
	"github.com/orbitlabs/orbit/internal/pipeline"
	"github.com/orbitlabs/orbit/internal/policy/ratelimit"
	"github.com/orbitlabs/orbit/internal/progress"
)

type stubClock struct{}

func (stubClock) Now() time.Time { return time.Now() }

type stubHasher struct{}

func (stubHasher) Hash([]byte) (string, error) { return "cafecafecafecafe", nil }

type stubIDs struct{}

func (stubIDs) NewID() (string, error) { return uuid.NewString(), nil }

type stubFetcher struct {
	block chan struct{}
}

func (f *stubFetcher) Fetch(ctx context.Context, subjectKey string) (pipeline.PageBundle, error) {
	if f.block != nil {
		select {
		case <-ctx.Done():
			return pipeline.PageBundle{}, ctx.Err()
		case <-f.block:
		}
	}
	return pipeline.PageBundle{
		SubjectKey: subjectKey,
		Pages: map[string]pipeline.Page{
			"https://example.test": {URL: "https://example.test", Title: subjectKey},
		},
	}, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, bundle pipeline.PageBundle) (pipeline.StructuredRecord, error) {
	return pipeline.StructuredRecord{SubjectKey: bundle.SubjectKey, LegalName: "Example Inc"}, nil
}

type stubValidator struct{}

func (stubValidator) Validate(pipeline.StructuredRecord) pipeline.ValidationReport {
	return pipeline.ValidationReport{Score: 95, MaxScore: 100}
}

type stubRenderer struct{}

func (stubRenderer) Render(_ context.Context, record pipeline.StructuredRecord, variant string) (pipeline.Artifact, error) {
	return pipeline.Artifact{
		SubjectKey: record.SubjectKey,
		Variant:    variant,
		Markdown:   "# " + record.LegalName,
	}, nil
}

func newTestServer(t *testing.T, fetcher *stubFetcher) (*Server, *pipeline.Orchestrator) {
	t.Helper()
	if fetcher == nil {
		fetcher = &stubFetcher{}
	}
	orch, err := pipeline.New(pipeline.Config{
		CacheTTL:    time.Hour,
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
	}, pipeline.Deps{
		Fetcher:   fetcher,
		Extractor: stubExtractor{},
		Validator: stubValidator{},
		Renderer:  stubRenderer{},
		Cache:     cache.New(context.Background(), nil, stubClock{}, stubHasher{}, nil),
		Limiter:   ratelimit.New(ratelimit.Config{}),
		Clock:     stubClock{},
		Hasher:    stubHasher{},
		IDs:       stubIDs{},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Close(ctx)
	})
	return NewServer(orch, config.Config{}, nil), orch
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestGetCachedMissReturnsNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/v1/pipelines/NoSuchCo/standard/cached", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunStreamsEventsAndPopulatesCache(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/pipelines/AcmeCo/standard/run", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	_, err = uuid.Parse(resp.Header.Get("X-Run-ID"))
	require.NoError(t, err, "X-Run-ID must be a run uuid")

	var events []progress.Event
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt progress.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
		events = append(events, evt)
	}
	require.NoError(t, scanner.Err())

	require.NotEmpty(t, events)
	require.Equal(t, string(pipeline.StageInitialized), events[0].Stage)
	last := events[len(events)-1]
	require.Equal(t, string(pipeline.StageCompleted), last.Stage)
	require.True(t, last.Terminal)
	require.Equal(t, float64(100), last.Pct)

	// The completed run is now visible on the cached endpoint.
	cachedResp, err := http.Get(ts.URL + "/v1/pipelines/AcmeCo/standard/cached")
	require.NoError(t, err)
	defer cachedResp.Body.Close()
	require.Equal(t, http.StatusOK, cachedResp.StatusCode)

	var artifact pipeline.Artifact
	require.NoError(t, json.NewDecoder(cachedResp.Body).Decode(&artifact))
	require.Equal(t, "# Example Inc", artifact.Markdown)
	require.Equal(t, 95, artifact.ValidationScore)
}

func TestCancelRunRejectsInvalidID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/v1/runs/not-a-uuid/cancel", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRunUnknownIDReturnsNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/v1/runs/"+uuid.NewString()+"/cancel", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRunStopsActiveRun(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{block: make(chan struct{})}
	srv, orch := newTestServer(t, fetcher)

	run, err := orch.Run(context.Background(), "SlowCo", "standard", pipeline.RunOptions{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/v1/runs/"+run.ID.String()+"/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "cancelling", body["status"])

	var last progress.Event
	for evt := range run.Events() {
		last = evt
	}
	require.Equal(t, string(pipeline.StageCancelled), last.Stage)
}
