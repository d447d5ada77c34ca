package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelin0/sage/internal/encoder"
	"github.com/avelin0/sage/internal/knowledge"
	"github.com/avelin0/sage/internal/log"
	"github.com/avelin0/sage/internal/retrieval"
	"github.com/avelin0/sage/internal/syncer"
)

type fakeRetriever struct {
	result    retrieval.Result
	err       error
	available bool
	reason    string
	gotQuery  retrieval.Query
}

func (f *fakeRetriever) Retrieve(_ context.Context, q retrieval.Query) (retrieval.Result, error) {
	f.gotQuery = q
	if f.err != nil {
		return retrieval.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeRetriever) GeneratorAvailable() (bool, string) { return f.available, f.reason }

type fakeSync struct {
	result     syncer.RebuildResult
	err        error
	rebuilding bool
}

func (f *fakeSync) ForceRebuild(context.Context) (syncer.RebuildResult, error) {
	if f.err != nil {
		return syncer.RebuildResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeSync) Status() syncer.Status {
	return syncer.Status{IndexCount: 3, Rebuilding: f.rebuilding}
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(ret *fakeRetriever, sync *fakeSync, ping *fakePinger) http.Handler {
	srv := New(ret, sync, ping, Options{Addr: "127.0.0.1:0", RateBurst: 100}, "test", log.NewNop())
	return srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRetrieve_OK(t *testing.T) {
	ret := &fakeRetriever{
		available: true,
		result: retrieval.Result{
			Answer:     "use the calendar app",
			Confidence: 0.93,
			Generated:  true,
			Sources:    []knowledge.Entry{{ID: 7, Question: "q", Answer: "a"}},
		},
	}
	h := newTestServer(ret, &fakeSync{}, &fakePinger{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/retrieve",
		map[string]any{"question": "how do I book a room?", "k": 3})

	require.Equal(t, http.StatusOK, rec.Code)

	var got retrieval.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "use the calendar app", got.Answer)
	assert.InDelta(t, 0.93, got.Confidence, 1e-9)
	assert.Equal(t, int64(7), got.Sources[0].ID)

	assert.Equal(t, "how do I book a room?", ret.gotQuery.Question)
	assert.Equal(t, 3, ret.gotQuery.K)
}

func TestRetrieve_PassesEmbedding(t *testing.T) {
	ret := &fakeRetriever{available: true}
	h := newTestServer(ret, &fakeSync{}, &fakePinger{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/retrieve",
		map[string]any{"question": "q", "embedding": []float32{0.1, 0.2}})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []float32{0.1, 0.2}, ret.gotQuery.Embedding)
}

func TestRetrieve_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "empty question", err: encoder.ErrEmptyInput, want: http.StatusBadRequest},
		{name: "bad embedding", err: encoder.ErrDimensionMismatch, want: http.StatusBadRequest},
		{name: "no match", err: retrieval.ErrNoMatch, want: http.StatusNotFound},
		{name: "source down", err: knowledge.ErrSourceUnavailable, want: http.StatusServiceUnavailable},
		{name: "generation failed", err: retrieval.ErrGeneration, want: http.StatusBadGateway},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeRetriever{err: tt.err}, &fakeSync{}, &fakePinger{})
			rec := doJSON(t, h, http.MethodPost, "/api/v1/retrieve", map[string]any{"question": "q"})
			assert.Equal(t, tt.want, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestRetrieve_InvalidBody(t *testing.T) {
	h := newTestServer(&fakeRetriever{}, &fakeSync{}, &fakePinger{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/retrieve", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieve_MethodNotAllowed(t *testing.T) {
	h := newTestServer(&fakeRetriever{}, &fakeSync{}, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/retrieve", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeRetriever{available: true}, &fakeSync{}, &fakePinger{})

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "test", body.Version)
	assert.True(t, body.Generator.Available)
	assert.Equal(t, 3, body.Sync.IndexCount)
}

func TestHealth_DegradedWithoutGenerator(t *testing.T) {
	ret := &fakeRetriever{available: false, reason: "no model configured"}
	h := newTestServer(ret, &fakeSync{}, &fakePinger{})

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "no model configured", body.Generator.Reason)
}

func TestReady(t *testing.T) {
	h := newTestServer(&fakeRetriever{}, &fakeSync{}, &fakePinger{})
	rec := doJSON(t, h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady_SourceDown(t *testing.T) {
	h := newTestServer(&fakeRetriever{}, &fakeSync{}, &fakePinger{err: knowledge.ErrSourceUnavailable})
	rec := doJSON(t, h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminRebuild(t *testing.T) {
	sync := &fakeSync{result: syncer.RebuildResult{Count: 42}}
	h := newTestServer(&fakeRetriever{}, sync, &fakePinger{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got syncer.RebuildResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 42, got.Count)
}

func TestAdminRebuild_Conflict(t *testing.T) {
	sync := &fakeSync{err: errors.New("rebuild already in progress"), rebuilding: true}
	h := newTestServer(&fakeRetriever{}, sync, &fakePinger{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/rebuild", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminSyncStatus(t *testing.T) {
	h := newTestServer(&fakeRetriever{}, &fakeSync{}, &fakePinger{})

	rec := doJSON(t, h, http.MethodGet, "/api/v1/admin/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got syncer.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.IndexCount)
}

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	h := newTestServer(&fakeRetriever{}, &fakeSync{}, &fakePinger{})

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, "caller-supplied-id", rec2.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	srv := New(&fakeRetriever{}, &fakeSync{}, &fakePinger{},
		Options{Addr: "127.0.0.1:0", RateBurst: 2}, "test", log.NewNop())
	h := srv.Handler()

	codes := make(map[int]int)
	for range 10 {
		rec := doJSON(t, h, http.MethodGet, "/health", nil)
		codes[rec.Code]++
	}
	assert.Equal(t, 2, codes[http.StatusOK], "burst of 2 must pass exactly 2 immediate requests")
	assert.Equal(t, 8, codes[http.StatusTooManyRequests])
}

func TestRecovery(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	h := chain(panicky, recovery(log.NewNop()), requestID)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
