package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahel-hr/import-cli/internal/model"
	"github.com/sahel-hr/import-cli/internal/store"
)

// stubStore implements the handful of Store methods the router touches.
// Everything else panics via the embedded nil interface.
type stubStore struct {
	store.Store
	runs []model.Run
}

func (s *stubStore) ListRuns(_ context.Context, _ store.RunFilter) ([]model.Run, error) {
	return s.runs, nil
}

func (s *stubStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	for i := range s.runs {
		if s.runs[i].ID == runID {
			return &s.runs[i], nil
		}
	}
	return nil, eris.Errorf("store: run %s not found", runID)
}

func testRouter(runs []model.Run) http.Handler {
	env := &pipelineEnv{Store: &stubStore{runs: runs}}
	return newRouter(context.Background(), env)
}

func TestServe_Health(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestServe_ListRuns(t *testing.T) {
	runs := []model.Run{
		{ID: "run-1", Status: model.RunStatusComplete},
		{ID: "run-2", Status: model.RunStatusFailed},
	}

	rec := httptest.NewRecorder()
	testRouter(runs).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "run-1")
	assert.Contains(t, rec.Body.String(), "run-2")
}

func TestServe_GetRun(t *testing.T) {
	runs := []model.Run{{ID: "run-1", Status: model.RunStatusComplete}}
	router := testRouter(runs)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/run-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"complete"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_SubmitImport_Validation(t *testing.T) {
	router := testRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/imports", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/imports", strings.NewReader(`{"paths":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "paths is required")
}
