package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// healthHandler needs no cluster.Node, so it is exercised directly against a
// zero-value Server. readyHandler dereferences a live *cluster.Node
// (IsLeader/LeaderAddr/Store), which means bootstrapping real Raft to
// test, out of scope for a unit test.

func TestHealthHandlerReturnsHealthy(t *testing.T) {
	hs := &Server{mux: http.NewServeMux()}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	hs.healthHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthHandlerRejectsNonGET(t *testing.T) {
	hs := &Server{mux: http.NewServeMux()}
	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()

	hs.healthHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
