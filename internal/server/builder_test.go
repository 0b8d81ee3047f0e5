package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genai-relay/internal/config"
	"genai-relay/internal/coordinator"
	"genai-relay/internal/credential"
	"genai-relay/internal/events"
	"genai-relay/internal/link"
	"genai-relay/internal/queue"
	"genai-relay/internal/rotation"
)

func TestHealthzIsUnauthenticated(t *testing.T) {
	engine := Build(testDeps(t))
	srv := httptest.NewServer(engine)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatCompletionsRequiresAuth(t *testing.T) {
	engine := Build(testDeps(t))
	srv := httptest.NewServer(engine)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusEndpointReportsRotationSnapshot(t *testing.T) {
	deps := testDeps(t)
	engine := Build(deps)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+deps.APIKeys[0])
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "currentIndex")
}

func testDeps(t *testing.T) Dependencies {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth-0.json"), []byte(`{"accountName":"a@example.com"}`), 0o644))

	store, err := credential.NewStore(dir)
	require.NoError(t, err)

	l := link.New(5*time.Second, queue.NewRegistry())
	rot := rotation.New(store.AvailableIndices(), 0, rotation.Config{}, rotation.RebinderFunc(func(_ context.Context, _ int) error { return nil }))

	cfg := config.Default()
	cfg.AuthDir = dir

	co := coordinator.New(l, rot, cfg, nil)

	return Dependencies{
		Coordinator: co,
		Link:        l,
		APIKeys:     cfg.APIKeys,
		Debug:       true,
		Operator: OperatorDeps{
			Rotation: rot,
			Creds:    store,
			Config:   cfg,
			Events:   events.NewHub(),
		},
	}
}
