package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsync/internal/config"
	"flowsync/internal/domain/reconcile"
	"flowsync/internal/repository/inmemory"
	"flowsync/internal/transport/httpserver/handler"
	"flowsync/pkg/logger"
)

const snapshotBody = `{
	"bancos": [
		{"id": "A", "nombre": "Bóveda Monte", "capital": 100},
		{"id": "B", "nombre": "Utilidades", "capital": 0},
		{"id": "C", "nombre": "Fletes Sur", "capital": 50}
	],
	"operacionesBancos": [
		{"id": "X", "bancoId": "A", "fecha": "2025-08-14", "monto": 10},
		{"id": "Y", "bancoId": "B", "fecha": "2025-08-15", "monto": 20}
	]
}`

func newTestServer(t *testing.T, cfg config.Config, reconciler handler.Reconciler) *httptest.Server {
	t.Helper()

	log := logger.Discard()
	handlers := handler.New(reconciler, handler.Defaults{MaxBodyBytes: 1 << 20}, log)
	server := httptest.NewServer(NewRouter(cfg, handlers, log))
	t.Cleanup(server.Close)
	return server
}

func postSync(t *testing.T, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, config.Config{}, nil)

	resp, err := http.Get(server.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncEndpointReconcilesSnapshot(t *testing.T) {
	store := inmemory.NewStore()
	store.Put(reconcile.KindBanks, "A", reconcile.Fields{"nombre": "remote"})
	store.Put(reconcile.KindOperations, "X", reconcile.Fields{"monto": 10.0})
	server := newTestServer(t, config.Config{}, reconcile.NewService(store, logger.Discard()))

	resp, payload := postSync(t, server.URL+"/api/sync", "", snapshotBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, payload["created"])
	assert.EqualValues(t, 0, payload["updated"])
	assert.EqualValues(t, 1, payload["operations_created"])
	assert.Equal(t, 3, store.Count(reconcile.KindBanks))
	assert.Equal(t, 2, store.Count(reconcile.KindOperations))

	resp, payload = postSync(t, server.URL+"/api/sync?force=true", "", snapshotBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, payload["created"])
	assert.EqualValues(t, 3, payload["updated"])
	assert.EqualValues(t, 0, payload["operations_created"])
}

func TestSyncEndpointDryRun(t *testing.T) {
	store := inmemory.NewStore()
	server := newTestServer(t, config.Config{}, reconcile.NewService(store, logger.Discard()))

	resp, payload := postSync(t, server.URL+"/api/sync?dry_run=1", "", snapshotBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, payload["dry_run"])
	assert.EqualValues(t, 3, payload["created"])
	assert.Equal(t, 0, store.Count(reconcile.KindBanks))
}

func TestSyncEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		body       string
		reconciler handler.Reconciler
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed json",
			body:       `{"bancos": [`,
			reconciler: stubReconciler{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_snapshot",
		},
		{
			name:       "duplicate ids",
			body:       `{"bancos": [{"id": "A"}, {"id": "A"}]}`,
			reconciler: stubReconciler{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_snapshot",
		},
		{
			name:       "body over limit",
			body:       `{"bancos":[{"id":"A","nombre":"` + strings.Repeat("x", 1<<20) + `"}]}`,
			reconciler: stubReconciler{},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "snapshot_too_large",
		},
		{
			name:       "trailing data",
			body:       snapshotBody + `{}`,
			reconciler: stubReconciler{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_snapshot",
		},
		{
			name:       "bad force flag",
			query:      "?force=maybe",
			body:       snapshotBody,
			reconciler: stubReconciler{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "remote read failure",
			body:       snapshotBody,
			reconciler: stubReconciler{err: &reconcile.RemoteReadError{Kind: reconcile.KindBanks, ID: "A", Err: errors.New("unavailable")}},
			wantStatus: http.StatusBadGateway,
			wantCode:   "remote_read_failed",
		},
		{
			name:       "commit failure",
			body:       snapshotBody,
			reconciler: stubReconciler{err: &reconcile.CommitError{Writes: 5, Err: errors.New("permission denied")}},
			wantStatus: http.StatusBadGateway,
			wantCode:   "commit_failed",
		},
		{
			name:       "batch too large",
			body:       snapshotBody,
			reconciler: stubReconciler{err: &reconcile.CommitError{Writes: 900, Err: reconcile.ErrBatchTooLarge}},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "sync_batch_too_large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, config.Config{}, tt.reconciler)

			resp, payload := postSync(t, server.URL+"/api/sync"+tt.query, "", tt.body)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body, ok := payload["error"].(map[string]any)
			require.True(t, ok, "expected error envelope, got %v", payload)
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}
}

func TestSyncEndpointRequiresToken(t *testing.T) {
	cfg := config.Config{HTTP: config.HTTPConfig{APIToken: "s3cret"}}
	server := newTestServer(t, cfg, reconcile.NewService(inmemory.NewStore(), logger.Discard()))

	resp, payload := postSync(t, server.URL+"/api/sync", "", snapshotBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_token", payload["error"].(map[string]any)["code"])

	resp, _ = postSync(t, server.URL+"/api/sync", "wrong", snapshotBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postSync(t, server.URL+"/api/sync", "s3cret", snapshotBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncEndpointRejectsConcurrentRuns(t *testing.T) {
	blocking := &blockingReconciler{started: make(chan struct{}), release: make(chan struct{})}
	server := newTestServer(t, config.Config{}, blocking)

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(server.URL+"/api/sync", "application/json", strings.NewReader(snapshotBody))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	select {
	case <-blocking.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not start")
	}

	resp, payload := postSync(t, server.URL+"/api/sync", "", snapshotBody)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "sync_in_progress", payload["error"].(map[string]any)["code"])

	close(blocking.release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestCORSPreflight(t *testing.T) {
	cfg := config.Config{HTTP: config.HTTPConfig{AllowedOrigins: []string{"http://localhost:5173"}}}
	server := newTestServer(t, cfg, stubReconciler{})

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/sync", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

type stubReconciler struct {
	err error
}

func (s stubReconciler) Reconcile(context.Context, reconcile.Snapshot, reconcile.Options) (*reconcile.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &reconcile.Result{RunID: "stub"}, nil
}

type blockingReconciler struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingReconciler) Reconcile(ctx context.Context, _ reconcile.Snapshot, _ reconcile.Options) (*reconcile.Result, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &reconcile.Result{RunID: "blocking"}, nil
}
