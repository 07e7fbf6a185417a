//go:build e2e
// +build e2e

package e2e_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"flowsync/internal/app"
	"flowsync/internal/config"
	"flowsync/internal/db"
	"flowsync/internal/domain/reconcile"
	postgresrepo "flowsync/internal/repository/postgres"
	"flowsync/pkg/logger"
)

const snapshotBody = `{
	"bancos": [
		{"id": "boveda-monte", "nombre": "Bóveda Monte", "capital": 1500.5},
		{"id": "utilidades", "nombre": "Utilidades", "capital": 0},
		{"id": "fletes/sur", "nombre": "Fletes Sur", "capital": 320}
	],
	"operacionesBancos": [
		{"id": "ING-001", "bancoId": "boveda-monte", "tipo": "ingreso", "fecha": "2025-08-14", "monto": 250},
		{"id": "GAS-001", "bancoId": "utilidades", "tipo": "gasto", "fecha": "2025-08-15T10:30:00Z", "monto": 80}
	]
}`

type testEnv struct {
	server *httptest.Server
	app    *app.App
	db     *gorm.DB
	store  *postgresrepo.PostgresStore
}

func setupE2E(t *testing.T) *testEnv {
	t.Helper()

	dsn := os.Getenv("E2E_DB_DSN")
	if dsn == "" {
		t.Skip("E2E_DB_DSN not set; skipping e2e tests")
	}

	cfg := config.Config{
		DB: config.DBConfig{DSN: dsn},
		Sync: config.SyncConfig{
			Store:                config.StorePostgres,
			BanksCollection:      "bancos",
			OperationsCollection: "operacionesBancos",
		},
		HTTP: config.HTTPConfig{
			APIToken:     "e2e-token",
			MaxBodyBytes: 1 << 20,
		},
	}
	log := logger.Discard()

	application, err := app.New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("app: %v", err)
	}

	dbConn, err := db.NewPostgres(cfg.DB, log)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	if err := cleanDB(dbConn); err != nil {
		t.Fatalf("clean db: %v", err)
	}

	server := httptest.NewServer(application.HTTPServer().Handler)

	return &testEnv{
		server: server,
		app:    application,
		db:     dbConn,
		store:  postgresrepo.NewPostgres(dbConn, cfg.Sync),
	}
}

func (e *testEnv) Close() {
	e.server.Close()
	_ = e.app.Close()
	_ = db.Close(e.db)
}

func cleanDB(dbConn *gorm.DB) error {
	return dbConn.WithContext(context.Background()).Exec("TRUNCATE TABLE remote_documents").Error
}

func postSync(t *testing.T, url, token, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, respBody
}

func decodeResult(t *testing.T, body []byte) reconcile.Result {
	t.Helper()

	var result reconcile.Result
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode result: %v (%s)", err, body)
	}
	return result
}

func TestE2EHealthAndAuth(t *testing.T) {
	env := setupE2E(t)
	defer env.Close()

	resp, err := http.Get(env.server.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status: %d", resp.StatusCode)
	}

	resp, _ = postSync(t, env.server.URL+"/api/sync", "", snapshotBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestE2ESyncFlow(t *testing.T) {
	env := setupE2E(t)
	defer env.Close()

	resp, body := postSync(t, env.server.URL+"/api/sync", "e2e-token", snapshotBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first sync status: %d (%s)", resp.StatusCode, body)
	}
	first := decodeResult(t, body)
	if first.Created != 3 || first.Updated != 0 || first.OperationsCreated != 2 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	op, err := env.store.Find(ctx, reconcile.KindOperations, "ING-001")
	if err != nil {
		t.Fatalf("find operation: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(op.Fields, &fields); err != nil {
		t.Fatalf("decode operation fields: %v", err)
	}
	if fields["fecha"] != "2025-08-14T00:00:00Z" {
		t.Fatalf("unexpected fecha: %v", fields["fecha"])
	}
	if _, ok := fields["createdAt"].(string); !ok {
		t.Fatalf("createdAt not resolved: %v", fields["createdAt"])
	}

	if _, err := env.store.Find(ctx, reconcile.KindBanks, "fletes-sur"); err != nil {
		t.Fatalf("sanitized bank id not stored: %v", err)
	}

	// Remote-only fields survive a forced overwrite.
	if err := env.db.Exec(
		`UPDATE remote_documents SET fields = fields || '{"notas": "remota"}'::jsonb WHERE kind = ? AND id = ?`,
		"bancos", "boveda-monte",
	).Error; err != nil {
		t.Fatalf("seed remote field: %v", err)
	}

	resp, body = postSync(t, env.server.URL+"/api/sync", "e2e-token", snapshotBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second sync status: %d (%s)", resp.StatusCode, body)
	}
	second := decodeResult(t, body)
	if second.Created != 0 || second.Updated != 0 || second.OperationsCreated != 0 {
		t.Fatalf("rerun should be a no-op: %+v", second)
	}

	resp, body = postSync(t, env.server.URL+"/api/sync?force=true", "e2e-token", snapshotBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("forced sync status: %d (%s)", resp.StatusCode, body)
	}
	forced := decodeResult(t, body)
	if forced.Updated != 3 || forced.OperationsCreated != 0 {
		t.Fatalf("unexpected forced result: %+v", forced)
	}

	bank, err := env.store.Find(ctx, reconcile.KindBanks, "boveda-monte")
	if err != nil {
		t.Fatalf("find bank: %v", err)
	}
	fields = nil
	if err := json.Unmarshal(bank.Fields, &fields); err != nil {
		t.Fatalf("decode bank fields: %v", err)
	}
	if fields["notas"] != "remota" || fields["nombre"] != "Bóveda Monte" {
		t.Fatalf("merge lost fields: %v", fields)
	}
}

func TestE2EDryRunWritesNothing(t *testing.T) {
	env := setupE2E(t)
	defer env.Close()

	resp, body := postSync(t, env.server.URL+"/api/sync?dry_run=true", "e2e-token", snapshotBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dry run status: %d (%s)", resp.StatusCode, body)
	}
	result := decodeResult(t, body)
	if !result.DryRun || result.Created != 3 {
		t.Fatalf("unexpected dry run result: %+v", result)
	}

	var count int64
	if err := env.db.Raw("SELECT COUNT(1) FROM remote_documents").Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("dry run wrote %d documents", count)
	}
}
