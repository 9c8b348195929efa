// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gwebtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rchandramouli/gweb-app/internal/config"
	"github.com/rchandramouli/gweb-app/server"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tidwall/gjson"
)

// harness drives a complete server over real HTTP
type harness struct {
	t      *testing.T
	ctx    context.Context
	server *server.TestServer
	client *http.Client
}

func testLogger() *slog.Logger {
	level := slog.LevelWarn
	if os.Getenv("GWEB_TEST_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func baseConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AvatarCacheDir = filepath.Join(dir, "cache")
	cfg.AvatarMountDir = filepath.Join(dir, "mount")
	cfg.AvatarURLPrefix = "https://cdn.example.com"
	cfg.MaxListRows = 5
	return cfg
}

func startHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	ctx := context.Background()
	ts, err := server.NewTestServer(ctx, cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	return &harness{t: t, ctx: ctx, server: ts, client: &http.Client{Timeout: 30 * time.Second}}
}

func newSQLiteHarness(t *testing.T) *harness {
	cfg := baseConfig(t)
	cfg.Driver = config.DriverSQLite
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "gweb.db") + "?_busy_timeout=5000"
	return startHarness(t, cfg)
}

// newPostgresHarness runs the server against a throwaway Postgres container.
// Set GWEB_PG_IT=1 to enable; the suite needs a working Docker daemon.
func newPostgresHarness(t *testing.T) *harness {
	if os.Getenv("GWEB_PG_IT") != "1" {
		t.Skip("set GWEB_PG_IT=1 to run Postgres integration tests")
	}
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("gweb_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := baseConfig(t)
	cfg.Driver = config.DriverPostgres
	cfg.DatabaseURL = connStr
	cfg.MaxConns = 10
	cfg.MinConns = 1
	return startHarness(t, cfg)
}

func (h *harness) do(req *http.Request) (int, gjson.Result) {
	h.t.Helper()
	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	require.True(h.t, gjson.ValidBytes(body), "invalid JSON response: %s", body)
	return resp.StatusCode, gjson.ParseBytes(body)
}

// call posts one API payload
func (h *harness) call(body string) (int, gjson.Result) {
	h.t.Helper()
	req, err := http.NewRequestWithContext(h.ctx, http.MethodPost, h.server.URL()+"/", strings.NewReader(body))
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

// callf formats a payload and requires an OK answer
func (h *harness) callf(format string, args ...any) gjson.Result {
	h.t.Helper()
	code, out := h.call(fmt.Sprintf(format, args...))
	require.Equal(h.t, http.StatusOK, code, out.Raw)
	require.Equal(h.t, "200", out.Get("status.code").String(), out.Raw)
	return out
}

// query serves a read-only API from GET parameters
func (h *harness) query(api string, params url.Values) (int, gjson.Result) {
	h.t.Helper()
	u := h.server.URL() + "/query/" + api
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, u, nil)
	require.NoError(h.t, err)
	return h.do(req)
}

// upload sends an avatar as two parts in reverse order, each carrying its byte range
func (h *harness) upload(id string, image []byte) (int, gjson.Result) {
	h.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(h.t, mw.WriteField("id", id))

	half := len(image) / 2
	for _, r := range [][2]int{{half, len(image)}, {0, half}} {
		hdr := make(map[string][]string)
		hdr["Content-Disposition"] = []string{`form-data; name="image"; filename="avatar.png"`}
		hdr["Content-Type"] = []string{"image/png"}
		hdr["Content-Range"] = []string{fmt.Sprintf("bytes %d-%d/%d", r[0], r[1]-1, len(image))}
		w, err := mw.CreatePart(hdr)
		require.NoError(h.t, err)
		_, err = w.Write(image[r[0]:r[1]])
		require.NoError(h.t, err)
	}
	require.NoError(h.t, mw.Close())

	req, err := http.NewRequestWithContext(h.ctx, http.MethodPost, h.server.URL()+"/upload/avatar", &body)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return h.do(req)
}

func (h *harness) register(fname, email, phone string) string {
	h.t.Helper()
	out := h.callf(`{"registration":{"fname":%q,"lname":"Doe","email":%q,"phone":%q,"password":"pw-%s"}}`,
		fname, email, phone, fname)
	id := out.Get("id").String()
	require.NotEmpty(h.t, id)
	return id
}
