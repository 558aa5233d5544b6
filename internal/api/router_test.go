package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/video-stream/transcriber/internal/auth"
	"github.com/video-stream/transcriber/internal/config"
	"github.com/video-stream/transcriber/internal/pipeline"
	"github.com/video-stream/transcriber/internal/runs"
	"github.com/video-stream/transcriber/internal/storage"
	"github.com/video-stream/transcriber/internal/subtitle"
	"github.com/video-stream/transcriber/internal/transcribe"
)

type copyNormalizer struct{}

func (copyNormalizer) Ext() string { return ".mp3" }

func (copyNormalizer) Normalize(_ context.Context, input, output string) (int64, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), os.WriteFile(output, data, 0o600)
}

type staticTranscriber struct{}

func (staticTranscriber) Name() string { return "static" }

func (staticTranscriber) Transcribe(context.Context, string) (*transcribe.Result, error) {
	return &transcribe.Result{Transcript: &subtitle.Transcript{Segments: []subtitle.Segment{
		{Start: 0, End: 2.5, Text: " Welcome back"},
	}}}, nil
}

type testServer struct {
	*httptest.Server
	uploadDir string
	store     *runs.Store
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config, deps *Deps)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.UploadDir = filepath.Join(t.TempDir(), "uploads")
	cfg.OpenAIAPIKey = "test-key"

	store, err := runs.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	orch := pipeline.New(cfg.HasCredential, storage.NewTempStore(cfg.UploadDir, zap.NewNop()),
		copyNormalizer{}, staticTranscriber{}, store, zap.NewNop())
	deps := Deps{Runner: orch, Runs: store, Logger: zap.NewNop()}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	server := httptest.NewServer(NewRouter(ctx, &cfg, deps))
	t.Cleanup(server.Close)
	return &testServer{Server: server, uploadDir: cfg.UploadDir, store: store}
}

func uploadRequest(t *testing.T, url, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.String()
}

func TestRouter_TranscribeEndToEnd(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.DefaultClient.Do(uploadRequest(t, srv.URL+"/api/transcribe", "intro.mp4", "media"))
	require.NoError(t, err)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:02,500\nWelcome back\n", body)
	assert.Equal(t, `attachment; filename="intro.srt"`, resp.Header.Get("Content-Disposition"))
	runID := resp.Header.Get("X-Run-ID")
	require.NotEmpty(t, runID)

	entries, err := os.ReadDir(srv.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	resp, err = http.Get(srv.URL + "/api/runs/" + runID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run runs.Run
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &run))
	assert.Equal(t, "intro.mp4", run.Filename)
	assert.Equal(t, runs.StatusSucceeded, run.Status)
	assert.Equal(t, 1, run.Cues)
}

func TestRouter_NoFileIsRecorded(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/transcribe", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "No file uploaded.")

	list, err := srv.store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, runs.StatusFailed, list[0].Status)
	assert.Equal(t, string(pipeline.KindNoFile), list[0].ErrorKind)
}

func TestRouter_UploadTooLarge(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config, _ *Deps) {
		cfg.MaxUploadBytes = 512
	})

	resp, err := http.DefaultClient.Do(uploadRequest(t, srv.URL+"/api/transcribe", "big.mp4", string(make([]byte, 4096))))
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, body, "upload_failed")

	entries, err := os.ReadDir(srv.uploadDir)
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestRouter_Auth(t *testing.T) {
	jwtService := auth.NewJWTService("secret")
	srv := newTestServer(t, func(_ *config.Config, deps *Deps) {
		deps.JWT = jwtService
	})

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is public")

	resp, err = http.DefaultClient.Do(uploadRequest(t, srv.URL+"/api/transcribe", "a.mp4", "x"))
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := jwtService.GenerateToken("ci", "", time.Hour)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/runs", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_RateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config, _ *Deps) {
		cfg.RateLimit = 1
		cfg.RateWindow = time.Hour
	})

	resp, err := http.DefaultClient.Do(uploadRequest(t, srv.URL+"/api/transcribe", "a.mp4", "x"))
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.DefaultClient.Do(uploadRequest(t, srv.URL+"/api/transcribe", "a.mp4", "x"))
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRouter_RunsUnmountedWithoutLedger(t *testing.T) {
	srv := newTestServer(t, func(_ *config.Config, deps *Deps) {
		deps.Runs = nil
	})

	resp, err := http.Get(srv.URL + "/api/runs")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_OversizedFormHeadersAreRecorded(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config, _ *Deps) {
		cfg.MaxUploadBytes = 16
	})

	resp, err := http.DefaultClient.Do(uploadRequest(t, srv.URL+"/api/transcribe", "a.mp4", "x"))
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, body, "upload_failed")
	runID := resp.Header.Get("X-Run-ID")
	require.NotEmpty(t, runID)

	run, err := srv.store.Get(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Equal(t, string(pipeline.KindUploadFailed), run.ErrorKind)
}
