package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsight/internal/devserver"
	"vidsight/internal/model"
)

func newBackend(t *testing.T, opts devserver.Options) (*devserver.Server, *Client) {
	t.Helper()
	backend := devserver.New(opts)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)
	return backend, New(Options{BaseURL: srv.URL + "/", Token: opts.Token})
}

func TestUploadReportsProgressAndResume(t *testing.T) {
	backend, client := newBackend(t, devserver.Options{ProgressStep: 100})
	path := filepath.Join(t.TempDir(), "clip.mp4")
	payload := make([]byte, 256<<10)
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	var mu sync.Mutex
	var last, total int64
	res, err := client.UploadVideo(context.Background(), "video_9_1", path, func(sent, size int64) {
		mu.Lock()
		last, total = sent, size
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	mu.Lock()
	assert.Equal(t, int64(len(payload)), last)
	assert.Equal(t, int64(len(payload)), total)
	mu.Unlock()
	assert.Equal(t, 1, backend.Calls(devserver.RouteUpload, ""))

	res, err = client.UploadVideo(context.Background(), "video_9_1", path, nil)
	require.NoError(t, err)
	assert.True(t, res.Resumed)

	st, err := client.JobStatus(context.Background(), "video_9_1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatus{Progress: 100, HasData: true}, st)

	logs, err := client.JobLogs(context.Background(), "video_9_1")
	require.NoError(t, err)
	assert.NotEmpty(t, logs)

	answer, err := client.AskVideo(context.Background(), "video_9_1", "what happened?")
	require.NoError(t, err)
	assert.Contains(t, answer, "video_9_1")
}

func TestUploadMissingFile(t *testing.T) {
	_, client := newBackend(t, devserver.Options{})
	_, err := client.UploadVideo(context.Background(), "video_1_1", filepath.Join(t.TempDir(), "nope.mp4"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestErrorsCarryDetail(t *testing.T) {
	backend, client := newBackend(t, devserver.Options{})
	backend.FailNext(devserver.RouteStreams, http.StatusInternalServerError, "database unavailable")

	_, err := client.Streams(context.Background())
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "database unavailable", apiErr.Detail)
	assert.Equal(t, "database unavailable", DetailOr(err, "fallback"))
	assert.False(t, IsNotFound(err))

	_, err = client.StreamStatus(context.Background(), "ghost")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "fallback", DetailOr(errors.New("dial tcp: refused"), "fallback"))
}

func TestParseDetailShapes(t *testing.T) {
	assert.Equal(t, "plain", parseDetail([]byte(`{"detail":"plain"}`)))
	assert.Equal(t, `[{"loc":["body","ivs_url"],"msg":"field required"}]`,
		parseDetail([]byte(`{"detail":[{"loc":["body","ivs_url"],"msg":"field required"}]}`)))
	assert.Equal(t, "", parseDetail([]byte(`{"detail":null}`)))
	assert.Equal(t, "", parseDetail([]byte(`<html>bad gateway</html>`)))
}

func TestStreamEndpoints(t *testing.T) {
	backend, client := newBackend(t, devserver.Options{Token: "tok"})
	ctx := context.Background()

	created, err := client.RegisterStream(ctx, RegisterStreamRequest{Name: "dock", IVSURL: "https://a/b.m3u8", StreamID: "stream_42"})
	require.NoError(t, err)
	assert.Equal(t, "stream_42", created.StreamID)
	assert.Equal(t, model.StreamInactive, created.Status)

	require.NoError(t, client.StartStream(ctx, "stream_42"))
	st, err := client.StreamStatus(ctx, "stream_42")
	require.NoError(t, err)
	assert.Equal(t, model.StreamActive, st.Status)

	logs, err := client.StreamLogs(ctx, "stream_42")
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	require.NoError(t, client.UpdateStreamURL(ctx, "stream_42", "https://c/d.m3u8"))
	got, err := client.Stream(ctx, "stream_42")
	require.NoError(t, err)
	assert.Equal(t, "https://c/d.m3u8", got.IVSURL)

	answer, err := client.AskStream(ctx, "stream_42", "anyone there?")
	require.NoError(t, err)
	assert.Contains(t, answer, "stream_42")

	require.NoError(t, client.StopStream(ctx, "stream_42"))
	require.NoError(t, client.DeleteStream(ctx, "stream_42"))
	assert.Equal(t, 1, backend.Calls(devserver.RouteStreamDelete, "stream_42"))

	all, err := client.Streams(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStreamLogsAsString(t *testing.T) {
	backend, client := newBackend(t, devserver.Options{LogsAsString: true})
	backend.SeedStream(model.Stream{StreamID: "s1", Status: model.StreamActive})
	logs, err := client.StreamLogs(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].FrameID)
}

func TestDecodeLogs(t *testing.T) {
	assert.Empty(t, DecodeLogs(nil))
	assert.Empty(t, DecodeLogs(json.RawMessage(`{"x":1}`)))
	assert.Empty(t, DecodeLogs(json.RawMessage(`"not json"`)))
	assert.Empty(t, DecodeLogs(json.RawMessage(`42`)))

	logs := DecodeLogs(json.RawMessage(`[{"created_at":"t1","message":"ok"},{"frame_id":"x"},{"message":"two","log_type":"error","frame_id":4}]`))
	require.Len(t, logs, 2)
	assert.Equal(t, "ok", logs[0].Message)
	assert.Equal(t, 4, *logs[1].FrameID)

	nested := DecodeLogs(json.RawMessage(`"[{\"message\":\"inner\"}]"`))
	require.Len(t, nested, 1)
	assert.Equal(t, "inner", nested[0].Message)
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, Token: "abc"})
	_, err := client.Videos(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", got.Get("Authorization"))
	assert.Len(t, got.Get(RequestIDHeader), 36)
}
