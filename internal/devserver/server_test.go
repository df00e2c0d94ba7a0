package devserver

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsight/internal/model"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, h http.Handler, videoID string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "clip.mp4")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("video_id", videoID))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/video/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestVideoLifecycle(t *testing.T) {
	s := New(Options{ProgressStep: 50})
	h := s.Handler()

	rec := upload(t, h, "video_1_1", []byte("frames"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"video_id":"video_1_1","resumed":false}`, rec.Body.String())

	rec = upload(t, h, "video_1_1", []byte("frames"))
	assert.Contains(t, rec.Body.String(), `"resumed":true`)

	var st model.JobStatus
	for i := 0; i < 2; i++ {
		rec = doJSON(t, h, http.MethodGet, "/video/video_1_1/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	}
	assert.Equal(t, model.JobStatus{Processing: false, Progress: 100, HasData: true}, st)
	assert.Equal(t, 2, s.Calls(RouteJobStatus, "video_1_1"))

	rec = doJSON(t, h, http.MethodPost, "/video/chat", map[string]string{"question": "who?", "video_id": "video_1_1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "video_1_1")

	rec = doJSON(t, h, http.MethodGet, "/video/video_1_1/details", nil)
	var details model.VideoDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
	assert.Equal(t, "completed", details.Status)
	require.Len(t, details.Alerts, 1)
	assert.True(t, details.Alerts[0].IsConfirmedAlert)

	rec = doJSON(t, h, http.MethodDelete, "/video/video_1_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/video/video_1_1/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamLifecycleAndLogs(t *testing.T) {
	s := New(Options{})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/stream/register", map[string]string{"name": "gate", "ivs_url": "https://a/b.m3u8", "stream_id": "stream_1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/stream/register", map[string]string{"name": "gate", "ivs_url": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"detail":"ivs_url is required"}`, rec.Body.String())

	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/stream/stream_1/start", nil).Code)
	rec = doJSON(t, h, http.MethodGet, "/stream/status/stream_1", nil)
	assert.JSONEq(t, `{"status":"active","progress":25}`, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/stream/stream_1/logs", nil)
	var payload struct {
		Logs []model.LogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Logs, 2)
	require.NotNil(t, payload.Logs[1].FrameID)
	assert.Equal(t, 30, *payload.Logs[1].FrameID)

	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/stream/stream_1/stop", nil).Code)
	rec = doJSON(t, h, http.MethodGet, "/stream/stream_1", nil)
	assert.Contains(t, rec.Body.String(), `"status":"inactive"`)

	rec = doJSON(t, h, http.MethodGet, "/stream/all", nil)
	assert.Contains(t, rec.Body.String(), "stream_1")

	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodDelete, "/stream/stream_1", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodDelete, "/stream/stream_1", nil).Code)
}

func TestFailNextIsConsumedOnce(t *testing.T) {
	s := New(Options{})
	s.SeedStream(model.Stream{StreamID: "s1", Name: "yard", IVSURL: "https://x/y.m3u8"})
	s.FailNext(RouteStreamStop, http.StatusBadGateway, "upstream down")

	rec := doJSON(t, s.Handler(), http.MethodPost, "/stream/s1/stop", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"detail":"upstream down"}`, rec.Body.String())

	rec = doJSON(t, s.Handler(), http.MethodPost, "/stream/s1/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, s.Calls(RouteStreamStop, "s1"))
}

func TestLogsAsString(t *testing.T) {
	s := New(Options{LogsAsString: true})
	s.SeedStream(model.Stream{StreamID: "s1", Status: model.StreamActive})

	rec := doJSON(t, s.Handler(), http.MethodGet, "/stream/s1/logs", nil)
	var payload struct {
		Logs string `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload.Logs, "frame_id")
}

func TestTokenRequired(t *testing.T) {
	s := New(Options{Token: "sekret"})
	rec := doJSON(t, s.Handler(), http.MethodGet, "/stream/all", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/stream/all", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	ok := httptest.NewRecorder()
	s.Handler().ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.NotEmpty(t, ok.Header().Get("X-Request-Id"))
}
