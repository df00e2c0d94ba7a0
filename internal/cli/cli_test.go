package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsight/internal/config"
	"vidsight/internal/devserver"
	"vidsight/internal/model"
)

// newCLIBackend starts a mock backend and writes a config pointing at it
// with millisecond poll intervals.
func newCLIBackend(t *testing.T) (*devserver.Server, string) {
	t.Helper()
	backend := devserver.New(devserver.Options{ProgressStep: 50})
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvLegacyAPIURL, "")
	t.Setenv(config.EnvToken, "")
	cfgPath := filepath.Join(t.TempDir(), "vidsight.yaml")
	cfg := fmt.Sprintf(`api_url: %s
log_level: error
poll:
  job_status: 5ms
  job_logs: 5ms
  stream_status: 5ms
  stream_logs: 5ms
`, srv.URL)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return backend, cfgPath
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	defer func() {
		os.Stdout = oldStdout
	}()
	defer r.Close()

	fn()

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestRunUnknownCommand(t *testing.T) {
	var err error
	out := captureStdout(t, func() { err = Run([]string{"bogus"}) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "bogus"`)
	assert.Contains(t, out, "Video Commands:")
}

func TestAnalyzeJSONFollowsJobToCompletion(t *testing.T) {
	backend, cfgPath := newCLIBackend(t)
	file := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(file, []byte("not really a video"), 0o644))

	var err error
	out := captureStdout(t, func() {
		err = Run([]string{"analyze", "--config", cfgPath, "--file", file, "--json"})
	})
	require.NoError(t, err)

	var job model.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job), out)
	assert.Equal(t, model.JobComplete, job.State)
	assert.Equal(t, 100, job.ProcessingProgress)
	assert.Equal(t, "clip.mp4", job.FileName)
	assert.Equal(t, 1, backend.Calls(devserver.RouteUpload, ""))
}

func TestAnalyzeReportsUploadFailure(t *testing.T) {
	backend, cfgPath := newCLIBackend(t)
	backend.FailNext(devserver.RouteUpload, http.StatusInsufficientStorage, "disk full")
	file := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	var err error
	out := captureStdout(t, func() {
		err = Run([]string{"analyze", "--config", cfgPath, "--file", file})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, out, "failed: disk full")
}

func TestAnalyzeRequiresFile(t *testing.T) {
	err := Run([]string{"analyze"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--file is required")
}

func TestStreamsRegisterNormalizesAndLists(t *testing.T) {
	_, cfgPath := newCLIBackend(t)

	var err error
	out := captureStdout(t, func() {
		err = Run([]string{"streams", "register", "--config", cfgPath, "--name", "Dock", "--url", "arn:aws:ivs:us-east-1:123456789012:channel/AbCd1234", "--json"})
	})
	require.NoError(t, err)
	var s model.Stream
	require.NoError(t, json.Unmarshal([]byte(out), &s), out)
	assert.Equal(t, "Dock", s.Name)
	assert.Equal(t, "https://us-east-1.live-video.net/api/video/v1/aws.ivs.us-east-1.channel.AbCd1234.m3u8", s.IVSURL)
	assert.True(t, strings.HasPrefix(s.StreamID, "stream_"))

	out = captureStdout(t, func() {
		err = Run([]string{"streams", "list", "--config", cfgPath})
	})
	require.NoError(t, err)
	assert.Contains(t, out, s.StreamID)
	assert.Contains(t, out, "Dock")
}

func TestStreamsStartUnknownStream(t *testing.T) {
	_, cfgPath := newCLIBackend(t)
	err := Run([]string{"streams", "start", "--config", cfgPath, "--id", "stream_missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestStreamsShowPrintsMetrics(t *testing.T) {
	backend, cfgPath := newCLIBackend(t)
	backend.SeedStream(model.Stream{StreamID: "stream_1", Name: "Gate", IVSURL: "example.ivs.net/live"})
	frame := 7
	backend.AddStreamLog("stream_1", model.LogEntry{CreatedAt: "2026-01-02T10:00:00", Message: "Person detected at gate", LogType: "info", FrameID: &frame})
	backend.AddStreamLog("stream_1", model.LogEntry{CreatedAt: "2026-01-02T10:00:05", Message: "Decoder hiccup", LogType: "warning"})

	var err error
	out := captureStdout(t, func() {
		err = Run([]string{"streams", "show", "--config", cfgPath, "--id", "stream_1"})
	})
	require.NoError(t, err)
	assert.Contains(t, out, "playback: https://example.ivs.net/live/stream.m3u8")
	assert.Contains(t, out, "logs=2 errors=0 warnings=1")
	assert.Contains(t, out, "Person detected at gate (frame 7)")
	assert.Less(t, strings.Index(out, "Decoder hiccup"), strings.Index(out, "Person detected"))
}

func TestStreamsTestURL(t *testing.T) {
	var err error
	out := captureStdout(t, func() {
		err = Run([]string{"streams", "test-url", "--json", "abc.ivs.example/live"})
	})
	require.NoError(t, err)
	var res map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "https://abc.ivs.example/live/stream.m3u8", res["url"])
	assert.Equal(t, "guessed", res["rule"])
}

func TestStreamsDeleteWithoutTTYNeedsYes(t *testing.T) {
	backend, cfgPath := newCLIBackend(t)
	backend.SeedStream(model.Stream{StreamID: "stream_1", Name: "Gate"})

	r, w, err := os.Pipe()
	require.NoError(t, err)
	oldStdin := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = oldStdin; r.Close(); w.Close() }()

	err = Run([]string{"streams", "delete", "--config", cfgPath, "--id", "stream_1"})
	require.Error(t, err)
	assert.Equal(t, 0, backend.Calls(devserver.RouteStreamDelete, "stream_1"))

	captureStdout(t, func() {
		err = Run([]string{"streams", "delete", "--config", cfgPath, "--id", "stream_1", "--yes"})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.Calls(devserver.RouteStreamDelete, "stream_1"))
}

func TestVideosListShowAndAsk(t *testing.T) {
	backend, cfgPath := newCLIBackend(t)
	backend.SeedVideo("video_1", "lobby.mp4", 3*1024*1024, 100)

	var err error
	out := captureStdout(t, func() {
		err = Run([]string{"videos", "list", "--config", cfgPath})
	})
	require.NoError(t, err)
	assert.Contains(t, out, "video_1")
	assert.Contains(t, out, "lobby.mp4")

	out = captureStdout(t, func() {
		err = Run([]string{"videos", "show", "--config", cfgPath, "--id", "video_1"})
	})
	require.NoError(t, err)
	assert.Contains(t, out, "lobby.mp4 (video_1)")
	assert.Contains(t, out, "size: 3 MB")

	out = captureStdout(t, func() {
		err = Run([]string{"videos", "ask", "--config", cfgPath, "--id", "video_1", "who", "was", "there?"})
	})
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
	assert.Equal(t, 1, backend.Calls(devserver.RouteVideoChat, ""))
}

func TestSettingsInitRefusesOverwrite(t *testing.T) {
	t.Setenv(config.EnvToken, "secret-token")
	path := filepath.Join(t.TempDir(), "config", "vidsight.yaml")

	var err error
	captureStdout(t, func() { err = Run([]string{"settings", "init", "--config", path}) })
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	err = Run([]string{"settings", "init", "--config", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	out := captureStdout(t, func() { err = Run([]string{"settings", "show", "--config", path, "--json"}) })
	require.NoError(t, err)
	assert.Contains(t, out, `"config_path"`)
	assert.NotContains(t, out, "secret-token")
}
