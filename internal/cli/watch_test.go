package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsight/internal/player"
)

func TestEmbedServerServesPageAndStatus(t *testing.T) {
	adapter := player.New(player.Options{Runtime: player.NewRuntime(nil)})
	defer adapter.Close()
	require.NoError(t, adapter.UseFallback())

	srv := httptest.NewServer(newEmbedServer("Gate", "https://example.ivs.net/live/stream.m3u8", adapter))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `<iframe src="https://example.ivs.net/live/stream.m3u8"`)
	assert.Contains(t, string(body), "<title>Gate</title>")

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st player.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, player.StateFallback, st.State)
}

func TestFollowPlayerHandsOverOnFallback(t *testing.T) {
	adapter := player.New(player.Options{Runtime: player.NewRuntime(nil)})
	defer adapter.Close()
	require.NoError(t, adapter.UseFallback())

	called := 0
	var err error
	out := captureStdout(t, func() {
		err = followPlayer(context.Background(), adapter, 3, func(st player.Status) error {
			called++
			assert.Equal(t, player.StateFallback, st.State)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, called)
	assert.Contains(t, out, "player: fallback_iframe")
}

func TestFollowPlayerRetryWithoutLibraryFallsBack(t *testing.T) {
	adapter := player.New(player.Options{Runtime: player.NewRuntime(nil)})
	defer adapter.Close()
	require.Error(t, adapter.Init(context.Background()))
	require.Equal(t, player.StateError, adapter.Status().State)

	called := false
	var err error
	out := captureStdout(t, func() {
		err = followPlayer(context.Background(), adapter, 1, func(player.Status) error {
			called = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Contains(t, out, "Failed to load player")
}

func TestFollowPlayerGivesUpWithoutRetries(t *testing.T) {
	adapter := player.New(player.Options{Runtime: player.NewRuntime(nil)})
	defer adapter.Close()
	require.Error(t, adapter.Init(context.Background()))

	var err error
	captureStdout(t, func() {
		err = followPlayer(context.Background(), adapter, 0, func(player.Status) error {
			t.Fatal("fallback not expected")
			return nil
		})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "playback failed")
}
