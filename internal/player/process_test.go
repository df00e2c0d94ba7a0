package player

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakePlayer(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script players are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fakeplayer")
	script := "#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then echo fakeplayer 1.0; exit 0; fi\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func processAdapter(t *testing.T, bin string) *Adapter {
	t.Helper()
	loader := NewProcessLoader(ProcessOptions{
		Binaries: []string{bin},
		Markers:  map[string][]string{bin: {PlayingMarker}},
		Display:  func() bool { return true },
	})
	a := New(Options{Runtime: NewRuntime(loader)})
	t.Cleanup(a.Close)
	require.NoError(t, a.Init(context.Background()))
	return a
}

func TestProcessPlayerExitCodeBecomesError(t *testing.T) {
	bin := fakePlayer(t, "echo "+PlayingMarker+"\necho 'decoder error: broken frame' >&2\nexit 3\n")
	a := processAdapter(t, bin)
	require.NoError(t, a.Attach(streamURL))

	require.Eventually(t, func() bool { return a.Status().State == StateError }, 5*time.Second, 5*time.Millisecond)
	st := a.Status()
	assert.Equal(t, "Stream playback error: exit:3", st.Error)
	assert.True(t, st.Retriable)
}

func TestProcessPlayerCleanExitEndsStream(t *testing.T) {
	bin := fakePlayer(t, "echo "+PlayingMarker+"\nexit 0\n")
	a := processAdapter(t, bin)
	require.NoError(t, a.Attach(streamURL))

	require.Eventually(t, func() bool { return a.Status().Error == ErrTextEnded }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, a.Status().Retriable)
}

func TestProcessPlayerDestroyIsSilent(t *testing.T) {
	bin := fakePlayer(t, "echo "+PlayingMarker+"\nexec sleep 5\n")
	a := processAdapter(t, bin)
	require.NoError(t, a.Attach(streamURL))
	require.Eventually(t, func() bool { return a.Status().State == StatePlaying }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, a.UseFallback())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateFallback, a.Status().State)
}

func TestProcessLoaderWithoutBinaries(t *testing.T) {
	loader := NewProcessLoader(ProcessOptions{Binaries: []string{"vidsight-no-such-player"}})
	_, err := loader.Load(context.Background())
	assert.ErrorIs(t, err, ErrLibraryUnavailable)

	deps := DependencyStatus([]string{"vidsight-no-such-player"})
	require.Len(t, deps, 1)
	assert.False(t, deps[0].Found)
}

func TestSplitByNewlineOrCR(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("a\rb\n\nc"))
	scanner.Split(splitByNewlineOrCR)
	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRenderEmbed(t *testing.T) {
	var b strings.Builder
	require.NoError(t, RenderEmbed(&b, "", "https://a.b/c.m3u8?x=1&y=2"))
	page := b.String()
	assert.Contains(t, page, `allow="autoplay; fullscreen"`)
	assert.Contains(t, page, `title="Stream Player Fallback"`)
	assert.Contains(t, page, `src="https://a.b/c.m3u8?x=1&amp;y=2"`)

	b.Reset()
	require.NoError(t, RenderEmbed(&b, "dock", "javascript:alert(1)"))
	assert.NotContains(t, b.String(), "javascript:")
}
