package player

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// PlayingMarker is the line mpv is told to print once playback starts.
const PlayingMarker = "VIDSIGHT_PLAYING"

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// Dependency is one player binary looked up on PATH.
type Dependency struct {
	Name  string `json:"name"`
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

// DependencyStatus looks up each binary on PATH, in order.
func DependencyStatus(binaries []string) []Dependency {
	out := make([]Dependency, 0, len(binaries))
	for _, name := range binaries {
		dep := Dependency{Name: name}
		if path, err := exec.LookPath(name); err == nil {
			dep.Found = true
			dep.Path = path
		}
		out = append(out, dep)
	}
	return out
}

// DisplayAvailable reports whether a window can be opened.
func DisplayAvailable() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	}
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}

type ProcessOptions struct {
	// Binaries are tried in order; the first found on PATH is used.
	Binaries []string
	// Args are passed before the URL, per binary name.
	Args map[string][]string
	// Markers are output substrings that mean playback started, per binary.
	Markers map[string][]string
	// Display overrides DisplayAvailable, mostly for tests.
	Display func() bool
	Logger  *zap.SugaredLogger
	// Output receives every line the child prints.
	Output func(stream OutputStream, line string)
}

// DefaultMarkers returns the playing markers of the supported players.
func DefaultMarkers() map[string][]string {
	return map[string][]string{
		"mpv":    {PlayingMarker},
		"ffplay": {"A-V:", "M-V:", "M-A:"},
		"vlc":    {"Buffering 100%", "buffering done"},
	}
}

// ProcessLoader loads a Library backed by an external player process.
type ProcessLoader struct {
	opts ProcessOptions
	log  *zap.SugaredLogger
}

func NewProcessLoader(opts ProcessOptions) *ProcessLoader {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.Markers == nil {
		opts.Markers = DefaultMarkers()
	}
	if opts.Display == nil {
		opts.Display = DisplayAvailable
	}
	return &ProcessLoader{opts: opts, log: log}
}

// Load resolves the first available binary and probes it once.
func (l *ProcessLoader) Load(ctx context.Context) (Library, error) {
	for _, dep := range DependencyStatus(l.opts.Binaries) {
		if !dep.Found {
			continue
		}
		if err := probe(ctx, dep); err != nil {
			l.log.Warnw("player binary probe failed", "binary", dep.Name, "path", dep.Path, "error", err)
			continue
		}
		l.log.Infow("player binary ready", "binary", dep.Name, "path", dep.Path)
		return &processLibrary{
			dep:     dep,
			args:    append([]string(nil), l.opts.Args[dep.Name]...),
			markers: l.opts.Markers[dep.Name],
			display: l.opts.Display,
			log:     l.log,
			output:  l.opts.Output,
		}, nil
	}
	return nil, fmt.Errorf("%w: none of [%s] is installed or runnable", ErrLibraryUnavailable, strings.Join(l.opts.Binaries, ", "))
}

func probe(ctx context.Context, dep Dependency) error {
	flag := "--version"
	if dep.Name == "ffplay" {
		flag = "-version"
	}
	cmd := exec.CommandContext(ctx, dep.Path, flag)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s %s: %w", dep.Name, flag, err)
	}
	return nil
}

type processLibrary struct {
	dep     Dependency
	args    []string
	markers []string
	display func() bool
	log     *zap.SugaredLogger
	output  func(OutputStream, string)
}

func (p *processLibrary) Supported() bool { return p.display() }

func (p *processLibrary) Create() (Instance, error) {
	return &processInstance{lib: p, done: make(chan struct{})}, nil
}

// Binary names the resolved player.
func (p *processLibrary) Binary() Dependency { return p.dep }

type processInstance struct {
	lib *processLibrary

	mu        sync.Mutex
	url       string
	emit      func(Event)
	cancel    context.CancelFunc
	started   bool
	destroyed bool
	playing   bool
	done      chan struct{}
}

func (i *processInstance) OnEvent(fn func(Event)) {
	i.mu.Lock()
	i.emit = fn
	i.mu.Unlock()
}

func (i *processInstance) Load(url string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("stream URL is required")
	}
	i.mu.Lock()
	i.url = url
	i.mu.Unlock()
	return nil
}

func (i *processInstance) Play() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.destroyed {
		return errors.New("player was destroyed")
	}
	if i.started {
		return nil
	}
	if i.url == "" {
		return errors.New("no stream loaded")
	}
	ctx, cancel := context.WithCancel(context.Background())
	args := append(append([]string(nil), i.lib.args...), i.url)
	cmd := exec.CommandContext(ctx, i.lib.dep.Path, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("setup stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", i.lib.dep.Name, err)
	}
	i.cancel = cancel
	i.started = true
	i.lib.log.Debugw("player process started", "binary", i.lib.dep.Name, "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	wg.Add(2)
	go i.read(&wg, StreamStdout, stdoutPipe)
	go i.read(&wg, StreamStderr, stderrPipe)
	go func() {
		wg.Wait()
		err := cmd.Wait()
		close(i.done)
		i.exited(err)
	}()
	return nil
}

func (i *processInstance) read(wg *sync.WaitGroup, stream OutputStream, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	scanner.Split(splitByNewlineOrCR)
	for scanner.Scan() {
		line := scanner.Text()
		if i.lib.output != nil {
			i.lib.output(stream, line)
		}
		switch {
		case i.markPlaying(line):
			i.send(Event{Kind: EventPlaying})
		case strings.Contains(strings.ToLower(line), "error"):
			i.send(Event{Kind: EventError, Code: strings.TrimSpace(line), Opaque: true})
		}
	}
}

func (i *processInstance) markPlaying(line string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.playing {
		return false
	}
	for _, m := range i.lib.markers {
		if m != "" && strings.Contains(line, m) {
			i.playing = true
			return true
		}
	}
	return false
}

func (i *processInstance) exited(err error) {
	i.mu.Lock()
	destroyed := i.destroyed
	i.mu.Unlock()
	if destroyed {
		return
	}
	if err == nil {
		i.send(Event{Kind: EventEnded})
		return
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	i.send(Event{Kind: EventError, Code: fmt.Sprintf("exit:%d", code)})
}

func (i *processInstance) send(ev Event) {
	i.mu.Lock()
	emit, destroyed := i.emit, i.destroyed
	i.mu.Unlock()
	if emit != nil && !destroyed {
		emit(ev)
	}
}

// Destroy stops the player process and waits for it to exit.
func (i *processInstance) Destroy() error {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return nil
	}
	i.destroyed = true
	cancel, started := i.cancel, i.started
	i.mu.Unlock()
	if !started {
		return nil
	}
	cancel()
	<-i.done
	return nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
