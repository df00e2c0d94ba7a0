// Package streamtrack keeps the client's view of registered live streams:
// the collection, per-stream status polling, and the one stream opened in
// detail with its logs, metrics and chat.
package streamtrack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vidsight/internal/api"
	"vidsight/internal/chat"
	"vidsight/internal/model"
	"vidsight/internal/poller"
	"vidsight/internal/streamlog"
	"vidsight/internal/streamurl"
)

var (
	ErrEmptyURL = errors.New("stream URL is required")
	ErrNotFound = errors.New("stream not found")
	ErrClosed   = errors.New("stream tracker is closed")
	ErrNoDetail = errors.New("stream detail was closed")
)

const (
	LoopStatus = "stream_status"
	LoopLogs   = "stream_logs"
)

const (
	Greeting    = "Hello! I can answer questions about what I observe in this stream. How can I help you?"
	ChatFailure = "Sorry, I encountered an error while processing your question."
)

type Backend interface {
	Streams(ctx context.Context) ([]model.Stream, error)
	Stream(ctx context.Context, streamID string) (model.Stream, error)
	RegisterStream(ctx context.Context, in api.RegisterStreamRequest) (model.Stream, error)
	StartStream(ctx context.Context, streamID string) error
	StopStream(ctx context.Context, streamID string) error
	StreamStatus(ctx context.Context, streamID string) (model.StreamStatus, error)
	StreamLogs(ctx context.Context, streamID string) ([]model.LogEntry, error)
	UpdateStreamURL(ctx context.Context, streamID, ivsURL string) error
	AskStream(ctx context.Context, streamID, query string) (string, error)
	DeleteStream(ctx context.Context, streamID string) error
}

type Options struct {
	Backend        Backend
	Scheduler      *poller.Scheduler
	StatusInterval time.Duration
	LogsInterval   time.Duration
	Logger         *zap.SugaredLogger
	Observer       chat.Observer
	Now            func() time.Time
}

// Detail is the stream currently opened for inspection.
type Detail struct {
	Stream  model.Stream        `json:"stream"`
	Logs    []model.LogEntry    `json:"logs"`
	Metrics model.StreamMetrics `json:"metrics"`
}

type detailState struct {
	id     string
	gen    uint64
	loaded bool
	Detail
}

type Tracker struct {
	backend        Backend
	sched          *poller.Scheduler
	ownsSched      bool
	statusInterval time.Duration
	logsInterval   time.Duration
	log            *zap.SugaredLogger
	now            func() time.Time
	chat           *chat.Session

	mu      sync.Mutex
	streams []model.Stream
	// starts counts start attempts per stream. Stop bumps it so a start
	// still in flight does not resume polling when it returns.
	starts    map[string]uint64
	detail    *detailState
	detailGen uint64
	closed    bool
	updates   chan struct{}
}

func New(opts Options) *Tracker {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sched := opts.Scheduler
	owns := false
	if sched == nil {
		sched = poller.New(poller.Options{Logger: log})
		owns = true
	}
	statusEvery := opts.StatusInterval
	if statusEvery <= 0 {
		statusEvery = 5 * time.Second
	}
	logsEvery := opts.LogsInterval
	if logsEvery <= 0 {
		logsEvery = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	t := &Tracker{
		backend:        opts.Backend,
		sched:          sched,
		ownsSched:      owns,
		statusInterval: statusEvery,
		logsInterval:   logsEvery,
		log:            log,
		now:            now,
		streams:        []model.Stream{},
		starts:         map[string]uint64{},
		updates:        make(chan struct{}, 1),
	}
	t.chat = chat.New(chat.Options{
		Scope:       chat.ScopeStream,
		Greeting:    Greeting,
		Logger:      log,
		Observer:    opts.Observer,
		FailureText: func(error) string { return ChatFailure },
		Ask: func(ctx context.Context, id, q string) (string, error) {
			return t.backend.AskStream(ctx, id, q)
		},
	})
	return t
}

// Refresh replaces the collection with the backend's list.
func (t *Tracker) Refresh(ctx context.Context) error {
	list, err := t.backend.Streams(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	out := make([]model.Stream, 0, len(list))
	for _, s := range list {
		out = append(out, withPlayback(s))
	}
	t.streams = out
	t.notifyLocked()
	return nil
}

// Register normalizes raw and registers a new stream. An empty name becomes
// "Stream <local time>".
func (t *Tracker) Register(ctx context.Context, name, raw string) (model.Stream, error) {
	if strings.TrimSpace(raw) == "" {
		return model.Stream{}, ErrEmptyURL
	}
	now := t.now()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Stream " + now.Format("15:04:05")
	}
	req := api.RegisterStreamRequest{
		Name:     name,
		IVSURL:   streamurl.Normalize(raw),
		StreamID: fmt.Sprintf("stream_%d", now.UnixMilli()),
	}
	t.log.Infow("registering stream", "stream_id", req.StreamID, "ivs_url", req.IVSURL)
	created, err := t.backend.RegisterStream(ctx, req)
	if err != nil {
		return model.Stream{}, fmt.Errorf("register stream: %w", err)
	}
	created = withPlayback(created)

	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexLocked(created.StreamID); i >= 0 {
		t.streams[i] = created
	} else {
		t.streams = append(t.streams, created)
	}
	t.notifyLocked()
	return created, nil
}

// Start asks the backend to begin processing id and, on success, polls its
// status until it stops.
func (t *Tracker) Start(ctx context.Context, id string) error {
	t.mu.Lock()
	i := t.indexLocked(id)
	if i < 0 {
		t.mu.Unlock()
		return ErrNotFound
	}
	if err := model.TransitionStream(&t.streams[i], model.StreamStarting); err != nil {
		t.mu.Unlock()
		return err
	}
	t.streams[i].Error = ""
	t.starts[id]++
	gen := t.starts[id]
	t.notifyLocked()
	t.mu.Unlock()

	err := t.backend.StartStream(ctx, id)

	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.notifyLocked()
	if t.starts[id] != gen {
		t.log.Infow("start superseded by stop", "stream_id", id, "error", err)
		// A failed stop leaves the stream starting with nothing to finish it.
		if i := t.indexLocked(id); i >= 0 && t.streams[i].Status == model.StreamStarting {
			_ = model.TransitionStream(&t.streams[i], model.StreamError)
			t.streams[i].Error = "start interrupted by stop"
			t.syncDetailLocked(t.streams[i])
		}
		return nil
	}
	i = t.indexLocked(id)
	if err != nil {
		t.log.Errorw("start stream failed", "stream_id", id, "error", err)
		if i >= 0 {
			_ = model.TransitionStream(&t.streams[i], model.StreamError)
			t.streams[i].Error = api.DetailOr(err, "Failed to start stream")
			t.syncDetailLocked(t.streams[i])
		}
		return fmt.Errorf("start stream %s: %w", id, err)
	}
	if i < 0 {
		return nil
	}
	if err := model.TransitionStream(&t.streams[i], model.StreamActive); err != nil {
		t.log.Warnw("stream changed while starting", "stream_id", id, "error", err)
		return nil
	}
	t.syncDetailLocked(t.streams[i])
	if !t.closed {
		t.sched.Every(poller.Key(LoopStatus, id), t.statusInterval, func(ctx context.Context) error {
			return t.pollStatus(ctx, id)
		})
	}
	t.log.Infow("stream started", "stream_id", id)
	return nil
}

// Stop cancels the status poll for id, then asks the backend to stop. The
// poll stays cancelled even when the call fails; the stream reverts to
// active with the error attached.
func (t *Tracker) Stop(ctx context.Context, id string) error {
	t.mu.Lock()
	t.sched.Cancel(poller.Key(LoopStatus, id))
	t.starts[id]++
	i := t.indexLocked(id)
	if i < 0 {
		t.mu.Unlock()
		return ErrNotFound
	}
	prev := t.streams[i].Status
	_ = model.TransitionStream(&t.streams[i], model.StreamStopping)
	t.notifyLocked()
	t.mu.Unlock()

	err := t.backend.StopStream(ctx, id)

	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.notifyLocked()
	i = t.indexLocked(id)
	if i < 0 {
		return err
	}
	if err != nil {
		t.log.Errorw("stop stream failed", "stream_id", id, "error", err)
		if t.streams[i].Status == model.StreamStopping {
			t.streams[i].Status = prev
		}
		t.streams[i].Error = api.DetailOr(err, "Failed to stop stream")
		t.syncDetailLocked(t.streams[i])
		return fmt.Errorf("stop stream %s: %w", id, err)
	}
	t.streams[i].Status = model.StreamInactive
	t.streams[i].Error = ""
	t.syncDetailLocked(t.streams[i])
	t.log.Infow("stream stopped", "stream_id", id)
	return nil
}

func (t *Tracker) pollStatus(ctx context.Context, id string) error {
	st, err := t.backend.StreamStatus(ctx, id)

	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil {
		return nil
	}
	i := t.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("status for %s: %w", id, poller.ErrStop)
	}
	if err != nil {
		if api.IsNotFound(err) {
			t.streams[i].Status = model.StreamError
			t.streams[i].Error = fmt.Sprintf("stream %s no longer exists on the backend", id)
			t.syncDetailLocked(t.streams[i])
			t.notifyLocked()
			return fmt.Errorf("status for %s: %w", id, poller.ErrStop)
		}
		return fmt.Errorf("status for %s: %w", id, err)
	}
	model.ApplyRemoteStatus(&t.streams[i], st)
	t.syncDetailLocked(t.streams[i])
	t.notifyLocked()
	if st.Status == model.StreamInactive {
		return fmt.Errorf("stream %s went inactive: %w", id, poller.ErrStop)
	}
	return nil
}

// OpenDetail loads id's record and logs and makes it the detail stream. An
// active stream gets a log refresh loop; any loop of a previous detail is
// cancelled. The stream chat restarts with a greeting when id changes.
func (t *Tracker) OpenDetail(ctx context.Context, id string) (Detail, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Detail{}, ErrClosed
	}
	t.closeDetailLocked()
	t.detailGen++
	gen := t.detailGen
	t.detail = &detailState{id: id, gen: gen}
	t.chat.Switch(id)
	t.mu.Unlock()

	rec, err := t.backend.Stream(ctx, id)
	if err != nil {
		t.mu.Lock()
		if t.detail != nil && t.detail.gen == gen {
			t.detail = nil
			t.chat.Switch("")
			t.notifyLocked()
		}
		t.mu.Unlock()
		return Detail{}, fmt.Errorf("open stream %s: %w", id, err)
	}
	logs, err := t.backend.StreamLogs(ctx, id)
	if err != nil {
		t.log.Warnw("stream logs unavailable", "stream_id", id, "error", err)
		logs = []model.LogEntry{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detail == nil || t.detail.gen != gen {
		return Detail{}, ErrNoDetail
	}
	rec = withPlayback(rec)
	if i := t.indexLocked(id); i >= 0 {
		rec.Error = t.streams[i].Error
		t.streams[i] = rec
	}
	t.detail.Stream = rec
	t.setLogsLocked(logs)
	t.detail.loaded = true
	if rec.Status == model.StreamActive {
		t.sched.Every(poller.Key(LoopLogs, id), t.logsInterval, func(ctx context.Context) error {
			return t.pollDetailLogs(ctx, id, gen)
		})
	}
	t.notifyLocked()
	return t.detailCopyLocked(), nil
}

func (t *Tracker) pollDetailLogs(ctx context.Context, id string, gen uint64) error {
	logs, err := t.backend.StreamLogs(ctx, id)

	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil || t.detail == nil || t.detail.gen != gen {
		return nil
	}
	if err != nil {
		if api.IsNotFound(err) {
			return fmt.Errorf("logs for %s: %w", id, poller.ErrStop)
		}
		return fmt.Errorf("logs for %s: %w", id, err)
	}
	t.setLogsLocked(logs)
	t.notifyLocked()
	return nil
}

// RefreshLogs fetches the detail stream's logs once, outside the loop.
func (t *Tracker) RefreshLogs(ctx context.Context) error {
	t.mu.Lock()
	if t.detail == nil {
		t.mu.Unlock()
		return ErrNoDetail
	}
	id, gen := t.detail.id, t.detail.gen
	t.mu.Unlock()

	logs, err := t.backend.StreamLogs(ctx, id)
	if err != nil {
		return fmt.Errorf("logs for %s: %w", id, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detail == nil || t.detail.gen != gen {
		return ErrNoDetail
	}
	t.setLogsLocked(logs)
	t.notifyLocked()
	return nil
}

// CloseDetail drops the detail view, its log loop and its chat history.
func (t *Tracker) CloseDetail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closeDetailLocked() {
		t.chat.Switch("")
		t.notifyLocked()
	}
}

func (t *Tracker) closeDetailLocked() bool {
	if t.detail == nil {
		return false
	}
	t.sched.Cancel(poller.Key(LoopLogs, t.detail.id))
	t.detail = nil
	return true
}

// UpdateURL normalizes raw, saves it on the backend and then updates the
// collection entry and the detail view together. It returns the saved URL.
func (t *Tracker) UpdateURL(ctx context.Context, id, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmptyURL
	}
	normalized := streamurl.Normalize(raw)
	if err := t.backend.UpdateStreamURL(ctx, id, normalized); err != nil {
		return "", fmt.Errorf("update stream %s: %w", id, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexLocked(id); i >= 0 {
		t.streams[i].IVSURL = normalized
		t.streams[i].PlaybackURL = normalized
	}
	if t.detail != nil && t.detail.id == id {
		t.detail.Stream.IVSURL = normalized
		t.detail.Stream.PlaybackURL = normalized
	}
	t.notifyLocked()
	return normalized, nil
}

// Delete removes id on the backend, then locally. Nothing changes locally
// when the backend refuses.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	if err := t.backend.DeleteStream(ctx, id); err != nil {
		t.log.Errorw("delete stream failed", "stream_id", id, "error", err)
		return fmt.Errorf("delete stream %s: %w", id, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sched.Cancel(poller.Key(LoopStatus, id))
	if i := t.indexLocked(id); i >= 0 {
		t.streams = append(t.streams[:i], t.streams[i+1:]...)
	}
	if t.detail != nil && t.detail.id == id {
		t.closeDetailLocked()
		t.chat.Switch("")
	}
	t.notifyLocked()
	return nil
}

// Ask sends question to the chat of stream id. The stream's status is not
// checked here.
func (t *Tracker) Ask(ctx context.Context, id, question string) (model.ChatMessage, error) {
	if t.chat.Target() != id {
		t.chat.Switch(id)
	}
	return t.chat.Ask(ctx, question)
}

// Streams returns a copy of the collection in backend order.
func (t *Tracker) Streams() []model.Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.Stream(nil), t.streams...)
}

// Get returns one stream from the collection.
func (t *Tracker) Get(id string) (model.Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexLocked(id); i >= 0 {
		return t.streams[i], true
	}
	return model.Stream{}, false
}

// Detail returns the open detail view, if one has finished loading.
func (t *Tracker) Detail() (Detail, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detail == nil || !t.detail.loaded {
		return Detail{}, false
	}
	return t.detailCopyLocked(), true
}

// Polling reports whether a status loop is running for id.
func (t *Tracker) Polling(id string) bool {
	return t.sched.Active(poller.Key(LoopStatus, id))
}

func (t *Tracker) Chat() *chat.Session { return t.chat }

func (t *Tracker) Updates() <-chan struct{} { return t.updates }

// Close cancels every loop the tracker started.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.closeDetailLocked()
	t.sched.CancelPrefix(LoopStatus + ":")
	t.mu.Unlock()

	if t.ownsSched {
		t.sched.CancelAll()
		t.sched.Wait()
	}
}

func (t *Tracker) setLogsLocked(logs []model.LogEntry) {
	t.detail.Logs = streamlog.SortNewestFirst(logs)
	t.detail.Metrics = streamlog.Extract(logs)
}

// syncDetailLocked copies status fields of rec into the detail view when it
// shows the same stream.
func (t *Tracker) syncDetailLocked(rec model.Stream) {
	if t.detail == nil || t.detail.id != rec.StreamID || !t.detail.loaded {
		return
	}
	t.detail.Stream.Status = rec.Status
	t.detail.Stream.ProcessingProgress = rec.ProcessingProgress
	t.detail.Stream.Error = rec.Error
}

func (t *Tracker) detailCopyLocked() Detail {
	d := t.detail.Detail
	d.Logs = append([]model.LogEntry(nil), d.Logs...)
	return d
}

func (t *Tracker) indexLocked(id string) int {
	for i := range t.streams {
		if t.streams[i].StreamID == id {
			return i
		}
	}
	return -1
}

func (t *Tracker) notifyLocked() {
	select {
	case t.updates <- struct{}{}:
	default:
	}
}

func withPlayback(s model.Stream) model.Stream {
	s.PlaybackURL = streamurl.Normalize(s.IVSURL)
	return s
}
