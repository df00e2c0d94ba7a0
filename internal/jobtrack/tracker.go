// Package jobtrack drives one upload-and-analyze job: the upload, the status
// and log poll loops, completion, and the job's chat.
package jobtrack

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"vidsight/internal/api"
	"vidsight/internal/chat"
	"vidsight/internal/model"
	"vidsight/internal/poller"
)

var (
	ErrNoFile = errors.New("no video file selected")
	ErrBusy   = errors.New("a job is already running; reset it first")
	ErrClosed = errors.New("job tracker is closed")
)

// Poll loop names, used as key prefixes and metric labels.
const (
	LoopStatus = "job_status"
	LoopLogs   = "job_logs"
)

const (
	Greeting          = "Hello! I can help analyze your video content. Upload a video to get started."
	NoticeStarted     = "Video upload and analysis started!"
	NoticeResumed     = "Resuming analysis from where it was interrupted."
	NoticeComplete    = "Video analysis complete! You can now chat with the AI about the video content."
	ChatFailure       = "Sorry, I could not process your request at this time."
	uploadFailed      = "Failed to upload video"
	uploadFailedReply = "Failed to upload and analyze video"
)

type Backend interface {
	UploadVideo(ctx context.Context, videoID, path string, progress api.ProgressFunc) (model.UploadResult, error)
	JobStatus(ctx context.Context, videoID string) (model.JobStatus, error)
	JobLogs(ctx context.Context, videoID string) ([]string, error)
	AskVideo(ctx context.Context, videoID, question string) (string, error)
}

type Metrics interface {
	chat.Observer
	UploadBytes(n int64)
}

type Options struct {
	Backend Backend
	// Scheduler is shared with other trackers when set; otherwise the
	// tracker owns one and tears it down on Close.
	Scheduler      *poller.Scheduler
	StatusInterval time.Duration
	LogsInterval   time.Duration
	Logger         *zap.SugaredLogger
	Metrics        Metrics
	Now            func() time.Time
	Rand           func(n int) int
}

type Tracker struct {
	backend        Backend
	sched          *poller.Scheduler
	ownsSched      bool
	statusInterval time.Duration
	logsInterval   time.Duration
	log            *zap.SugaredLogger
	metrics        Metrics
	now            func() time.Time
	rand           func(n int) int
	chat           *chat.Session

	mu           sync.Mutex
	job          model.Job
	gen          uint64
	used         map[string]bool
	cancelUpload context.CancelFunc
	closed       bool
	wg           sync.WaitGroup
	updates      chan struct{}
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
		logsEvery = 3 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.Intn
	}

	t := &Tracker{
		backend:        opts.Backend,
		sched:          sched,
		ownsSched:      owns,
		statusInterval: statusEvery,
		logsInterval:   logsEvery,
		log:            log,
		metrics:        opts.Metrics,
		now:            now,
		rand:           rnd,
		job:            model.Job{State: model.JobIdle, Logs: []string{}},
		used:           map[string]bool{},
		updates:        make(chan struct{}, 1),
	}
	var observer chat.Observer
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	t.chat = chat.New(chat.Options{
		Scope:       chat.ScopeJob,
		Greeting:    Greeting,
		Logger:      log,
		Observer:    observer,
		FailureText: func(error) string { return ChatFailure },
		Ask: func(ctx context.Context, id, q string) (string, error) {
			return t.backend.AskVideo(ctx, id, q)
		},
	})
	return t
}

// Select stages a local file for the next Submit.
func (t *Tracker) Select(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("select video %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("select video %s: is a directory", path)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.job.State != model.JobIdle {
		return ErrBusy
	}
	t.job.FilePath = path
	t.job.FileName = filepath.Base(path)
	t.job.FileSize = info.Size()
	t.notifyLocked()
	return nil
}

// Submit starts the upload of the selected file and returns the new job id.
// The upload runs in the background; watch Updates and Snapshot for
// progress.
func (t *Tracker) Submit(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.closed:
		return "", ErrClosed
	case t.job.State != model.JobIdle:
		return "", ErrBusy
	case t.job.FilePath == "":
		return "", ErrNoFile
	}

	id := t.newIDLocked()
	t.job.ID = id
	t.job.UploadProgress = 0
	t.job.ProcessingProgress = 0
	t.job.Logs = []string{}
	t.job.Error = ""
	t.job.Resumed = false
	t.job.HasData = false
	if err := model.TransitionJob(&t.job, model.JobUploading); err != nil {
		return "", err
	}
	t.chat.Bind(id)

	uploadCtx, cancel := context.WithCancel(ctx)
	t.cancelUpload = cancel
	gen := t.gen
	path := t.job.FilePath
	t.wg.Add(1)
	go t.upload(uploadCtx, gen, id, path)

	t.log.Infow("job submitted", "job_id", id, "file", path, "size", t.job.FileSize)
	t.notifyLocked()
	return id, nil
}

func (t *Tracker) upload(ctx context.Context, gen uint64, id, path string) {
	defer t.wg.Done()
	var lastSent int64
	res, err := t.backend.UploadVideo(ctx, id, path, func(sent, total int64) {
		if t.metrics != nil {
			t.metrics.UploadBytes(sent - lastSent)
		}
		lastSent = sent
		pct := 0
		if total > 0 {
			pct = int((sent*100 + total/2) / total)
		}
		t.mu.Lock()
		if gen == t.gen && t.job.UploadProgress != pct {
			t.job.UploadProgress = pct
			t.notifyLocked()
		}
		t.mu.Unlock()
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	t.cancelUpload = nil
	if err != nil {
		t.failLocked(err)
		return
	}

	_ = model.TransitionJob(&t.job, model.JobProcessing)
	t.job.UploadProgress = 100
	t.job.Resumed = res.Resumed
	t.chat.Notify(NoticeStarted)
	if res.Resumed {
		t.chat.Notify(NoticeResumed)
	}
	t.log.Infow("upload complete, analysis started", "job_id", id, "resumed", res.Resumed)

	t.sched.Every(poller.Key(LoopStatus, id), t.statusInterval, func(ctx context.Context) error {
		return t.pollStatus(ctx, id)
	})
	t.sched.Every(poller.Key(LoopLogs, id), t.logsInterval, func(ctx context.Context) error {
		return t.pollLogs(ctx, id)
	})
	t.notifyLocked()
}

func (t *Tracker) failLocked(err error) {
	t.log.Errorw("upload failed", "job_id", t.job.ID, "error", err)
	_ = model.TransitionJob(&t.job, model.JobError)
	t.job.Error = api.DetailOr(err, uploadFailed)
	t.chat.Notify("Error: " + api.DetailOr(err, uploadFailedReply))
	t.haltLocked(t.job.ID)
	t.notifyLocked()
}

func (t *Tracker) pollStatus(ctx context.Context, id string) error {
	st, err := t.backend.JobStatus(ctx, id)

	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil || t.job.ID != id {
		return nil
	}
	if err != nil {
		if api.IsNotFound(err) {
			_ = model.TransitionJob(&t.job, model.JobError)
			t.job.Error = fmt.Sprintf("video %s no longer exists on the backend", id)
			t.haltLocked(id)
			t.notifyLocked()
			return fmt.Errorf("status for %s: %w", id, poller.ErrStop)
		}
		return fmt.Errorf("status for %s: %w", id, err)
	}

	t.job.ProcessingProgress = st.Progress
	t.job.HasData = st.HasData
	if !st.Processing && st.HasData {
		_ = model.TransitionJob(&t.job, model.JobComplete)
		t.job.ProcessingProgress = 100
		t.haltLocked(id)
		t.chat.Notify(NoticeComplete)
		t.log.Infow("analysis complete", "job_id", id)
	}
	t.notifyLocked()
	return nil
}

func (t *Tracker) pollLogs(ctx context.Context, id string) error {
	lines, err := t.backend.JobLogs(ctx, id)

	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil || t.job.ID != id {
		return nil
	}
	if err != nil {
		if api.IsNotFound(err) {
			t.sched.Cancel(poller.Key(LoopLogs, id))
			return fmt.Errorf("logs for %s: %w", id, poller.ErrStop)
		}
		return fmt.Errorf("logs for %s: %w", id, err)
	}
	t.job.Logs = append([]string(nil), lines...)
	t.notifyLocked()
	return nil
}

// Reset abandons the current job: the upload and both poll loops are
// cancelled and the file, progress, logs and error are cleared. The chat
// history is kept, but questions are refused until the next Submit.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	t.notifyLocked()
}

func (t *Tracker) resetLocked() {
	t.gen++
	if t.cancelUpload != nil {
		t.cancelUpload()
		t.cancelUpload = nil
	}
	if t.job.ID != "" {
		t.haltLocked(t.job.ID)
	}
	t.job = model.Job{State: model.JobIdle, Logs: []string{}}
	t.chat.Bind("")
}

func (t *Tracker) haltLocked(id string) {
	t.sched.Halt(poller.Key(LoopStatus, id), poller.Key(LoopLogs, id))
}

// Ask sends a question about the current job to the chat.
func (t *Tracker) Ask(ctx context.Context, question string) (model.ChatMessage, error) {
	return t.chat.Ask(ctx, question)
}

// Close cancels everything the tracker started and waits for it to stop.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.resetLocked()
	t.mu.Unlock()

	if t.ownsSched {
		t.sched.CancelAll()
		t.sched.Wait()
	}
	t.wg.Wait()
}

// Snapshot returns a copy of the job.
func (t *Tracker) Snapshot() model.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	job := t.job
	job.Logs = append([]string(nil), t.job.Logs...)
	return job
}

func (t *Tracker) Chat() *chat.Session { return t.chat }

// Updates receives a value after any change to the job. Sends coalesce.
func (t *Tracker) Updates() <-chan struct{} { return t.updates }

func (t *Tracker) newIDLocked() string {
	ms := t.now().UnixMilli()
	n := t.rand(1000)
	for i := 0; ; i++ {
		id := fmt.Sprintf("video_%d_%d", ms+int64(i/1000), (n+i)%1000)
		if !t.used[id] {
			t.used[id] = true
			return id
		}
	}
}

func (t *Tracker) notifyLocked() {
	select {
	case t.updates <- struct{}{}:
	default:
	}
}
