// Package library browses videos that were already uploaded: the list, one
// video opened in detail, its dialog chat, and deletion.
package library

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"vidsight/internal/api"
	"vidsight/internal/chat"
	"vidsight/internal/model"
)

var ErrNoDetail = errors.New("no video is open")

const chatFailure = "Failed to get a response for this video."

type Backend interface {
	Videos(ctx context.Context) ([]model.VideoSummary, error)
	VideoDetails(ctx context.Context, videoID string) (model.VideoDetails, error)
	JobLogs(ctx context.Context, videoID string) ([]string, error)
	DeleteVideo(ctx context.Context, videoID string) error
	AskVideo(ctx context.Context, videoID, question string) (string, error)
}

type Options struct {
	Backend  Backend
	Logger   *zap.SugaredLogger
	Observer chat.Observer
}

// Detail is the video opened in the dialog.
type Detail struct {
	Details model.VideoDetails `json:"details"`
	Logs    []string           `json:"logs"`
}

type Library struct {
	backend Backend
	log     *zap.SugaredLogger
	chat    *chat.Session

	mu      sync.Mutex
	videos  []model.VideoSummary
	openID  string
	openGen uint64
	detail  *Detail
	updates chan struct{}
}

func New(opts Options) *Library {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	l := &Library{
		backend: opts.Backend,
		log:     log,
		videos:  []model.VideoSummary{},
		updates: make(chan struct{}, 1),
	}
	l.chat = chat.New(chat.Options{
		Scope:    chat.ScopeVideo,
		Logger:   log,
		Observer: opts.Observer,
		FailureText: func(err error) string {
			return api.DetailOr(err, chatFailure)
		},
		Ask: func(ctx context.Context, id, q string) (string, error) {
			return l.backend.AskVideo(ctx, id, q)
		},
	})
	return l
}

// List fetches the uploaded videos and keeps them as the current list.
func (l *Library) List(ctx context.Context) ([]model.VideoSummary, error) {
	videos, err := l.backend.Videos(ctx)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.videos = append([]model.VideoSummary{}, videos...)
	l.notifyLocked()
	return append([]model.VideoSummary(nil), l.videos...), nil
}

func (l *Library) Videos() []model.VideoSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.VideoSummary(nil), l.videos...)
}

// Open loads the details and logs of id and starts a fresh dialog chat for
// it. Missing logs are not an error.
func (l *Library) Open(ctx context.Context, id string) (Detail, error) {
	l.mu.Lock()
	l.openGen++
	gen := l.openGen
	l.openID = id
	l.detail = nil
	l.chat.Bind(id)
	l.chat.Clear()
	l.mu.Unlock()

	details, err := l.backend.VideoDetails(ctx, id)
	if err != nil {
		l.log.Errorw("load video details failed", "video_id", id, "error", err)
		l.mu.Lock()
		if l.openGen == gen {
			l.openID = ""
			l.chat.Switch("")
		}
		l.mu.Unlock()
		return Detail{}, fmt.Errorf("load video %s: %w", id, err)
	}
	logs, err := l.backend.JobLogs(ctx, id)
	if err != nil {
		l.log.Warnw("video logs unavailable", "video_id", id, "error", err)
		logs = []string{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openGen != gen {
		return Detail{}, ErrNoDetail
	}
	l.detail = &Detail{Details: details, Logs: logs}
	l.notifyLocked()
	return l.copyLocked(), nil
}

// Detail returns the open video, if it has loaded.
func (l *Library) Detail() (Detail, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detail == nil {
		return Detail{}, false
	}
	return l.copyLocked(), true
}

// Close releases the detail view and its chat.
func (l *Library) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
	l.notifyLocked()
}

func (l *Library) closeLocked() {
	l.openGen++
	l.openID = ""
	l.detail = nil
	l.chat.Switch("")
}

// Delete removes id on the backend and, once confirmed, closes its detail
// view and reloads the list.
func (l *Library) Delete(ctx context.Context, id string) error {
	if err := l.backend.DeleteVideo(ctx, id); err != nil {
		l.log.Errorw("delete video failed", "video_id", id, "error", err)
		return fmt.Errorf("delete video %s: %w", id, err)
	}
	l.mu.Lock()
	if l.openID == id {
		l.closeLocked()
	}
	l.mu.Unlock()
	_, err := l.List(ctx)
	return err
}

// Ask sends question to the dialog chat of the open video.
func (l *Library) Ask(ctx context.Context, question string) (model.ChatMessage, error) {
	l.mu.Lock()
	open := l.openID != ""
	l.mu.Unlock()
	if !open {
		return model.ChatMessage{}, ErrNoDetail
	}
	return l.chat.Ask(ctx, question)
}

func (l *Library) Chat() *chat.Session { return l.chat }

func (l *Library) Updates() <-chan struct{} { return l.updates }

func (l *Library) copyLocked() Detail {
	d := *l.detail
	d.Logs = append([]string(nil), d.Logs...)
	d.Details.Alerts = append([]model.Alert(nil), d.Details.Alerts...)
	return d
}

func (l *Library) notifyLocked() {
	select {
	case l.updates <- struct{}{}:
	default:
	}
}

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatBytes renders n in binary units with at most decimals fraction
// digits and no trailing zeros, e.g. 1536 -> "1.5 KB".
func FormatBytes(n int64, decimals int) string {
	if n <= 0 {
		return "0 Bytes"
	}
	if decimals < 0 {
		decimals = 0
	}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	if i >= len(byteUnits) {
		i = len(byteUnits) - 1
	}
	scale := math.Pow(10, float64(decimals))
	v := math.Round(float64(n)/math.Pow(1024, float64(i))*scale) / scale
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + byteUnits[i]
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) {
		return "0:00"
	}
	total := int64(math.Floor(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// FormatAlertTime renders an alert offset as m:ss.
func FormatAlertTime(ts *float64) string {
	if ts == nil || *ts <= 0 {
		return "Unknown time"
	}
	return FormatDuration(*ts)
}
