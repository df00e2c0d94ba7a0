package model

import (
	"strings"
	"time"
)

// Job is one upload-and-analyze unit of work tracked client-side.
type Job struct {
	ID                 string   `json:"id,omitempty"`
	FilePath           string   `json:"file_path,omitempty"`
	FileName           string   `json:"file_name,omitempty"`
	FileSize           int64    `json:"file_size,omitempty"`
	State              JobState `json:"state"`
	UploadProgress     int      `json:"upload_progress"`
	ProcessingProgress int      `json:"processing_progress"`
	Resumed            bool     `json:"resumed,omitempty"`
	HasData            bool     `json:"has_data,omitempty"`
	Logs               []string `json:"logs"`
	Error              string   `json:"error,omitempty"`
}

// JobStatus is the backend's view of a job's analysis.
type JobStatus struct {
	Processing bool `json:"processing"`
	Progress   int  `json:"progress"`
	HasData    bool `json:"has_data"`
}

// UploadResult is returned by the upload+analyze endpoint.
type UploadResult struct {
	Resumed bool `json:"resumed"`
}

type Stream struct {
	StreamID           string      `json:"stream_id"`
	Name               string      `json:"name"`
	IVSURL             string      `json:"ivs_url"`
	PlaybackURL        string      `json:"-"`
	Status             StreamState `json:"status"`
	ProcessingProgress int         `json:"processing_progress"`
	AlertCount         int         `json:"alert_count"`
	CreatedAt          string      `json:"created_at,omitempty"`
	Error              string      `json:"-"`
}

// StreamStatus is the payload of the stream status poll.
type StreamStatus struct {
	Status   StreamState `json:"status"`
	Progress int         `json:"progress"`
}

// LogEntry is one stream log line. CreatedAt is kept verbatim; use Time to parse it.
type LogEntry struct {
	CreatedAt string `json:"created_at"`
	Message   string `json:"message"`
	LogType   string `json:"log_type,omitempty"`
	FrameID   *int   `json:"frame_id,omitempty"`
}

const (
	LogTypeError   = "error"
	LogTypeWarning = "warning"
	LogTypeInfo    = "info"
)

var logTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// Time parses CreatedAt. Naive timestamps are read as UTC.
func (e LogEntry) Time() (time.Time, bool) {
	raw := strings.TrimSpace(e.CreatedAt)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range logTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

type ChatMessage struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// StreamMetrics is a summary recomputed from a stream's log snapshot.
type StreamMetrics struct {
	TotalLogs         int        `json:"totalLogs"`
	ErrorCount        int        `json:"errorCount"`
	WarningCount      int        `json:"warningCount"`
	FramesProcessed   int        `json:"framesProcessed"`
	LastProcessedTime *time.Time `json:"lastProcessedTime"`
	RecentActivity    *string    `json:"recentActivity"`
}

type VideoSummary struct {
	VideoID    string `json:"video_id"`
	Filename   string `json:"filename,omitempty"`
	Status     string `json:"status,omitempty"`
	AlertCount int    `json:"alert_count,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

type VideoDetails struct {
	VideoID         string  `json:"video_id"`
	Filename        string  `json:"filename,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Resolution      string  `json:"resolution"`
	SizeBytes       int64   `json:"size_bytes"`
	AlertCount      int     `json:"alert_count"`
	Status          string  `json:"status"`
	VideoURL        string  `json:"video_url,omitempty"`
	ThumbnailURL    string  `json:"thumbnail_url,omitempty"`
	Alerts          []Alert `json:"alerts"`
	CreatedAt       string  `json:"created_at"`
}

// ConfirmedAlerts returns the alerts the backend marked as confirmed.
func (d VideoDetails) ConfirmedAlerts() []Alert {
	out := []Alert{}
	for _, a := range d.Alerts {
		if a.IsConfirmedAlert {
			out = append(out, a)
		}
	}
	return out
}

// Alert is reported by the backend. Timestamp is seconds into the video.
type Alert struct {
	ID               string   `json:"id,omitempty"`
	Description      string   `json:"description"`
	FrameID          *int     `json:"frame_id,omitempty"`
	Timestamp        *float64 `json:"timestamp,omitempty"`
	IsConfirmedAlert bool     `json:"is_confirmed_alert"`
}
