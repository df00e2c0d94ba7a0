package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"vidsight/internal/library"
	"vidsight/internal/model"
)

// jobProgress redraws one status line for a running job and prints new log
// lines above it.
type jobProgress struct {
	enabled bool
	out     io.Writer

	mu   sync.Mutex
	job  model.Job
	seen int

	stop chan struct{}
	once sync.Once
}

func newJobProgress(enabled bool) *jobProgress {
	return &jobProgress{
		enabled: enabled,
		out:     os.Stdout,
		job:     model.Job{State: model.JobIdle},
		stop:    make(chan struct{}),
	}
}

func (p *jobProgress) Start() {
	if !p.enabled {
		return
	}
	go func() {
		t := time.NewTicker(700 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-t.C:
				p.mu.Lock()
				fmt.Fprintf(p.out, "\r\033[2K%s", p.render())
				p.mu.Unlock()
			}
		}
	}()
}

func (p *jobProgress) Stop(final string) {
	if !p.enabled {
		return
	}
	p.once.Do(func() { close(p.stop) })
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\r\033[2K%s\n", final)
}

// Update records the latest snapshot and prints log lines not shown yet.
// A shorter snapshot than before means the backend replaced the log, so it
// is printed again from the top.
func (p *jobProgress) Update(job model.Job) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job = job
	if len(job.Logs) < p.seen {
		p.seen = 0
	}
	for _, line := range job.Logs[p.seen:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fmt.Fprintf(p.out, "\r\033[2K  | %s\n", line)
	}
	p.seen = len(job.Logs)
	fmt.Fprintf(p.out, "\r\033[2K%s", p.render())
}

func (p *jobProgress) render() string {
	j := p.job
	parts := []string{}
	if j.FileName != "" {
		parts = append(parts, j.FileName)
	}
	switch j.State {
	case model.JobUploading:
		parts = append(parts, fmt.Sprintf("uploading %3d%%", j.UploadProgress))
	case model.JobProcessing:
		parts = append(parts, "uploaded", fmt.Sprintf("processing %3d%%", j.ProcessingProgress))
		if j.Resumed {
			parts = append(parts, "(resumed)")
		}
	case model.JobComplete:
		parts = append(parts, "complete")
	case model.JobError:
		parts = append(parts, "error: "+j.Error)
	default:
		parts = append(parts, "starting")
	}
	if j.FileSize > 0 {
		parts = append(parts, "size "+library.FormatBytes(j.FileSize, 1))
	}
	return strings.Join(parts, "  ")
}
