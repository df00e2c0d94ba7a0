package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"vidsight/internal/jobtrack"
	"vidsight/internal/model"
)

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	common := addCommonFlags(fs)
	file := fs.String("file", "", "video file to upload and analyze")
	openChat := fs.Bool("chat", false, "open the chat for the video once analysis completes")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := strings.TrimSpace(*file)
	if path == "" && fs.NArg() > 0 {
		path = strings.TrimSpace(fs.Arg(0))
	}
	if path == "" {
		return errors.New("--file is required")
	}
	if *openChat && *jsonOut {
		return errors.New("--chat cannot be combined with --json")
	}
	if *openChat && !stdinIsTTY() {
		return errors.New("--chat requires an interactive terminal (TTY)")
	}

	a, err := openApp(common, false)
	if err != nil {
		return err
	}
	defer a.Close()

	tracker := jobtrack.New(jobtrack.Options{
		Backend:        a.client,
		Scheduler:      a.sched,
		StatusInterval: a.cfg.Poll.JobStatus,
		LogsInterval:   a.cfg.Poll.JobLogs,
		Logger:         a.log.Named("job"),
		Metrics:        a.metrics,
	})
	defer tracker.Close()

	if err := tracker.Select(path); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	progress := newJobProgress(!*jsonOut)
	id, err := tracker.Submit(ctx)
	if err != nil {
		return err
	}
	progress.Start()
	job, err := followJob(ctx, tracker, progress)
	if err != nil {
		progress.Stop(fmt.Sprintf("analysis of %s interrupted", id))
		return err
	}

	if *jsonOut {
		if err := printJSON(job); err != nil {
			return err
		}
	}
	if job.State == model.JobError {
		progress.Stop(fmt.Sprintf("analysis of %s failed: %s", id, job.Error))
		return fmt.Errorf("analyze %s: %s", job.FileName, job.Error)
	}
	progress.Stop(fmt.Sprintf("analysis of %s complete (video id %s)", job.FileName, id))

	if *openChat {
		m := newChatModel(ctx, "Video "+id, tracker.Chat())
		return runProgram(m)
	}
	if !*jsonOut {
		fmt.Printf("chat with it: vidsight chat --video %s\n", id)
	}
	return nil
}

// followJob feeds snapshots to progress until the job completes, fails or
// ctx is cancelled.
func followJob(ctx context.Context, t *jobtrack.Tracker, progress *jobProgress) (model.Job, error) {
	for {
		job := t.Snapshot()
		progress.Update(job)
		switch job.State {
		case model.JobComplete, model.JobError:
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-t.Updates():
		}
	}
}
