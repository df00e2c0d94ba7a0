package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"vidsight/internal/model"
	"vidsight/internal/streamtrack"
	"vidsight/internal/streamurl"
)

func runStreams(args []string) error {
	if len(args) == 0 {
		printStreamsUsage()
		return nil
	}
	switch args[0] {
	case "list":
		return runStreamsList(args[1:])
	case "register", "add":
		return runStreamsRegister(args[1:])
	case "start":
		return runStreamsToggle(args[1:], true)
	case "stop":
		return runStreamsToggle(args[1:], false)
	case "show":
		return runStreamsShow(args[1:])
	case "update-url":
		return runStreamsUpdateURL(args[1:])
	case "delete", "remove":
		return runStreamsDelete(args[1:])
	case "ask":
		return runStreamsAsk(args[1:])
	case "test-url":
		return runStreamsTestURL(args[1:])
	case "watch":
		return runStreamsWatch(args[1:])
	case "tui":
		return runStreamsTUI(args[1:])
	case "help", "-h", "--help":
		printStreamsUsage()
		return nil
	default:
		printStreamsUsage()
		return fmt.Errorf("unknown streams subcommand %q", args[0])
	}
}

func printStreamsUsage() {
	fmt.Println("vidsight streams: register and monitor live streams")
	fmt.Println()
	fmt.Println("  streams list                               list registered streams")
	fmt.Println("  streams register --url <raw> [--name <n>]  register a stream (URL is normalized)")
	fmt.Println("  streams start --id <stream>                start analysis")
	fmt.Println("  streams stop --id <stream>                 stop analysis")
	fmt.Println("  streams show --id <stream>                 status, metrics and recent logs")
	fmt.Println("  streams update-url --id <stream> --url <raw>")
	fmt.Println("  streams delete --id <stream>               delete a stream (asks unless --yes)")
	fmt.Println("  streams ask --id <stream> <text>           ask one question about a stream")
	fmt.Println("  streams test-url <raw>                     print the playback URL for raw")
	fmt.Println("  streams watch --id <stream>                follow logs and metrics until interrupted")
	fmt.Println("  streams tui                                interactive stream browser")
}

// withStreams opens the app, loads the stream collection and runs fn.
func withStreams(common commonFlags, fn func(ctx context.Context, a *app, tr *streamtrack.Tracker) error) error {
	a, err := openApp(common, false)
	if err != nil {
		return err
	}
	defer a.Close()
	tr := a.streamTracker()
	defer tr.Close()
	ctx, cancel := signalContext()
	defer cancel()
	if err := tr.Refresh(ctx); err != nil {
		return err
	}
	return fn(ctx, a, tr)
}

func runStreamsList(args []string) error {
	fs := flag.NewFlagSet("streams list", flag.ContinueOnError)
	common := addCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withStreams(common, func(_ context.Context, _ *app, tr *streamtrack.Tracker) error {
		streams := tr.Streams()
		if *jsonOut {
			return printJSON(map[string]any{"streams": streams})
		}
		if len(streams) == 0 {
			fmt.Println("no streams registered")
			return nil
		}
		for _, s := range streams {
			fmt.Println(describeStream(s))
		}
		return nil
	})
}

func runStreamsRegister(args []string) error {
	fs := flag.NewFlagSet("streams register", flag.ContinueOnError)
	common := addCommonFlags(fs)
	name := fs.String("name", "", "stream name (default: Stream <time>)")
	rawURL := fs.String("url", "", "playback URL, console link or channel ARN")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw := strings.TrimSpace(*rawURL)
	if raw == "" && fs.NArg() > 0 {
		raw = strings.TrimSpace(fs.Arg(0))
	}
	if raw == "" {
		var err error
		if raw, err = promptRequired("stream URL"); err != nil {
			return err
		}
	}
	return withStreams(common, func(ctx context.Context, _ *app, tr *streamtrack.Tracker) error {
		s, err := tr.Register(ctx, *name, raw)
		if err != nil {
			return err
		}
		if *jsonOut {
			return printJSON(s)
		}
		fmt.Printf("registered stream %s (%s)\n", s.StreamID, s.Name)
		fmt.Printf("playback: %s\n", s.PlaybackURL)
		return nil
	})
}

func runStreamsToggle(args []string, start bool) error {
	verb := "stop"
	if start {
		verb = "start"
	}
	fs := flag.NewFlagSet("streams "+verb, flag.ContinueOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "stream id")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	streamID, err := requireID(*id, fs.Args(), "stream")
	if err != nil {
		return err
	}
	return withStreams(common, func(ctx context.Context, _ *app, tr *streamtrack.Tracker) error {
		if start {
			err = tr.Start(ctx, streamID)
		} else {
			err = tr.Stop(ctx, streamID)
		}
		if errors.Is(err, streamtrack.ErrNotFound) {
			return fmt.Errorf("stream %s is not registered", streamID)
		}
		s, _ := tr.Get(streamID)
		if err != nil {
			if s.Error != "" {
				return fmt.Errorf("%s stream %s: %s", verb, streamID, s.Error)
			}
			return err
		}
		if *jsonOut {
			return printJSON(s)
		}
		fmt.Println(describeStream(s))
		return nil
	})
}

func runStreamsShow(args []string) error {
	fs := flag.NewFlagSet("streams show", flag.ContinueOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "stream id")
	maxLogs := fs.Int("logs", 10, "log lines to show (0 = all)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	streamID, err := requireID(*id, fs.Args(), "stream")
	if err != nil {
		return err
	}
	return withStreams(common, func(ctx context.Context, _ *app, tr *streamtrack.Tracker) error {
		d, err := tr.OpenDetail(ctx, streamID)
		if err != nil {
			return err
		}
		defer tr.CloseDetail()
		if *jsonOut {
			return printJSON(d)
		}
		for _, line := range streamDetailLines(d, *maxLogs) {
			fmt.Println(line)
		}
		return nil
	})
}

func runStreamsUpdateURL(args []string) error {
	fs := flag.NewFlagSet("streams update-url", flag.ContinueOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "stream id")
	rawURL := fs.String("url", "", "new playback URL, console link or channel ARN")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return errors.New("stream id is required (--id)")
	}
	if strings.TrimSpace(*rawURL) == "" {
		return streamtrack.ErrEmptyURL
	}
	return withStreams(common, func(ctx context.Context, _ *app, tr *streamtrack.Tracker) error {
		saved, err := tr.UpdateURL(ctx, strings.TrimSpace(*id), *rawURL)
		if err != nil {
			return err
		}
		fmt.Printf("updated stream %s: %s\n", strings.TrimSpace(*id), saved)
		return nil
	})
}

func runStreamsDelete(args []string) error {
	fs := flag.NewFlagSet("streams delete", flag.ContinueOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "stream id")
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	streamID, err := requireID(*id, fs.Args(), "stream")
	if err != nil {
		return err
	}
	if !*yes {
		ok, err := promptConfirm(fmt.Sprintf("Are you sure you want to delete stream %s? [y/N]: ", streamID))
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("delete cancelled")
		}
	}
	return withStreams(common, func(ctx context.Context, _ *app, tr *streamtrack.Tracker) error {
		if err := tr.Delete(ctx, streamID); err != nil {
			return err
		}
		fmt.Printf("deleted stream %s\n", streamID)
		return nil
	})
}

func runStreamsAsk(args []string) error {
	fs := flag.NewFlagSet("streams ask", flag.ContinueOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "stream id")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return errors.New("stream id is required (--id)")
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return errors.New("question is required")
	}
	return withStreams(common, func(ctx context.Context, _ *app, tr *streamtrack.Tracker) error {
		reply, err := tr.Ask(ctx, strings.TrimSpace(*id), question)
		if err != nil {
			return err
		}
		if *jsonOut {
			return printJSON(reply)
		}
		fmt.Println(reply.Text)
		return nil
	})
}

func runStreamsTestURL(args []string) error {
	fs := flag.NewFlagSet("streams test-url", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if raw == "" {
		return streamtrack.ErrEmptyURL
	}
	res := streamurl.Resolve(raw)
	if *jsonOut {
		return printJSON(map[string]any{"input": res.Input, "url": res.URL, "rule": res.Rule})
	}
	fmt.Printf("%s (%s)\n", res.URL, res.Rule)
	return nil
}

func runStreamsWatch(args []string) error {
	fs := flag.NewFlagSet("streams watch", flag.ContinueOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "stream id")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	streamID, err := requireID(*id, fs.Args(), "stream")
	if err != nil {
		return err
	}
	return withStreams(common, func(ctx context.Context, _ *app, tr *streamtrack.Tracker) error {
		d, err := tr.OpenDetail(ctx, streamID)
		if err != nil {
			return err
		}
		defer tr.CloseDetail()
		if d.Stream.Status != model.StreamActive {
			fmt.Printf("stream %s is %s; logs are not refreshed until it is started\n", streamID, d.Stream.Status)
		}
		followStreamDetail(ctx, tr, func(line string) { fmt.Println(line) })
		return nil
	})
}

// followStreamDetail emits new log lines and the metrics summary for every
// detail snapshot until ctx is cancelled or the detail closes.
func followStreamDetail(ctx context.Context, tr *streamtrack.Tracker, emit func(string)) {
	seen := map[string]bool{}
	for {
		d, ok := tr.Detail()
		if !ok {
			emit("stream detail closed")
			return
		}
		fresh := []model.LogEntry{}
		for _, e := range d.Logs {
			key := e.CreatedAt + "\x00" + e.Message
			if !seen[key] {
				seen[key] = true
				fresh = append(fresh, e)
			}
		}
		for i := len(fresh) - 1; i >= 0; i-- {
			emit(describeLogEntry(fresh[i]))
		}
		emit(fmt.Sprintf("[%s %d%%] %s", d.Stream.Status, d.Stream.ProcessingProgress, describeMetrics(d.Metrics)))

		select {
		case <-ctx.Done():
			return
		case <-tr.Updates():
		}
	}
}
