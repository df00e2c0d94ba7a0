package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"vidsight/internal/library"
)

func runVideos(args []string) error {
	if len(args) == 0 {
		printVideosUsage()
		return nil
	}
	switch args[0] {
	case "list":
		return runVideosList(args[1:])
	case "show":
		return runVideosShow(args[1:], false)
	case "logs":
		return runVideosShow(args[1:], true)
	case "delete":
		return runVideosDelete(args[1:])
	case "ask":
		return runVideosAsk(args[1:])
	case "help", "-h", "--help":
		printVideosUsage()
		return nil
	default:
		printVideosUsage()
		return fmt.Errorf("unknown videos subcommand %q", args[0])
	}
}

func printVideosUsage() {
	fmt.Println("vidsight videos: browse analyzed videos")
	fmt.Println()
	fmt.Println("  videos list                      list uploaded videos")
	fmt.Println("  videos show --id <video>         details, confirmed alerts and recent logs")
	fmt.Println("  videos logs --id <video>         the analysis log")
	fmt.Println("  videos delete --id <video>       delete a video (asks unless --yes)")
	fmt.Println("  videos ask --id <video> <text>   ask one question about a video")
}

func (a *app) library() *library.Library {
	return library.New(library.Options{
		Backend:  a.client,
		Logger:   a.log.Named("library"),
		Observer: a.metrics,
	})
}

func runVideosList(args []string) error {
	fs := flag.NewFlagSet("videos list", flag.ContinueOnError)
	common := addCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := openApp(common, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signalContext()
	defer cancel()

	videos, err := a.library().List(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(map[string]any{"videos": videos})
	}
	if len(videos) == 0 {
		fmt.Println("no videos uploaded yet")
		return nil
	}
	for _, v := range videos {
		fmt.Println(describeVideo(v))
	}
	return nil
}

func runVideosShow(args []string, logsOnly bool) error {
	name := "videos show"
	if logsOnly {
		name = "videos logs"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "video id")
	maxLogs := fs.Int("logs", 10, "log lines to show (0 = all)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	videoID, err := requireID(*id, fs.Args(), "video")
	if err != nil {
		return err
	}
	a, err := openApp(common, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signalContext()
	defer cancel()

	lib := a.library()
	d, err := lib.Open(ctx, videoID)
	if err != nil {
		return err
	}
	defer lib.Close()

	if logsOnly {
		if *jsonOut {
			return printJSON(map[string]any{"video_id": videoID, "logs": d.Logs})
		}
		if len(d.Logs) == 0 {
			fmt.Println("no logs")
			return nil
		}
		for _, l := range d.Logs {
			fmt.Println(l)
		}
		return nil
	}
	if *jsonOut {
		return printJSON(d)
	}
	for _, line := range videoDetailLines(d, *maxLogs) {
		fmt.Println(line)
	}
	return nil
}

func runVideosDelete(args []string) error {
	fs := flag.NewFlagSet("videos delete", flag.ContinueOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "video id")
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	videoID, err := requireID(*id, fs.Args(), "video")
	if err != nil {
		return err
	}
	if !*yes {
		ok, err := promptConfirm(fmt.Sprintf("Are you sure you want to delete video %s? [y/N]: ", videoID))
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("delete cancelled")
		}
	}
	a, err := openApp(common, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signalContext()
	defer cancel()

	lib := a.library()
	if err := lib.Delete(ctx, videoID); err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(map[string]any{"deleted": videoID, "remaining": len(lib.Videos())})
	}
	fmt.Printf("deleted video %s\n", videoID)
	return nil
}

func runVideosAsk(args []string) error {
	fs := flag.NewFlagSet("videos ask", flag.ContinueOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "video id")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return errors.New("video id is required (--id)")
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return errors.New("question is required")
	}
	a, err := openApp(common, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signalContext()
	defer cancel()

	lib := a.library()
	if _, err := lib.Open(ctx, strings.TrimSpace(*id)); err != nil {
		return err
	}
	reply, err := lib.Ask(ctx, question)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(reply)
	}
	fmt.Println(reply.Text)
	return nil
}
