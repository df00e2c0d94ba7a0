package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "analyze":
		return runAnalyze(args[1:])
	case "videos":
		return runVideos(args[1:])
	case "streams":
		return runStreams(args[1:])
	case "chat":
		return runChat(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "serve-mock":
		return runServeMock(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "settings":
		return runSettings(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("vidsight: upload videos and watch live streams for AI analysis")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  vidsight settings init")
	fmt.Println("  vidsight doctor")
	fmt.Println("  vidsight analyze --file <video>")
	fmt.Println("  vidsight streams register --url <playback url>")
	fmt.Println()
	fmt.Println("Video Commands:")
	fmt.Println("  analyze     upload a video and follow its analysis")
	fmt.Println("  videos      list, inspect, delete or ask about analyzed videos")
	fmt.Println("  chat        interactive chat about a video or a stream")
	fmt.Println()
	fmt.Println("Stream Commands:")
	fmt.Println("  streams     register, start, stop and monitor live streams")
	fmt.Println("  watch       play a stream (native player, embed page fallback)")
	fmt.Println()
	fmt.Println("Setup:")
	fmt.Println("  settings    show or create the config file")
	fmt.Println("  doctor      check player, display and backend reachability")
	fmt.Println("  serve-mock  run an in-memory backend for local testing")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - --api-url, VIDSIGHT_API_URL or api_url in config/vidsight.yaml select the backend")
}
