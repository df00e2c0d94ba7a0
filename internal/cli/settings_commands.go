package cli

import (
	"flag"
	"fmt"
	"strings"

	"vidsight/internal/config"
)

func runSettings(args []string) error {
	if len(args) == 0 {
		printSettingsUsage()
		return nil
	}
	switch args[0] {
	case "show":
		return runSettingsShow(args[1:])
	case "init":
		return runSettingsInit(args[1:])
	case "help", "-h", "--help":
		printSettingsUsage()
		return nil
	default:
		printSettingsUsage()
		return fmt.Errorf("unknown settings subcommand %q", args[0])
	}
}

func printSettingsUsage() {
	fmt.Println("vidsight settings: inspect or create the config file")
	fmt.Println()
	fmt.Println("  settings show [--json]    print the effective config (token redacted)")
	fmt.Println("  settings init [--force]   write the default config")
}

func runSettingsShow(args []string) error {
	fs := flag.NewFlagSet("settings show", flag.ContinueOnError)
	path := fs.String("config", config.DefaultPath, "config file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	config.LoadDotEnv()
	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	cfg = cfg.Redacted()
	if *jsonOut {
		return printJSON(map[string]any{
			"config_path": config.ResolvePath(*path),
			"config":      cfg,
		})
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("# config: %s\n", config.ResolvePath(*path))
	fmt.Print(string(data))
	return nil
}

func runSettingsInit(args []string) error {
	fs := flag.NewFlagSet("settings init", flag.ContinueOnError)
	path := fs.String("config", config.DefaultPath, "config file path")
	force := fs.Bool("force", false, "overwrite an existing config")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	written, err := config.Init(strings.TrimSpace(*path), *force)
	if err != nil {
		return err
	}
	fmt.Printf("wrote default config to %s\n", written)
	return nil
}
