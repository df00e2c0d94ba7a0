package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"vidsight/internal/api"
	"vidsight/internal/player"
)

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type doctorOptions struct {
	Binaries []string
	Display  func() bool
	Client   *api.Client
	Timeout  time.Duration
}

// doctor checks the player binaries, the display and the backend. Only one
// player binary has to be present.
func doctor(ctx context.Context, opts doctorOptions) DoctorResult {
	checks := make([]DoctorCheck, 0, len(opts.Binaries)+3)

	anyPlayer := false
	for _, dep := range player.DependencyStatus(opts.Binaries) {
		anyPlayer = anyPlayer || dep.Found
		checks = append(checks, DoctorCheck{
			Name:    "dependency:" + dep.Name,
			OK:      true,
			Message: dependencyMessage(dep),
		})
	}
	playerMsg := "no player binary found; watch will use the fallback embed page"
	if anyPlayer {
		playerMsg = "native playback available"
	}
	checks = append(checks, DoctorCheck{Name: "player", OK: anyPlayer, Message: playerMsg})

	display := opts.Display
	if display == nil {
		display = player.DisplayAvailable
	}
	displayOK := display()
	displayMsg := "display available"
	if !displayOK {
		displayMsg = "no DISPLAY or WAYLAND_DISPLAY; native playback is unsupported"
	}
	checks = append(checks, DoctorCheck{Name: "display", OK: displayOK, Message: displayMsg})

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	apiCheck := DoctorCheck{Name: "api", OK: true}
	if videos, err := opts.Client.Videos(reqCtx); err != nil {
		apiCheck.OK = false
		apiCheck.Message = fmt.Sprintf("%s unreachable: %v", opts.Client.BaseURL(), err)
	} else {
		apiCheck.Message = fmt.Sprintf("%s reachable (%d videos)", opts.Client.BaseURL(), len(videos))
	}
	checks = append(checks, apiCheck)

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}
}

func dependencyMessage(dep player.Dependency) string {
	if dep.Found {
		return dep.Path
	}
	return dep.Name + " not found in PATH"
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
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

	res := doctor(ctx, doctorOptions{
		Binaries: a.cfg.Player.Binaries,
		Client:   a.client,
	})
	if *jsonOut {
		return printJSON(res)
	}

	for _, c := range res.Checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s: %s (%s)\n", c.Name, status, c.Message)
	}
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("doctor: all checks passed")
	return nil
}
