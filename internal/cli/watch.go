package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"vidsight/internal/player"
	"vidsight/internal/streamurl"
)

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	common := addCommonFlags(fs)
	rawURL := fs.String("url", "", "stream URL, console link or channel ARN")
	streamID := fs.String("stream", "", "play a registered stream")
	fallback := fs.Bool("fallback", false, "skip the native player and serve the embed page")
	addr := fs.String("addr", "127.0.0.1:0", "listen address for the fallback embed page")
	retries := fs.Int("retries", 3, "automatic retries after a playback error")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw, id := strings.TrimSpace(*rawURL), strings.TrimSpace(*streamID)
	if (raw == "") == (id == "") {
		return errors.New("exactly one of --url or --stream is required")
	}

	a, err := openApp(common, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signalContext()
	defer cancel()

	title := "Stream Player Fallback"
	url := streamurl.Normalize(raw)
	if id != "" {
		s, err := a.client.Stream(ctx, id)
		if err != nil {
			return err
		}
		url = streamurl.Normalize(s.IVSURL)
		title = s.Name
	}
	if url == "" {
		return errors.New("stream URL is required")
	}

	loader := player.NewProcessLoader(player.ProcessOptions{
		Binaries: a.cfg.Player.Binaries,
		Args:     a.cfg.Player.Args,
		Logger:   a.log.Named("player"),
		Output: func(stream player.OutputStream, line string) {
			a.log.Debugw("player output", "stream", stream, "line", line)
		},
	})
	adapter := player.New(player.Options{
		Runtime:     player.Shared(loader),
		Scheduler:   a.sched,
		SoftTimeout: a.cfg.Player.SoftTimeout,
		RetryDelay:  a.cfg.Player.RetryDelay,
		Logger:      a.log.Named("player"),
		Observer:    a.metrics,
	})
	defer adapter.Close()

	switch {
	case *fallback:
		if err := adapter.UseFallback(); err != nil {
			return err
		}
	default:
		if err := adapter.Init(ctx); err != nil {
			fmt.Printf("native player unavailable: %v\n", err)
			_ = adapter.Retry()
		} else if err := adapter.Attach(url); err != nil && !errors.Is(err, player.ErrFallbackActive) {
			return err
		}
	}

	return followPlayer(ctx, adapter, *retries, func(st player.Status) error {
		return serveEmbed(ctx, *addr, title, url, adapter)
	})
}

// followPlayer prints every status change and retries retriable errors up to
// retries times. It calls onFallback once the adapter falls back and returns
// what it returns.
func followPlayer(ctx context.Context, adapter *player.Adapter, retries int, onFallback func(player.Status) error) error {
	var last player.Status
	for {
		st := adapter.Status()
		if st != last {
			fmt.Println(describePlayerStatus(st))
			last = st
		}
		switch st.State {
		case player.StateFallback:
			return onFallback(st)
		case player.StateError:
			if !st.Retriable {
				return nil
			}
			if retries <= 0 {
				return fmt.Errorf("playback failed: %s", st.Error)
			}
			retries--
			if err := adapter.Retry(); err != nil && !errors.Is(err, player.ErrFallbackActive) {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-adapter.Updates():
		}
	}
}

func describePlayerStatus(st player.Status) string {
	parts := []string{"player: " + string(st.State)}
	if st.Message != "" {
		parts = append(parts, st.Message)
	}
	if st.Error != "" {
		parts = append(parts, "error: "+st.Error)
	}
	return strings.Join(parts, "  ")
}

// newEmbedServer serves the fallback page at / and the adapter status at
// /status.
func newEmbedServer(title, url string, adapter *player.Adapter) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/", func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
		c.Response().WriteHeader(http.StatusOK)
		return player.RenderEmbed(c.Response(), title, url)
	})
	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, adapter.Status())
	})
	return e
}

func serveEmbed(ctx context.Context, addr, title, url string, adapter *player.Adapter) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	e := newEmbedServer(title, url, adapter)
	e.Listener = ln
	errc := make(chan error, 1)
	go func() { errc <- e.Start("") }()
	fmt.Printf("fallback player: open http://%s/ in a browser (ctrl+c to stop)\n", ln.Addr())

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
