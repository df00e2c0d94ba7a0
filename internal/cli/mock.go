package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"vidsight/internal/config"
	"vidsight/internal/devserver"
	"vidsight/internal/logging"
)

func runServeMock(args []string) error {
	fs := flag.NewFlagSet("serve-mock", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:8000", "listen address")
	step := fs.Int("progress-step", 25, "analysis progress added per status read")
	token := fs.String("token", "", "require this bearer token")
	logLevel := fs.String("log-level", config.DefaultLogLevel, "log level: debug|info|warn|error")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	log, err := logging.New(logging.Options{Level: *logLevel})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	srv := devserver.New(devserver.Options{
		ProgressStep: *step,
		Token:        *token,
		Logger:       log.Named("mock"),
		AccessLog:    true,
	})
	ctx, cancel := signalContext()
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(*addr) }()
	fmt.Printf("mock backend listening on http://%s (ctrl+c to stop)\n", *addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}
