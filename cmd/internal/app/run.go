package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/skinlink.
//
// Everything comes from SKINLINK_* environment variables; SKINLINK_LOG_LEVEL and
// SKINLINK_LOG_FORMAT pick the logger before anything else is built, so startup
// events such as credit.funding.missing use the chosen format. SIGINT or SIGTERM drains
// in-flight transfers before the stores close.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	cfg := LoadConfig()
	log := NewLoggerWithFormat(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
