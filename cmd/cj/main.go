package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudjanitor/cloudjanitor/cmd/cj/commands"
)

// Set via -ldflags "-X main.Version=..." at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	// An interrupt cancels the run; the report is still finished.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if ctx.Err() != nil {
		log.Warn().Msg("Interrupted")
	}
	stop()
	if err != nil {
		log.Error().Err(err).Msg("cj failed")
		os.Exit(1)
	}
}

// setupLogging configures the logger used until a run replaces it with the
// configured one. CJ_LOG_LEVEL overrides the level.
func setupLogging() {
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(os.Getenv("CJ_LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}
