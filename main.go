package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"wake_covid_scrape/internal/app"
	"wake_covid_scrape/internal/config"
	"wake_covid_scrape/internal/powerbi"
	"wake_covid_scrape/internal/state"

	"github.com/rs/zerolog/log"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitDegraded = 3
	exitLocked   = 4
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "\nScrape COVID19 data from the Wake county Power BI report\n"+
		"Usage:\n\twake_covid_scrape [%s]\n", strings.Join(powerbi.Modes, "|"))
}

// run returns the process exit code. The CLI takes one positional mode.
func run(args []string, stderr io.Writer) int {
	if len(args) != 1 {
		usage(stderr)
		return exitUsage
	}
	mode := args[0]
	if _, err := powerbi.Lookup(mode); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		usage(stderr)
		return exitUsage
	}

	app.SetupEnvironment()

	settings, err := config.Load(app.GetEnvWithDefault("CONFIG_PATH", "."))
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return exitFailure
	}
	q, err := settings.Query(mode)
	if err != nil {
		log.Error().Err(err).Msg("Invalid mode")
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := app.NewRunner(ctx, settings, q)
	if err != nil {
		if errors.Is(err, state.ErrLocked) {
			log.Error().Err(err).Msg("Another run is in progress")
			return exitLocked
		}
		log.Error().Err(err).Msg("Failed to initialize")
		return exitFailure
	}
	defer cleanup()

	report, err := runner.Run(ctx, q)
	if err != nil {
		log.Error().Err(err).Str("mode", mode).Msg("Scrape failed")
		return exitFailure
	}

	if report.Status != powerbi.StatusOK {
		log.Warn().
			Str("run_id", report.RunID).
			Str("status", report.Status.String()).
			Msg("Row recorded but fetch did not succeed")
		return exitDegraded
	}

	log.Info().Str("run_id", report.RunID).Str("mode", mode).Msg("Scrape complete")
	return exitOK
}
