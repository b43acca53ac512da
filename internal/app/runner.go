package app

import (
	"context"
	"fmt"
	"time"

	"wake_covid_scrape/internal/config"
	"wake_covid_scrape/internal/notifications"
	"wake_covid_scrape/internal/powerbi"
	"wake_covid_scrape/internal/scrape"
	"wake_covid_scrape/internal/sheets"
	"wake_covid_scrape/internal/sink"
	"wake_covid_scrape/internal/state"
	"wake_covid_scrape/internal/workbook"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Fetcher interface {
	Fetch(ctx context.Context, q powerbi.Query) (*powerbi.ScrapeResult, error)
}

// Runner drives one fetch-and-append cycle. Store and Notifier are optional.
type Runner struct {
	Fetcher      Fetcher
	Table        sink.Table
	Store        *state.Store
	Notifier     *notifications.Client
	FetchTimeout time.Duration
	SheetTimeout time.Duration
	Now          func() time.Time
}

type Report struct {
	RunID   string
	Status  powerbi.Status
	Outcome *sink.Outcome
}

// Run fetches q and appends the row. The returned error is set only when no
// row could be written; a failed fetch that was still recorded shows up in
// Report.Status.
func (r *Runner) Run(ctx context.Context, q powerbi.Query) (*Report, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	started := now()
	report := &Report{RunID: uuid.NewString()}
	logger := log.With().Str("run_id", report.RunID).Str("mode", q.Mode).Logger()
	ledger := state.Run{ID: report.RunID, Mode: q.Mode, StartedAt: started}

	logger.Info().Str("worksheet", q.Worksheet).Msg("Starting scrape")

	result, err := r.fetch(ctx, q)
	if err != nil {
		r.finish(ctx, q, ledger, now, err)
		return nil, err
	}
	report.Status = result.Status
	ledger.Status = result.Status.String()
	ledger.StatusCode = result.StatusCode
	ledger.Rows = len(result.Rows)

	logger.Info().
		Str("status", result.Status.String()).
		Int("status_code", result.StatusCode).
		Int("rows", len(result.Rows)).
		Msg("Fetched querydata")

	if r.Store != nil && len(result.Raw) > 0 {
		if err := r.Store.ArchiveRaw(report.RunID, result.Raw); err != nil {
			logger.Warn().Err(err).Msg("Failed to archive raw response")
		}
	}

	sheetCtx, cancel := withTimeout(ctx, r.SheetTimeout)
	defer cancel()
	outcome, err := sink.AppendRow(sheetCtx, r.Table, result, now())
	if err != nil {
		err = fmt.Errorf("failed to write row to %s: %w", q.Worksheet, err)
		r.finish(ctx, q, ledger, now, err)
		return nil, err
	}
	report.Outcome = outcome
	ledger.HeaderLen = len(outcome.Header)
	ledger.NewColumns = outcome.NewColumns

	r.checkHeader(q.Mode, outcome)

	logger.Info().
		Int("columns", len(outcome.Header)).
		Strs("new_columns", outcome.NewColumns).
		Bool("atomic", outcome.Atomic).
		Msg("Appended row")

	r.Notifier.NotifyNewColumns(ctx, q.Mode, q.Worksheet, scrape.CityColumns(outcome.NewColumns))

	var runErr error
	if !result.Success() {
		runErr = fmt.Errorf("fetch status %s (HTTP %d)", result.Status, result.StatusCode)
		if result.ParseErr != nil {
			runErr = fmt.Errorf("%w: %v", runErr, result.ParseErr)
		}
	}
	r.finish(ctx, q, ledger, now, runErr)

	return report, nil
}

func (r *Runner) fetch(ctx context.Context, q powerbi.Query) (*powerbi.ScrapeResult, error) {
	fetchCtx, cancel := withTimeout(ctx, r.FetchTimeout)
	defer cancel()

	result, err := r.Fetcher.Fetch(fetchCtx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", q.Mode, err)
	}
	return result, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// checkHeader compares the sheet header with the one this store last wrote
// and remembers the new one.
func (r *Runner) checkHeader(mode string, outcome *sink.Outcome) {
	if r.Store == nil {
		return
	}

	known, err := r.Store.KnownHeader(mode)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read known header")
	} else if len(known) > outcome.PrevLen {
		log.Warn().
			Int("known_columns", len(known)).
			Int("sheet_columns", outcome.PrevLen).
			Msg("Sheet header is shorter than the last header written; columns were removed outside this tool")
	}

	if err := r.Store.SaveHeader(mode, outcome.Header); err != nil {
		log.Warn().Err(err).Msg("Failed to save header")
	}
}

func (r *Runner) finish(ctx context.Context, q powerbi.Query, ledger state.Run, now func() time.Time, runErr error) {
	ledger.FinishedAt = now()
	if runErr != nil {
		ledger.Error = runErr.Error()
		if ledger.Status == "" {
			ledger.Status = "error"
		}
		r.Notifier.NotifyRunFailed(ctx, q.Mode, runErr)
	}

	if r.Store == nil {
		return
	}
	if err := r.Store.RecordRun(ledger); err != nil {
		log.Warn().Err(err).Str("run_id", ledger.ID).Msg("Failed to record run")
	}
}

// NewRunner wires the clients selected by settings. The returned cleanup
// releases the state lock and closes local files.
func NewRunner(ctx context.Context, settings config.Settings, q powerbi.Query) (*Runner, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("Cleanup failed")
			}
		}
	}

	runner := &Runner{
		Fetcher:      powerbi.NewClient(settings.Endpoint, settings.FetchTimeout),
		Notifier:     notifications.NewClient(settings.NtfyURL, settings.NtfyTopic, settings.NtfyEnabled, settings.NtfyPriority),
		FetchTimeout: settings.FetchTimeout,
		SheetTimeout: settings.SheetTimeout,
	}

	if settings.StateDir != "" {
		store, err := state.Open(settings.StateDir)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, store.Close)
		runner.Store = store
	}

	table, closeTable, err := openTable(ctx, settings, q)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	if closeTable != nil {
		closers = append(closers, closeTable)
	}
	runner.Table = table

	log.Debug().Str("sink", settings.Sink).Bool("state", runner.Store != nil).Msg("Runner initialized")
	return runner, cleanup, nil
}

func openTable(ctx context.Context, settings config.Settings, q powerbi.Query) (sink.Table, func() error, error) {
	switch settings.Sink {
	case config.SinkXLSX:
		wb, err := workbook.Open(settings.XLSXPath, q.Worksheet)
		if err != nil {
			return nil, nil, err
		}
		return wb, wb.Close, nil

	case config.SinkGoogleSheets:
		openCtx, cancel := withTimeout(ctx, settings.SheetTimeout)
		defer cancel()

		// the service keeps ctx for token refresh, so it must outlive openCtx
		client, err := sheets.NewClient(ctx, settings.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}

		spreadsheetID := settings.SpreadsheetID
		if spreadsheetID == "" {
			spreadsheetID, err = client.FindSpreadsheet(openCtx, settings.SpreadsheetName)
			if err != nil {
				return nil, nil, err
			}
			log.Debug().Str("spreadsheet_id", spreadsheetID).Str("title", settings.SpreadsheetName).Msg("Resolved spreadsheet")
		}

		ws, err := client.OpenWorksheet(openCtx, spreadsheetID, q.Worksheet)
		if err != nil {
			return nil, nil, err
		}
		return ws, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown sink %q", settings.Sink)
	}
}
