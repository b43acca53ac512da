package sink

import (
	"context"
	"fmt"
	"time"

	"wake_covid_scrape/internal/powerbi"
	"wake_covid_scrape/internal/scrape"

	"github.com/rs/zerolog/log"
)

// Table is a worksheet whose first row is the header. Row indexes are 1-based.
type Table interface {
	Header(ctx context.Context) ([]string, error)
	AppendRow(ctx context.Context, row []interface{}) error
	// SetHeader inserts header as row 1, shifting existing rows down.
	SetHeader(ctx context.Context, header []string) error
	DeleteRow(ctx context.Context, index int) error
	FormatHeader(ctx context.Context) error
}

// Upserter is implemented by tables that can append a row and rewrite the
// header in a single mutation.
type Upserter interface {
	UpsertRow(ctx context.Context, header []string, row []interface{}) error
}

type Outcome struct {
	Row        []interface{}
	Header     []string
	NewColumns []string
	PrevLen    int
	Atomic     bool
}

// AppendRow records result as a new row of t, extending the header with any
// cities it has not seen before.
func AppendRow(ctx context.Context, t Table, result *powerbi.ScrapeResult, now time.Time) (*Outcome, error) {
	current, err := t.Header(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	log.Debug().Int("columns", len(current)).Msg("Read sheet header")

	built := scrape.BuildRow(scrape.NewHeader(current), result, now)
	out := &Outcome{
		Row:        built.Row,
		Header:     built.Header.Names(),
		NewColumns: built.NewColumns,
		PrevLen:    len(current),
	}

	if u, ok := t.(Upserter); ok {
		if err := u.UpsertRow(ctx, out.Header, out.Row); err != nil {
			return nil, fmt.Errorf("failed to upsert row: %w", err)
		}
		out.Atomic = true
		return out, nil
	}

	if err := persistSequence(ctx, t, out.Header, out.Row, len(current) > 0); err != nil {
		return nil, err
	}
	return out, nil
}

// persistSequence writes the row and header as separate calls. A failure part
// way leaves the table with a duplicated or stale header row.
func persistSequence(ctx context.Context, t Table, header []string, row []interface{}, hadHeader bool) error {
	if err := t.AppendRow(ctx, row); err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}
	if err := t.SetHeader(ctx, header); err != nil {
		return fmt.Errorf("failed to insert header: %w", err)
	}
	if hadHeader {
		if err := t.DeleteRow(ctx, 2); err != nil {
			return fmt.Errorf("failed to delete previous header: %w", err)
		}
	} else {
		// the data row landed in row 1 of the empty sheet and is now row 2
		log.Debug().Msg("Sheet had no header; skipping header removal")
	}
	if err := t.FormatHeader(ctx); err != nil {
		return fmt.Errorf("failed to format header: %w", err)
	}
	return nil
}
