package scrape

import (
	"time"

	"wake_covid_scrape/internal/powerbi"

	"github.com/rs/zerolog/log"
)

// Sentinel marks a column that was not reported in a run.
const Sentinel = -1

// TimestampLayout renders the run time in the timestamp column.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Built is a row ready to persist together with the header it aligns to.
type Built struct {
	Row        []interface{}
	Header     *Header
	NewColumns []string
}

type pair struct {
	column string
	value  interface{}
	has    bool
}

// BuildRow lays out one run's values against header. The input header is
// not modified; unknown columns are appended to the returned copy and the
// row grows with it.
func BuildRow(header *Header, result *powerbi.ScrapeResult, now time.Time) Built {
	h := header.Clone()

	row := make([]interface{}, h.Len())
	for i := range row {
		row[i] = Sentinel
	}

	pairs := []pair{
		{ColTimestamp, now.Format(TimestampLayout), true},
		{ColSuccess, result.Success(), true},
		{ColDataTimestamp, result.DataTimestamp, true},
	}
	for _, r := range result.Rows {
		p := pair{column: r.City}
		if r.Value != nil {
			p.value = *r.Value
			p.has = true
		}
		pairs = append(pairs, p)
	}

	var added []string
	for _, p := range pairs {
		value := p.value
		if !p.has {
			value = Sentinel
		}

		idx, isNew := h.Add(p.column)
		if isNew {
			row = append(row, value)
			added = append(added, p.column)
			continue
		}
		row[idx] = value
	}

	if len(added) > 0 {
		log.Debug().Strs("columns", added).Msg("Header grew with new columns")
	}

	return Built{Row: row, Header: h, NewColumns: added}
}
