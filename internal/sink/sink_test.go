package sink

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"wake_covid_scrape/internal/powerbi"
	"wake_covid_scrape/internal/scrape"
)

// memTable keeps rows in memory and mimics the worksheet row operations.
type memTable struct {
	rows      [][]interface{}
	formatted int
	failOn    string
}

func (m *memTable) Header(ctx context.Context) ([]string, error) {
	if len(m.rows) == 0 {
		return nil, nil
	}
	out := make([]string, len(m.rows[0]))
	for i, v := range m.rows[0] {
		out[i] = fmt.Sprintf("%v", v)
	}
	return out, nil
}

func (m *memTable) AppendRow(ctx context.Context, row []interface{}) error {
	if m.failOn == "append" {
		return errors.New("append failed")
	}
	m.rows = append(m.rows, row)
	return nil
}

func (m *memTable) SetHeader(ctx context.Context, header []string) error {
	if m.failOn == "header" {
		return errors.New("insert failed")
	}
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	m.rows = append([][]interface{}{row}, m.rows...)
	return nil
}

func (m *memTable) DeleteRow(ctx context.Context, index int) error {
	if m.failOn == "delete" {
		return errors.New("delete failed")
	}
	if index < 1 || index > len(m.rows) {
		return fmt.Errorf("row %d out of range", index)
	}
	m.rows = append(m.rows[:index-1], m.rows[index:]...)
	return nil
}

func (m *memTable) FormatHeader(ctx context.Context) error {
	m.formatted++
	return nil
}

// upsertTable records upserts instead of the individual row operations.
type upsertTable struct {
	memTable
	upserts int
}

func (u *upsertTable) UpsertRow(ctx context.Context, header []string, row []interface{}) error {
	u.upserts++
	h := make([]interface{}, len(header))
	for i, name := range header {
		h[i] = name
	}
	if len(u.rows) == 0 {
		u.rows = append(u.rows, h)
	} else {
		u.rows[0] = h
	}
	u.rows = append(u.rows, row)
	return nil
}

func value(v float64) *float64 { return &v }

func okResult(rows ...powerbi.CityValue) *powerbi.ScrapeResult {
	return &powerbi.ScrapeResult{Status: powerbi.StatusOK, StatusCode: 200, Rows: rows}
}

func headerRow(names ...string) []interface{} {
	row := make([]interface{}, len(names))
	for i, n := range names {
		row[i] = n
	}
	return row
}

var now = time.Date(2020, 5, 1, 8, 0, 0, 0, time.UTC)

func TestAppendRowGrowsHeader(t *testing.T) {
	ctx := context.Background()
	table := &memTable{rows: [][]interface{}{
		headerRow(scrape.ColTimestamp, scrape.ColSuccess, scrape.ColDataTimestamp, "Raleigh"),
	}}

	out, err := AppendRow(ctx, table, okResult(
		powerbi.CityValue{City: "Raleigh", Value: value(42)},
		powerbi.CityValue{City: "Cary", Value: value(7)},
	), now)
	if err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}

	if len(table.rows) != 2 {
		t.Fatalf("Expected header + 1 row, got %d rows", len(table.rows))
	}
	wantHeader := headerRow(scrape.ColTimestamp, scrape.ColSuccess, scrape.ColDataTimestamp, "Raleigh", "Cary")
	if !reflect.DeepEqual(table.rows[0], wantHeader) {
		t.Errorf("Expected header %v, got %v", wantHeader, table.rows[0])
	}
	wantRow := []interface{}{"2020-05-01 08:00:00.000000", true, "", float64(42), float64(7)}
	if !reflect.DeepEqual(table.rows[1], wantRow) {
		t.Errorf("Expected row %v, got %v", wantRow, table.rows[1])
	}
	if table.formatted != 1 {
		t.Errorf("Expected header formatted once, got %d", table.formatted)
	}
	if out.Atomic {
		t.Error("memTable has no upsert; outcome must not be atomic")
	}
	if out.PrevLen != 4 {
		t.Errorf("Expected previous header length 4, got %d", out.PrevLen)
	}
}

func TestAppendRowRowCount(t *testing.T) {
	ctx := context.Background()
	table := &memTable{rows: [][]interface{}{
		headerRow(scrape.ColTimestamp, scrape.ColSuccess, scrape.ColDataTimestamp, "Apex"),
	}}

	prevLen := 4
	for n := 1; n <= 5; n++ {
		if _, err := AppendRow(ctx, table, okResult(powerbi.CityValue{City: "Apex", Value: value(float64(n))}), now); err != nil {
			t.Fatalf("Run %d: %v", n, err)
		}
		if len(table.rows) != n+1 {
			t.Fatalf("After %d runs expected %d rows, got %d", n, n+1, len(table.rows))
		}
		if len(table.rows[0]) < prevLen {
			t.Fatalf("Header shrank from %d to %d", prevLen, len(table.rows[0]))
		}
		prevLen = len(table.rows[0])
	}
}

func TestAppendRowEmptySheet(t *testing.T) {
	ctx := context.Background()
	table := &memTable{}

	if _, err := AppendRow(ctx, table, okResult(powerbi.CityValue{City: "Apex", Value: value(1)}), now); err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}

	if len(table.rows) != 2 {
		t.Fatalf("Expected header + data row, got %d rows", len(table.rows))
	}
	if table.rows[0][0] != scrape.ColTimestamp {
		t.Errorf("Expected header in row 1, got %v", table.rows[0])
	}
	if table.rows[1][3] != float64(1) {
		t.Errorf("Expected data row preserved, got %v", table.rows[1])
	}
}

func TestAppendRowTwiceKeepsSingleColumnPerCity(t *testing.T) {
	ctx := context.Background()
	table := &memTable{rows: [][]interface{}{
		headerRow(scrape.ColTimestamp, scrape.ColSuccess, scrape.ColDataTimestamp),
	}}
	result := okResult(
		powerbi.CityValue{City: "Cary", Value: value(10)},
		powerbi.CityValue{City: "Fuquay-Varina", Value: value(3)},
	)

	for i := 0; i < 2; i++ {
		if _, err := AppendRow(ctx, table, result, now); err != nil {
			t.Fatalf("AppendRow failed: %v", err)
		}
	}

	if len(table.rows[0]) != 5 {
		t.Errorf("Expected 5 header columns, got %v", table.rows[0])
	}
	if len(table.rows) != 3 {
		t.Errorf("Expected 3 rows, got %d", len(table.rows))
	}
}

func TestAppendRowFailedFetch(t *testing.T) {
	ctx := context.Background()
	table := &memTable{rows: [][]interface{}{
		headerRow(scrape.ColTimestamp, scrape.ColSuccess, scrape.ColDataTimestamp, "Apex", "Cary"),
	}}
	result := &powerbi.ScrapeResult{Status: powerbi.StatusParseError, StatusCode: 200}

	if _, err := AppendRow(ctx, table, result, now); err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}

	row := table.rows[1]
	if row[1] != false {
		t.Errorf("Expected success=false, got %v", row[1])
	}
	if row[3] != scrape.Sentinel || row[4] != scrape.Sentinel {
		t.Errorf("Expected sentinels for city columns, got %v", row)
	}
}

// The row-by-row sequence is not atomic: a failed delete leaves both the
// new and the old header in the sheet.
func TestAppendRowPartialFailureLeavesDuplicateHeader(t *testing.T) {
	ctx := context.Background()
	table := &memTable{
		rows:   [][]interface{}{headerRow(scrape.ColTimestamp, scrape.ColSuccess, scrape.ColDataTimestamp)},
		failOn: "delete",
	}

	_, err := AppendRow(ctx, table, okResult(powerbi.CityValue{City: "Apex", Value: value(1)}), now)
	if err == nil {
		t.Fatal("Expected delete failure to surface")
	}

	if len(table.rows) != 3 {
		t.Fatalf("Expected new header, old header and data row, got %d rows", len(table.rows))
	}
	if table.rows[1][0] != scrape.ColTimestamp {
		t.Errorf("Expected stale header in row 2, got %v", table.rows[1])
	}
}

func TestAppendRowPrefersUpsert(t *testing.T) {
	ctx := context.Background()
	table := &upsertTable{memTable: memTable{
		rows: [][]interface{}{headerRow(scrape.ColTimestamp, scrape.ColSuccess, scrape.ColDataTimestamp)},
	}}

	out, err := AppendRow(ctx, table, okResult(powerbi.CityValue{City: "Holly Springs", Value: value(9)}), now)
	if err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}

	if !out.Atomic || table.upserts != 1 {
		t.Errorf("Expected a single upsert, got atomic=%v upserts=%d", out.Atomic, table.upserts)
	}
	if table.formatted != 0 {
		t.Error("Upsert path must not issue separate format calls")
	}
	if len(table.rows) != 2 || len(table.rows[0]) != 4 {
		t.Errorf("Unexpected table state: %v", table.rows)
	}
}
