package sheets

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/sheets/v4"
)

// Worksheet is one tab of a spreadsheet whose first row is a header.
type Worksheet struct {
	client        *Client
	spreadsheetID string
	title         string
	sheetID       int64
	columnCount   int64
}

func (c *Client) OpenWorksheet(ctx context.Context, spreadsheetID, title string) (*Worksheet, error) {
	props, err := c.SheetProperties(ctx, spreadsheetID, title)
	if err != nil {
		return nil, err
	}

	ws := &Worksheet{
		client:        c,
		spreadsheetID: spreadsheetID,
		title:         title,
		sheetID:       props.SheetId,
	}
	if props.GridProperties != nil {
		ws.columnCount = props.GridProperties.ColumnCount
	}

	log.Debug().
		Str("spreadsheet_id", spreadsheetID).
		Str("worksheet", title).
		Int64("sheet_id", ws.sheetID).
		Int64("columns", ws.columnCount).
		Msg("Opened worksheet")
	return ws, nil
}

func (w *Worksheet) Header(ctx context.Context) ([]string, error) {
	values, err := w.client.ReadSheet(ctx, w.spreadsheetID, quoteTitle(w.title)+"!1:1")
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	header := make([]string, len(values[0]))
	for i, v := range values[0] {
		header[i] = fmt.Sprintf("%v", v)
	}
	return header, nil
}

func (w *Worksheet) AppendRow(ctx context.Context, row []interface{}) error {
	if err := w.ensureColumns(ctx, len(row)); err != nil {
		return err
	}
	return w.client.AppendRows(ctx, w.spreadsheetID, quoteTitle(w.title)+"!A1", [][]interface{}{row})
}

func (w *Worksheet) SetHeader(ctx context.Context, header []string) error {
	if err := w.ensureColumns(ctx, len(header)); err != nil {
		return err
	}
	if err := w.client.InsertBlankRow(ctx, w.spreadsheetID, w.sheetID, 0); err != nil {
		return err
	}
	return w.client.UpdateRange(ctx, w.spreadsheetID, quoteTitle(w.title)+"!A1", [][]interface{}{stringsToValues(header)})
}

func (w *Worksheet) DeleteRow(ctx context.Context, index int) error {
	if index < 1 {
		return fmt.Errorf("invalid row index %d", index)
	}
	return w.client.DeleteRow(ctx, w.spreadsheetID, w.sheetID, int64(index-1))
}

func (w *Worksheet) FormatHeader(ctx context.Context) error {
	return w.client.FormatRowBold(ctx, w.spreadsheetID, w.sheetID, 0)
}

// UpsertRow rewrites the bold header and appends row in one batch update.
// The header goes first so that on an empty tab the append lands on row 2.
func (w *Worksheet) UpsertRow(ctx context.Context, header []string, row []interface{}) error {
	var requests []*sheets.Request

	width := int64(max(len(header), len(row)))
	if width > w.columnCount {
		requests = append(requests, w.appendColumnsRequest(width-w.columnCount))
	}

	requests = append(requests,
		&sheets.Request{
			UpdateCells: &sheets.UpdateCellsRequest{
				Start:  &sheets.GridCoordinate{SheetId: w.sheetID, ForceSendFields: []string{"SheetId", "RowIndex", "ColumnIndex"}},
				Rows:   []*sheets.RowData{toRowData(stringsToValues(header), boldFormat())},
				Fields: "userEnteredValue,userEnteredFormat.textFormat.bold",
			},
		},
		&sheets.Request{
			AppendCells: &sheets.AppendCellsRequest{
				SheetId:         w.sheetID,
				Rows:            []*sheets.RowData{toRowData(row, nil)},
				Fields:          "userEnteredValue",
				ForceSendFields: []string{"SheetId"},
			},
		},
	)

	if err := w.client.BatchUpdate(ctx, w.spreadsheetID, requests); err != nil {
		return err
	}
	if width > w.columnCount {
		w.columnCount = width
	}

	log.Debug().
		Str("worksheet", w.title).
		Int("columns", len(header)).
		Int("requests", len(requests)).
		Msg("Upserted row")
	return nil
}

func (w *Worksheet) ensureColumns(ctx context.Context, width int) error {
	if int64(width) <= w.columnCount {
		return nil
	}
	if err := w.client.BatchUpdate(ctx, w.spreadsheetID, []*sheets.Request{w.appendColumnsRequest(int64(width) - w.columnCount)}); err != nil {
		return err
	}
	w.columnCount = int64(width)
	return nil
}

func (w *Worksheet) appendColumnsRequest(n int64) *sheets.Request {
	return &sheets.Request{
		AppendDimension: &sheets.AppendDimensionRequest{
			SheetId:         w.sheetID,
			Dimension:       "COLUMNS",
			Length:          n,
			ForceSendFields: []string{"SheetId"},
		},
	}
}

func stringsToValues(names []string) []interface{} {
	out := make([]interface{}, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}
