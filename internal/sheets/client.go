package sheets

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

type Client struct {
	service *sheets.Service
	drive   *drive.Service
}

func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	return newClient(ctx, option.WithCredentialsFile(credentialsFile))
}

func newClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	driveService, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &Client{
		service: service,
		drive:   driveService,
	}, nil
}

// FindSpreadsheet resolves a spreadsheet ID from its title. The service
// account must have been given access to the file.
func (c *Client) FindSpreadsheet(ctx context.Context, title string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		strings.ReplaceAll(title, "'", `\'`), spreadsheetMimeType)

	resp, err := c.drive.Files.List().
		Q(q).
		Fields("files(id, name)").
		PageSize(10).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to search spreadsheets: %w", err)
	}

	if len(resp.Files) == 0 {
		return "", fmt.Errorf("spreadsheet %q not found", title)
	}
	if len(resp.Files) > 1 {
		log.Warn().
			Str("title", title).
			Int("matches", len(resp.Files)).
			Msg("Multiple spreadsheets share this title; using the first")
	}
	return resp.Files[0].Id, nil
}

// SheetProperties returns the properties of the tab with the given title.
func (c *Client) SheetProperties(ctx context.Context, spreadsheetID, title string) (*sheets.SheetProperties, error) {
	resp, err := c.service.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read spreadsheet: %w", err)
	}

	for _, s := range resp.Sheets {
		if s.Properties != nil && s.Properties.Title == title {
			return s.Properties, nil
		}
	}
	return nil, fmt.Errorf("worksheet %q not found", title)
}

func (c *Client) ReadSheet(ctx context.Context, spreadsheetID, range_ string) ([][]interface{}, error) {
	resp, err := c.service.Spreadsheets.Values.Get(spreadsheetID, range_).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	return resp.Values, nil
}

func (c *Client) AppendRows(ctx context.Context, spreadsheetID, range_ string, rows [][]interface{}) error {
	valueRange := &sheets.ValueRange{
		Values: rows,
	}

	_, err := c.service.Spreadsheets.Values.Append(spreadsheetID, range_, valueRange).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append rows: %w", err)
	}

	return nil
}

func (c *Client) UpdateRange(ctx context.Context, spreadsheetID, range_ string, values [][]interface{}) error {
	valueRange := &sheets.ValueRange{
		Values: values,
	}

	_, err := c.service.Spreadsheets.Values.Update(spreadsheetID, range_, valueRange).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update range: %w", err)
	}

	return nil
}

// BatchUpdate applies requests in one call; the API applies all or none.
func (c *Client) BatchUpdate(ctx context.Context, spreadsheetID string, requests []*sheets.Request) error {
	_, err := c.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to batch update: %w", err)
	}

	return nil
}

// InsertBlankRow inserts an empty row at the zero-based index, shifting the
// rows below it down.
func (c *Client) InsertBlankRow(ctx context.Context, spreadsheetID string, sheetID, index int64) error {
	return c.BatchUpdate(ctx, spreadsheetID, []*sheets.Request{{
		InsertDimension: &sheets.InsertDimensionRequest{
			Range: rowRange(sheetID, index),
		},
	}})
}

// DeleteRow removes the row at the zero-based index.
func (c *Client) DeleteRow(ctx context.Context, spreadsheetID string, sheetID, index int64) error {
	return c.BatchUpdate(ctx, spreadsheetID, []*sheets.Request{{
		DeleteDimension: &sheets.DeleteDimensionRequest{
			Range: rowRange(sheetID, index),
		},
	}})
}

// FormatRowBold sets bold text on every cell of the zero-based row.
func (c *Client) FormatRowBold(ctx context.Context, spreadsheetID string, sheetID, index int64) error {
	return c.BatchUpdate(ctx, spreadsheetID, []*sheets.Request{boldRowRequest(sheetID, index)})
}

func rowRange(sheetID, index int64) *sheets.DimensionRange {
	return &sheets.DimensionRange{
		SheetId:         sheetID,
		Dimension:       "ROWS",
		StartIndex:      index,
		EndIndex:        index + 1,
		ForceSendFields: []string{"SheetId", "StartIndex"},
	}
}

func boldRowRequest(sheetID, index int64) *sheets.Request {
	return &sheets.Request{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:         sheetID,
				StartRowIndex:   index,
				EndRowIndex:     index + 1,
				ForceSendFields: []string{"SheetId", "StartRowIndex"},
			},
			Cell:   &sheets.CellData{UserEnteredFormat: boldFormat()},
			Fields: "userEnteredFormat.textFormat.bold",
		},
	}
}

func boldFormat() *sheets.CellFormat {
	return &sheets.CellFormat{TextFormat: &sheets.TextFormat{Bold: true}}
}

// toRowData converts plain values to typed cells. format, when set, is
// applied to every cell.
func toRowData(values []interface{}, format *sheets.CellFormat) *sheets.RowData {
	cells := make([]*sheets.CellData, len(values))
	for i, v := range values {
		cells[i] = &sheets.CellData{
			UserEnteredValue:  toExtendedValue(v),
			UserEnteredFormat: format,
		}
	}
	return &sheets.RowData{Values: cells}
}

func toExtendedValue(v interface{}) *sheets.ExtendedValue {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return &sheets.ExtendedValue{StringValue: &val}
	case bool:
		return &sheets.ExtendedValue{BoolValue: &val}
	case float64:
		return &sheets.ExtendedValue{NumberValue: &val}
	case int:
		f := float64(val)
		return &sheets.ExtendedValue{NumberValue: &f}
	case int64:
		f := float64(val)
		return &sheets.ExtendedValue{NumberValue: &f}
	default:
		s := fmt.Sprintf("%v", val)
		return &sheets.ExtendedValue{StringValue: &s}
	}
}

// quoteTitle quotes a worksheet title for A1 notation.
func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
