package workbook

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// Workbook stores one worksheet of a local .xlsx file. Every mutation is
// saved to disk before returning.
type Workbook struct {
	path   string
	sheet  string
	file   *excelize.File
	bold   int
	exists bool
}

// Open loads path, creating the file and sheet when missing.
func Open(path, sheet string) (*Workbook, error) {
	var f *excelize.File
	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		opened, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook: %w", err)
		}
		f = opened
	case errors.Is(statErr, os.ErrNotExist):
		f = excelize.NewFile()
		if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to name sheet: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to stat workbook: %w", statErr)
	}

	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to look up sheet: %w", err)
	}
	if idx == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet: %w", err)
		}
		log.Info().Str("path", path).Str("sheet", sheet).Msg("Created worksheet in workbook")
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	return &Workbook{path: path, sheet: sheet, file: f, bold: bold, exists: statErr == nil}, nil
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

// Rows returns every row as strings, header first.
func (w *Workbook) Rows() ([][]string, error) {
	rows, err := w.file.GetRows(w.sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rows, nil
}

func (w *Workbook) Header(ctx context.Context) ([]string, error) {
	rows, err := w.Rows()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (w *Workbook) AppendRow(ctx context.Context, row []interface{}) error {
	rows, err := w.Rows()
	if err != nil {
		return err
	}
	if err := w.writeRow(len(rows)+1, row); err != nil {
		return err
	}
	return w.save()
}

func (w *Workbook) SetHeader(ctx context.Context, header []string) error {
	if err := w.file.InsertRows(w.sheet, 1, 1); err != nil {
		return fmt.Errorf("failed to insert header row: %w", err)
	}
	if err := w.writeRow(1, toValues(header)); err != nil {
		return err
	}
	return w.save()
}

func (w *Workbook) DeleteRow(ctx context.Context, index int) error {
	if index < 1 {
		return fmt.Errorf("invalid row index %d", index)
	}
	if err := w.file.RemoveRow(w.sheet, index); err != nil {
		return fmt.Errorf("failed to remove row %d: %w", index, err)
	}
	return w.save()
}

func (w *Workbook) FormatHeader(ctx context.Context) error {
	if err := w.file.SetRowStyle(w.sheet, 1, 1, w.bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	return w.save()
}

// UpsertRow writes the row and the header, then saves the file once.
func (w *Workbook) UpsertRow(ctx context.Context, header []string, row []interface{}) error {
	rows, err := w.Rows()
	if err != nil {
		return err
	}

	next := len(rows) + 1
	if len(rows) == 0 {
		next = 2
	}
	if err := w.writeRow(next, row); err != nil {
		return err
	}
	if err := w.writeRow(1, toValues(header)); err != nil {
		return err
	}
	if err := w.file.SetRowStyle(w.sheet, 1, 1, w.bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	return w.save()
}

func (w *Workbook) writeRow(index int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, index)
	if err != nil {
		return fmt.Errorf("invalid row %d: %w", index, err)
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", index, err)
	}
	return nil
}

func (w *Workbook) save() error {
	var err error
	if w.exists {
		err = w.file.Save()
	} else {
		err = w.file.SaveAs(w.path)
		w.exists = err == nil
	}
	if err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func toValues(names []string) []interface{} {
	out := make([]interface{}, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}
