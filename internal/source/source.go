// Package source loads spreadsheet workbooks and turns their sheets into
// raw records for the import pipeline.
package source

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sahel-hr/import-cli/internal/model"
	"github.com/sahel-hr/import-cli/internal/normalize"
)

// sampleRowLimit caps the rows shipped to the classification oracle per sheet.
const sampleRowLimit = 3

// Sheet is one parsed worksheet: slugged headers plus raw string rows.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// Workbook is one loaded spreadsheet file.
type Workbook struct {
	Path    string
	Name    string // base file name, used in source references
	ModTime time.Time
	Sheets  []Sheet
}

// Load opens every workbook path, a few in parallel. Output order follows the
// argument order regardless of which file finishes first. The file's
// modification time stands in for ingestion time, so recency comparisons track
// when the export was produced.
func Load(paths []string) ([]Workbook, error) {
	workbooks := make([]Workbook, len(paths))
	g := new(errgroup.Group)
	g.SetLimit(4)
	for i, path := range paths {
		g.Go(func() error {
			wb, err := loadOne(path)
			if err != nil {
				return err
			}
			workbooks[i] = wb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return workbooks, nil
}

func loadOne(path string) (Workbook, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Workbook{}, eris.Wrap(err, "source: stat workbook")
	}

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return Workbook{}, eris.Wrap(err, "source: open workbook")
	}

	wb := Workbook{
		Path:    path,
		Name:    filepath.Base(path),
		ModTime: info.ModTime(),
	}
	for _, sheet := range f.Sheets {
		parsed, ok := parseSheet(sheet)
		if !ok {
			zap.L().Debug("source: skipping empty sheet",
				zap.String("file", wb.Name),
				zap.String("sheet", sheet.Name),
			)
			continue
		}
		wb.Sheets = append(wb.Sheets, parsed)
	}
	if len(wb.Sheets) == 0 {
		return Workbook{}, eris.Errorf("source: workbook %s has no usable sheets", wb.Name)
	}

	zap.L().Info("source: workbook loaded",
		zap.String("file", wb.Name),
		zap.Int("sheets", len(wb.Sheets)),
	)
	return wb, nil
}

// parseSheet slugs the header row and collects the data rows. Sheets without
// a header or without any data row are unusable.
func parseSheet(sheet *xlsx.Sheet) (Sheet, bool) {
	if len(sheet.Rows) < 2 {
		return Sheet{}, false
	}

	headers := make([]string, len(sheet.Rows[0].Cells))
	seen := make(map[string]int, len(headers))
	empty := true
	for i, cell := range sheet.Rows[0].Cells {
		h := normalize.Slug(cell.String())
		if h == "" {
			continue
		}
		// Duplicate headers get a numeric suffix so no column is dropped.
		seen[h]++
		if n := seen[h]; n > 1 {
			h = h + "_" + strconv.Itoa(n)
		}
		headers[i] = h
		empty = false
	}
	if empty {
		return Sheet{}, false
	}

	var rows [][]string
	for _, row := range sheet.Rows[1:] {
		cells := make([]string, len(row.Cells))
		blank := true
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
			if cells[j] != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return Sheet{}, false
	}

	return Sheet{Name: sheet.Name, Headers: headers, Rows: rows}, true
}

// Summaries describes every sheet compactly for the classification oracle.
func Summaries(workbooks []Workbook) []model.SheetSummary {
	var out []model.SheetSummary
	for _, wb := range workbooks {
		for _, s := range wb.Sheets {
			summary := model.SheetSummary{
				File:     wb.Name,
				Sheet:    s.Name,
				Headers:  nonEmptyHeaders(s.Headers),
				RowCount: len(s.Rows),
			}
			for i := 0; i < len(s.Rows) && i < sampleRowLimit; i++ {
				summary.SampleRows = append(summary.SampleRows, s.Rows[i])
			}
			out = append(out, summary)
		}
	}
	return out
}

// Records builds the source records of one entity type: every row of every
// sheet the plan assigns to it, keyed by slugged header.
func Records(workbooks []Workbook, et model.EntityTypePlan) []model.SourceRecord {
	var out []model.SourceRecord
	for _, wb := range workbooks {
		for _, s := range wb.Sheets {
			if !et.HasSource(model.SourceRef{File: wb.Name, Sheet: s.Name}) {
				continue
			}
			for _, row := range s.Rows {
				fields := make(map[string]any, len(s.Headers))
				for i, h := range s.Headers {
					if h == "" || i >= len(row) || row[i] == "" {
						continue
					}
					fields[h] = row[i]
				}
				if len(fields) == 0 {
					continue
				}
				out = append(out, model.SourceRecord{
					SourceFile:  wb.Name,
					SourceSheet: s.Name,
					DataType:    et.Key,
					Fields:      fields,
					IngestedAt:  wb.ModTime,
				})
			}
		}
	}
	return out
}

func nonEmptyHeaders(headers []string) []string {
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}
