// Package export writes the consolidated run result back out as a workbook
// for operator review.
package export

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sahel-hr/import-cli/internal/model"
)

// Review columns prefixed with an underscore so they sort apart from data
// columns and cannot collide with slugged headers.
const (
	colCompleteness = "_completeness"
	colLinkedTo     = "_linked_to"
	colConflicts    = "_open_conflicts"
)

// Write saves one sheet per entity type plus, when any record was rejected,
// a trailing "rejected" sheet naming each record's reason.
func Write(path string, result *model.RunResult) error {
	f := xlsx.NewFile()

	types := make([]string, 0, len(result.Merged))
	for key := range result.Merged {
		types = append(types, key)
	}
	sort.Strings(types)

	for _, key := range types {
		if err := writeEntitySheet(f, key, result.Merged[key]); err != nil {
			return err
		}
	}

	if len(result.Rejected) > 0 {
		if err := writeRejectedSheet(f, result.Rejected); err != nil {
			return err
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}

	zap.L().Info("export: workbook written",
		zap.String("path", path),
		zap.Int("entity_types", len(types)),
		zap.Int("rejected", len(result.Rejected)),
	)
	return nil
}

func writeEntitySheet(f *xlsx.File, entityType string, entities []model.MergedEntity) error {
	sheet, err := f.AddSheet(entityType)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %s", entityType)
	}

	fields := collectFields(entities)
	header := sheet.AddRow()
	for _, h := range fields {
		header.AddCell().SetString(h)
	}
	header.AddCell().SetString(colCompleteness)
	header.AddCell().SetString(colLinkedTo)
	header.AddCell().SetString(colConflicts)

	for _, e := range entities {
		row := sheet.AddRow()
		for _, field := range fields {
			row.AddCell().SetString(cellString(e.Data[field]))
		}
		row.AddCell().SetString(strconv.Itoa(e.Provenance.Completeness))
		if e.Linked != nil {
			row.AddCell().SetString(e.Linked.EntityID)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(strconv.Itoa(openConflicts(e)))
	}
	return nil
}

func writeRejectedSheet(f *xlsx.File, rejected []model.RejectedRecord) error {
	sheet, err := f.AddSheet("rejected")
	if err != nil {
		return eris.Wrap(err, "export: add rejected sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"entity_type", "source_file", "source_sheet", "reason"} {
		header.AddCell().SetString(h)
	}
	dataFields := collectRejectedFields(rejected)
	for _, h := range dataFields {
		header.AddCell().SetString(h)
	}

	for _, r := range rejected {
		row := sheet.AddRow()
		row.AddCell().SetString(r.EntityType)
		row.AddCell().SetString(r.SourceFile)
		row.AddCell().SetString(r.SourceSheet)
		row.AddCell().SetString(r.Reason)
		for _, field := range dataFields {
			row.AddCell().SetString(cellString(r.Data[field]))
		}
	}
	return nil
}

func collectFields(entities []model.MergedEntity) []string {
	set := make(map[string]struct{})
	for _, e := range entities {
		for k := range e.Data {
			set[k] = struct{}{}
		}
	}
	return sorted(set)
}

func collectRejectedFields(rejected []model.RejectedRecord) []string {
	set := make(map[string]struct{})
	for _, r := range rejected {
		for k := range r.Data {
			set[k] = struct{}{}
		}
	}
	return sorted(set)
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func openConflicts(e model.MergedEntity) int {
	n := 0
	for _, c := range e.Provenance.Conflicts {
		if !c.AutoResolvable() {
			n++
		}
	}
	return n
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
