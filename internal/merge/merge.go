// Package merge builds golden records from grouped source rows.
package merge

import (
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sahel-hr/import-cli/internal/model"
	"github.com/sahel-hr/import-cli/internal/normalize"
)

// fieldCategories assigns well-known fields to provenance categories. Fields
// absent here land in "other".
var fieldCategories = map[string]string{
	"employee_number": "identity",
	"matricule":       "identity",
	"staff_id":        "identity",
	"national_id":     "identity",
	"first_name":      "identity",
	"last_name":       "identity",
	"full_name":       "identity",
	"birth_date":      "identity",
	"gender":          "identity",

	"email":   "contact",
	"phone":   "contact",
	"mobile":  "contact",
	"address": "contact",
	"city":    "contact",

	"salary":         "compensation",
	"base_salary":    "compensation",
	"gross_salary":   "compensation",
	"net_salary":     "compensation",
	"bonus":          "compensation",
	"allowance":      "compensation",
	"currency":       "compensation",
	"bank_account":   "compensation",
	"bank_name":      "compensation",
	"tax_id":         "compensation",
	"effective_date": "compensation",

	"position":      "employment",
	"job_title":     "employment",
	"department":    "employment",
	"manager":       "employment",
	"hire_date":     "employment",
	"end_date":      "employment",
	"contract_type": "employment",
	"status":        "employment",
}

// Build assembles one MergedEntity from a record group. Resolved conflicts
// win their field; every other field takes the most recently ingested
// non-empty value, with ties broken by arrival order.
func Build(group model.RecordMatch, resolutions map[string]*model.ConflictResolution, conflicts []model.FieldConflict, plan *model.EntityTypePlan) model.MergedEntity {
	data := make(map[string]any)
	sources := make(map[string]model.SourceRef)

	for field := range collectFields(group) {
		if res, ok := resolutions[field]; ok {
			data[field] = res.ChosenValue
			sources[field] = resolvedRef(field, res, conflicts)
			continue
		}
		if value, ref, ok := latestValue(group, field); ok {
			data[field] = value
			sources[field] = ref
		}
	}

	merged := model.MergedEntity{
		Data: data,
		Provenance: model.Provenance{
			Sources:      sources,
			Conflicts:    conflicts,
			Completeness: completeness(data, plan),
			Categories:   categorize(data),
		},
	}

	zap.L().Debug("merge: entity built",
		zap.Int("fields", len(data)),
		zap.Int("conflicts", len(conflicts)),
		zap.Int("completeness", merged.Provenance.Completeness),
	)
	return merged
}

// collectFields returns the union of field names across the group.
func collectFields(group model.RecordMatch) map[string]struct{} {
	fields := make(map[string]struct{})
	for _, r := range group.Records {
		for k := range r.Fields {
			fields[k] = struct{}{}
		}
	}
	return fields
}

// latestValue picks the field value from the most recently ingested record
// that holds a non-empty value. Records ingested at the same instant keep
// their arrival order, so the first arrival wins a tie.
func latestValue(group model.RecordMatch, field string) (any, model.SourceRef, bool) {
	var (
		best    any
		bestRef model.SourceRef
		found   bool
		bestIdx int
	)
	for i, r := range group.Records {
		v, ok := r.Fields[field]
		if !ok || normalize.IsEmpty(v) {
			continue
		}
		if !found || r.IngestedAt.After(group.Records[bestIdx].IngestedAt) {
			best = v
			bestRef = r.Ref()
			bestIdx = i
			found = true
		}
	}
	return best, bestRef, found
}

// resolvedRef recovers the (file, sheet) pair behind a resolution's chosen
// source by consulting the conflict's observations.
func resolvedRef(field string, res *model.ConflictResolution, conflicts []model.FieldConflict) model.SourceRef {
	for _, c := range conflicts {
		if c.Field != field {
			continue
		}
		for _, s := range c.Sources {
			if s.SourceFile == res.ChosenSource {
				return model.SourceRef{File: s.SourceFile, Sheet: s.SourceSheet}
			}
		}
	}
	return model.SourceRef{File: res.ChosenSource}
}

// completeness scores how filled-in the merged record is, 0-100. With a
// schema the score weighs required fields at 70% and optional at 30%;
// without one it is the plain non-empty fraction over observed fields.
func completeness(data map[string]any, plan *model.EntityTypePlan) int {
	nonEmpty := func(field string) bool {
		v, ok := data[field]
		return ok && !normalize.IsEmpty(v)
	}

	if plan != nil && len(plan.RequiredFields) > 0 {
		reqFilled := 0
		for _, f := range plan.RequiredFields {
			if nonEmpty(f) {
				reqFilled++
			}
		}
		reqFrac := float64(reqFilled) / float64(len(plan.RequiredFields))

		optFrac := 1.0
		if len(plan.OptionalFields) > 0 {
			optFilled := 0
			for _, f := range plan.OptionalFields {
				if nonEmpty(f) {
					optFilled++
				}
			}
			optFrac = float64(optFilled) / float64(len(plan.OptionalFields))
		}
		return int(math.Round((0.7*reqFrac + 0.3*optFrac) * 100))
	}

	if len(data) == 0 {
		return 0
	}
	filled := 0
	for f := range data {
		if nonEmpty(f) {
			filled++
		}
	}
	return int(math.Round(float64(filled) / float64(len(data)) * 100))
}

// categorize groups the merged fields by category for the provenance audit
// trail. Field lists are sorted for stable output.
func categorize(data map[string]any) map[string][]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string][]string)
	for field := range data {
		cat, ok := fieldCategories[field]
		if !ok {
			cat = inferCategory(field)
		}
		out[cat] = append(out[cat], field)
	}
	for _, fields := range out {
		sort.Strings(fields)
	}
	return out
}

func inferCategory(field string) string {
	switch {
	case strings.Contains(field, "salary"), strings.Contains(field, "amount"), strings.Contains(field, "pay"):
		return "compensation"
	case strings.Contains(field, "date"):
		return "employment"
	default:
		return "other"
	}
}
