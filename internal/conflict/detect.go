// Package conflict detects field-level disagreements between sources of one
// record group and orchestrates their resolution.
package conflict

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sahel-hr/import-cli/internal/model"
	"github.com/sahel-hr/import-cli/internal/normalize"
)

// Severity classification is static by field name so detection stays
// deterministic. Identity-defining attributes are critical; operationally
// important attributes are medium; everything else is low.
var (
	criticalFields = map[string]bool{
		"employee_number": true,
		"employee_id":     true,
		"matricule":       true,
		"first_name":      true,
		"last_name":       true,
		"full_name":       true,
		"hire_date":       true,
		"start_date":      true,
		"national_id":     true,
		"email":           true,
		"birth_date":      true,
		"date_of_birth":   true,
	}
	mediumFields = map[string]bool{
		"salary":        true,
		"base_salary":   true,
		"gross_salary":  true,
		"net_salary":    true,
		"amount":        true,
		"position":      true,
		"job_title":     true,
		"department":    true,
		"contract_type": true,
		"bank_account":  true,
		"iban":          true,
		"tax_id":        true,
		"cnps_number":   true,
	}
)

// SeverityFor classifies a field name into a conflict severity tier.
func SeverityFor(field string) model.Severity {
	f := strings.ToLower(strings.TrimSpace(field))
	switch {
	case criticalFields[f]:
		return model.SeverityCritical
	case mediumFields[f]:
		return model.SeverityMedium
	case strings.Contains(f, "salary") || strings.Contains(f, "amount"):
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Detect finds fields whose normalized values disagree across at least two
// sources of the group. Values normalizing identically produce no conflict.
func Detect(group model.RecordMatch, entityKey string) []model.FieldConflict {
	if len(group.Records) < 2 {
		return nil
	}

	// Collect per-field observations, one per record carrying a non-empty value.
	type observation struct {
		record model.SourceRecord
		value  any
	}
	byField := make(map[string][]observation)
	var fieldOrder []string
	for _, r := range group.Records {
		for k, v := range r.Fields {
			if normalize.IsEmpty(v) {
				continue
			}
			if _, seen := byField[k]; !seen {
				fieldOrder = append(fieldOrder, k)
			}
			byField[k] = append(byField[k], observation{record: r, value: v})
		}
	}

	// Field maps iterate in random order; sort for deterministic output.
	sort.Strings(fieldOrder)

	var conflicts []model.FieldConflict
	for _, field := range fieldOrder {
		obs := byField[field]
		if len(obs) < 2 {
			continue
		}

		distinct := make(map[string]bool)
		for _, o := range obs {
			distinct[normalize.Value(o.value)] = true
		}
		if len(distinct) < 2 {
			continue
		}

		c := model.FieldConflict{
			ConflictID: uuid.NewString(),
			EntityKey:  entityKey,
			Field:      field,
			Severity:   SeverityFor(field),
		}
		for _, o := range obs {
			c.Sources = append(c.Sources, model.ConflictSource{
				SourceFile:  o.record.SourceFile,
				SourceSheet: o.record.SourceSheet,
				Value:       o.value,
				ObservedAt:  o.record.IngestedAt,
			})
		}
		conflicts = append(conflicts, c)
	}

	if len(conflicts) > 0 {
		zap.L().Debug("conflict: detected disagreements",
			zap.String("entity", entityKey),
			zap.Int("conflicts", len(conflicts)),
		)
	}
	return conflicts
}
