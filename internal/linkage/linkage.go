// Package linkage attaches non-primary records (salary history, contracts,
// leaves) to employees resolved in the same run or already known.
package linkage

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sahel-hr/import-cli/internal/index"
	"github.com/sahel-hr/import-cli/internal/model"
)

// Apply partitions merged entities of a non-primary type into linked and
// rejected. Every input lands in exactly one of the two sets: an entity with
// no resolvable employee is rejected now and never retried within the run.
func Apply(entities []model.MergedEntity, entityType string, idx *index.Index) (linked []model.MergedEntity, rejected []model.RejectedRecord) {
	for _, m := range entities {
		candidate := model.CandidateFromFields(m.Data)
		entity, method, confidence, ok := idx.Find(candidate)
		if !ok {
			ref := primaryRef(m)
			rejected = append(rejected, model.RejectedRecord{
				EntityType:  entityType,
				Data:        m.Data,
				SourceFile:  ref.File,
				SourceSheet: ref.Sheet,
				Reason:      rejectionReason(candidate, m.Data),
			})
			continue
		}
		m.Linked = &model.LinkedEntity{
			EntityID:   entityID(entity),
			Method:     method,
			Confidence: confidence,
		}
		linked = append(linked, m)
	}

	zap.L().Info("linkage: applied",
		zap.String("entity_type", entityType),
		zap.Int("linked", len(linked)),
		zap.Int("rejected", len(rejected)),
	)
	return linked, rejected
}

// entityID prefers the system-of-record ID and falls back to the strongest
// natural key for identities discovered during the run.
func entityID(e *model.EntityIdentity) string {
	switch {
	case e.ID != "":
		return e.ID
	case e.EmployeeNumber != "":
		return e.EmployeeNumber
	case e.Email != "":
		return e.Email
	default:
		return e.FullName
	}
}

// rejectionReason names the strongest identifier the record carried, so the
// review export tells the operator exactly what failed to match.
func rejectionReason(c model.Candidate, fields map[string]any) string {
	switch {
	case c.EmployeeNumber != "":
		return fmt.Sprintf("no employee matches employee number %q", c.EmployeeNumber)
	case c.Email != "":
		return fmt.Sprintf("no employee matches email %q", c.Email)
	case c.NationalID != "":
		return fmt.Sprintf("no employee matches national id %q", c.NationalID)
	case c.Phone != "":
		return fmt.Sprintf("no employee matches phone %q", c.Phone)
	case c.FullName != "":
		return fmt.Sprintf("no employee matches name %q", c.FullName)
	}
	if period := model.FirstField(fields, "period", "month", "pay_period", "date"); period != "" {
		return fmt.Sprintf("record carries only a period (%q), no employee identifier", period)
	}
	return "no employee identifier present"
}

// primaryRef picks a representative source for the rejection report: the
// lexicographically first provenance entry, so reports are stable across runs.
func primaryRef(m model.MergedEntity) model.SourceRef {
	if len(m.Provenance.Sources) == 0 {
		return model.SourceRef{}
	}
	fields := make([]string, 0, len(m.Provenance.Sources))
	for f := range m.Provenance.Sources {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return m.Provenance.Sources[fields[0]]
}
