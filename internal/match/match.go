// Package match groups incoming source records that describe the same
// employee, using the same cascading key strategy as the entity index but
// applied among the incoming records themselves.
package match

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sahel-hr/import-cli/internal/index"
	"github.com/sahel-hr/import-cli/internal/model"
	"github.com/sahel-hr/import-cli/internal/normalize"
)

// askUserThreshold is the confidence below which a duplicate of the
// pre-existing population is surfaced to the operator instead of updated.
const askUserThreshold = 80

// recordKeys returns the record's matching keys in cascade order. Each key is
// prefixed by its method so values from different attributes never collide.
func recordKeys(c model.Candidate) []keyed {
	var keys []keyed
	if k := strings.TrimSpace(c.EmployeeNumber); k != "" {
		keys = append(keys, keyed{model.MatchEmployeeNumber, "emp:" + k})
	}
	if k := strings.ToLower(strings.TrimSpace(c.Email)); k != "" {
		keys = append(keys, keyed{model.MatchEmail, "email:" + k})
	}
	if k := strings.TrimSpace(c.NationalID); k != "" {
		keys = append(keys, keyed{model.MatchNationalID, "nid:" + k})
	}
	if k := normalize.Phone(c.Phone); k != "" {
		keys = append(keys, keyed{model.MatchPhone, "phone:" + k})
	}
	if k := normalize.Name(c.FullName); k != "" {
		keys = append(keys, keyed{model.MatchName, "name:" + k})
	}
	return keys
}

type keyed struct {
	method model.MatchMethod
	key    string
}

// Group partitions records into RecordMatch groups. Two records land in the
// same group iff they share a resolvable key under the cascade; a record
// sharing keys with two groups merges them. Group confidence is the
// confidence of the weakest key used to assemble the group.
func Group(records []model.SourceRecord) []model.RecordMatch {
	parent := make([]int, len(records))
	weakest := make([]int, len(records))
	strategy := make([]model.MatchMethod, len(records))
	for i := range records {
		parent[i] = i
		weakest[i] = 0
		strategy[i] = ""
	}

	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int, m model.MatchMethod) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		parent[rb] = ra
		// Weakest key wins for the merged group's confidence.
		c := m.Confidence()
		for _, w := range []int{weakest[ra], weakest[rb]} {
			if w != 0 && w < c {
				c = w
			}
		}
		weakest[ra] = c
		if strategy[ra] == "" || m.Confidence() < strategy[ra].Confidence() {
			strategy[ra] = m
		}
	}

	keyOwner := make(map[string]int)
	for i, r := range records {
		for _, k := range recordKeys(model.CandidateFromFields(r.Fields)) {
			if owner, seen := keyOwner[k.key]; seen {
				union(owner, i, k.method)
			} else {
				keyOwner[k.key] = i
			}
		}
	}

	groups := make(map[int]*model.RecordMatch)
	var order []int
	for i, r := range records {
		root := find(i)
		g, exists := groups[root]
		if !exists {
			g = &model.RecordMatch{}
			groups[root] = g
			order = append(order, root)
		}
		g.Records = append(g.Records, r)
	}

	out := make([]model.RecordMatch, 0, len(order))
	for _, root := range order {
		g := groups[root]
		if len(g.Records) > 1 {
			g.MatchStrategy = strategy[root]
			g.MatchConfidence = weakest[root]
		} else {
			// A singleton resolves itself by its strongest available key.
			m, conf := strongestKey(g.Records[0])
			g.MatchStrategy = m
			g.MatchConfidence = conf
		}
		out = append(out, *g)
	}

	zap.L().Debug("match: grouped records",
		zap.Int("records", len(records)),
		zap.Int("groups", len(out)),
	)
	return out
}

func strongestKey(r model.SourceRecord) (model.MatchMethod, int) {
	keys := recordKeys(model.CandidateFromFields(r.Fields))
	if len(keys) == 0 {
		return "", 0
	}
	return keys[0].method, keys[0].method.Confidence()
}

// AnnotateDuplicates checks each primary-type group against the pre-existing
// population index and attaches a duplicate annotation with a recommended
// action: skip when field-for-field equivalent, update when confidently
// matched but different, ask_user when the best match is below threshold.
func AnnotateDuplicates(groups []model.RecordMatch, idx *index.Index) {
	for i := range groups {
		fields := CombinedFields(groups[i])
		existing, method, conf, ok := idx.Find(model.CandidateFromFields(fields))
		if !ok {
			continue
		}

		action := model.ActionUpdate
		switch {
		case conf < askUserThreshold:
			action = model.ActionAskUser
		case fieldsEquivalent(fields, existing.Fields):
			action = model.ActionSkip
		}

		groups[i].Duplicate = &model.DuplicateInfo{
			ExistingID:        existing.ID,
			MatchMethod:       method,
			Confidence:        conf,
			RecommendedAction: action,
		}
	}
}

// CombinedFields overlays the group's records in arrival order, first
// non-empty value per field. Used for duplicate detection and entity keying;
// the merge builder applies the real recency rules.
func CombinedFields(g model.RecordMatch) map[string]any {
	fields := make(map[string]any)
	for _, r := range g.Records {
		for k, v := range r.Fields {
			if _, seen := fields[k]; seen {
				continue
			}
			if normalize.IsEmpty(v) {
				continue
			}
			fields[k] = v
		}
	}
	return fields
}

// fieldsEquivalent reports whether every field present in both maps
// normalizes to the same value, and the candidate adds no new non-empty
// fields beyond what the existing record already has.
func fieldsEquivalent(candidate, existing map[string]any) bool {
	if len(existing) == 0 {
		return false
	}
	for k, v := range candidate {
		if normalize.IsEmpty(v) {
			continue
		}
		ev, ok := existing[k]
		if !ok || normalize.IsEmpty(ev) {
			return false
		}
		if normalize.Equivalent(v, ev) {
			continue
		}
		// Name-bearing fields may differ only in token order.
		if normalize.Name(normalize.Value(v)) == normalize.Name(normalize.Value(ev)) {
			continue
		}
		return false
	}
	return true
}
