// Package index provides O(1) lookup of employee identities by any of their
// matchable attributes. The index is built once per run and read-only
// afterwards.
package index

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sahel-hr/import-cli/internal/model"
	"github.com/sahel-hr/import-cli/internal/normalize"
)

// Index maps each matchable attribute to the identity that owns it.
type Index struct {
	byEmployeeNumber map[string]*model.EntityIdentity
	byEmail          map[string]*model.EntityIdentity
	byNationalID     map[string]*model.EntityIdentity
	byPhone          map[string]*model.EntityIdentity
	byName           map[string]*model.EntityIdentity
	size             int
}

// New creates an empty index.
func New() *Index {
	return &Index{
		byEmployeeNumber: make(map[string]*model.EntityIdentity),
		byEmail:          make(map[string]*model.EntityIdentity),
		byNationalID:     make(map[string]*model.EntityIdentity),
		byPhone:          make(map[string]*model.EntityIdentity),
		byName:           make(map[string]*model.EntityIdentity),
		size:             0,
	}
}

// Build indexes the full pre-existing population. The population is always
// authoritative: entries inserted first keep their keys on collision.
func Build(population []model.EntityIdentity) *Index {
	x := New()
	for _, e := range population {
		x.Add(e)
	}
	zap.L().Debug("index: built from population",
		zap.Int("entities", len(population)),
	)
	return x
}

// Add inserts one entry per non-empty attribute of the identity. On key
// collision the earlier entry wins, so the pre-existing population must be
// added before identities discovered during the run.
func (x *Index) Add(e model.EntityIdentity) {
	entity := &e
	x.size++
	if e.EmployeeNumber != "" {
		insert(x.byEmployeeNumber, strings.TrimSpace(e.EmployeeNumber), entity)
	}
	if e.Email != "" {
		insert(x.byEmail, strings.ToLower(strings.TrimSpace(e.Email)), entity)
	}
	if e.NationalID != "" {
		insert(x.byNationalID, strings.TrimSpace(e.NationalID), entity)
	}
	if p := normalize.Phone(e.Phone); p != "" {
		insert(x.byPhone, p, entity)
	}
	if n := normalize.Name(e.FullName); n != "" {
		insert(x.byName, n, entity)
	}
}

// Len returns the number of identities added.
func (x *Index) Len() int {
	return x.size
}

// Find tries each matching key in strict priority order and returns the
// first hit with the method and its fixed confidence. A miss is a normal,
// expected outcome, reported by ok=false.
func (x *Index) Find(c model.Candidate) (entity *model.EntityIdentity, method model.MatchMethod, confidence int, ok bool) {
	if k := strings.TrimSpace(c.EmployeeNumber); k != "" {
		if e, hit := x.byEmployeeNumber[k]; hit {
			return e, model.MatchEmployeeNumber, model.MatchEmployeeNumber.Confidence(), true
		}
	}
	if k := strings.ToLower(strings.TrimSpace(c.Email)); k != "" {
		if e, hit := x.byEmail[k]; hit {
			return e, model.MatchEmail, model.MatchEmail.Confidence(), true
		}
	}
	if k := strings.TrimSpace(c.NationalID); k != "" {
		if e, hit := x.byNationalID[k]; hit {
			return e, model.MatchNationalID, model.MatchNationalID.Confidence(), true
		}
	}
	if k := normalize.Phone(c.Phone); k != "" {
		if e, hit := x.byPhone[k]; hit {
			return e, model.MatchPhone, model.MatchPhone.Confidence(), true
		}
	}
	if k := normalize.Name(c.FullName); k != "" {
		if e, hit := x.byName[k]; hit {
			return e, model.MatchName, model.MatchName.Confidence(), true
		}
	}
	return nil, "", 0, false
}

func insert(m map[string]*model.EntityIdentity, key string, e *model.EntityIdentity) {
	if _, exists := m[key]; exists {
		return
	}
	m[key] = e
}
