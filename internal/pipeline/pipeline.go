// Package pipeline orchestrates one import run end to end: load, plan,
// match, resolve, merge, link, import.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sahel-hr/import-cli/internal/conflict"
	"github.com/sahel-hr/import-cli/internal/export"
	"github.com/sahel-hr/import-cli/internal/index"
	"github.com/sahel-hr/import-cli/internal/linkage"
	"github.com/sahel-hr/import-cli/internal/match"
	"github.com/sahel-hr/import-cli/internal/merge"
	"github.com/sahel-hr/import-cli/internal/model"
	"github.com/sahel-hr/import-cli/internal/normalize"
	"github.com/sahel-hr/import-cli/internal/oracle"
	"github.com/sahel-hr/import-cli/internal/source"
	"github.com/sahel-hr/import-cli/internal/store"
)

// Options configures a pipeline run.
type Options struct {
	Plan         *model.ImportPlan        // operator-supplied plan; skips cache and oracle
	PlanTTL      time.Duration            // plan cache lifetime; default 7 days
	AllowPartial bool                     // keep importing other entity types after one fails
	ExportPath   string                   // when set, write the review workbook here
	Resolver     conflict.ResolverOptions // oracle call bounds for conflict resolution
	Progress     func(model.ProgressEvent)
}

// Pipeline runs spreadsheet imports against a store and a classification
// oracle.
type Pipeline struct {
	store    store.Store
	oracle   oracle.Oracle
	resolver *conflict.Resolver
	opts     Options
}

// New creates a Pipeline with all dependencies.
func New(st store.Store, o oracle.Oracle, opts Options) *Pipeline {
	if opts.PlanTTL <= 0 {
		opts.PlanTTL = 7 * 24 * time.Hour
	}
	return &Pipeline{
		store:    st,
		oracle:   o,
		resolver: conflict.NewResolver(o, opts.Resolver),
		opts:     opts,
	}
}

// Run executes the full import pipeline over the given workbook paths.
// The returned result is valid even on partial failure; the error reports
// what stopped the run.
func (p *Pipeline) Run(ctx context.Context, paths []string) (*model.RunResult, error) {
	log := zap.L().With(zap.Int("workbooks", len(paths)))
	log.Info("pipeline: starting import")

	run, err := p.store.CreateRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}
	emit := p.progressEmitter()

	result := &model.RunResult{
		RunID:  run.ID,
		Merged: make(map[string][]model.MergedEntity),
	}

	fail := func(err error) (*model.RunResult, error) {
		setStatus(model.RunStatusFailed)
		return result, err
	}

	// ===== Load workbooks =====
	workbooks, err := source.Load(paths)
	if err != nil {
		return fail(err)
	}
	summaries := source.Summaries(workbooks)
	emit("load", 10, fmt.Sprintf("loaded %d workbooks, %d sheets", len(workbooks), len(summaries)), nil)

	// ===== Plan =====
	setStatus(model.RunStatusPlanning)
	plan, err := p.plan(ctx, summaries)
	if err != nil {
		return fail(err)
	}
	result.Plan = plan
	primary := plan.PrimaryType()
	emit("plan", 20, fmt.Sprintf("%d entity types detected", len(plan.EntityTypes)), map[string]any{
		"primary": primary.Key,
	})

	// ===== Build the identity index from the system of record =====
	population, err := p.store.ListEmployees(ctx)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: list employees"))
	}
	idx := index.Build(population)
	emit("index", 25, fmt.Sprintf("indexed %d known employees", idx.Len()), nil)

	// ===== Primary type: match, resolve, merge =====
	setStatus(model.RunStatusMatching)
	primaryOut := p.processPrimary(ctx, workbooks, *primary, idx, setStatus, emit)
	result.Merged[primary.Key] = primaryOut.merged
	summary := model.RunSummary{EntityTypes: []model.EntityTypeResult{primaryOut.result}}

	// ===== Non-primary types: link or reject =====
	setStatus(model.RunStatusLinking)
	var allRejected []model.RejectedRecord
	secondaryRows := make(map[string][]model.MergedEntity)

	for _, et := range plan.Ordered() {
		if et.Primary {
			continue
		}
		linked, rejected, res := p.processSecondary(workbooks, et, idx)
		result.Merged[et.Key] = linked
		secondaryRows[et.Key] = linked
		allRejected = append(allRejected, rejected...)
		summary.EntityTypes = append(summary.EntityTypes, res)
	}
	result.Rejected = allRejected
	emit("link", 80, fmt.Sprintf("%d records rejected", len(allRejected)), nil)

	// ===== Import =====
	setStatus(model.RunStatusImporting)
	importErr := p.importAll(ctx, run.ID, plan, primaryOut, secondaryRows, &summary)
	if importErr != nil && !p.opts.AllowPartial {
		summary.Aggregate()
		result.Summary = summary
		if saveErr := p.store.UpdateRunSummary(ctx, run.ID, model.RunStatusFailed, &summary); saveErr != nil {
			log.Warn("pipeline: failed to save summary", zap.Error(saveErr))
		}
		return result, importErr
	}
	if err := p.store.SaveRejections(ctx, run.ID, allRejected); err != nil {
		log.Warn("pipeline: failed to save rejections", zap.Error(err))
	}
	emit("import", 90, "import finished", nil)

	// ===== Finalize =====
	summary.Aggregate()
	result.Summary = summary
	result.CompletedAt = time.Now().UTC()

	status := model.RunStatusComplete
	if summary.Partial {
		status = model.RunStatusPartial
	}
	if saveErr := p.store.UpdateRunSummary(ctx, run.ID, status, &summary); saveErr != nil {
		log.Warn("pipeline: failed to save summary", zap.Error(saveErr))
	}

	if p.opts.ExportPath != "" {
		if exportErr := export.Write(p.opts.ExportPath, result); exportErr != nil {
			log.Warn("pipeline: review export failed", zap.Error(exportErr))
		}
	}

	emit("done", 100, string(status), map[string]any{
		"linked":   summary.TotalLinked,
		"rejected": summary.TotalRejected,
	})
	log.Info("pipeline: import finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(status)),
		zap.Int("rejected", summary.TotalRejected),
		zap.Int("review_required", summary.ReviewRequired),
	)
	return result, nil
}

// primaryOutcome carries everything the import step needs about the primary
// entity type.
type primaryOutcome struct {
	merged     []model.MergedEntity
	importable []model.MergedEntity
	result     model.EntityTypeResult
}

// processPrimary groups primary-type records, resolves field conflicts, and
// builds one merged entity per group. Groups that duplicate a pre-existing
// employee follow their recommended action: skip drops the group before
// conflict detection, ask_user keeps it for review but out of the import,
// update imports over the existing record. An entity whose group carries a
// requires-review conflict is merged for the review export but withheld from
// the import sink until an operator decides.
func (p *Pipeline) processPrimary(
	ctx context.Context,
	workbooks []source.Workbook,
	et model.EntityTypePlan,
	idx *index.Index,
	setStatus func(model.RunStatus),
	emit progressFunc,
) primaryOutcome {
	records := source.Records(workbooks, et)
	groups := match.Group(records)
	match.AnnotateDuplicates(groups, idx)
	emit("match", 40, fmt.Sprintf("%d records grouped into %d entities", len(records), len(groups)), nil)

	setStatus(model.RunStatusResolving)
	// Skip duplicates contribute nothing; drop them before spending oracle
	// calls on their conflicts.
	kept := make([]model.RecordMatch, 0, len(groups))
	skipped := 0
	for _, g := range groups {
		if g.Duplicate != nil && g.Duplicate.RecommendedAction == model.ActionSkip {
			skipped++
			continue
		}
		kept = append(kept, g)
	}

	keys := make([]string, len(kept))
	var conflicts []model.FieldConflict
	for i, g := range kept {
		keys[i] = entityKey(g, i)
		conflicts = append(conflicts, conflict.Detect(g, keys[i])...)
	}
	outcome := p.resolver.ResolveAll(ctx, et.Key, conflicts)
	emit("resolve", 55, fmt.Sprintf("%d conflicts, %d auto-resolved", len(conflicts), len(outcome.AutoResolved)), nil)

	held := make(map[string]bool, len(outcome.ReviewRequired))
	for _, c := range outcome.ReviewRequired {
		held[c.EntityKey] = true
	}

	setStatus(model.RunStatusMerging)
	out := primaryOutcome{
		result: model.EntityTypeResult{
			EntityType:        et.Key,
			DisplayName:       et.DisplayName,
			SourceRecords:     len(records),
			AutoResolved:      len(outcome.AutoResolved),
			ReviewRequired:    len(outcome.ReviewRequired),
			ReviewConflicts:   outcome.ReviewRequired,
			SkippedDuplicates: skipped,
		},
	}

	for i, g := range kept {
		m := merge.Build(g, outcome.ResolutionsFor(keys[i]), outcome.ConflictsFor(keys[i]), &et)
		if g.Duplicate != nil {
			m.Linked = &model.LinkedEntity{
				EntityID:   g.Duplicate.ExistingID,
				Method:     g.Duplicate.MatchMethod,
				Confidence: g.Duplicate.Confidence,
			}
		}
		out.merged = append(out.merged, m)

		if g.Duplicate != nil && g.Duplicate.RecommendedAction == model.ActionAskUser {
			out.result.AskUserDuplicates++
			continue
		}
		if held[keys[i]] {
			out.result.HeldForReview++
			continue
		}
		out.importable = append(out.importable, m)

		// New identities join the index so non-primary records ingested in
		// the same run can link to them.
		if g.Duplicate == nil {
			idx.Add(model.IdentityFromFields(m.Data))
		}
	}
	out.result.Merged = len(out.merged)

	emit("merge", 70, fmt.Sprintf("%d entities merged", len(out.merged)), map[string]any{
		"skipped":  skipped,
		"ask_user": out.result.AskUserDuplicates,
		"held":     out.result.HeldForReview,
	})
	return out
}

// processSecondary links each non-primary record to an employee. Rows of
// these types are events (a payslip, a leave, a contract revision), so they
// are never merged with each other; each row becomes its own entity.
func (p *Pipeline) processSecondary(
	workbooks []source.Workbook,
	et model.EntityTypePlan,
	idx *index.Index,
) ([]model.MergedEntity, []model.RejectedRecord, model.EntityTypeResult) {
	records := source.Records(workbooks, et)

	entities := make([]model.MergedEntity, 0, len(records))
	for _, r := range records {
		g := model.RecordMatch{Records: []model.SourceRecord{r}}
		entities = append(entities, merge.Build(g, nil, nil, &et))
	}

	linked, rejected := linkage.Apply(entities, et.Key, idx)

	return linked, rejected, model.EntityTypeResult{
		EntityType:    et.Key,
		DisplayName:   et.DisplayName,
		SourceRecords: len(records),
		Merged:        len(entities),
		Linked:        len(linked),
		Rejected:      len(rejected),
		Rejections:    rejected,
	}
}

// importAll persists entity types in plan order, the primary first since
// downstream rows reference its identities. Employee upserts run only after
// every type's rows are in, and a failure with partial import disallowed
// deletes the run's imported rows, so the system of record never keeps a
// half-finished run.
func (p *Pipeline) importAll(
	ctx context.Context,
	runID string,
	plan *model.ImportPlan,
	primaryOut primaryOutcome,
	secondary map[string][]model.MergedEntity,
	summary *model.RunSummary,
) error {
	var firstErr error

	plans := make(map[string]model.EntityTypePlan, len(plan.EntityTypes))
	for _, et := range plan.EntityTypes {
		plans[et.Key] = et
	}

	importType := func(key string, entities []model.MergedEntity) error {
		if err := validateEntities(plans[key], entities); err != nil {
			return err
		}
		rows := make([]map[string]any, 0, len(entities))
		for _, m := range entities {
			rows = append(rows, m.Data)
		}
		return p.store.ImportRows(ctx, runID, key, rows)
	}
	record := func(key string, err error) {
		for i := range summary.EntityTypes {
			if summary.EntityTypes[i].EntityType != key {
				continue
			}
			summary.EntityTypes[i].Imported = err == nil
			if err != nil {
				summary.EntityTypes[i].ImportError = err.Error()
			}
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	rollback := func() {
		if err := p.store.DeleteRunRows(ctx, runID); err != nil {
			zap.L().Warn("pipeline: rollback of imported rows failed",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}

	var primaryErr error
	for _, et := range plan.Ordered() {
		entities := secondary[et.Key]
		if et.Primary {
			entities = primaryOut.importable
		}
		err := importType(et.Key, entities)
		record(et.Key, err)
		if et.Primary {
			primaryErr = err
		}
		if err != nil && !p.opts.AllowPartial {
			rollback()
			return firstErr
		}
	}

	// Employees join the system of record last, once every type's rows landed.
	if primaryErr == nil {
		for _, m := range primaryOut.importable {
			if _, err := p.store.UpsertEmployee(ctx, model.IdentityFromFields(m.Data)); err != nil {
				err = eris.Wrap(err, "pipeline: upsert employee")
				record(plan.PrimaryType().Key, err)
				if !p.opts.AllowPartial {
					rollback()
				}
				return firstErr
			}
		}
	}
	return firstErr
}

// validateEntities checks every entity of a type against the plan's required
// fields before its rows reach the import sink. One missing field fails the
// whole type; partial-failure handling decides whether the run continues.
func validateEntities(et model.EntityTypePlan, entities []model.MergedEntity) error {
	if len(et.RequiredFields) == 0 {
		return nil
	}
	invalid := 0
	missing := make(map[string]bool)
	for _, m := range entities {
		ok := true
		for _, f := range et.RequiredFields {
			if normalize.IsEmpty(m.Data[f]) {
				missing[f] = true
				ok = false
			}
		}
		if !ok {
			invalid++
		}
	}
	if invalid == 0 {
		return nil
	}
	fields := make([]string, 0, len(missing))
	for f := range missing {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return eris.Errorf("pipeline: %d of %d %s entities missing required fields (%s)",
		invalid, len(entities), et.Key, strings.Join(fields, ", "))
}

// plan resolves the import plan: operator-supplied, cached, or fresh from
// the oracle.
func (p *Pipeline) plan(ctx context.Context, summaries []model.SheetSummary) (*model.ImportPlan, error) {
	if p.opts.Plan != nil {
		return p.opts.Plan, validatePlan(p.opts.Plan, summaries)
	}

	key := planDigest(summaries)
	cached, err := p.store.GetCachedPlan(ctx, key)
	if err != nil {
		zap.L().Warn("pipeline: plan cache read failed", zap.Error(err))
	}
	if cached != nil {
		zap.L().Info("pipeline: using cached import plan", zap.String("digest", key[:12]))
		return cached, nil
	}

	plan, err := p.oracle.PlanImport(ctx, summaries)
	if err != nil {
		return nil, err
	}
	if err := validatePlan(plan, summaries); err != nil {
		return nil, err
	}
	if err := p.store.SetCachedPlan(ctx, key, plan, p.opts.PlanTTL); err != nil {
		zap.L().Warn("pipeline: plan cache write failed", zap.Error(err))
	}
	return plan, nil
}

// validatePlan enforces plan invariants: exactly one primary type, every
// type sourced. Sheets the plan leaves unassigned are logged and ignored.
func validatePlan(plan *model.ImportPlan, summaries []model.SheetSummary) error {
	primaries := 0
	assigned := make(map[model.SourceRef]bool)
	for _, et := range plan.EntityTypes {
		if et.Primary {
			primaries++
		}
		if len(et.Sources) == 0 {
			return eris.Errorf("pipeline: entity type %s has no sources", et.Key)
		}
		for _, s := range et.Sources {
			if assigned[s] {
				return eris.Errorf("pipeline: sheet %s/%s assigned to multiple entity types", s.File, s.Sheet)
			}
			assigned[s] = true
		}
	}
	if primaries != 1 {
		return eris.Errorf("pipeline: plan must have exactly one primary entity type, got %d", primaries)
	}

	for _, s := range summaries {
		ref := model.SourceRef{File: s.File, Sheet: s.Sheet}
		if !assigned[ref] {
			zap.L().Warn("pipeline: sheet not assigned by plan, skipping",
				zap.String("file", s.File),
				zap.String("sheet", s.Sheet),
			)
		}
	}
	return nil
}

// planDigest keys the plan cache on the full shape of the input: file and
// sheet names, headers, and row counts.
func planDigest(summaries []model.SheetSummary) string {
	raw, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Sprintf("fallback-%d", len(summaries))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// entityKey produces a stable human-readable key for a record group, used to
// correlate conflicts with their group through resolution and merge.
func entityKey(g model.RecordMatch, i int) string {
	c := model.CandidateFromFields(match.CombinedFields(g))
	switch {
	case c.EmployeeNumber != "":
		return c.EmployeeNumber
	case c.Email != "":
		return strings.ToLower(c.Email)
	case c.NationalID != "":
		return c.NationalID
	case c.Phone != "":
		return normalize.Phone(c.Phone)
	case c.FullName != "":
		return normalize.Name(c.FullName)
	default:
		return fmt.Sprintf("group-%d", i)
	}
}

type progressFunc func(phase string, percent int, message string, details map[string]any)

// progressEmitter wraps the configured callback and keeps the reported
// percentage monotonic.
func (p *Pipeline) progressEmitter() progressFunc {
	last := 0
	return func(phase string, percent int, message string, details map[string]any) {
		if percent < last {
			percent = last
		}
		last = percent
		if p.opts.Progress == nil {
			return
		}
		p.opts.Progress(model.ProgressEvent{
			Phase:   phase,
			Percent: percent,
			Message: message,
			Details: details,
		})
	}
}
