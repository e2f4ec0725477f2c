package conflict

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sahel-hr/import-cli/internal/model"
	"github.com/sahel-hr/import-cli/internal/oracle"
)

// autoResolveConfidence is the minimum oracle confidence for a low-severity
// conflict to bypass human review.
const autoResolveConfidence = 80

// Resolver orchestrates conflict resolution: deterministic rules first, the
// classification oracle for everything else, bounded by a shared rate limiter
// and per-call timeout.
type Resolver struct {
	oracle      oracle.Oracle
	limiter     *rate.Limiter
	timeout     time.Duration
	concurrency int
	country     string
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Country     string
	Timeout     time.Duration // per oracle call; default 30s
	Concurrency int           // concurrent oracle calls; default 4
	RatePerSec  float64       // oracle calls per second; default 2
}

// NewResolver creates a Resolver around the given oracle.
func NewResolver(o oracle.Oracle, opts ResolverOptions) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	return &Resolver{
		oracle:      o,
		limiter:     rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		country:     opts.Country,
	}
}

// Outcome partitions conflicts after resolution. Every conflict lands in
// exactly one of the two sets; unresolved conflicts are always in
// ReviewRequired, never silently defaulted.
type Outcome struct {
	AutoResolved   []model.FieldConflict
	ReviewRequired []model.FieldConflict
}

// ResolutionsFor returns the resolved decisions for one entity, keyed by
// field, spanning both outcome sets. The merge builder applies them.
func (o Outcome) ResolutionsFor(entityKey string) map[string]*model.ConflictResolution {
	out := make(map[string]*model.ConflictResolution)
	for _, c := range o.all() {
		if c.EntityKey == entityKey && c.Resolved && c.Resolution != nil {
			out[c.Field] = c.Resolution
		}
	}
	return out
}

// ConflictsFor returns every conflict recorded for one entity, resolved or
// not, for attachment to the merged record's provenance.
func (o Outcome) ConflictsFor(entityKey string) []model.FieldConflict {
	var out []model.FieldConflict
	for _, c := range o.all() {
		if c.EntityKey == entityKey {
			out = append(out, c)
		}
	}
	return out
}

func (o Outcome) all() []model.FieldConflict {
	all := make([]model.FieldConflict, 0, len(o.AutoResolved)+len(o.ReviewRequired))
	all = append(all, o.AutoResolved...)
	all = append(all, o.ReviewRequired...)
	return all
}

// ResolveAll resolves each conflict and classifies it as auto-resolved or
// requires-review. Oracle calls run with bounded concurrency.
func (r *Resolver) ResolveAll(ctx context.Context, entityType string, conflicts []model.FieldConflict) Outcome {
	if len(conflicts) == 0 {
		return Outcome{}
	}

	resolved := make([]model.FieldConflict, len(conflicts))
	copy(resolved, conflicts)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i := range resolved {
		g.Go(func() error {
			r.resolveOne(gCtx, entityType, &resolved[i])
			return nil
		})
	}
	_ = g.Wait()

	var out Outcome
	for _, c := range resolved {
		if c.AutoResolvable() {
			out.AutoResolved = append(out.AutoResolved, c)
		} else {
			out.ReviewRequired = append(out.ReviewRequired, c)
		}
	}

	zap.L().Info("conflict: resolution complete",
		zap.String("entity_type", entityType),
		zap.Int("conflicts", len(conflicts)),
		zap.Int("auto_resolved", len(out.AutoResolved)),
		zap.Int("review_required", len(out.ReviewRequired)),
	)
	return out
}

func (r *Resolver) resolveOne(ctx context.Context, entityType string, c *model.FieldConflict) {
	// Deterministic pre-pass: skip the oracle when rules already decide.
	if res := autoResolve(*c); res != nil {
		c.Resolved = true
		c.Resolution = res
		return
	}

	if err := r.limiter.Wait(ctx); err != nil {
		zap.L().Warn("conflict: rate limiter interrupted",
			zap.String("field", c.Field),
			zap.Error(err),
		)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.oracle.ResolveConflict(callCtx, *c, entityType, r.country)
	if err != nil {
		// Unresolved conflicts surface in requires-review; no silent default.
		zap.L().Warn("conflict: oracle resolution failed",
			zap.String("field", c.Field),
			zap.String("severity", string(c.Severity)),
			zap.Error(err),
		)
		return
	}

	c.Resolved = true
	c.Resolution = res
}

// autoResolve applies the deterministic resolution rules: a low-severity
// conflict whose observations have a strictly most recent ingestion wins for
// that source. Returns nil when the oracle must decide.
func autoResolve(c model.FieldConflict) *model.ConflictResolution {
	if c.Severity != model.SeverityLow || len(c.Sources) < 2 {
		return nil
	}

	newest := c.Sources[0]
	strictly := true
	for _, s := range c.Sources[1:] {
		switch {
		case s.ObservedAt.After(newest.ObservedAt):
			newest = s
			strictly = true
		case s.ObservedAt.Equal(newest.ObservedAt):
			strictly = false
		}
	}
	if !strictly {
		return nil
	}

	return &model.ConflictResolution{
		ChosenSource: newest.SourceFile,
		ChosenValue:  newest.Value,
		Confidence:   85,
		ResolvedBy:   model.ResolvedByAuto,
		Reasoning:    "most recently ingested source",
	}
}
