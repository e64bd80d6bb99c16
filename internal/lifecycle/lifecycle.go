// Package lifecycle moves entries between regions: explicit promotion, the
// batch consolidation pass, deprecation and the critical audit.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rcliao/engram/internal/config"
	"github.com/rcliao/engram/internal/lock"
	"github.com/rcliao/engram/internal/model"
	"github.com/rcliao/engram/internal/store"
)

// Store is the storage surface the controller drives.
type Store interface {
	store.Store
	Repair(ctx context.Context) (*store.RepairReport, error)
	Purge(ctx context.Context) ([]string, error)
	Mirrors(ctx context.Context) ([]model.Pointer, error)
	Locker() *lock.Manager
}

// Report is the outcome of a consolidation pass.
type Report struct {
	Promoted   []string            `json:"promoted"`
	Normalized []string            `json:"normalized"`
	Skipped    int                 `json:"skipped"`
	Repair     *store.RepairReport `json:"repair"`
}

// Controller applies the lifecycle policy to a store.
type Controller struct {
	store Store
	cfg   config.Lifecycle
	log   zerolog.Logger
}

// New builds a controller.
func New(s Store, cfg config.Lifecycle, log zerolog.Logger) *Controller {
	return &Controller{store: s, cfg: cfg, log: log}
}

// Promote moves id to the cortex with reference retention. It reports
// changed=false and writes nothing when the entry is already there.
func (c *Controller) Promote(ctx context.Context, id string) (*model.Entry, bool, error) {
	var (
		out     *model.Entry
		changed bool
	)
	err := c.locked(ctx, func(ctx context.Context) error {
		cur, err := c.store.Get(ctx, id)
		if err != nil {
			return err
		}
		out, changed, err = c.promote(ctx, cur)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func (c *Controller) promote(ctx context.Context, cur *model.Entry) (*model.Entry, bool, error) {
	p := promotion(cur, c.cfg.PromotedStrength)
	if p.Empty() {
		return cur, false, nil
	}
	next, err := c.store.Update(ctx, cur.ID, p)
	if err != nil && !store.IsNotice(err) {
		return nil, false, fmt.Errorf("promote %s: %w", cur.ID, err)
	}
	c.log.Info().Str("id", cur.ID).Str("from", string(cur.Region)).Msg("promoted")
	return next, true, nil
}

// promotion is the patch that brings e to cortex/reference with at least
// the promoted strength. Strength earned from recalls is kept.
func promotion(e *model.Entry, promoted float64) store.Patch {
	var p store.Patch
	if e.Region != model.RegionCortex {
		r := model.RegionCortex
		p.Region = &r
	}
	if e.Retention != model.RetentionReference {
		r := model.RetentionReference
		p.Retention = &r
	}
	if !p.Empty() || e.Strength < promoted {
		s := max(e.Strength, promoted)
		p.Strength = &s
	}
	return p
}

// eligible reports whether consolidation promotes a hippocampus entry.
func (c *Controller) eligible(e *model.Entry) bool {
	return e.Importance.Rank() >= model.ImportanceHigh.Rank() ||
		e.Retention == model.RetentionReference ||
		e.RecallCount >= c.cfg.PromotionRecalls
}

// Consolidate promotes every eligible hippocampus entry, normalizes important
// cortex entries to reference retention and runs the repair sweep, all under
// one lock. A second run without writes in between promotes nothing.
func (c *Controller) Consolidate(ctx context.Context) (*Report, error) {
	report := &Report{Promoted: []string{}, Normalized: []string{}}
	err := c.locked(ctx, func(ctx context.Context) error {
		var promote, normalize []*model.Entry
		for e, err := range c.store.List(ctx, store.ListParams{}) {
			if err != nil {
				if errors.Is(err, model.ErrCorruptEntry) {
					report.Skipped++
					continue
				}
				return err
			}
			switch {
			case e.Region == model.RegionHippocampus && c.eligible(e):
				promote = append(promote, e)
			case e.Region == model.RegionCortex && e.Importance.Rank() >= model.ImportanceHigh.Rank() &&
				e.Retention != model.RetentionReference:
				normalize = append(normalize, e)
			}
		}

		for _, e := range promote {
			if _, changed, err := c.promote(ctx, e); err != nil {
				return err
			} else if changed {
				report.Promoted = append(report.Promoted, e.ID)
			}
		}
		for _, e := range normalize {
			ref := model.RetentionReference
			if _, err := c.store.Update(ctx, e.ID, store.Patch{Retention: &ref}); err != nil && !store.IsNotice(err) {
				return fmt.Errorf("normalize %s: %w", e.ID, err)
			}
			report.Normalized = append(report.Normalized, e.ID)
		}

		repair, err := c.store.Repair(ctx)
		if err != nil {
			return err
		}
		report.Repair = repair
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Int("promoted", len(report.Promoted)).Int("normalized", len(report.Normalized)).Msg("consolidated")
	return report, nil
}

// Deprecate hides id from default recall. It is reversed by an explicit edit.
func (c *Controller) Deprecate(ctx context.Context, id string) (*model.Entry, error) {
	e, err := c.store.Deprecate(ctx, id)
	if err != nil && !store.IsNotice(err) {
		return nil, err
	}
	return e, nil
}

// Purge removes expired entries from disk.
func (c *Controller) Purge(ctx context.Context) ([]string, error) {
	return c.store.Purge(ctx)
}

// Audit yields every critical entry, deprecated and expired ones included,
// most recently updated first. Entries are found through the mirror
// pointers and a region scan, so a missing pointer or a stray one does not
// hide anything. Unreadable entries are yielded as errors and the audit goes on.
func (c *Controller) Audit(ctx context.Context) iter.Seq2[*model.Entry, error] {
	return func(yield func(*model.Entry, error) bool) {
		found := map[string]*model.Entry{}
		var errs []error

		for e, err := range c.store.List(ctx, store.ListParams{CriticalOnly: true, IncludeDeprecated: true, IncludeExpired: true}) {
			if err != nil {
				if !errors.Is(err, model.ErrCorruptEntry) {
					yield(nil, err)
					return
				}
				errs = append(errs, err)
				continue
			}
			found[e.ID] = e
		}

		ptrs, err := c.store.Mirrors(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, p := range ptrs {
			if _, ok := found[p.ID]; ok {
				continue
			}
			e, err := c.store.Get(ctx, p.ID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				c.log.Warn().Str("id", p.ID).Msg("mirror pointer without entry")
				continue
			case err != nil:
				errs = append(errs, err)
				continue
			}
			if e.IsCritical() {
				found[e.ID] = e
			}
		}

		entries := make([]*model.Entry, 0, len(found))
		for _, e := range found {
			entries = append(entries, e)
		}
		slices.SortFunc(entries, func(a, b *model.Entry) int {
			if d := b.Updated.Compare(a.Updated); d != 0 {
				return d
			}
			return strings.Compare(a.ID, b.ID)
		})
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
		for _, err := range errs {
			if !yield(nil, err) {
				return
			}
		}
	}
}

// locked runs fn holding the store lock; store calls made with the passed
// context nest under it.
func (c *Controller) locked(ctx context.Context, fn func(ctx context.Context) error) error {
	l, err := c.store.Locker().Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := l.Release(); rerr != nil {
			c.log.Warn().Err(rerr).Msg("release lock")
		}
	}()
	return fn(l.Context(ctx))
}
