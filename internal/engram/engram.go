// Package engram wires the store, recall engine and lifecycle controller into
// the operations the command line exposes.
package engram

import (
	"context"
	"errors"
	"iter"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/engram/internal/config"
	"github.com/rcliao/engram/internal/lifecycle"
	"github.com/rcliao/engram/internal/logging"
	"github.com/rcliao/engram/internal/model"
	"github.com/rcliao/engram/internal/recall"
	"github.com/rcliao/engram/internal/store"
)

// CriticalTag is added to every confirmed critical entry.
const CriticalTag = "critical"

// Options configures Open. A zero Config means config.Default().
type Options struct {
	Config config.Config
	Logger zerolog.Logger
	Now    func() time.Time
}

// Engram is an open memory store.
type Engram struct {
	store  *store.FileStore
	recall *recall.Engine
	life   *lifecycle.Controller
	log    zerolog.Logger
}

// Open opens (and lays out, if needed) the store at root.
func Open(root string, opts Options) (*Engram, error) {
	cfg := opts.Config
	if cfg.Lock.File == "" {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s, err := store.Open(root, store.Options{
		Config: cfg,
		Logger: logging.Component(opts.Logger, "store"),
		Now:    now,
	})
	if err != nil {
		return nil, err
	}
	return &Engram{
		store:  s,
		recall: recall.New(s, cfg.Recall, logging.Component(opts.Logger, "recall"), recall.WithClock(now)),
		life:   lifecycle.New(s, cfg.Lifecycle, logging.Component(opts.Logger, "lifecycle")),
		log:    opts.Logger,
	}, nil
}

// Root returns the absolute store root.
func (g *Engram) Root() string { return g.store.Root() }

// RememberParams describes a new memory. Critical (or ImportanceCritical)
// requires Confirm.
type RememberParams struct {
	Category   model.Category
	Body       string
	Title      string
	Summary    string
	Tags       []string
	Links      []string
	Importance model.Importance
	Retention  model.Retention
	Region     model.Region
	Critical   bool
	Confirm    bool
	PinUntil   *time.Time
	Expiry     *time.Time
}

// Result is a written entry with what the caller should know about it.
type Result struct {
	Entry       *model.Entry        `json:"entry"`
	Notices     []string            `json:"notices,omitempty"`
	Suggestions []recall.Suggestion `json:"suggestions,omitempty"`
}

// Remember writes a new entry and suggests existing entries to link to.
func (g *Engram) Remember(ctx context.Context, p RememberParams) (*Result, error) {
	imp := p.Importance
	ret := p.Retention
	tags := p.Tags
	if p.Critical || imp == model.ImportanceCritical {
		if !p.Confirm {
			return nil, model.Invalid("critical", "a critical entry requires explicit confirmation")
		}
		imp = model.ImportanceCritical
		ret = model.RetentionReference
		tags = append(slices.Clone(tags), CriticalTag)
	}

	e, err := g.store.Create(ctx, store.CreateParams{
		Category:   p.Category,
		Body:       p.Body,
		Title:      p.Title,
		Summary:    p.Summary,
		Tags:       tags,
		Links:      p.Links,
		Importance: imp,
		Retention:  ret,
		Region:     p.Region,
		PinUntil:   p.PinUntil,
		Expiry:     p.Expiry,
	})
	res, err := result(e, err)
	if err != nil {
		return nil, err
	}

	sugg, err := g.recall.Suggest(ctx, res.Entry)
	if err != nil {
		g.log.Warn().Err(err).Str("id", res.Entry.ID).Msg("link suggestions unavailable")
	}
	res.Suggestions = sugg
	return res, nil
}

// EditParams changes an existing entry. Raising importance to critical
// requires Confirm.
type EditParams struct {
	ID      string
	Patch   store.Patch
	Confirm bool
}

// Edit applies a patch. A successful edit also re-synchronizes backlinks and
// the mirror.
func (g *Engram) Edit(ctx context.Context, p EditParams) (*Result, error) {
	if p.Patch.Empty() {
		return nil, model.Invalid("edit", "nothing to change")
	}
	if p.Patch.Importance != nil && *p.Patch.Importance == model.ImportanceCritical && !p.Confirm {
		return nil, model.Invalid("critical", "a critical entry requires explicit confirmation")
	}
	return result(g.store.Update(ctx, p.ID, p.Patch))
}

func result(e *model.Entry, err error) (*Result, error) {
	if err != nil && !store.IsNotice(err) {
		return nil, err
	}
	res := &Result{Entry: e}
	if err != nil {
		res.Notices = append(res.Notices, err.Error())
	}
	return res, nil
}

// Get reads one entry without touching its recall metadata.
func (g *Engram) Get(ctx context.Context, id string) (*model.Entry, error) {
	return g.store.Get(ctx, id)
}

// Recall ranks the store for q.
func (g *Engram) Recall(ctx context.Context, q recall.Query) ([]recall.Hit, error) {
	return g.recall.Recall(ctx, q)
}

// Promote moves id to the cortex.
func (g *Engram) Promote(ctx context.Context, id string) (*model.Entry, bool, error) {
	return g.life.Promote(ctx, id)
}

// Consolidate runs the batch promotion pass.
func (g *Engram) Consolidate(ctx context.Context) (*lifecycle.Report, error) {
	return g.life.Consolidate(ctx)
}

// Deprecate hides id from default recall.
func (g *Engram) Deprecate(ctx context.Context, id string) (*model.Entry, error) {
	return g.life.Deprecate(ctx, id)
}

// Audit yields every critical entry, most recent first.
func (g *Engram) Audit(ctx context.Context) iter.Seq2[*model.Entry, error] {
	return g.life.Audit(ctx)
}

// Tags lists the distinct tags in the store.
func (g *Engram) Tags(ctx context.Context) ([]string, error) {
	return g.store.Tags(ctx)
}

// Stats summarizes the store.
func (g *Engram) Stats(ctx context.Context) (*store.Stats, error) {
	return g.store.Stats(ctx)
}

// Repair runs the consistency sweep on its own.
func (g *Engram) Repair(ctx context.Context) (*store.RepairReport, error) {
	return g.store.Repair(ctx)
}

// Purge deletes expired entries.
func (g *Engram) Purge(ctx context.Context) ([]string, error) {
	return g.life.Purge(ctx)
}

// Export returns every readable entry.
func (g *Engram) Export(ctx context.Context, includeDeprecated bool) ([]*model.Entry, error) {
	return g.store.ExportAll(ctx, includeDeprecated)
}

// ExportSQLite writes a searchable snapshot of the store to path.
func (g *Engram) ExportSQLite(ctx context.Context, path string) (*store.SnapshotResult, error) {
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}
	return g.store.ExportSQLite(ctx, path)
}

// Import writes entries whose ids are not yet taken.
func (g *Engram) Import(ctx context.Context, entries []*model.Entry) (*store.ImportResult, error) {
	return g.store.Import(ctx, entries)
}
