// Package recall ranks engram entries for a query and feeds read frequency
// back into the store.
package recall

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/engram/internal/config"
	"github.com/rcliao/engram/internal/model"
	"github.com/rcliao/engram/internal/store"
)

// Source is the part of the store recall reads from and reports back to.
type Source interface {
	List(ctx context.Context, p store.ListParams) iter.Seq2[*model.Entry, error]
	RecordRecall(ctx context.Context, ids []string, boost float64) ([]*model.Entry, error)
}

// Sort selects how scored hits are ordered. Pinned hits lead in every mode.
type Sort string

const (
	SortRelevance Sort = "relevance"
	SortTime      Sort = "time"
	SortTag       Sort = "tag"
)

// ParseSort accepts the sort mode names; empty means relevance.
func ParseSort(s string) (Sort, error) {
	switch Sort(strings.ToLower(s)) {
	case "", SortRelevance:
		return SortRelevance, nil
	case SortTime:
		return SortTime, nil
	case SortTag:
		return SortTag, nil
	}
	return "", model.Invalid("sort", "unknown sort mode %q", s)
}

// Query describes one recall. With empty Text and no Tags the engine falls
// back to latest mode using the configured count.
type Query struct {
	Text              string
	Tags              []string
	Sort              Sort
	Latest            int
	Limit             int
	IncludeDeprecated bool
}

// Hit is one ranked entry with its score breakdown.
type Hit struct {
	Entry   *model.Entry `json:"entry"`
	Score   float64      `json:"score"`
	Lexical float64      `json:"lexical"`
	Graph   float64      `json:"graph"`
	Recency float64      `json:"recency"`
	Pinned  bool         `json:"pinned"`
}

// Engine scores entries from a Source.
type Engine struct {
	src Source
	cfg config.Recall
	log zerolog.Logger
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine.
func New(src Source, cfg config.Recall, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{src: src, cfg: cfg, log: log, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recall ranks the store for q and records the read on every returned entry.
// Scoring reads without the store lock; the counter update takes it, so a
// concurrent edit between the two is kept and the counter still increments.
func (en *Engine) Recall(ctx context.Context, q Query) ([]Hit, error) {
	sort, err := ParseSort(string(q.Sort))
	if err != nil {
		return nil, err
	}
	q.Sort = sort
	if q.Latest < 0 || q.Limit < 0 {
		return nil, model.Invalid("limit", "must not be negative")
	}

	entries, err := en.load(ctx, store.ListParams{
		Tags:              model.NormalizeTags(q.Tags),
		IncludeDeprecated: q.IncludeDeprecated,
	})
	if err != nil {
		return nil, err
	}

	now := en.now()
	var hits []Hit
	if q.Latest > 0 || (strings.TrimSpace(q.Text) == "" && len(q.Tags) == 0) {
		n := q.Latest
		if n == 0 {
			n = en.cfg.Latest
		}
		hits = en.latest(entries, now, n)
	} else {
		hits = en.rank(entries, q, now)
	}

	if err := en.record(ctx, hits); err != nil {
		return nil, err
	}
	en.log.Debug().Str("query", q.Text).Int("candidates", len(entries)).Int("hits", len(hits)).Msg("recall")
	return hits, nil
}

func (en *Engine) load(ctx context.Context, p store.ListParams) ([]*model.Entry, error) {
	var out []*model.Entry
	for e, err := range en.src.List(ctx, p) {
		if err != nil {
			if errors.Is(err, model.ErrCorruptEntry) {
				continue
			}
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// latest returns at most n entries: pinned first, then the most recently
// updated.
func (en *Engine) latest(entries []*model.Entry, now time.Time, n int) []Hit {
	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		rec := recency(en.cfg, e, now)
		hits = append(hits, Hit{
			Entry:   e,
			Recency: rec,
			Score:   score(en.cfg, e, 0, 0, rec),
			Pinned:  e.IsPinned(now),
		})
	}
	slices.SortStableFunc(hits, func(a, b Hit) int {
		if a.Pinned != b.Pinned {
			if a.Pinned {
				return -1
			}
			return 1
		}
		return byUpdated(a, b)
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits
}

func (en *Engine) rank(entries []*model.Entry, q Query, now time.Time) []Hit {
	qs := terms(q.Text)
	byID := make(map[string]*model.Entry, len(entries))
	lex := make(map[string]float64, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
		lex[e.ID] = lexical(en.cfg, newDocument(e), qs)
	}
	graph := graphBonus(en.cfg, byID, lex)

	var pinned, scored []Hit
	for _, e := range entries {
		h := Hit{
			Entry:   e,
			Lexical: lex[e.ID],
			Graph:   graph[e.ID],
			Recency: recency(en.cfg, e, now),
			Pinned:  e.IsPinned(now),
		}
		h.Score = score(en.cfg, e, h.Lexical, h.Graph, h.Recency)
		switch {
		case h.Pinned:
			pinned = append(pinned, h)
		case len(qs) == 0 || h.Graph > 0 || (h.Lexical > 0 && h.Lexical >= en.cfg.MinLexical):
			scored = append(scored, h)
		}
	}

	slices.SortStableFunc(pinned, byUpdated)
	switch q.Sort {
	case SortTime:
		slices.SortStableFunc(scored, byUpdated)
	case SortTag:
		slices.SortStableFunc(scored, func(a, b Hit) int {
			if c := cmp.Compare(tagGroup(a.Entry, q.Tags), tagGroup(b.Entry, q.Tags)); c != 0 {
				return c
			}
			return byUpdated(a, b)
		})
	default:
		slices.SortStableFunc(scored, func(a, b Hit) int {
			if a.Score != b.Score {
				return cmp.Compare(b.Score, a.Score)
			}
			return byUpdated(a, b)
		})
	}

	limit := q.Limit
	if limit == 0 {
		limit = en.cfg.Limit
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return append(pinned, scored...)
}

// tagGroup orders entries by the first requested tag they carry. Without
// requested tags the entry's first tag alphabetically is the group key;
// untagged entries sort last.
func tagGroup(e *model.Entry, requested []string) string {
	if len(requested) > 0 {
		for i, t := range requested {
			if e.HasTag(t) {
				return fmt.Sprintf("%04d", i)
			}
		}
		return "~"
	}
	if len(e.Tags) == 0 {
		return "~"
	}
	return strings.ToLower(e.Tags[0])
}

func byUpdated(a, b Hit) int {
	if c := b.Entry.Updated.Compare(a.Entry.Updated); c != 0 {
		return c
	}
	return strings.Compare(a.Entry.ID, b.Entry.ID)
}

func (en *Engine) record(ctx context.Context, hits []Hit) error {
	if len(hits) == 0 {
		return nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Entry.ID
	}
	updated, err := en.src.RecordRecall(ctx, ids, en.cfg.StrengthBoost)
	if err != nil {
		return fmt.Errorf("record recall: %w", err)
	}
	fresh := make(map[string]*model.Entry, len(updated))
	for _, e := range updated {
		fresh[e.ID] = e
	}
	for i := range hits {
		if e, ok := fresh[hits[i].Entry.ID]; ok {
			hits[i].Entry = e
		}
	}
	return nil
}
