package recall

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/engram/internal/config"
	"github.com/rcliao/engram/internal/model"
	"github.com/rcliao/engram/internal/store"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	store  *store.FileStore
	engine *Engine
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := config.Default()
	cfg.Lock.Timeout = 2 * time.Second
	cfg.Lock.PollInterval = 2 * time.Millisecond
	s, err := store.Open(t.TempDir(), store.Options{Config: cfg, Logger: zerolog.Nop(), Now: c.Now})
	require.NoError(t, err)
	return &fixture{
		store:  s,
		engine: New(s, cfg.Recall, zerolog.Nop(), WithClock(c.Now)),
		clock:  c,
	}
}

func (f *fixture) create(t *testing.T, p store.CreateParams) *model.Entry {
	t.Helper()
	if p.Category == "" {
		p.Category = model.CategoryNotes
	}
	e, err := f.store.Create(context.Background(), p)
	if err != nil && !store.IsNotice(err) {
		require.NoError(t, err)
	}
	f.clock.Advance(time.Minute)
	return e
}

func hitIDs(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Entry.ID
	}
	return out
}

func TestRecallCanaryScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, store.CreateParams{Category: model.CategoryDecisions, Body: "Use canary deploys", Tags: []string{"ops"}})
	b := f.create(t, store.CreateParams{Body: "Rollout checklist for the payments service", Links: []string{a.ID}})
	f.create(t, store.CreateParams{Body: "Lunch menu rotates weekly"})

	got, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Backlinks, b.ID)

	hits, err := f.engine.Recall(ctx, Query{Text: "canary"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, a.ID, hits[0].Entry.ID)
	assert.Equal(t, 1, hits[0].Entry.RecallCount)

	hits, err = f.engine.Recall(ctx, Query{Text: "canary"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, hits[0].Entry.ID)
	assert.Equal(t, 2, hits[0].Entry.RecallCount)

	stored, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RecallCount)
	require.NotNil(t, stored.LastRecalled)
}

func TestRecallGraphIsOneHop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := f.create(t, store.CreateParams{Body: "canary analysis thresholds"})
	near := f.create(t, store.CreateParams{Body: "traffic shifting notes", Links: []string{seed.ID}})
	far := f.create(t, store.CreateParams{Body: "load balancer config", Links: []string{near.ID}})

	hits, err := f.engine.Recall(ctx, Query{Text: "canary"})
	require.NoError(t, err)
	ids := hitIDs(hits)
	assert.Equal(t, []string{seed.ID, near.ID}, ids)
	assert.NotContains(t, ids, far.ID)
	assert.Zero(t, hits[1].Lexical)
	assert.InDelta(t, config.Default().Recall.GraphFactor, hits[1].Graph, 1e-9)
}

func TestRecallGraphCycleTerminates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, store.CreateParams{Body: "canary gate"})
	b := f.create(t, store.CreateParams{Body: "second step", Links: []string{a.ID}})
	_, err := f.store.Update(ctx, a.ID, store.Patch{Links: &[]string{b.ID}})
	require.NoError(t, err)

	hits, err := f.engine.Recall(ctx, Query{Text: "canary"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, hitIDs(hits))
	for _, h := range hits {
		assert.LessOrEqual(t, h.Graph, 1.0)
	}
}

func TestRecallPinnedFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	match := f.create(t, store.CreateParams{Body: "canary canary canary", Importance: model.ImportanceHigh})
	critical := f.create(t, store.CreateParams{Body: "never force-push main", Importance: model.ImportanceCritical})
	pinUntil := f.clock.Now().Add(24 * time.Hour)
	pinned := f.create(t, store.CreateParams{Body: "freeze window this week", PinUntil: &pinUntil})
	lapsed := f.clock.Now().Add(-time.Hour)
	old := f.create(t, store.CreateParams{Body: "old canary freeze", PinUntil: &lapsed})

	hits, err := f.engine.Recall(ctx, Query{Text: "canary"})
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, []string{pinned.ID, critical.ID}, hitIDs(hits[:2]))
	assert.True(t, hits[0].Pinned)
	assert.True(t, hits[1].Pinned)
	assert.ElementsMatch(t, []string{match.ID, old.ID}, hitIDs(hits[2:]))
	assert.False(t, hits[2].Pinned)
}

func TestRecallLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	critical := f.create(t, store.CreateParams{Body: "protect the prod database", Importance: model.ImportanceCritical})
	var plain []*model.Entry
	for i := range 6 {
		plain = append(plain, f.create(t, store.CreateParams{Body: "note " + string(rune('a'+i))}))
	}
	gone := f.create(t, store.CreateParams{Body: "deprecated note"})
	_, err := f.store.Deprecate(ctx, gone.ID)
	require.NoError(t, err)

	hits, err := f.engine.Recall(ctx, Query{Latest: 5})
	require.NoError(t, err)
	require.Len(t, hits, 5)
	assert.Equal(t, critical.ID, hits[0].Entry.ID)
	assert.Equal(t, []string{plain[5].ID, plain[4].ID, plain[3].ID, plain[2].ID}, hitIDs(hits[1:]))

	t.Run("empty query uses configured count", func(t *testing.T) {
		hits, err := f.engine.Recall(ctx, Query{})
		require.NoError(t, err)
		assert.Len(t, hits, config.Default().Recall.Latest)
	})
}

func TestRecallDropsIrrelevantAndHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, store.CreateParams{Body: "unrelated text"})
	dep := f.create(t, store.CreateParams{Body: "canary old"})
	_, err := f.store.Deprecate(ctx, dep.ID)
	require.NoError(t, err)
	exp := f.clock.Now().Add(time.Minute)
	f.create(t, store.CreateParams{Body: "canary expiring", Expiry: &exp})
	f.clock.Advance(time.Hour)

	hits, err := f.engine.Recall(ctx, Query{Text: "canary"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = f.engine.Recall(ctx, Query{Text: "canary", IncludeDeprecated: true})
	require.NoError(t, err)
	assert.Equal(t, []string{dep.ID}, hitIDs(hits))
}

func TestRecallFuzzyMatch(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, store.CreateParams{Title: "Kubernetes upgrade runbook", Body: "steps"})

	hits, err := f.engine.Recall(context.Background(), Query{Text: "kubernets"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, e.ID, hits[0].Entry.ID)
	assert.Less(t, hits[0].Lexical, 1.0)
	assert.Greater(t, hits[0].Lexical, 0.0)
}

func TestRecallSortModes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	strong := f.create(t, store.CreateParams{Body: "deploy deploy pipeline", Tags: []string{"beta"}, Retention: model.RetentionReference})
	weak := f.create(t, store.CreateParams{Body: "deploy note", Tags: []string{"alpha"}, Retention: model.RetentionLog})
	newest := f.create(t, store.CreateParams{Body: "deploy later", Tags: []string{"beta"}, Retention: model.RetentionLog})

	t.Run("time", func(t *testing.T) {
		hits, err := f.engine.Recall(ctx, Query{Text: "deploy", Sort: SortTime})
		require.NoError(t, err)
		assert.Equal(t, []string{newest.ID, weak.ID, strong.ID}, hitIDs(hits))
	})

	t.Run("tag follows requested order", func(t *testing.T) {
		hits, err := f.engine.Recall(ctx, Query{Tags: []string{"beta", "alpha"}, Sort: SortTag})
		require.NoError(t, err)
		assert.Equal(t, []string{newest.ID, strong.ID, weak.ID}, hitIDs(hits))
	})

	t.Run("tag without request groups by first tag", func(t *testing.T) {
		hits, err := f.engine.Recall(ctx, Query{Text: "deploy", Sort: SortTag})
		require.NoError(t, err)
		assert.Equal(t, []string{weak.ID, newest.ID, strong.ID}, hitIDs(hits))
	})

	t.Run("relevance", func(t *testing.T) {
		hits, err := f.engine.Recall(ctx, Query{Text: "deploy", Sort: SortRelevance})
		require.NoError(t, err)
		assert.Equal(t, strong.ID, hits[0].Entry.ID)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
	})

	t.Run("unknown sort", func(t *testing.T) {
		_, err := f.engine.Recall(ctx, Query{Text: "deploy", Sort: "random"})
		assert.ErrorIs(t, err, model.ErrValidation)
	})
}

func TestRecallStrengthNeverExceedsMax(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, store.CreateParams{Body: "canary", Importance: model.ImportanceHigh})

	for range 30 {
		_, err := f.engine.Recall(ctx, Query{Text: "canary"})
		require.NoError(t, err)
	}
	got, err := f.store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.RecallCount)
	assert.LessOrEqual(t, got.Strength, model.MaxStrength)
}

func TestRecallLimit(t *testing.T) {
	f := newFixture(t)
	for range 4 {
		f.create(t, store.CreateParams{Body: "canary"})
	}
	hits, err := f.engine.Recall(context.Background(), Query{Text: "canary", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSuggest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	related := f.create(t, store.CreateParams{Body: "blue green deploys for the api", Tags: []string{"ops"}})
	linked := f.create(t, store.CreateParams{Body: "blue green deploys for workers", Tags: []string{"ops"}})
	f.create(t, store.CreateParams{Body: "team offsite agenda"})
	fresh := f.create(t, store.CreateParams{Body: "blue green deploys", Tags: []string{"ops"}, Links: []string{linked.ID}})

	got, err := f.engine.Suggest(ctx, fresh)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, related.ID, got[0].ID)
	assert.GreaterOrEqual(t, got[0].Score, config.Default().Recall.SuggestThreshold)

	untouched, err := f.store.Get(ctx, related.ID)
	require.NoError(t, err)
	assert.Zero(t, untouched.RecallCount)
}

func TestSuggestSharedTermsInLongBody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	canary := f.create(t, store.CreateParams{
		Category: model.CategoryDecisions,
		Body:     "Use canary deploys for every ops service",
		Tags:     []string{"ops", "deploy"},
	})
	budget := f.create(t, store.CreateParams{Body: "Quarterly budget review moved to Thursday afternoon with finance."})
	fresh := f.create(t, store.CreateParams{
		Body: "Canary rollout checklist: watch the error dashboards and page oncall before widening " +
			"canary deploys to all regions. Roll back at the first sign of elevated latency.",
		Tags: []string{"ops", "deploy"},
	})

	got, err := f.engine.Suggest(ctx, fresh)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	require.Contains(t, ids, canary.ID)
	assert.NotContains(t, ids, budget.ID)
	assert.Equal(t, canary.ID, got[0].ID)
}

func TestSuggestIgnoresShortWords(t *testing.T) {
	f := newFixture(t)
	other := f.create(t, store.CreateParams{Body: "a to do list of at most an hour"})
	fresh := f.create(t, store.CreateParams{Body: "go to it as an aside, if so"})

	got, err := f.engine.Suggest(context.Background(), fresh)
	require.NoError(t, err)
	for _, s := range got {
		assert.NotEqual(t, other.ID, s.ID)
	}
}
