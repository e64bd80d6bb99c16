package recall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/rcliao/engram/internal/config"
	"github.com/rcliao/engram/internal/model"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"canary", "canary", 1},
		{"canary", "", 0},
		{"kitten", "sitting", 1 - 3.0/7},
		{"kubernets", "kubernetes", 0.9},
		{"héllo", "hello", 0.8},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, similarity(tt.a, tt.b), 1e-9, "%q vs %q", tt.a, tt.b)
	}
}

func TestTermsDedupe(t *testing.T) {
	assert.Equal(t, []string{"canary", "deploys"}, terms("  Canary deploys CANARY "))
	assert.Empty(t, terms("   "))
}

func TestLexicalBounds(t *testing.T) {
	cfg := config.Default().Recall
	rapid.Check(t, func(t *rapid.T) {
		e := &model.Entry{
			Title: rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, "title"),
			Body:  rapid.StringMatching(`[a-z ]{0,60}`).Draw(t, "body"),
			Tags:  rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 0, 3).Draw(t, "tags"),
		}
		q := rapid.StringMatching(`[a-z ]{0,30}`).Draw(t, "query")
		got := lexical(cfg, newDocument(e), terms(q))
		if got < 0 || got > 1 {
			t.Fatalf("lexical = %v outside [0, 1]", got)
		}
	})
}

func TestRecencyDecays(t *testing.T) {
	cfg := config.Default().Recall
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rapid.Check(t, func(t *rapid.T) {
		a := time.Duration(rapid.Int64Range(0, int64(10000*time.Hour)).Draw(t, "a"))
		b := time.Duration(rapid.Int64Range(0, int64(10000*time.Hour)).Draw(t, "b"))
		ra := recency(cfg, &model.Entry{Updated: now.Add(-a)}, now)
		rb := recency(cfg, &model.Entry{Updated: now.Add(-b)}, now)
		if ra <= 0 || ra > 1 {
			t.Fatalf("recency %v outside (0, 1]", ra)
		}
		if a < b && ra < rb {
			t.Fatalf("older entry scored higher: %v < %v", ra, rb)
		}
	})

	half := recency(cfg, &model.Entry{Updated: now.Add(-cfg.HalfLife)}, now)
	assert.InDelta(t, 0.5, half, 1e-9)

	recalled := now.Add(-time.Hour)
	touched := recency(cfg, &model.Entry{Updated: now.Add(-1000 * time.Hour), LastRecalled: &recalled}, now)
	assert.Greater(t, touched, 0.95)
}

func TestScoreMonotonicInWeights(t *testing.T) {
	cfg := config.Default().Recall
	base := &model.Entry{
		Region:        model.RegionHippocampus,
		Importance:    model.ImportanceNormal,
		Retention:     model.RetentionEphemeral,
		Strength:      0.5,
		StrengthFloor: 0.2,
	}
	cortex := base.Clone()
	cortex.Region = model.RegionCortex
	critical := base.Clone()
	critical.Importance = model.ImportanceCritical

	s := score(cfg, base, 0.5, 0, 0.5)
	assert.Greater(t, score(cfg, cortex, 0.5, 0, 0.5), s)
	assert.Greater(t, score(cfg, critical, 0.5, 0, 0.5), s)
	assert.Greater(t, score(cfg, base, 0.6, 0, 0.5), s)
	assert.Greater(t, score(cfg, base, 0.5, 0.1, 0.5), s)
}

func TestGraphBonusUsesSeedScore(t *testing.T) {
	cfg := config.Default().Recall
	cfg.GraphSeeds = 1
	entries := map[string]*model.Entry{
		"a": {ID: "a", Links: []string{"c"}},
		"b": {ID: "b", Links: []string{"c"}},
		"c": {ID: "c", Backlinks: []string{"a", "b"}},
	}
	bonus := graphBonus(cfg, entries, map[string]float64{"a": 0.8, "b": 0.4, "c": 0})
	assert.InDelta(t, cfg.GraphFactor*0.8, bonus["c"], 1e-9)
	assert.Zero(t, bonus["a"])
	assert.NotContains(t, bonus, "b")
}
