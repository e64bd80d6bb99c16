package recall

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/rcliao/engram/internal/config"
	"github.com/rcliao/engram/internal/model"
)

// minRecency keeps the decay curve strictly positive.
const minRecency = 1e-12

// terms splits a query into lower-cased, de-duplicated words.
func terms(text string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(text)) {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// document is the searchable form of an entry.
type document struct {
	text  string   // title, summary, body and tags, lower-cased
	words []string // title and tag words for fuzzy matching
}

func newDocument(e *model.Entry) document {
	var b strings.Builder
	b.WriteString(e.Title)
	b.WriteByte(' ')
	b.WriteString(e.Summary)
	b.WriteByte(' ')
	b.WriteString(e.Body)
	for _, t := range e.Tags {
		b.WriteByte(' ')
		b.WriteString(t)
	}

	words := strings.FieldsFunc(strings.ToLower(e.Title), splitWord)
	for _, t := range e.Tags {
		words = append(words, strings.FieldsFunc(strings.ToLower(t), splitWord)...)
	}
	return document{text: strings.ToLower(b.String()), words: words}
}

func splitWord(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '-', '_', '/', '.', ',', ':', ';', '(', ')', '[', ']', '"', '\'':
		return true
	}
	return false
}

// lexical scores a document against query terms in [0, 1]: the mean of
// matchWeight over the terms.
func lexical(cfg config.Recall, doc document, qs []string) float64 {
	if len(qs) == 0 {
		return 0
	}
	return clamp01(matchWeight(cfg, doc, qs) / float64(len(qs)))
}

// matchWeight sums, per query term, the exact weight for a substring hit, else
// the fuzzy weight times the best word similarity when that reaches the
// threshold.
func matchWeight(cfg config.Recall, doc document, qs []string) float64 {
	var sum float64
	for _, q := range qs {
		if strings.Contains(doc.text, q) {
			sum += cfg.ExactWeight
			continue
		}
		best := 0.0
		for _, w := range doc.words {
			if s := similarity(q, w); s > best {
				best = s
			}
		}
		if best >= cfg.FuzzyThreshold {
			sum += cfg.FuzzyWeight * best
		}
	}
	return sum
}

// recency decays by half every half-life since the entry was last touched.
func recency(cfg config.Recall, e *model.Entry, now time.Time) float64 {
	elapsed := now.Sub(e.LastTouched())
	if elapsed < 0 {
		elapsed = 0
	}
	r := math.Exp2(-elapsed.Hours() / cfg.HalfLife.Hours())
	return math.Max(r, minRecency)
}

// graphBonus gives each one-hop neighbor of the strongest lexical matches a
// fraction of the seed's score. Only lexical scores feed in, so cycles cannot
// propagate.
func graphBonus(cfg config.Recall, entries map[string]*model.Entry, lex map[string]float64) map[string]float64 {
	var seeds []string
	for id, l := range lex {
		if l > 0 && l >= cfg.MinLexical {
			seeds = append(seeds, id)
		}
	}
	slices.SortFunc(seeds, func(a, b string) int {
		if lex[a] != lex[b] {
			if lex[a] > lex[b] {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	})
	if len(seeds) > cfg.GraphSeeds {
		seeds = seeds[:cfg.GraphSeeds]
	}

	bonus := map[string]float64{}
	for _, id := range seeds {
		seed := entries[id]
		give := clamp01(cfg.GraphFactor * lex[id])
		for _, n := range neighbors(seed) {
			if _, ok := entries[n]; !ok || n == id {
				continue
			}
			if give > bonus[n] {
				bonus[n] = give
			}
		}
	}
	return bonus
}

func neighbors(e *model.Entry) []string {
	out := slices.Clone(e.Links)
	for _, b := range e.Backlinks {
		if !slices.Contains(out, b) {
			out = append(out, b)
		}
	}
	return out
}

// weight multiplies the per-entry tier constants and the entry's strength.
func weight(cfg config.Recall, e *model.Entry) float64 {
	return cfg.RegionWeight(e.Region) *
		cfg.ImportanceWeight(e.Importance) *
		cfg.RetentionWeight(e.Retention) *
		model.ClampStrength(e.Strength, e.StrengthFloor)
}

func score(cfg config.Recall, e *model.Entry, lex, graph, rec float64) float64 {
	sum := cfg.LexicalWeight*lex + cfg.GraphWeight*graph + cfg.RecencyWeight*rec
	return sum * weight(cfg, e)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
