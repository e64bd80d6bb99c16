package recall

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/engram/internal/model"
	"github.com/rcliao/engram/internal/store"
)

// Suggestion is an existing entry worth linking to.
type Suggestion struct {
	ID       string         `json:"id"`
	Category model.Category `json:"category"`
	Title    string         `json:"title"`
	Score    float64        `json:"score"`
}

// minSuggestTerm is the shortest word that counts toward a suggestion; shorter
// ones match inside almost any text.
const minSuggestTerm = 3

// Suggest returns the entries sharing the most terms with e's body and tags,
// excluding e itself and anything it already links to. A candidate's score is
// the summed match weight of those terms, so one exact shared term is worth
// ExactWeight whatever the length of e. It does not record a recall.
func (en *Engine) Suggest(ctx context.Context, e *model.Entry) ([]Suggestion, error) {
	if en.cfg.SuggestLimit <= 0 {
		return nil, nil
	}
	qs := slices.DeleteFunc(terms(e.Body+" "+strings.Join(e.Tags, " ")), func(q string) bool {
		return utf8.RuneCountInString(q) < minSuggestTerm
	})
	if len(qs) == 0 {
		return nil, nil
	}

	others, err := en.load(ctx, store.ListParams{})
	if err != nil {
		return nil, err
	}
	var out []Suggestion
	for _, o := range others {
		if o.ID == e.ID || slices.Contains(e.Links, o.ID) {
			continue
		}
		s := matchWeight(en.cfg, newDocument(o), qs)
		if s < en.cfg.SuggestThreshold || s == 0 {
			continue
		}
		out = append(out, Suggestion{ID: o.ID, Category: o.Category, Title: o.Title, Score: s})
	}
	slices.SortFunc(out, func(a, b Suggestion) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(out) > en.cfg.SuggestLimit {
		out = out[:en.cfg.SuggestLimit]
	}
	return out, nil
}
