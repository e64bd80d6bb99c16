package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rcliao/engram/internal/model"
)

// ExportAll returns every readable entry, optionally including deprecated ones.
// Expired entries are exported until they are purged.
func (s *FileStore) ExportAll(ctx context.Context, includeDeprecated bool) ([]*model.Entry, error) {
	var entries []*model.Entry
	for e, err := range s.List(ctx, ListParams{IncludeDeprecated: includeDeprecated, IncludeExpired: true}) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ImportResult reports what an import wrote.
type ImportResult struct {
	Imported []string      `json:"imported"`
	Skipped  []string      `json:"skipped"`
	Repair   *RepairReport `json:"repair,omitempty"`
}

// Import writes entries whose ids are not in the store yet, keeping their ids
// and timestamps, then runs the repair sweep so backlinks and mirrors match.
func (s *FileStore) Import(ctx context.Context, entries []*model.Entry) (*ImportResult, error) {
	res := &ImportResult{}
	for _, e := range entries {
		if err := validateImported(e); err != nil {
			return nil, err
		}
	}

	err := s.withLock(ctx, func(ctx context.Context) error {
		for _, in := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			refs, err := s.locate(in.ID)
			if err != nil {
				return err
			}
			if len(refs) > 0 {
				res.Skipped = append(res.Skipped, in.ID)
				continue
			}

			e := in.Clone()
			e.Tags = model.NormalizeTags(e.Tags)
			e.Links, _ = dropSelfLink(e.ID, model.NormalizeIDs(e.Links))
			e.Backlinks = nil
			if e.Created.IsZero() {
				e.Created = s.stamp()
			}
			if e.Updated.IsZero() {
				e.Updated = e.Created
			}
			e.Created = e.Created.UTC().Truncate(0)
			e.Updated = e.Updated.UTC().Truncate(0)
			if e.Title == "" {
				e.Title = model.DefaultTitle(e.Body)
			}
			e.Clamp()

			data, err := model.Marshal(e)
			if err != nil {
				return err
			}
			path := s.entryPath(e.Region, e.Category, e.ID)
			if err := writeExclusive(path, data); err != nil {
				if errors.Is(err, os.ErrExist) {
					res.Skipped = append(res.Skipped, e.ID)
					continue
				}
				return fmt.Errorf("write %s: %w", path, err)
			}
			res.Imported = append(res.Imported, e.ID)
		}

		res.Repair = &RepairReport{}
		return s.repair(ctx, res.Repair)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func validateImported(e *model.Entry) error {
	if e == nil {
		return model.Invalid("entry", "null entry in import")
	}
	if err := model.ValidID(e.ID); err != nil {
		return err
	}
	switch {
	case !model.ValidCategories[e.Category]:
		return model.Invalid("category", "%s: %q is not a known category", e.ID, e.Category)
	case !model.ValidRegions[e.Region]:
		return model.Invalid("region", "%s: %q is not a writable region", e.ID, e.Region)
	case !model.ValidImportances[e.Importance]:
		return model.Invalid("importance", "%s: %q is not a known importance", e.ID, e.Importance)
	case !model.ValidRetentions[e.Retention]:
		return model.Invalid("retention", "%s: %q is not a known retention", e.ID, e.Retention)
	case e.RecallCount < 0:
		return model.Invalid("recall_count", "%s: negative", e.ID)
	}
	return nil
}
