package store

import (
	"context"
	"errors"
	"os"
	"slices"

	"github.com/rcliao/engram/internal/model"
)

// RepairReport lists what a consistency sweep changed.
type RepairReport struct {
	DuplicatesRemoved []string `json:"duplicates_removed"`
	BacklinksAdded    int      `json:"backlinks_added"`
	BacklinksRemoved  int      `json:"backlinks_removed"`
	MirrorsWritten    []string `json:"mirrors_written"`
	MirrorsRemoved    []string `json:"mirrors_removed"`
	Corrupt           []string `json:"corrupt"`
}

// Changed reports whether the sweep touched anything on disk.
func (r *RepairReport) Changed() bool {
	return len(r.DuplicatesRemoved) > 0 || r.BacklinksAdded > 0 || r.BacklinksRemoved > 0 ||
		len(r.MirrorsWritten) > 0 || len(r.MirrorsRemoved) > 0
}

// Repair is the full consistency sweep: it drops stale duplicate copies,
// rebuilds every backlink list from the links that point at it and brings the
// mirror directory in line with the critical entries. Running it twice
// changes nothing the second time.
func (s *FileStore) Repair(ctx context.Context) (*RepairReport, error) {
	report := &RepairReport{}
	err := s.withLock(ctx, func(ctx context.Context) error {
		return s.repair(ctx, report)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *FileStore) repair(ctx context.Context, report *RepairReport) error {
	index, err := s.scan("")
	if err != nil {
		return err
	}

	entries := map[string]*model.Entry{}
	for _, id := range sortedIDs(index) {
		if err := ctx.Err(); err != nil {
			return err
		}
		refs := index[id]
		e, losers, err := s.resolve(id, refs)
		if err != nil {
			s.log.Warn().Err(err).Str("id", id).Msg("skipping corrupt entry")
			report.Corrupt = append(report.Corrupt, id)
			continue
		}
		for _, ref := range losers {
			if err := os.Remove(ref.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
		if len(losers) > 0 {
			report.DuplicatesRemoved = append(report.DuplicatesRemoved, id)
		}
		entries[id] = e
	}

	want := map[string][]string{}
	for id, e := range entries {
		for _, target := range e.Links {
			if _, ok := entries[target]; ok && target != id {
				want[target] = append(want[target], id)
			}
		}
	}

	for _, id := range sortedKeys(entries) {
		e := entries[id]
		next := model.NormalizeIDs(want[id])
		added, removed := diffIDs(e.Backlinks, next)
		mirrorOK := s.mirrorCurrent(e)
		if len(added) == 0 && len(removed) == 0 && mirrorOK {
			continue
		}
		report.BacklinksAdded += len(added)
		report.BacklinksRemoved += len(removed)
		e.Backlinks = next
		switch {
		case !mirrorOK && e.IsCritical():
			report.MirrorsWritten = append(report.MirrorsWritten, id)
		case !mirrorOK:
			report.MirrorsRemoved = append(report.MirrorsRemoved, id)
		}
		if err := s.persist(e, nil); err != nil {
			return err
		}
	}

	ptrs, err := s.pointerIDs()
	if err != nil {
		return err
	}
	for _, id := range ptrs {
		if e, ok := entries[id]; ok && e.IsCritical() {
			continue
		}
		if slices.Contains(report.Corrupt, id) {
			continue
		}
		if err := os.Remove(s.pointerPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		report.MirrorsRemoved = append(report.MirrorsRemoved, id)
	}
	if report.Changed() {
		s.log.Info().
			Int("duplicates", len(report.DuplicatesRemoved)).
			Int("backlinks_added", report.BacklinksAdded).
			Int("backlinks_removed", report.BacklinksRemoved).
			Int("mirrors_written", len(report.MirrorsWritten)).
			Int("mirrors_removed", len(report.MirrorsRemoved)).
			Msg("repair sweep")
	}
	return nil
}

// mirrorCurrent reports whether the on-disk pointer matches what syncMirror
// would write for e.
func (s *FileStore) mirrorCurrent(e *model.Entry) bool {
	p, err := s.readPointer(e.ID)
	if !e.IsCritical() {
		return errors.Is(err, os.ErrNotExist)
	}
	if err != nil {
		return false
	}
	want := model.PointerFor(e)
	return p.Region == want.Region && p.Category == want.Category && p.Title == want.Title && p.Updated.Equal(want.Updated)
}

func sortedKeys(m map[string]*model.Entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
