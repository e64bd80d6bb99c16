package store

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/rcliao/engram/internal/model"
)

// Stats holds store statistics.
type Stats struct {
	Root          string          `json:"root"`
	SizeBytes     int64           `json:"size_bytes"`
	TotalEntries  int             `json:"total_entries"`
	ActiveEntries int             `json:"active_entries"`
	Deprecated    int             `json:"deprecated"`
	Expired       int             `json:"expired"`
	Critical      int             `json:"critical"`
	Pinned        int             `json:"pinned"`
	Corrupt       int             `json:"corrupt"`
	Mirrors       int             `json:"mirrors"`
	Regions       []RegionStats   `json:"regions"`
	Categories    []CategoryStats `json:"categories"`
}

// RegionStats holds per-region counts.
type RegionStats struct {
	Region model.Region `json:"region"`
	Count  int          `json:"count"`
}

// CategoryStats holds per-category counts.
type CategoryStats struct {
	Category model.Category `json:"category"`
	Count    int            `json:"count"`
}

// Stats walks the store and counts entries.
func (s *FileStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Root: s.root}

	filepath.WalkDir(s.root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			st.SizeBytes += info.Size()
		}
		return nil
	})

	now := s.now()
	regions := map[model.Region]int{}
	categories := map[model.Category]int{}
	for e, err := range s.List(ctx, ListParams{IncludeDeprecated: true, IncludeExpired: true}) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			st.Corrupt++
			continue
		}
		st.TotalEntries++
		regions[e.Region]++
		categories[e.Category]++
		switch {
		case e.Deprecated:
			st.Deprecated++
		case e.IsExpired(now):
			st.Expired++
		default:
			st.ActiveEntries++
		}
		if e.IsCritical() {
			st.Critical++
		}
		if e.IsPinned(now) {
			st.Pinned++
		}
	}

	for _, r := range model.Regions {
		st.Regions = append(st.Regions, RegionStats{Region: r, Count: regions[r]})
	}
	for _, c := range model.Categories {
		st.Categories = append(st.Categories, CategoryStats{Category: c, Count: categories[c]})
	}

	ptrs, err := s.pointerIDs()
	if err != nil {
		return st, err
	}
	st.Mirrors = len(ptrs)
	return st, nil
}
