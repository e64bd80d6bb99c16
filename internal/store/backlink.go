package store

import (
	"errors"
	"slices"

	"github.com/rcliao/engram/internal/model"
)

// addBacklinks records source in the backlinks of every resolvable target.
func (s *FileStore) addBacklinks(source string, targets []string) {
	for _, t := range targets {
		s.editBacklink(t, source, true)
	}
}

// syncBacklinks touches only the targets in the difference between the old
// and new link sets.
func (s *FileStore) syncBacklinks(source string, before, after []string) {
	added, removed := diffIDs(before, after)
	for _, t := range added {
		s.editBacklink(t, source, true)
	}
	for _, t := range removed {
		s.editBacklink(t, source, false)
	}
}

// editBacklink is best-effort: dangling or unreadable targets are logged and
// left for the repair sweep.
func (s *FileStore) editBacklink(target, source string, add bool) {
	if target == source {
		return
	}
	e, refs, err := s.read(target)
	if errors.Is(err, ErrNotFound) {
		if add {
			s.log.Debug().Str("source", source).Str("target", target).Msg("dangling link tolerated")
		}
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("source", source).Str("target", target).Msg("backlink target unreadable")
		return
	}
	if slices.Contains(e.Backlinks, source) == add {
		return
	}
	if add {
		e.Backlinks = model.NormalizeIDs(append(e.Backlinks, source))
	} else {
		e.Backlinks = slices.DeleteFunc(e.Backlinks, func(id string) bool { return id == source })
		if len(e.Backlinks) == 0 {
			e.Backlinks = nil
		}
	}
	if err := s.persist(e, refs); err != nil {
		s.log.Warn().Err(err).Str("target", target).Msg("backlink update failed")
	}
}

// diffIDs returns the ids only in after and the ids only in before.
func diffIDs(before, after []string) (added, removed []string) {
	for _, id := range after {
		if !slices.Contains(before, id) {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if !slices.Contains(after, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}
