package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rcliao/engram/internal/model"
)

// Purge physically removes every expired entry, its mirror pointer and the
// backlinks it left in the entries it linked to. It is the only operation that
// deletes entry files. Links pointing at a purged entry become dangling.
func (s *FileStore) Purge(ctx context.Context) ([]string, error) {
	var purged []string
	err := s.withLock(ctx, func(ctx context.Context) error {
		now := s.now()
		var expired []*model.Entry
		for e, err := range s.List(ctx, ListParams{IncludeDeprecated: true, IncludeExpired: true}) {
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				continue
			}
			if e.IsExpired(now) {
				expired = append(expired, e)
			}
		}

		for _, e := range expired {
			refs, err := s.locate(e.ID)
			if err != nil {
				return err
			}
			for _, ref := range refs {
				if err := os.Remove(ref.path); err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("purge %s: %w", ref.path, err)
				}
			}
			if err := os.Remove(s.pointerPath(e.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("purge mirror %s: %w", e.ID, err)
			}
			s.syncBacklinks(e.ID, e.Links, nil)
			s.log.Info().Str("id", e.ID).Msg("purged expired entry")
			purged = append(purged, e.ID)
		}
		return nil
	})
	return purged, err
}
