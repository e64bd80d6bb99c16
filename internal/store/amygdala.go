package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rcliao/engram/internal/model"
)

// syncMirror writes the pointer of a critical entry and drops the pointer of
// one that is no longer critical. Unchanged pointers are not rewritten.
func (s *FileStore) syncMirror(e *model.Entry) error {
	path := s.pointerPath(e.ID)
	if !e.IsCritical() {
		err := os.Remove(path)
		if err == nil {
			s.log.Info().Str("id", e.ID).Msg("mirror pointer removed")
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove mirror %s: %w", path, err)
	}

	data, err := model.MarshalPointer(model.PointerFor(e))
	if err != nil {
		return err
	}
	if cur, err := os.ReadFile(path); err == nil && bytes.Equal(cur, data) {
		return nil
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("write mirror %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) readPointer(id string) (model.Pointer, error) {
	path := s.pointerPath(id)
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Pointer{}, err
	}
	p, err := model.UnmarshalPointer(raw, path)
	if err != nil {
		return model.Pointer{}, err
	}
	if p.ID != id {
		return model.Pointer{}, &model.CorruptEntryError{Path: path, ID: id, Err: fmt.Errorf("pointer names %q", p.ID)}
	}
	return p, nil
}

// Mirrors returns the readable amygdala pointers sorted by id. Corrupt
// pointers are logged and skipped.
func (s *FileStore) Mirrors(ctx context.Context) ([]model.Pointer, error) {
	ids, err := s.pointerIDs()
	if err != nil {
		return nil, err
	}
	var out []model.Pointer
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := s.readPointer(id)
		if err != nil {
			s.log.Warn().Err(err).Str("id", id).Msg("skipping corrupt mirror pointer")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *FileStore) pointerIDs() ([]string, error) {
	dir := filepath.Join(s.root, model.AmygdalaDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var ids []string
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != fileExt {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	slices.Sort(ids)
	return ids, nil
}
