package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/engram/internal/config"
	"github.com/rcliao/engram/internal/lock"
	"github.com/rcliao/engram/internal/model"
)

const (
	fileExt       = ".md"
	maxIDAttempts = 8
	summaryLimit  = 180
)

// Options configures a FileStore. Zero fields take defaults.
type Options struct {
	Config config.Config
	Lock   *lock.Manager
	Logger zerolog.Logger
	Now    func() time.Time
	NewID  func(model.Category) (string, error)
}

// FileStore implements Store on a directory tree.
type FileStore struct {
	root  string
	cfg   config.Config
	lock  *lock.Manager
	log   zerolog.Logger
	now   func() time.Time
	newID func(model.Category) (string, error)
}

var _ Store = (*FileStore)(nil)

// copyRef is one on-disk copy of an entry.
type copyRef struct {
	path     string
	region   model.Region
	category model.Category
}

// Open prepares the region layout under root and returns a store on it.
func Open(root string, opts Options) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	cfg := opts.Config
	if cfg.Lock.File == "" {
		cfg = config.Default()
	}
	for _, r := range model.Regions {
		for _, c := range model.Categories {
			if err := os.MkdirAll(filepath.Join(abs, string(r), string(c)), 0o755); err != nil {
				return nil, fmt.Errorf("create region dir: %w", err)
			}
		}
	}
	if err := os.MkdirAll(filepath.Join(abs, model.AmygdalaDir), 0o755); err != nil {
		return nil, fmt.Errorf("create mirror dir: %w", err)
	}

	s := &FileStore{
		root:  abs,
		cfg:   cfg,
		lock:  opts.Lock,
		log:   opts.Logger,
		now:   opts.Now,
		newID: opts.NewID,
	}
	if s.lock == nil {
		s.lock = lock.ForRoot(abs, cfg.Lock, opts.Logger)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = model.NewID
	}
	return s, nil
}

// Root returns the absolute store root.
func (s *FileStore) Root() string { return s.root }

// Locker returns the lock manager guarding this root.
func (s *FileStore) Locker() *lock.Manager { return s.lock }

func (s *FileStore) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// bump returns a timestamp strictly after prev so successive writes of the
// same entry stay ordered even within one clock tick.
func (s *FileStore) bump(prev time.Time) time.Time {
	now := s.stamp()
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

func (s *FileStore) withLock(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	l, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := l.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(l.Context(ctx))
}

func (s *FileStore) entryPath(r model.Region, c model.Category, id string) string {
	return filepath.Join(s.root, string(r), string(c), id+fileExt)
}

func (s *FileStore) pointerPath(id string) string {
	return filepath.Join(s.root, model.AmygdalaDir, id+fileExt)
}

// Create validates p, allocates an id and writes the entry.
func (s *FileStore) Create(ctx context.Context, p CreateParams) (*model.Entry, error) {
	e, err := s.prepare(p)
	if err != nil {
		return nil, err
	}
	links := e.Links

	var notice error
	err = s.withLock(ctx, func(ctx context.Context) error {
		now := s.stamp()
		e.Created, e.Updated = now, now

		for attempt := 0; ; attempt++ {
			if attempt == maxIDAttempts {
				return fmt.Errorf("%w: gave up after %d attempts", ErrDuplicateID, maxIDAttempts)
			}
			id, err := s.newID(e.Category)
			if err != nil {
				return err
			}
			if err := model.ValidID(id); err != nil {
				return err
			}
			if refs, _ := s.locate(id); len(refs) > 0 {
				s.log.Debug().Str("id", id).Msg("id collision, retrying")
				continue
			}

			e.ID = id
			e.Links, notice = dropSelfLink(id, links)
			data, err := model.Marshal(e)
			if err != nil {
				return err
			}
			path := s.entryPath(e.Region, e.Category, id)
			err = writeExclusive(path, data)
			if errors.Is(err, os.ErrExist) {
				s.log.Debug().Str("id", id).Msg("id collision, retrying")
				continue
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			e.Path = path
			break
		}
		if notice != nil {
			s.log.Info().Str("id", e.ID).Msg("self-link dropped")
		}

		if err := s.syncMirror(e); err != nil {
			return err
		}
		s.addBacklinks(e.ID, e.Links)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, notice
}

func (s *FileStore) prepare(p CreateParams) (*model.Entry, error) {
	if !model.ValidCategories[p.Category] {
		return nil, model.Invalid("category", "%q is not a known category", p.Category)
	}
	body := strings.TrimSpace(p.Body)
	if body == "" {
		return nil, model.Invalid("body", "content is required")
	}
	imp := p.Importance
	if imp == "" {
		imp = model.DefaultImportance
	}
	if !model.ValidImportances[imp] {
		return nil, model.Invalid("importance", "%q is not a known importance", imp)
	}
	ret := p.Retention
	if ret == "" {
		ret = model.DefaultRetention
	}
	if !model.ValidRetentions[ret] {
		return nil, model.Invalid("retention", "%q is not a known retention", ret)
	}
	region := p.Region
	if region == "" {
		region = model.Placement(imp, ret)
	}
	if !model.ValidRegions[region] {
		return nil, model.Invalid("region", "%q is not a writable region", region)
	}
	links := model.NormalizeIDs(p.Links)
	for _, l := range links {
		if err := model.ValidID(l); err != nil {
			return nil, err
		}
	}

	e := &model.Entry{
		Title:         strings.TrimSpace(p.Title),
		Category:      p.Category,
		Region:        region,
		Importance:    imp,
		Retention:     ret,
		Tags:          model.NormalizeTags(p.Tags),
		Links:         links,
		Strength:      model.BaseStrength(region, imp, ret),
		StrengthFloor: s.cfg.Strength.FloorFor(p.Category, imp),
		PinUntil:      normalizeTime(p.PinUntil),
		Expiry:        normalizeTime(p.Expiry),
		Summary:       strings.TrimSpace(p.Summary),
		Body:          body,
	}
	if e.Title == "" {
		e.Title = model.DefaultTitle(body)
	}
	if e.Summary == "" {
		e.Summary = model.Capsule(body, summaryLimit)
	}
	e.Clamp()
	return e, nil
}

// Get reads an entry by id.
func (s *FileStore) Get(_ context.Context, id string) (*model.Entry, error) {
	if err := model.ValidID(id); err != nil {
		return nil, err
	}
	e, _, err := s.read(id)
	return e, err
}

// Update applies p to the entry under the store lock.
func (s *FileStore) Update(ctx context.Context, id string, p Patch) (*model.Entry, error) {
	if err := model.ValidID(id); err != nil {
		return nil, err
	}
	if err := validatePatch(p); err != nil {
		return nil, err
	}

	var out *model.Entry
	var notice error
	err := s.withLock(ctx, func(ctx context.Context) error {
		cur, refs, err := s.read(id)
		if err != nil {
			return err
		}
		next, n := s.apply(cur, p)
		if err := s.persist(next, refs); err != nil {
			return err
		}
		if n != nil {
			s.log.Info().Str("id", id).Msg("self-link dropped")
		}
		s.syncBacklinks(id, cur.Links, next.Links)
		out, notice = next, n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, notice
}

func validatePatch(p Patch) error {
	if p.Body != nil && strings.TrimSpace(*p.Body) == "" {
		return model.Invalid("body", "content must not be empty")
	}
	if p.Importance != nil && !model.ValidImportances[*p.Importance] {
		return model.Invalid("importance", "%q is not a known importance", *p.Importance)
	}
	if p.Retention != nil && !model.ValidRetentions[*p.Retention] {
		return model.Invalid("retention", "%q is not a known retention", *p.Retention)
	}
	if p.Region != nil && !model.ValidRegions[*p.Region] {
		return model.Invalid("region", "%q is not a writable region", *p.Region)
	}
	if p.Links != nil {
		for _, l := range model.NormalizeIDs(*p.Links) {
			if err := model.ValidID(l); err != nil {
				return err
			}
		}
	}
	return nil
}

// apply returns the patched copy of cur and a notice for a dropped self-link.
func (s *FileStore) apply(cur *model.Entry, p Patch) (*model.Entry, error) {
	next := cur.Clone()
	var notice error

	if p.Body != nil {
		next.Body = strings.TrimSpace(*p.Body)
		// Derived title and summary follow the body; user-supplied ones stay.
		if p.Title == nil && cur.Title == model.DefaultTitle(cur.Body) {
			next.Title = model.DefaultTitle(next.Body)
		}
		if p.Summary == nil && cur.Summary == model.Capsule(cur.Body, summaryLimit) {
			next.Summary = model.Capsule(next.Body, summaryLimit)
		}
	}
	if p.Title != nil {
		next.Title = strings.TrimSpace(*p.Title)
		if next.Title == "" {
			next.Title = model.DefaultTitle(next.Body)
		}
	}
	if p.Summary != nil {
		next.Summary = strings.TrimSpace(*p.Summary)
		if next.Summary == "" {
			next.Summary = model.Capsule(next.Body, summaryLimit)
		}
	}
	if p.Tags != nil {
		next.Tags = model.NormalizeTags(*p.Tags)
	}
	if p.Links != nil {
		next.Links, notice = dropSelfLink(cur.ID, model.NormalizeIDs(*p.Links))
	}

	if p.Importance != nil {
		next.Importance = *p.Importance
		next.StrengthFloor = s.cfg.Strength.FloorFor(next.Category, next.Importance)
	}
	if p.Retention != nil {
		next.Retention = *p.Retention
	}
	switch {
	case p.Region != nil:
		next.Region = *p.Region
	case next.Region == model.RegionHippocampus && model.Placement(next.Importance, next.Retention) == model.RegionCortex:
		next.Region = model.RegionCortex
	}

	if p.PinUntil != nil {
		next.PinUntil = clearableTime(*p.PinUntil)
	}
	if p.Expiry != nil {
		next.Expiry = clearableTime(*p.Expiry)
	}
	if p.Deprecated != nil {
		next.Deprecated = *p.Deprecated
	}

	placementChanged := next.Importance != cur.Importance || next.Retention != cur.Retention || next.Region != cur.Region
	switch {
	case p.Strength != nil:
		next.Strength = *p.Strength
	case placementChanged:
		next.Strength = model.BaseStrength(next.Region, next.Importance, next.Retention)
	}

	next.Updated = s.bump(cur.Updated)
	next.Clamp()
	return next, notice
}

// MoveRegion relocates an entry: the new copy is written and verified before
// the old one is removed.
func (s *FileStore) MoveRegion(ctx context.Context, id string, region model.Region) (*model.Entry, error) {
	if err := model.ValidID(id); err != nil {
		return nil, err
	}
	if !model.ValidRegions[region] {
		return nil, model.Invalid("region", "%q is not a writable region", region)
	}

	var out *model.Entry
	err := s.withLock(ctx, func(ctx context.Context) error {
		cur, refs, err := s.read(id)
		if err != nil {
			return err
		}
		if cur.Region == region && len(refs) == 1 {
			out = cur
			return nil
		}
		next := cur.Clone()
		next.Region = region
		next.Updated = s.bump(cur.Updated)
		if err := s.persist(next, refs); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// Deprecate sets deprecated=true. Update with Deprecated=false reverses it.
func (s *FileStore) Deprecate(ctx context.Context, id string) (*model.Entry, error) {
	deprecated := true
	return s.Update(ctx, id, Patch{Deprecated: &deprecated})
}

// RecordRecall increments recall_count, refreshes last_recalled and adds
// boost to the strength of every id. Missing or corrupt ids are skipped.
func (s *FileStore) RecordRecall(ctx context.Context, ids []string, boost float64) ([]*model.Entry, error) {
	var out []*model.Entry
	err := s.withLock(ctx, func(ctx context.Context) error {
		now := s.stamp()
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			e, refs, err := s.read(id)
			if err != nil {
				s.log.Warn().Err(err).Str("id", id).Msg("recall bookkeeping skipped")
				continue
			}
			e.RecallCount++
			e.LastRecalled = &now
			e.Strength += boost
			e.Clamp()
			if err := s.persist(e, refs); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// List yields entries matching p from a fresh directory scan.
func (s *FileStore) List(ctx context.Context, p ListParams) iter.Seq2[*model.Entry, error] {
	return func(yield func(*model.Entry, error) bool) {
		index, err := s.scan(p.Category)
		if err != nil {
			yield(nil, err)
			return
		}
		now := s.now()
		for _, id := range sortedIDs(index) {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			e, _, err := s.resolve(id, index[id])
			if err != nil {
				s.log.Warn().Err(err).Str("id", id).Msg("skipping corrupt entry")
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !p.match(e, now) {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (p ListParams) match(e *model.Entry, now time.Time) bool {
	switch {
	case p.Region != "" && e.Region != p.Region:
		return false
	case p.CriticalOnly && !e.IsCritical():
		return false
	case !p.IncludeDeprecated && e.Deprecated:
		return false
	case !p.IncludeExpired && e.IsExpired(now):
		return false
	}
	if len(p.Tags) == 0 {
		return true
	}
	for _, t := range p.Tags {
		if e.HasTag(t) {
			return true
		}
	}
	return false
}

// Tags returns the distinct tags of every readable entry, deprecated and
// expired ones included, sorted.
func (s *FileStore) Tags(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var tags []string
	for e, err := range s.List(ctx, ListParams{IncludeDeprecated: true, IncludeExpired: true}) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		for _, t := range e.Tags {
			key := strings.ToLower(t)
			if !seen[key] {
				seen[key] = true
				tags = append(tags, t)
			}
		}
	}
	slices.SortFunc(tags, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return tags, nil
}

// scan indexes every entry file by id, optionally within one category.
func (s *FileStore) scan(category model.Category) (map[string][]copyRef, error) {
	index := map[string][]copyRef{}
	for _, r := range []model.Region{model.RegionCortex, model.RegionHippocampus} {
		for _, c := range model.Categories {
			if category != "" && c != category {
				continue
			}
			dir := filepath.Join(s.root, string(r), string(c))
			entries, err := os.ReadDir(dir)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", dir, err)
			}
			for _, de := range entries {
				name := de.Name()
				if de.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != fileExt {
					continue
				}
				id := strings.TrimSuffix(name, fileExt)
				index[id] = append(index[id], copyRef{path: filepath.Join(dir, name), region: r, category: c})
			}
		}
	}
	return index, nil
}

// locate finds every copy of id, the one the mirror points at first.
func (s *FileStore) locate(id string) ([]copyRef, error) {
	var refs []copyRef
	if ptr, err := s.readPointer(id); err == nil {
		refs = append(refs, copyRef{path: s.entryPath(ptr.Region, ptr.Category, id), region: ptr.Region, category: ptr.Category})
	}
	for _, r := range []model.Region{model.RegionCortex, model.RegionHippocampus} {
		for _, c := range model.Categories {
			path := s.entryPath(r, c, id)
			if slices.ContainsFunc(refs, func(ref copyRef) bool { return ref.path == path }) {
				continue
			}
			refs = append(refs, copyRef{path: path, region: r, category: c})
		}
	}

	found := refs[:0]
	for _, ref := range refs {
		_, err := os.Stat(ref.path)
		if err == nil {
			found = append(found, ref)
			continue
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", ref.path, err)
		}
	}
	return found, nil
}

func (s *FileStore) read(id string) (*model.Entry, []copyRef, error) {
	refs, err := s.locate(id)
	if err != nil {
		return nil, nil, err
	}
	if len(refs) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e, _, err := s.resolve(id, refs)
	if err != nil {
		return nil, nil, err
	}
	return e, refs, nil
}

func (s *FileStore) load(id string, ref copyRef) (*model.Entry, error) {
	raw, err := os.ReadFile(ref.path)
	if err != nil {
		return nil, &model.CorruptEntryError{Path: ref.path, ID: id, Err: err}
	}
	e, err := model.Unmarshal(raw, model.Location{
		Path: ref.path, ID: id, Region: ref.region, Category: ref.category,
	}, s.cfg.Strength.Defaults())
	if err != nil {
		return nil, err
	}
	// The directory is authoritative for placement.
	e.Region, e.Category = ref.region, ref.category
	return e, nil
}

// resolve parses every copy of id and picks the authoritative one: the latest
// updated, then the copy the mirror points at, then cortex. It also returns
// the copies that lost.
func (s *FileStore) resolve(id string, refs []copyRef) (*model.Entry, []copyRef, error) {
	var (
		best     *model.Entry
		bestRef  copyRef
		firstErr error
		losers   []copyRef
		pointer  model.Region
	)
	if len(refs) > 1 {
		if ptr, err := s.readPointer(id); err == nil {
			pointer = ptr.Region
		}
	}
	for _, ref := range refs {
		e, err := s.load(id, ref)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			losers = append(losers, ref)
			continue
		}
		if best == nil || newer(e, best, pointer) {
			if best != nil {
				losers = append(losers, bestRef)
			}
			best, bestRef = e, ref
			continue
		}
		losers = append(losers, ref)
	}
	if best == nil {
		return nil, nil, firstErr
	}
	if len(refs) > 1 {
		s.log.Warn().Str("id", id).Str("kept", bestRef.path).Int("copies", len(refs)).Msg("duplicate copy resolved")
	}
	return best, losers, nil
}

func newer(a, b *model.Entry, pointer model.Region) bool {
	if !a.Updated.Equal(b.Updated) {
		return a.Updated.After(b.Updated)
	}
	if pointer != "" && a.Region != b.Region {
		return a.Region == pointer
	}
	return a.Region == model.RegionCortex && b.Region != model.RegionCortex
}

// persist writes e to its region and category. Other copies listed in old are
// removed only after the new file has been read back and checked.
func (s *FileStore) persist(e *model.Entry, old []copyRef) error {
	data, err := model.Marshal(e)
	if err != nil {
		return err
	}
	path := s.entryPath(e.Region, e.Category, e.ID)
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	e.Path = path

	var stale []copyRef
	for _, ref := range old {
		if ref.path != path {
			stale = append(stale, ref)
		}
	}
	if len(stale) > 0 {
		if err := s.verify(path, e); err != nil {
			return err
		}
	}
	if err := s.syncMirror(e); err != nil {
		return err
	}
	for _, ref := range stale {
		if err := os.Remove(ref.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove old copy %s: %w", ref.path, err)
		}
	}
	return nil
}

func (s *FileStore) verify(path string, want *model.Entry) error {
	got, err := s.load(want.ID, copyRef{path: path, region: want.Region, category: want.Category})
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	if !got.Updated.Equal(want.Updated) {
		return fmt.Errorf("verify %s: read back updated %s, wrote %s", path, got.Updated, want.Updated)
	}
	return nil
}

func dropSelfLink(id string, links []string) ([]string, error) {
	if !slices.Contains(links, id) {
		return links, nil
	}
	out := slices.DeleteFunc(slices.Clone(links), func(l string) bool { return l == id })
	if len(out) == 0 {
		out = nil
	}
	return out, &Notice{ID: id, Err: ErrLinkCycleIgnored}
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC().Truncate(time.Millisecond)
	return &v
}

func clearableTime(t time.Time) *time.Time {
	return normalizeTime(&t)
}

func sortedIDs(index map[string][]copyRef) []string {
	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
