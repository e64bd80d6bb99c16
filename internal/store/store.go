// Package store persists engram entries as Markdown files grouped by region
// and category, and keeps the backlink index and the critical mirror in sync.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rcliao/engram/internal/model"
)

var (
	// ErrNotFound is returned when an id resolves in no region.
	ErrNotFound = errors.New("entry not found")
	// ErrDuplicateID is returned when id allocation kept colliding.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrLinkCycleIgnored reports a dropped self-link. The write succeeded.
	ErrLinkCycleIgnored = errors.New("self-link ignored")
)

// Notice is an informational error returned next to a successful result.
type Notice struct {
	ID  string
	Err error
}

func (n *Notice) Error() string { return fmt.Sprintf("%s: %v", n.ID, n.Err) }

func (n *Notice) Unwrap() error { return n.Err }

// IsNotice reports whether err only carries notices, meaning the operation
// itself succeeded.
func IsNotice(err error) bool {
	var n *Notice
	return err != nil && errors.As(err, &n)
}

// CreateParams holds parameters for creating an entry. Empty enum fields take
// the model defaults; an empty Region is computed from importance and retention.
type CreateParams struct {
	Category   model.Category
	Body       string
	Title      string
	Summary    string
	Tags       []string
	Links      []string
	Importance model.Importance
	Retention  model.Retention
	Region     model.Region
	PinUntil   *time.Time
	Expiry     *time.Time
}

// Patch lists the fields to change. Nil fields are left alone. A zero time in
// PinUntil or Expiry clears the timestamp.
type Patch struct {
	Title      *string
	Summary    *string
	Body       *string
	Tags       *[]string
	Links      *[]string
	Importance *model.Importance
	Retention  *model.Retention
	Region     *model.Region
	PinUntil   *time.Time
	Expiry     *time.Time
	Deprecated *bool
	Strength   *float64
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// ListParams filters a scan. Zero values match everything that is neither
// deprecated nor expired.
type ListParams struct {
	Region            model.Region
	Category          model.Category
	Tags              []string
	CriticalOnly      bool
	IncludeDeprecated bool
	IncludeExpired    bool
}

// Store defines the entry storage interface.
type Store interface {
	// Create allocates an id, places and writes a new entry. A returned
	// *Notice accompanies a valid entry.
	Create(ctx context.Context, p CreateParams) (*model.Entry, error)

	// Get reads an entry by id from any region.
	Get(ctx context.Context, id string) (*model.Entry, error)

	// Update applies a patch and re-synchronizes backlinks and the mirror.
	Update(ctx context.Context, id string, p Patch) (*model.Entry, error)

	// MoveRegion relocates an entry without ever leaving it absent.
	MoveRegion(ctx context.Context, id string, region model.Region) (*model.Entry, error)

	// List scans the store afresh on every iteration. Corrupt records are
	// yielded as errors and the scan continues.
	List(ctx context.Context, p ListParams) iter.Seq2[*model.Entry, error]

	// Deprecate hides an entry from default recall.
	Deprecate(ctx context.Context, id string) (*model.Entry, error)

	// RecordRecall bumps read-frequency metadata of the given ids.
	RecordRecall(ctx context.Context, ids []string, boost float64) ([]*model.Entry, error)

	// Tags returns the distinct tags across every entry.
	Tags(ctx context.Context) ([]string, error)
}
