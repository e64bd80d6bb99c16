package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rcliao/engram/internal/model"
)

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreate(t, s, CreateParams{Category: model.CategoryNotes, Body: "a"})
	mustCreate(t, s, CreateParams{Category: model.CategoryDecisions, Body: "b", Importance: model.ImportanceCritical})
	d := mustCreate(t, s, CreateParams{Category: model.CategoryNotes, Body: "c"})
	s.Deprecate(ctx, d.ID)
	os.WriteFile(filepath.Join(s.Root(), "cortex", "notes", "NOT-BROKEN00.md"), []byte("junk"), 0o644)

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalEntries != 3 || st.ActiveEntries != 2 || st.Deprecated != 1 {
		t.Errorf("counts: %+v", st)
	}
	if st.Critical != 1 || st.Pinned != 1 || st.Mirrors != 1 || st.Corrupt != 1 {
		t.Errorf("critical/pinned/mirrors/corrupt: %+v", st)
	}
	if st.SizeBytes == 0 {
		t.Error("expected non-zero size")
	}
	for _, r := range st.Regions {
		if r.Region == model.RegionCortex && r.Count != 1 {
			t.Errorf("cortex count = %d", r.Count)
		}
	}
}
