package store

import (
	"context"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/rcliao/engram/internal/model"
)

func TestRepair(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := mustCreate(t, s, CreateParams{Category: model.CategoryNotes, Body: "a"})
	b := mustCreate(t, s, CreateParams{Category: model.CategoryNotes, Body: "b", Links: []string{a.ID}})
	crit := mustCreate(t, s, CreateParams{Category: model.CategoryContext, Body: "critical", Importance: model.ImportanceCritical})

	// Break things the way a crash or a hand edit would.
	broken := b.Clone()
	broken.Links = nil
	raw, _ := model.Marshal(broken)
	os.WriteFile(b.Path, raw, 0o644)
	writeCopy(t, s, a, model.RegionCortex, a.Updated.Add(-time.Minute))
	os.Remove(s.pointerPath(crit.ID))
	stray, _ := model.MarshalPointer(model.Pointer{ID: "NOT-GHOST000", Region: model.RegionCortex, Category: model.CategoryNotes})
	os.WriteFile(s.pointerPath("NOT-GHOST000"), stray, 0o644)

	report, err := s.Repair(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(report.DuplicatesRemoved, []string{a.ID}) {
		t.Errorf("duplicates removed = %v", report.DuplicatesRemoved)
	}
	if report.BacklinksRemoved != 1 {
		t.Errorf("backlinks removed = %d", report.BacklinksRemoved)
	}
	if !slices.Equal(report.MirrorsWritten, []string{crit.ID}) || !slices.Equal(report.MirrorsRemoved, []string{"NOT-GHOST000"}) {
		t.Errorf("mirrors written %v removed %v", report.MirrorsWritten, report.MirrorsRemoved)
	}

	ga, _ := s.Get(ctx, a.ID)
	if ga.Region != model.RegionHippocampus || len(ga.Backlinks) != 0 {
		t.Errorf("a after repair: %s %v", ga.Region, ga.Backlinks)
	}
	if _, err := s.readPointer(crit.ID); err != nil {
		t.Errorf("mirror not restored: %v", err)
	}

	again, err := s.Repair(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Changed() {
		t.Errorf("second repair should change nothing: %+v", again)
	}
}
