package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rcliao/engram/internal/model"
)

func TestExportSQLite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := mustCreate(t, s, CreateParams{Category: model.CategoryDecisions, Body: "# Rollout\n\nUse canary deploys for every service."})
	mustCreate(t, s, CreateParams{Category: model.CategoryNotes, Body: "unrelated gardening note", Links: []string{a.ID, "DEC-DANGLING"}})

	path := filepath.Join(t.TempDir(), "snap", "engram.db")
	res, err := s.ExportSQLite(ctx, path)
	if err != nil {
		t.Fatalf("export sqlite: %v", err)
	}
	if res.Entries != 2 || res.Links != 2 || res.Chunks != 2 {
		t.Errorf("snapshot counts: %+v", res)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var id, heading string
	err = db.QueryRowContext(ctx, `
		SELECT c.entry_id, c.heading FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		WHERE chunks_fts MATCH ?`, "canary").Scan(&id, &heading)
	if err != nil {
		t.Fatalf("fts query: %v", err)
	}
	if id != a.ID || heading != "Rollout" {
		t.Errorf("fts hit = %s %q", id, heading)
	}

	var backlinks int
	db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links WHERE target_id = ?`, a.ID).Scan(&backlinks)
	if backlinks != 1 {
		t.Errorf("expected one link into %s, got %d", a.ID, backlinks)
	}

	// Exporting again replaces the file.
	if _, err := s.ExportSQLite(ctx, path); err != nil {
		t.Fatalf("second export: %v", err)
	}
}
