package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/engram/internal/chunker"
	"github.com/rcliao/engram/internal/model"
)

// SnapshotResult describes a written SQLite snapshot.
type SnapshotResult struct {
	Path    string `json:"path"`
	Entries int    `json:"entries"`
	Links   int    `json:"links"`
	Chunks  int    `json:"chunks"`
}

const snapshotSchema = `
CREATE TABLE entries (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	category       TEXT NOT NULL,
	region         TEXT NOT NULL,
	importance     TEXT NOT NULL,
	retention      TEXT NOT NULL,
	tags           TEXT NOT NULL,
	strength       REAL NOT NULL,
	strength_floor REAL NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	recall_count   INTEGER NOT NULL DEFAULT 0,
	last_recalled  TEXT,
	pin_until      TEXT,
	expires_at     TEXT,
	summary        TEXT,
	deprecated     INTEGER NOT NULL DEFAULT 0,
	body           TEXT NOT NULL
);
CREATE INDEX idx_entries_region ON entries(region, category);
CREATE INDEX idx_entries_updated ON entries(updated_at DESC);
CREATE INDEX idx_entries_importance ON entries(importance);

CREATE TABLE links (
	source_id TEXT NOT NULL REFERENCES entries(id),
	target_id TEXT NOT NULL,
	PRIMARY KEY (source_id, target_id)
);
CREATE INDEX idx_links_target ON links(target_id);

CREATE TABLE chunks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id   TEXT NOT NULL REFERENCES entries(id),
	seq        INTEGER NOT NULL,
	heading    TEXT,
	text       TEXT NOT NULL,
	start_line INTEGER,
	end_line   INTEGER
);
CREATE INDEX idx_chunks_entry ON chunks(entry_id);

CREATE VIRTUAL TABLE chunks_fts USING fts5(
	text,
	heading,
	content=chunks,
	content_rowid=id
);

CREATE TRIGGER chunks_ai AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, text, heading) VALUES (new.id, new.text, new.heading);
END;
`

// ExportSQLite writes a read-only SQLite snapshot of the store to path: one
// row per entry, the link graph, and the chunked bodies behind an FTS5 index.
// An existing file at path is replaced.
func (s *FileStore) ExportSQLite(ctx context.Context, path string) (*SnapshotResult, error) {
	entries, err := s.ExportAll(ctx, true)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	os.Remove(tmp)

	res, err := writeSnapshot(ctx, tmp, entries)
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("publish snapshot: %w", err)
	}
	res.Path = path
	return res, nil
}

func writeSnapshot(ctx context.Context, path string, entries []*model.Entry) (res *SnapshotResult, err error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close snapshot: %w", cerr)
		}
	}()

	if _, err := db.ExecContext(ctx, snapshotSchema); err != nil {
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res = &SnapshotResult{}
	for _, e := range entries {
		tags, _ := json.Marshal(nonNilTags(e.Tags))
		_, err := tx.ExecContext(ctx, `INSERT INTO entries
			(id, title, category, region, importance, retention, tags, strength, strength_floor,
			 created_at, updated_at, recall_count, last_recalled, pin_until, expires_at, summary, deprecated, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Title, string(e.Category), string(e.Region), string(e.Importance), string(e.Retention),
			string(tags), e.Strength, e.StrengthFloor,
			formatTime(&e.Created), formatTime(&e.Updated), e.RecallCount,
			formatTime(e.LastRecalled), formatTime(e.PinUntil), formatTime(e.Expiry),
			e.Summary, e.Deprecated, e.Body)
		if err != nil {
			return nil, fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
		res.Entries++

		for _, target := range e.Links {
			if _, err := tx.ExecContext(ctx, `INSERT INTO links (source_id, target_id) VALUES (?, ?)`, e.ID, target); err != nil {
				return nil, fmt.Errorf("insert link %s -> %s: %w", e.ID, target, err)
			}
			res.Links++
		}

		for _, c := range chunker.Split(e.Body, chunker.DefaultOptions()) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (entry_id, seq, heading, text, start_line, end_line) VALUES (?, ?, ?, ?, ?, ?)`,
				e.ID, c.Seq, c.Heading, c.Text, c.StartLine, c.EndLine); err != nil {
				return nil, fmt.Errorf("insert chunk %s/%d: %w", e.ID, c.Seq, err)
			}
			res.Chunks++
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	return res, nil
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
