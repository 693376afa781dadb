// Package persist stores the block graph in SQLite so a restart recovers the
// full hierarchy. The in-memory store stays authoritative; this layer is a
// write-through journal plus a loader for startup.
package persist

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/odal/internal/graphservice"
	"github.com/starford/odal/internal/model"
	"github.com/starford/odal/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pages (
	name          TEXT PRIMARY KEY,
	original_name TEXT NOT NULL DEFAULT '',
	aliases       TEXT NOT NULL DEFAULT '[]',
	tags          TEXT NOT NULL DEFAULT '[]',
	properties    TEXT NOT NULL DEFAULT '{}',
	file          TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS blocks (
	id         TEXT PRIMARY KEY,
	page       TEXT NOT NULL,
	parent_id  TEXT NOT NULL DEFAULT '',
	left_id    TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	properties TEXT NOT NULL DEFAULT '{}',
	marker     TEXT NOT NULL DEFAULT '',
	priority   TEXT NOT NULL DEFAULT '',
	refs       TEXT NOT NULL DEFAULT '[]',
	tags       TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blocks_page ON blocks(page);
`

// DB wraps a sql.DB with graph persistence operations.
type DB struct {
	conn *sql.DB
}

// Verify *DB satisfies the service's write-through contract at compile time.
var _ graphservice.Writer = (*DB)(nil)

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("persist: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persist: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func idText(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func parseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

// UpsertBlock inserts or replaces one block row.
func (db *DB) UpsertBlock(b *model.Block) error {
	propsJSON, _ := json.Marshal(b.Properties)
	refsJSON, _ := json.Marshal(b.Refs)
	tagsJSON, _ := json.Marshal(b.Tags)
	_, err := db.conn.Exec(`
		INSERT INTO blocks (id, page, parent_id, left_id, content, properties, marker, priority, refs, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			page       = excluded.page,
			parent_id  = excluded.parent_id,
			left_id    = excluded.left_id,
			content    = excluded.content,
			properties = excluded.properties,
			marker     = excluded.marker,
			priority   = excluded.priority,
			refs       = excluded.refs,
			tags       = excluded.tags,
			updated_at = excluded.updated_at
	`, b.ID.String(), b.Page, idText(b.Parent), idText(b.Left), b.Content,
		string(propsJSON), b.Marker, b.Priority, string(refsJSON), string(tagsJSON),
		b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("persist: upsert block: %w", err)
	}
	return nil
}

// DeleteBlocks removes a batch of block rows in one transaction. A cascade
// delete hands the whole removed subtree to a single call.
func (db *DB) DeleteBlocks(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("persist: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.Prepare(`DELETE FROM blocks WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("persist: prepare delete: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(id.String()); err != nil {
			return fmt.Errorf("persist: delete block: %w", err)
		}
	}
	return tx.Commit()
}

// UpsertPage inserts or replaces one page row.
func (db *DB) UpsertPage(p *model.Page) error {
	aliasesJSON, _ := json.Marshal(p.Aliases)
	tagsJSON, _ := json.Marshal(p.Tags)
	propsJSON, _ := json.Marshal(p.Properties)
	_, err := db.conn.Exec(`
		INSERT INTO pages (name, original_name, aliases, tags, properties, file, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			original_name = excluded.original_name,
			aliases       = excluded.aliases,
			tags          = excluded.tags,
			properties    = excluded.properties,
			file          = excluded.file,
			updated_at    = excluded.updated_at
	`, p.Name, p.OriginalName, string(aliasesJSON), string(tagsJSON),
		string(propsJSON), p.File, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("persist: upsert page: %w", err)
	}
	return nil
}

// Load reads every page and block into the given store. Chain indexes are
// rebuilt from the persisted Left handles, so row order does not matter.
func (db *DB) Load(st *store.Store) error {
	pages, err := db.loadPages()
	if err != nil {
		return err
	}
	for _, p := range pages {
		st.RestorePage(p)
	}
	blocks, err := db.loadBlocks()
	if err != nil {
		return err
	}
	return st.RestoreBlocks(blocks)
}

func (db *DB) loadPages() ([]*model.Page, error) {
	rows, err := db.conn.Query(`SELECT name, original_name, aliases, tags, properties, file, created_at, updated_at FROM pages`)
	if err != nil {
		return nil, fmt.Errorf("persist: load pages: %w", err)
	}
	defer rows.Close()

	var out []*model.Page
	for rows.Next() {
		p := &model.Page{}
		var aliases, tags, props string
		if err := rows.Scan(&p.Name, &p.OriginalName, &aliases, &tags, &props, &p.File, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("persist: scan page: %w", err)
		}
		if err := json.Unmarshal([]byte(aliases), &p.Aliases); err != nil {
			return nil, fmt.Errorf("persist: page %s aliases: %w", p.Name, err)
		}
		if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
			return nil, fmt.Errorf("persist: page %s tags: %w", p.Name, err)
		}
		if err := json.Unmarshal([]byte(props), &p.Properties); err != nil {
			return nil, fmt.Errorf("persist: page %s properties: %w", p.Name, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) loadBlocks() ([]*model.Block, error) {
	rows, err := db.conn.Query(`SELECT id, page, parent_id, left_id, content, properties, marker, priority, refs, tags, created_at, updated_at FROM blocks`)
	if err != nil {
		return nil, fmt.Errorf("persist: load blocks: %w", err)
	}
	defer rows.Close()

	var out []*model.Block
	for rows.Next() {
		b := &model.Block{}
		var id, parent, left, props, refs, tags string
		if err := rows.Scan(&id, &b.Page, &parent, &left, &b.Content, &props, &b.Marker, &b.Priority, &refs, &tags, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("persist: scan block: %w", err)
		}
		if b.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("persist: block id %q: %w", id, err)
		}
		if b.Parent, err = parseID(parent); err != nil {
			return nil, fmt.Errorf("persist: block %s parent: %w", id, err)
		}
		if b.Left, err = parseID(left); err != nil {
			return nil, fmt.Errorf("persist: block %s left: %w", id, err)
		}
		if err := json.Unmarshal([]byte(props), &b.Properties); err != nil {
			return nil, fmt.Errorf("persist: block %s properties: %w", id, err)
		}
		if err := json.Unmarshal([]byte(refs), &b.Refs); err != nil {
			return nil, fmt.Errorf("persist: block %s refs: %w", id, err)
		}
		if err := json.Unmarshal([]byte(tags), &b.Tags); err != nil {
			return nil, fmt.Errorf("persist: block %s tags: %w", id, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
