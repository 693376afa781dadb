package persist

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/starford/odal/internal/model"
	"github.com/starford/odal/internal/store"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "odal-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM pages`).Scan(&count); err != nil {
		t.Fatalf("pages table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM blocks`).Scan(&count); err != nil {
		t.Fatalf("blocks table missing: %v", err)
	}
}

func TestUpsertBlockIsIdempotent(t *testing.T) {
	db := testDB(t)
	b := &model.Block{
		ID:        uuid.New(),
		Page:      "home",
		Content:   "first",
		Refs:      []string{"roadmap"},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.UpsertBlock(b); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}
	b.Content = "second"
	if err := db.UpsertBlock(b); err != nil {
		t.Fatalf("UpsertBlock again: %v", err)
	}
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM blocks`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
	var content string
	if err := db.conn.QueryRow(`SELECT content FROM blocks WHERE id = ?`, b.ID.String()).Scan(&content); err != nil {
		t.Fatal(err)
	}
	if content != "second" {
		t.Errorf("content = %q, want second", content)
	}
}

func TestDeleteBlocksBatch(t *testing.T) {
	db := testDB(t)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		b := &model.Block{ID: id, Page: "home", CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if err := db.UpsertBlock(b); err != nil {
			t.Fatalf("UpsertBlock: %v", err)
		}
	}
	if err := db.DeleteBlocks(ids[:2]); err != nil {
		t.Fatalf("DeleteBlocks: %v", err)
	}
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM blocks`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
	if err := db.DeleteBlocks(nil); err != nil {
		t.Errorf("DeleteBlocks(nil): %v", err)
	}
}

func TestLoadRestoresHierarchy(t *testing.T) {
	db := testDB(t)

	src := store.New()
	a := mustInsert(t, src, "Home", "a", uuid.Nil, uuid.Nil)
	b := mustInsert(t, src, "Home", "b", uuid.Nil, a)
	kid := mustInsert(t, src, "Home", "kid", b, uuid.Nil)
	if err := src.AddAlias("Home", "Start"); err != nil {
		t.Fatalf("AddAlias: %v", err)
	}

	blocks, pages := src.Snapshot()
	for _, p := range pages {
		if err := db.UpsertPage(p); err != nil {
			t.Fatalf("UpsertPage: %v", err)
		}
	}
	// Persist in reverse order to prove loading is order-independent.
	for i := len(blocks) - 1; i >= 0; i-- {
		if err := db.UpsertBlock(blocks[i]); err != nil {
			t.Fatalf("UpsertBlock: %v", err)
		}
	}

	dst := store.New()
	if err := db.Load(dst); err != nil {
		t.Fatalf("Load: %v", err)
	}
	roots := dst.RootBlocks("Home")
	if len(roots) != 2 || roots[0] != a || roots[1] != b {
		t.Fatalf("roots = %v, want [a b]", roots)
	}
	kids, err := dst.Children(b)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(kids) != 1 || kids[0] != kid {
		t.Fatalf("children = %v, want [kid]", kids)
	}
	if _, ok := dst.GetPage("Start"); !ok {
		t.Error("alias not restored")
	}
}

func mustInsert(t *testing.T, s *store.Store, page, content string, parent, left uuid.UUID) uuid.UUID {
	t.Helper()
	id, err := s.Insert(&model.Block{Page: page, Content: content}, parent, left)
	if err != nil {
		t.Fatalf("insert %q: %v", content, err)
	}
	return id
}
