package graphservice

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/starford/odal/internal/apperr"
	"github.com/starford/odal/internal/collab"
	"github.com/starford/odal/internal/linkindex"
	"github.com/starford/odal/internal/model"
	"github.com/starford/odal/internal/store"
)

type recordingSink struct {
	upserts []uuid.UUID
	deletes []uuid.UUID
	pages   []string
	events  []string
}

func (r *recordingSink) UpsertBlock(b *model.Block) error {
	r.upserts = append(r.upserts, b.ID)
	return nil
}

func (r *recordingSink) DeleteBlocks(ids []uuid.UUID) error {
	r.deletes = append(r.deletes, ids...)
	return nil
}

func (r *recordingSink) UpsertPage(p *model.Page) error {
	r.pages = append(r.pages, p.Name)
	return nil
}

func (r *recordingSink) PublishBlockEvent(kind, page, id string) {
	r.events = append(r.events, kind)
}

func (r *recordingSink) PublishPageEvent(kind, page string) {
	r.events = append(r.events, kind)
}

func newService(t *testing.T) (*Service, *recordingSink) {
	t.Helper()
	st := store.New()
	sink := &recordingSink{}
	return NewService(st, linkindex.New(st), sink, sink), sink
}

func TestInsertBlockIndexesRefs(t *testing.T) {
	svc, sink := newService(t)
	id, err := svc.InsertBlock("Home", uuid.Nil, uuid.Nil, "see [[Roadmap]] #urgent", nil)
	if err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	back := svc.Index().Backlinks("Roadmap")
	if len(back) != 1 || back[0] != id {
		t.Fatalf("backlinks = %v, want [%s]", back, id)
	}
	if _, err := svc.GetPage("roadmap"); err != nil {
		t.Error("referenced page was not auto-created")
	}
	if len(sink.upserts) != 1 || sink.upserts[0] != id {
		t.Errorf("persisted %v, want [%s]", sink.upserts, id)
	}
	if len(sink.events) != 1 || sink.events[0] != "block.created" {
		t.Errorf("events = %v", sink.events)
	}
}

func TestUpdateBlockReindexes(t *testing.T) {
	svc, _ := newService(t)
	id, err := svc.InsertBlock("Home", uuid.Nil, uuid.Nil, "links to [[Old]]", nil)
	if err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	content := "links to [[New]]"
	if err := svc.UpdateBlock(id, &content, nil); err != nil {
		t.Fatalf("UpdateBlock: %v", err)
	}
	if got := svc.Index().Backlinks("Old"); len(got) != 0 {
		t.Errorf("stale backlink to Old survived: %v", got)
	}
	if got := svc.Index().Backlinks("New"); len(got) != 1 {
		t.Errorf("backlinks to New = %v, want one", got)
	}
}

func TestDeleteBlockCascadeForgetsRefs(t *testing.T) {
	svc, sink := newService(t)
	root, err := svc.InsertBlock("Home", uuid.Nil, uuid.Nil, "root", nil)
	if err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	kid, err := svc.InsertBlock("", root, uuid.Nil, "child of [[Target]]", nil)
	if err != nil {
		t.Fatalf("InsertBlock child: %v", err)
	}
	if err := svc.DeleteBlock(root, true); err != nil {
		t.Fatalf("DeleteBlock: %v", err)
	}
	if got := svc.Index().Backlinks("Target"); len(got) != 0 {
		t.Errorf("backlinks after cascade delete = %v, want none", got)
	}
	if len(sink.deletes) != 2 {
		t.Errorf("persisted deletes = %v, want root and child", sink.deletes)
	}
	if svc.Contains(kid) {
		t.Error("child survived cascade delete")
	}
}

func TestMoveBlockCrossPagePersistsSubtree(t *testing.T) {
	svc, sink := newService(t)
	root, _ := svc.InsertBlock("One", uuid.Nil, uuid.Nil, "root", nil)
	kid, _ := svc.InsertBlock("", root, uuid.Nil, "kid", nil)
	anchor, _ := svc.InsertBlock("Two", uuid.Nil, uuid.Nil, "anchor", nil)

	sink.upserts = nil
	if err := svc.MoveBlock(root, uuid.Nil, anchor); err != nil {
		t.Fatalf("MoveBlock: %v", err)
	}
	kb, err := svc.GetBlock(kid)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if kb.Page != "two" {
		t.Errorf("descendant page = %q, want two", kb.Page)
	}
	if len(sink.upserts) != 2 {
		t.Errorf("persisted %v blocks after move, want moved block and descendant", sink.upserts)
	}
}

func TestCreatePageDuplicate(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.CreatePage("Notes"); err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if _, err := svc.CreatePage("NOTES"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate CreatePage err = %v, want ErrAlreadyExists", err)
	}
}

func TestApplyRemoteInsertKeepsID(t *testing.T) {
	svc, _ := newService(t)
	remote := uuid.New()
	op := collab.Op{
		ID:        "op-1",
		Type:      collab.TypeInsert,
		BlockID:   remote,
		Page:      "Shared",
		Content:   "from replica",
		Timestamp: time.Now(),
		Origin:    "bob",
	}
	if err := svc.Apply(op); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	b, err := svc.GetBlock(remote)
	if err != nil {
		t.Fatalf("remote block missing: %v", err)
	}
	if b.Content != "from replica" {
		t.Errorf("content = %q", b.Content)
	}
	if got := svc.LeftOf(remote); got != uuid.Nil {
		t.Errorf("LeftOf = %s, want Nil", got)
	}
}

func TestOutlineRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	lines := []model.OutlineLine{
		{Content: "alpha", Indent: 0},
		{Content: "beta", Indent: 1},
		{Content: "gamma", Indent: 2},
		{Content: "delta", Indent: 1},
		{Content: "epsilon", Indent: 0},
	}
	if err := svc.ImportPage("Outline", lines); err != nil {
		t.Fatalf("ImportPage: %v", err)
	}
	got, err := svc.ExportPage("Outline")
	if err != nil {
		t.Fatalf("ExportPage: %v", err)
	}
	if !reflect.DeepEqual(got, lines) {
		t.Fatalf("round trip = %v, want %v", got, lines)
	}
}

func TestImportReplacesExistingContent(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.InsertBlock("Plan", uuid.Nil, uuid.Nil, "stale", nil); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	if err := svc.ImportPage("Plan", []model.OutlineLine{{Content: "fresh"}}); err != nil {
		t.Fatalf("ImportPage: %v", err)
	}
	got, err := svc.ExportPage("Plan")
	if err != nil {
		t.Fatalf("ExportPage: %v", err)
	}
	if len(got) != 1 || got[0].Content != "fresh" {
		t.Fatalf("page content = %v, want just fresh", got)
	}
}

func TestImportClampsIndentJump(t *testing.T) {
	svc, _ := newService(t)
	lines := []model.OutlineLine{
		{Content: "top", Indent: 0},
		{Content: "deep", Indent: 5},
	}
	if err := svc.ImportPage("Jumpy", lines); err != nil {
		t.Fatalf("ImportPage: %v", err)
	}
	got, err := svc.ExportPage("Jumpy")
	if err != nil {
		t.Fatalf("ExportPage: %v", err)
	}
	want := []model.OutlineLine{
		{Content: "top", Indent: 0},
		{Content: "deep", Indent: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("export = %v, want %v", got, want)
	}
}
