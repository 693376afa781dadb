package query

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/starford/odal/internal/linkindex"
	"github.com/starford/odal/internal/model"
	"github.com/starford/odal/internal/store"
)

type fixture struct {
	store  *store.Store
	idx    *linkindex.Indexer
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.New()
	x := linkindex.New(s)
	return &fixture{store: s, idx: x, engine: NewEngine(s, x)}
}

// block appends a root block to page and reindexes it.
func (f *fixture) block(t *testing.T, page, content string, props map[string]string) uuid.UUID {
	t.Helper()
	var left uuid.UUID
	if roots := f.store.RootBlocks(page); len(roots) > 0 {
		left = roots[len(roots)-1]
	}
	id, err := f.store.Insert(&model.Block{Page: page, Content: content, Properties: props}, uuid.Nil, left)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := f.idx.Reindex(id); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	return id
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	f.block(t, "Home", "Alpha note about Go", nil)
	f.block(t, "Home", "beta note", nil)
	f.block(t, "Other", "GAMMA with ALPHA inside", nil)

	got, err := f.engine.Search(context.Background(), "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("hits = %d, want 2", len(got))
	}

	// Missing term: empty, not an error.
	got, err = f.engine.Search(context.Background(), "nomatch")
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestSearchCancellation(t *testing.T) {
	f := newFixture(t)
	f.block(t, "Home", "something", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.engine.Search(ctx, "something"); err == nil {
		t.Fatal("cancelled search returned no error")
	}
}

func TestFindByProperty(t *testing.T) {
	f := newFixture(t)
	f.block(t, "Home", "a", map[string]string{"status": "doing"})
	f.block(t, "Home", "b", map[string]string{"status": "done"})
	f.block(t, "Home", "c", map[string]string{"status": "doing"})

	got, err := f.engine.FindByProperty(context.Background(), "status", "doing")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("hits = %d, want 2", len(got))
	}
	if got, _ := f.engine.FindByProperty(context.Background(), "status", "missing"); len(got) != 0 {
		t.Fatalf("missing value hits = %d", len(got))
	}
}

func TestRelatedPages(t *testing.T) {
	f := newFixture(t)
	// a and b share [[Common]]; c references nothing shared.
	f.block(t, "A", "[[Common]] [[OnlyA]]", nil)
	f.block(t, "B", "[[Common]]", nil)
	f.block(t, "C", "[[Elsewhere]]", nil)

	got, err := f.engine.RelatedPages(context.Background(), "A", 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Page != "b" {
		t.Fatalf("related = %+v", got)
	}
	// Jaccard: |{common}| / |{common, onlya}| = 0.5.
	if math.Abs(got[0].Score-0.5) > 1e-9 {
		t.Errorf("score = %v, want 0.5", got[0].Score)
	}
}

func TestRelatedPagesBoundaries(t *testing.T) {
	f := newFixture(t)
	f.block(t, "A", "[[Common]]", nil)
	f.block(t, "B", "[[Common]]", nil)

	// Threshold above the maximum possible score.
	got, err := f.engine.RelatedPages(context.Background(), "A", 1.1)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %+v, %v", got, err)
	}

	// Page with no references: empty result, no division error.
	got, err = f.engine.RelatedPages(context.Background(), "Common", 0.0)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %+v, %v", got, err)
	}

	// Unknown page: empty result.
	got, err = f.engine.RelatedPages(context.Background(), "Nope", 0.0)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestPageRank(t *testing.T) {
	f := newFixture(t)
	f.block(t, "A", "[[B]]", nil)
	f.block(t, "B", "[[C]]", nil)
	f.block(t, "C", "plain", nil)

	// Zero iterations: uniform 1/N.
	rank, err := f.engine.PageRank(context.Background(), 0.85, 0)
	if err != nil {
		t.Fatal(err)
	}
	n := len(rank)
	for page, score := range rank {
		if math.Abs(score-1.0/float64(n)) > 1e-9 {
			t.Errorf("uniform rank[%s] = %v", page, score)
		}
	}

	rank, err = f.engine.PageRank(context.Background(), 0.85, 20)
	if err != nil {
		t.Fatal(err)
	}
	// Mass is conserved.
	var sum float64
	for _, score := range rank {
		sum += score
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("rank mass = %v, want 1", sum)
	}
	// C collects from the chain, A only gets the base share.
	if rank["c"] <= rank["a"] {
		t.Errorf("rank c=%v not above a=%v", rank["c"], rank["a"])
	}
}

func TestPageRankRejectsMalformedInput(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.PageRank(context.Background(), 0.85, -1); err == nil {
		t.Error("negative iterations accepted")
	}
	if _, err := f.engine.PageRank(context.Background(), 1.5, 1); err == nil {
		t.Error("damping out of range accepted")
	}
}

func TestOrphanedPages(t *testing.T) {
	f := newFixture(t)
	f.block(t, "Lonely", "no inbound refs", nil)
	f.block(t, "Source", "[[Target]]", nil)

	got := f.engine.OrphanedPages()
	names := make(map[string]bool, len(got))
	for _, p := range got {
		names[p.Name] = true
	}
	if !names["lonely"] || !names["source"] {
		t.Errorf("orphans = %v", names)
	}
	if names["target"] {
		t.Error("referenced page reported as orphan")
	}
}

func TestDetectCommunities(t *testing.T) {
	f := newFixture(t)
	// Two dense clusters joined by nothing.
	f.block(t, "A1", "[[A2]] [[A3]]", nil)
	f.block(t, "A2", "[[A3]]", nil)
	f.block(t, "B1", "[[B2]] [[B3]]", nil)
	f.block(t, "B2", "[[B3]]", nil)

	comm, err := f.engine.DetectCommunities(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Every page gets exactly one community.
	_, pages := f.store.Snapshot()
	if len(comm) != len(pages) {
		t.Fatalf("partition covers %d of %d pages", len(comm), len(pages))
	}

	// Modularity of the result is at least that of the singleton partition.
	singletons := make(map[string]int, len(comm))
	i := 0
	for page := range comm {
		singletons[page] = i
		i++
	}
	if f.engine.Modularity(comm) < f.engine.Modularity(singletons)-1e-9 {
		t.Errorf("modularity decreased: %v < %v",
			f.engine.Modularity(comm), f.engine.Modularity(singletons))
	}

	// The two clusters must not be merged.
	if comm["a1"] == comm["b1"] {
		t.Error("disconnected clusters share a community")
	}
	if comm["a1"] != comm["a2"] || comm["a2"] != comm["a3"] {
		t.Errorf("cluster A split: %v", comm)
	}
}
