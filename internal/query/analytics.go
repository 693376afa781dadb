package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/starford/odal/internal/store"
)

// PageScore is a ranked page in a similarity or importance result.
type PageScore struct {
	Page  string  `json:"page"`
	Score float64 `json:"score"`
}

// RelatedPages ranks candidate pages by Jaccard similarity between the pages
// referenced from `page` and the pages referenced from each candidate.
// Candidates must share at least one reference and score at or above
// threshold; results are sorted descending by score (name ascending on ties).
// A page with an empty reference set yields an empty result.
func (e *Engine) RelatedPages(ctx context.Context, page string, threshold float64) ([]PageScore, error) {
	g := e.buildGraph()
	key := store.Normalize(page)
	if p, ok := e.store.GetPage(page); ok {
		key = p.Name
	}
	base := g.out[key]
	if len(base) == 0 {
		return nil, nil
	}

	var out []PageScore
	for _, cand := range g.names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cand == key {
			continue
		}
		other := g.out[cand]
		inter := 0
		for ref := range base {
			if _, ok := other[ref]; ok {
				inter++
			}
		}
		if inter == 0 {
			continue
		}
		union := len(base) + len(other) - inter
		score := float64(inter) / float64(union)
		if score >= threshold {
			out = append(out, PageScore{Page: cand, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Page < out[j].Page
	})
	return out, nil
}

// PageRank runs the classic iterative PageRank over the page-reference graph.
// The iteration count is fixed for determinism; iterations == 0 returns the
// uniform initial distribution. Dangling pages redistribute their score
// uniformly. damping must be in [0, 1] and iterations non-negative.
func (e *Engine) PageRank(ctx context.Context, damping float64, iterations int) (map[string]float64, error) {
	if iterations < 0 {
		return nil, fmt.Errorf("query: pagerank: negative iterations %d", iterations)
	}
	if damping < 0 || damping > 1 {
		return nil, fmt.Errorf("query: pagerank: damping %v out of range", damping)
	}

	g := e.buildGraph()
	n := len(g.names)
	if n == 0 {
		return map[string]float64{}, nil
	}

	rank := make(map[string]float64, n)
	for _, name := range g.names {
		rank[name] = 1.0 / float64(n)
	}

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := make(map[string]float64, n)
		base := (1.0 - damping) / float64(n)
		for _, name := range g.names {
			next[name] = base
		}
		for _, name := range g.names {
			outs := g.out[name]
			if len(outs) == 0 {
				// Dangling page: score spreads over every page.
				share := damping * rank[name] / float64(n)
				for _, other := range g.names {
					next[other] += share
				}
				continue
			}
			share := damping * rank[name] / float64(len(outs))
			for to := range outs {
				next[to] += share
			}
		}
		rank = next
	}
	return rank, nil
}

// DetectCommunities produces a greedy modularity-improving partition of the
// page graph (Louvain-style local moves over the undirected projection).
// Every page lands in exactly one community; the result is a locally
// non-decreasing-modularity partition, not the global optimum. Community IDs
// are renumbered densely and deterministically.
func (e *Engine) DetectCommunities(ctx context.Context) (map[string]int, error) {
	g := e.buildGraph()
	u := newUndirected(g)

	comm := make(map[string]int, len(u.nodes))
	for i, name := range u.nodes {
		comm[name] = i
	}
	if len(u.nodes) == 0 {
		return map[string]int{}, nil
	}

	// sumTot holds the total degree per community.
	sumTot := make(map[int]float64, len(u.nodes))
	for name, c := range comm {
		sumTot[c] += u.degree[name]
	}

	const maxPasses = 16
	for pass := 0; pass < maxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		moved := false
		for _, name := range u.nodes {
			best, gain := bestMove(u, comm, sumTot, name)
			if gain > 1e-12 && best != comm[name] {
				sumTot[comm[name]] -= u.degree[name]
				comm[name] = best
				sumTot[best] += u.degree[name]
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	// Dense deterministic renumbering by first appearance in name order.
	renum := make(map[int]int)
	out := make(map[string]int, len(comm))
	for _, name := range u.nodes {
		c := comm[name]
		if _, ok := renum[c]; !ok {
			renum[c] = len(renum)
		}
		out[name] = renum[c]
	}
	return out, nil
}

// Modularity computes the modularity of a partition over the current page
// graph's undirected projection. Exposed for analytics output and tests.
func (e *Engine) Modularity(partition map[string]int) float64 {
	return modularity(newUndirected(e.buildGraph()), partition)
}

// undirected is the symmetric projection of the page graph with unit edge
// weights. Self-references are dropped.
type undirected struct {
	nodes  []string
	adj    map[string]map[string]float64
	degree map[string]float64
	m      float64 // total edge weight
}

func newUndirected(g *pageGraph) *undirected {
	u := &undirected{
		nodes:  g.names,
		adj:    make(map[string]map[string]float64, len(g.names)),
		degree: make(map[string]float64, len(g.names)),
	}
	for _, name := range g.names {
		u.adj[name] = make(map[string]float64)
	}
	for _, from := range g.names {
		for to := range g.out[from] {
			if from == to {
				continue
			}
			if _, seen := u.adj[from][to]; seen {
				continue
			}
			u.adj[from][to] = 1
			u.adj[to][from] = 1
			u.degree[from]++
			u.degree[to]++
			u.m++
		}
	}
	return u
}

// bestMove evaluates moving one node into each neighbouring community and
// returns the community with the highest modularity gain.
func bestMove(u *undirected, comm map[string]int, sumTot map[int]float64, name string) (int, float64) {
	if u.m == 0 {
		return comm[name], 0
	}
	cur := comm[name]
	ki := u.degree[name]

	// Weight from name into each adjacent community.
	kin := make(map[int]float64)
	for nb, w := range u.adj[name] {
		kin[comm[nb]] += w
	}

	// Gain of removing the node from its own community.
	removeGain := -kin[cur]/u.m + ki*(sumTot[cur]-ki)/(2*u.m*u.m)

	best, bestGain := cur, 0.0
	for c := range kin {
		if c == cur {
			continue
		}
		gain := removeGain + kin[c]/u.m - ki*sumTot[c]/(2*u.m*u.m)
		if gain > bestGain || (gain == bestGain && gain > 0 && c < best) {
			best, bestGain = c, gain
		}
	}
	return best, bestGain
}

func modularity(u *undirected, partition map[string]int) float64 {
	if u.m == 0 {
		return 0
	}
	var q float64
	for _, a := range u.nodes {
		for _, b := range u.nodes {
			if partition[a] != partition[b] {
				continue
			}
			w := u.adj[a][b]
			q += w - u.degree[a]*u.degree[b]/(2*u.m)
		}
	}
	return q / (2 * u.m)
}
