// Package agreement builds a weighted graph over the units of several
// independently produced spike train sets and extracts multi-sorter
// agreement units from its connected components.
package agreement

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/neurobench/sortagree/internal/compare"
	"github.com/neurobench/sortagree/internal/train"
)

// Member identifies one unit of one input set.
type Member struct {
	SetIndex int    `json:"set_index"`
	SetName  string `json:"set_name"`
	UnitID   string `json:"unit_id"`
}

// node adapts a Member to gonum's graph.Node.
type node struct {
	id     int64
	member Member
}

func (n node) ID() int64 { return n.id }

// Graph is the immutable agreement graph over a fixed list of train sets.
// Nodes are (set, unit) pairs; edges connect units matched by a pairwise
// comparison with weight equal to the agreement accuracy. Each Build call
// is independent; adding a sorter requires a full rebuild.
type Graph struct {
	sets []*train.Set
	opts compare.Options

	g       *simple.WeightedUndirectedGraph
	members map[int64]Member
	edges   int
}

// edgeResult carries one pairwise comparison's matches back to the merge
// step.
type edgeResult struct {
	i, j    int
	matched []compare.PairScore
	err     error
}

// Build runs one symmetric pairwise comparison per unordered pair of input
// sets and assembles the agreement graph. The accuracy score is symmetric,
// so a single comparison per pair suffices. Comparisons run in parallel;
// edges are merged into the graph by a single writer afterwards so the
// result is deterministic.
func Build(sets []*train.Set, opts compare.Options) (*Graph, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("agreement graph needs at least one train set")
	}
	seen := make(map[string]bool, len(sets))
	for _, s := range sets {
		if s.Name() == "" {
			return nil, fmt.Errorf("agreement graph requires named train sets")
		}
		if seen[s.Name()] {
			return nil, fmt.Errorf("duplicate train set name %q", s.Name())
		}
		seen[s.Name()] = true
	}

	ag := &Graph{
		sets:    sets,
		opts:    opts,
		g:       simple.NewWeightedUndirectedGraph(0, 0),
		members: make(map[int64]Member),
	}

	// Every unit gets a node up front so unmatched units appear as
	// singleton components.
	nodeIDs := make(map[Member]int64)
	var next int64
	for si, s := range sets {
		for _, unitID := range s.UnitIDs() {
			m := Member{SetIndex: si, SetName: s.Name(), UnitID: unitID}
			ag.g.AddNode(node{id: next, member: m})
			ag.members[next] = m
			nodeIDs[m] = next
			next++
		}
	}

	type pair struct{ i, j int }
	var pairs []pair
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			pairs = append(pairs, pair{i, j})
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(pairs) {
		workers = len(pairs)
	}

	results := make([]edgeResult, len(pairs))
	if len(pairs) > 0 {
		work := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for pi := range work {
					p := pairs[pi]
					res, err := compare.Compare(sets[p.i], sets[p.j], opts)
					if err != nil {
						results[pi] = edgeResult{i: p.i, j: p.j, err: err}
						continue
					}
					results[pi] = edgeResult{i: p.i, j: p.j, matched: res.Matched}
				}
			}()
		}
		for pi := range pairs {
			work <- pi
		}
		close(work)
		wg.Wait()
	}

	// Single-writer merge.
	for _, res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("comparing %q against %q: %w",
				sets[res.i].Name(), sets[res.j].Name(), res.err)
		}
		for _, m := range res.matched {
			from := nodeIDs[Member{SetIndex: res.i, SetName: sets[res.i].Name(), UnitID: m.RefID}]
			to := nodeIDs[Member{SetIndex: res.j, SetName: sets[res.j].Name(), UnitID: m.TestID}]
			ag.g.SetWeightedEdge(simple.WeightedEdge{
				F: node{id: from, member: ag.members[from]},
				T: node{id: to, member: ag.members[to]},
				W: m.Accuracy,
			})
			ag.edges++
		}
	}

	return ag, nil
}

// NumNodes returns the number of (set, unit) nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.members) }

// NumEdges returns the number of agreement edges.
func (g *Graph) NumEdges() int { return g.edges }

// NumSets returns the number of input train sets.
func (g *Graph) NumSets() int { return len(g.sets) }

// Components returns the connected components as member lists, each sorted
// by (set index, unit ID), with the component list itself sorted by its
// first member. Singleton units (no agreement edges) are included.
func (g *Graph) Components() [][]Member {
	raw := topo.ConnectedComponents(g.g)

	components := make([][]Member, 0, len(raw))
	for _, comp := range raw {
		members := make([]Member, 0, len(comp))
		for _, n := range comp {
			members = append(members, g.members[n.ID()])
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].SetIndex != members[j].SetIndex {
				return members[i].SetIndex < members[j].SetIndex
			}
			return members[i].UnitID < members[j].UnitID
		})
		components = append(components, members)
	}
	sort.Slice(components, func(i, j int) bool {
		a, b := components[i][0], components[j][0]
		if a.SetIndex != b.SetIndex {
			return a.SetIndex < b.SetIndex
		}
		return a.UnitID < b.UnitID
	})

	return components
}
