// Package graph builds and queries the story dependency DAG: explicit
// dependsOn edges plus, in auto mode, edges inferred from target-file
// overlap. Grounded on the ready-set/cycle-detection shape of the
// teacher's story queue, generalized from a single DependsOn list to a
// full edge set that also carries inferred edges.
package graph

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"ralph/internal/model"
)

// Graph is a DAG over story ids. An edge u->v means "u depends on v": u
// cannot start until v has passed.
type Graph struct {
	stories map[string]*model.Story
	order   []string            // PRD declaration order
	edges   map[string]map[string]bool // u -> set of v it depends on
}

// CycleError names the strongly-connected set of story ids that form a
// cycle, recovered by DFS back-edge tracking.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Build constructs the graph from a PRD: nodes in PRD order, explicit
// edges for every resolvable dependsOn id (unresolved ids are silently
// skipped, a non-fatal condition the caller may choose to log), inferred
// edges added per InferenceMode, then validated acyclic.
func Build(prd *model.PRD) (*Graph, error) {
	g := &Graph{
		stories: make(map[string]*model.Story),
		edges:   make(map[string]map[string]bool),
	}

	for i := range prd.UserStories {
		s := &prd.UserStories[i]
		g.stories[s.ID] = s
		g.order = append(g.order, s.ID)
		g.edges[s.ID] = make(map[string]bool)
	}

	for _, s := range prd.UserStories {
		for _, dep := range s.DependsOn {
			if _, ok := g.stories[dep]; ok {
				g.edges[s.ID][dep] = true
			}
		}
	}

	mode := prd.ParallelOrDefault().InferenceMode
	if mode == "" {
		mode = model.InferenceModeAuto
	}
	if mode == model.InferenceModeAuto {
		g.inferEdges()
	}

	if cycle := g.detectCycle(); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	return g, nil
}

// inferEdges adds an edge from the lower-priority (higher number) story to
// the higher-priority (lower number) story whenever their target-file
// patterns overlap. Equal-priority pairs never get an inferred edge.
func (g *Graph) inferEdges() {
	for i := 0; i < len(g.order); i++ {
		for j := i + 1; j < len(g.order); j++ {
			a, b := g.stories[g.order[i]], g.stories[g.order[j]]
			if a.Priority == b.Priority {
				continue
			}
			if !filesOverlap(a.TargetFiles, b.TargetFiles) {
				continue
			}
			if a.Priority < b.Priority {
				g.edges[b.ID][a.ID] = true
			} else {
				g.edges[a.ID][b.ID] = true
			}
		}
	}
}

// filesOverlap is conservative by design: a false positive only costs
// parallelism, never correctness.
func filesOverlap(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if patternsOverlap(pa, pb) {
				return true
			}
		}
	}
	return false
}

func patternsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	aGlob, bGlob := strings.ContainsAny(a, "*?["), strings.ContainsAny(b, "*?[")
	if !aGlob && !bGlob {
		return false
	}
	if aGlob && !bGlob {
		if ok, _ := filepath.Match(a, b); ok {
			return true
		}
		if idx := strings.Index(a, "**"); idx >= 0 && strings.HasPrefix(b, a[:idx]) {
			return true
		}
	}
	if bGlob && !aGlob {
		if ok, _ := filepath.Match(b, a); ok {
			return true
		}
		if idx := strings.Index(b, "**"); idx >= 0 && strings.HasPrefix(a, b[:idx]) {
			return true
		}
	}
	if aGlob && bGlob {
		return sharedLiteralPrefix(a, b) != ""
	}
	return false
}

func sharedLiteralPrefix(a, b string) string {
	cut := func(s string) string {
		if idx := strings.IndexAny(s, "*?["); idx >= 0 {
			return s[:idx]
		}
		return s
	}
	pa, pb := cut(a), cut(b)
	n := len(pa)
	if len(pb) < n {
		n = len(pb)
	}
	i := 0
	for i < n && pa[i] == pb[i] {
		i++
	}
	if i == 0 {
		return ""
	}
	return pa[:i]
}

// detectCycle runs DFS with a recursion stack, returning the cycle's
// member ids in traversal order if one exists.
func (g *Graph) detectCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var path []string
	var dfs func(id string) []string
	dfs = func(id string) []string {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		deps := make([]string, 0, len(g.edges[id]))
		for dep := range g.edges[id] {
			deps = append(deps, dep)
		}
		sort.Strings(deps)

		for _, dep := range deps {
			if !visited[dep] {
				if cyc := dfs(dep); cyc != nil {
					return cyc
				}
			} else if onStack[dep] {
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cyc := append(append([]string{}, path[start:]...), dep)
				return cyc
			}
		}

		onStack[id] = false
		path = path[:len(path)-1]
		return nil
	}

	ids := append([]string{}, g.order...)
	sort.Strings(ids)
	for _, id := range ids {
		if !visited[id] {
			if cyc := dfs(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// InitiallyCompleted returns the ids of every story that already passes
// at graph-build time.
func (g *Graph) InitiallyCompleted() []string {
	var out []string
	for _, id := range g.order {
		if g.stories[id].Passes {
			out = append(out, id)
		}
	}
	return out
}

// Story looks up a story by id.
func (g *Graph) Story(id string) *model.Story { return g.stories[id] }

// Total returns the number of stories in the graph.
func (g *Graph) Total() int { return len(g.order) }

// Ready returns the ids of every story eligible to start: not completed,
// not in flight, not permanently failed/deferred, every dependency
// completed, and not already passing. A story with a failed dependency
// never becomes ready, since that dependency never joins completed — this
// is how a deferred story permanently strands its dependents (spec.md
// §4.E Open Question (a)). Results are sorted by priority then
// declaration order, matching the scheduler's within-tick dispatch order.
func (g *Graph) Ready(completed, inFlight, failed map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		if completed[id] || inFlight[id] || failed[id] {
			continue
		}
		story := g.stories[id]
		if story.Passes {
			continue
		}
		allDepsMet := true
		for dep := range g.edges[id] {
			if !completed[dep] {
				allDepsMet = false
				break
			}
		}
		if allDepsMet {
			ready = append(ready, id)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return g.stories[ready[i]].Priority < g.stories[ready[j]].Priority
	})
	return ready
}

// Dependents returns every story id that directly depends on id.
func (g *Graph) Dependents(id string) []string {
	var out []string
	for _, candidate := range g.order {
		if g.edges[candidate][id] {
			out = append(out, candidate)
		}
	}
	return out
}
