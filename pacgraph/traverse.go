package pacgraph

// dfsFrame is one stack frame of the iterative forward/reverse DFS; the
// explicit stack keeps deep CFGs from overflowing the call stack.
type dfsFrame struct {
	v     int
	edges []int
	idx   int
	depth int
	size  int
}

// ForwardDFS walks forward from startBlockID, coloring reached vertices
// with color and returning (maxDepth, size). maxdepth <= 0 means unlimited.
func (a *Analyzer) ForwardDFS(startBlockID, color, maxdepth int) (depth, size int, ok bool) {
	start, ok := a.indexOf[startBlockID]
	if !ok {
		return 0, 0, false
	}
	d, s := a.dfsGeneric(start, color, maxdepth, a.outgoingVertices)
	return d, s, true
}

// ReverseDFS walks the incoming-edge graph from startBlockID symmetrically
// to ForwardDFS.
func (a *Analyzer) ReverseDFS(startBlockID, color, maxdepth int) (depth, size int, ok bool) {
	start, ok := a.indexOf[startBlockID]
	if !ok {
		return 0, 0, false
	}
	d, s := a.dfsGeneric(start, color, maxdepth, a.incomingVertices)
	return d, s, true
}

func (a *Analyzer) dfsGeneric(start, color, maxdepth int, neighbors func(int) []int) (int, int) {
	a.color[start] = color
	a.tin[start] = a.timer
	a.timer++
	root := &dfsFrame{v: start, edges: neighbors(start), depth: 1, size: 1}
	stack := []*dfsFrame{root}
	budget := []int{maxdepth}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		b := budget[len(budget)-1]
		if top.idx < len(top.edges) {
			to := top.edges[top.idx]
			top.idx++
			if a.color[to] != 0 {
				continue
			}
			childBudget := b
			if childBudget > 0 {
				childBudget--
				if childBudget == 0 {
					continue
				}
			}
			a.color[to] = color
			a.tin[to] = a.timer
			a.timer++
			stack = append(stack, &dfsFrame{v: to, edges: neighbors(to), depth: 1, size: 1})
			budget = append(budget, childBudget)
			continue
		}
		a.tout[top.v] = a.timer
		a.timer++
		stack = stack[:len(stack)-1]
		budget = budget[:len(budget)-1]
		if len(stack) == 0 {
			return top.depth, top.size
		}
		parent := stack[len(stack)-1]
		if top.depth+1 > parent.depth {
			parent.depth = top.depth + 1
		}
		parent.size += top.size
	}
	return 0, 0
}

// ComputeTopsort computes a finish-time (post-order) ordering over the
// whole graph and detects back-edges (non-DAG).
func (a *Analyzer) ComputeTopsort() bool {
	a.resetColor()
	a.topo = nil
	a.isDAG = true
	for v := 0; v < a.Size(); v++ {
		if a.color[v] == 0 {
			a.topsortFrom(v)
		}
	}
	return a.isDAG
}

func (a *Analyzer) topsortFrom(start int) {
	a.color[start] = -1
	stack := []*dfsFrame{{v: start, edges: a.outgoingVertices(start)}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.idx < len(top.edges) {
			to := top.edges[top.idx]
			top.idx++
			switch a.color[to] {
			case -1:
				a.isDAG = false
			case 0:
				a.color[to] = -1
				stack = append(stack, &dfsFrame{v: to, edges: a.outgoingVertices(to)})
			}
			continue
		}
		a.topo = append(a.topo, top.v)
		a.color[top.v] = 1
		stack = stack[:len(stack)-1]
	}
}

// KosarajuSCC runs the second Kosaraju pass (reverse DFS in reverse finish
// order) over the topological order computed by ComputeTopsort, returning
// the non-trivial (size > 1) components. When makeCondensed is true it also
// builds the SCC condensation graph.
func (a *Analyzer) KosarajuSCC(makeCondensed bool) map[int][]int {
	a.resetColor()
	nonTrivial := make(map[int][]int)
	toRoot := make([]int, a.Size())
	for i := range toRoot {
		toRoot[i] = -1
	}
	var roots []int

	colorCounter := 0
	for i := len(a.topo) - 1; i >= 0; i-- {
		v := a.topo[i]
		if a.color[v] != 0 {
			continue
		}
		colorCounter++
		color := colorCounter
		var buf []int
		a.reverseDFSColor(v, color, &buf)
		if len(buf) > 1 {
			nonTrivial[color] = append([]int(nil), buf...)
		}
		if makeCondensed {
			for _, vertex := range buf {
				toRoot[vertex] = v
			}
			roots = append(roots, v)
		}
	}

	a.nonTrivial = nonTrivial
	a.belongsToCycle = make([]bool, a.Size())
	for _, vertices := range nonTrivial {
		for _, vv := range vertices {
			a.belongsToCycle[vv] = true
		}
	}

	if makeCondensed {
		condGraph := make([][]int, a.Size())
		for v := 0; v < a.Size(); v++ {
			for _, to := range a.outgoingVertices(v) {
				rv, rt := toRoot[v], toRoot[to]
				if rv == rt {
					continue
				}
				if !containsInt(condGraph[rv], rt) {
					condGraph[rv] = append(condGraph[rv], rt)
				}
			}
		}
		a.condensed = &Condensation{Graph: condGraph, ToRoot: toRoot, Roots: roots, Size: a.Size()}
	}
	return nonTrivial
}

func (a *Analyzer) reverseDFSColor(start, color int, buf *[]int) {
	a.color[start] = color
	*buf = append(*buf, start)
	stack := []int{start}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, from := range a.incomingVertices(v) {
			if a.color[from] == 0 {
				a.color[from] = color
				*buf = append(*buf, from)
				stack = append(stack, from)
			}
		}
	}
}

// FindComponents is a thin alias for KosarajuSCC.
func (a *Analyzer) FindComponents(condense bool) map[int][]int {
	return a.KosarajuSCC(condense)
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// ComputeSourcesSinks classifies each vertex as source, sink, or isolated
// from the block's IsSource flag and exit-edge count.
func (a *Analyzer) ComputeSourcesSinks() {
	a.sources, a.sinks, a.isolated = nil, nil, nil
	for v := 0; v < a.Size(); v++ {
		block := a.block(v)
		if block.IsSource {
			if len(block.Exit.WhereTo) > 0 {
				a.sources = append(a.sources, v)
			} else {
				a.isolated = append(a.isolated, v)
			}
		} else if len(block.Exit.WhereTo) == 0 {
			a.sinks = append(a.sinks, v)
		}
	}
}

// Sources, Sinks, Isolated expose the classification computed by
// ComputeSourcesSinks.
func (a *Analyzer) Sources() []int  { return a.sources }
func (a *Analyzer) Sinks() []int    { return a.sinks }
func (a *Analyzer) Isolated() []int { return a.isolated }

// CountEdges sums outgoing edges over every vertex; the total equals the
// sum of incoming edges.
func (a *Analyzer) CountEdges() int {
	total := 0
	for v := 0; v < a.Size(); v++ {
		total += len(a.block(v).Exit.WhereTo)
	}
	a.edgesCount = total
	return total
}

// CyclomaticNumber returns |E| - |V| + 2.
func (a *Analyzer) CyclomaticNumber() int {
	return a.edgesCount - a.Size() + 2
}

// CyclomaticNumberWithRoots returns |E| - |V| + 1 + |roots| using the
// flow-root set computed by FindRoots.
func (a *Analyzer) CyclomaticNumberWithRoots() int {
	return a.edgesCount - a.Size() + 1 + len(a.rootOrder)
}

// FindRoots computes the flow-root set: if the graph is a DAG, roots =
// sources ∪ isolated. Otherwise, the condensation is topologically sorted
// and DFS'd from its SCC representatives in reverse finish order; the
// condensation vertices that anchor a fresh DFS (i.e. are not reachable
// from an earlier root) are the additional flow-roots. Requires
// KosarajuSCC(true) to have run first when the graph is not a DAG.
func (a *Analyzer) FindRoots() {
	seen := make(map[int]struct{})
	var order []int
	add := func(v int) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		order = append(order, v)
	}

	if a.isDAG {
		for _, v := range a.isolated {
			add(v)
		}
		for _, v := range a.sources {
			add(v)
		}
		a.rootOrder = order
		return
	}

	cond := a.condensed
	mg := newMiniGraph(cond.Graph, cond.Size)
	mg.computeTopsort()
	mg.resetColor()

	hashed := make(map[int]struct{}, len(cond.Roots))
	for _, r := range cond.Roots {
		hashed[r] = struct{}{}
	}

	var condensedRoots []int
	for i := len(mg.topo) - 1; i >= 0; i-- {
		v := mg.topo[i]
		if _, ok := hashed[v]; !ok {
			continue
		}
		if mg.color[v] == 0 {
			condensedRoots = append(condensedRoots, v)
			mg.dfsMark(v)
		}
	}
	for _, v := range condensedRoots {
		add(v)
	}
	a.rootOrder = order
}

// miniGraph is a plain adjacency-list DAG used to topologically sort and
// DFS the condensation graph when finding flow-roots of a cyclic CFG.
type miniGraph struct {
	n     int
	adj   [][]int
	color []int
	topo  []int
}

func newMiniGraph(adj [][]int, n int) *miniGraph {
	return &miniGraph{n: n, adj: adj, color: make([]int, n)}
}

func (m *miniGraph) resetColor() {
	for i := range m.color {
		m.color[i] = 0
	}
}

type miniFrame struct {
	v   int
	idx int
}

func (m *miniGraph) computeTopsort() {
	m.topo = nil
	for v := 0; v < m.n; v++ {
		if m.color[v] == 0 {
			m.dfsPostorder(v)
		}
	}
}

func (m *miniGraph) dfsPostorder(start int) {
	m.color[start] = 1
	stack := []*miniFrame{{v: start}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.idx < len(m.adj[top.v]) {
			to := m.adj[top.v][top.idx]
			top.idx++
			if m.color[to] == 0 {
				m.color[to] = 1
				stack = append(stack, &miniFrame{v: to})
			}
			continue
		}
		m.topo = append(m.topo, top.v)
		m.color[top.v] = 2
		stack = stack[:len(stack)-1]
	}
}

func (m *miniGraph) dfsMark(start int) {
	m.color[start] = 2
	stack := []int{start}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, to := range m.adj[v] {
			if m.color[to] == 0 {
				m.color[to] = 2
				stack = append(stack, to)
			}
		}
	}
}
