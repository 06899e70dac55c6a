package flow

// Label is the value a Router returns to select a conditional edge. The
// label set for every conditional edge is declared at construction time
// and validated against the node set, so an unknown label at runtime is
// a configuration bug, never an expected condition.
type Label string

// Router selects the next node after a conditional edge. It must be a
// pure function of the post-node state: deterministic, no side effects.
type Router[D, R any] func(st State[D, R]) Label

// edge is the outgoing link of one node. Exactly one of next or router
// is set.
type edge[D, R any] struct {
	next    string
	router  Router[D, R]
	targets map[Label]string
}

// Definition is an immutable workflow graph: named nodes, directed
// edges, one entry point and an optional failure node. Built once per
// workflow type and shared read-only across concurrent runs.
type Definition[D, R any] struct {
	name     string
	entry    string
	failure  string
	nodes    map[string]Node[D, R]
	edges    map[string]edge[D, R]
	policies map[string]NodePolicy
}

// Name identifies the workflow type, used in emitted events and metrics.
func (d *Definition[D, R]) Name() string { return d.name }

// Entry returns the entry node ID.
func (d *Definition[D, R]) Entry() string { return d.entry }

// FailureNode returns the designated failure node ID, or "" if none.
func (d *Definition[D, R]) FailureNode() string { return d.failure }

func (d *Definition[D, R]) node(id string) (Node[D, R], bool) {
	n, ok := d.nodes[id]
	return n, ok
}

func (d *Definition[D, R]) policy(id string) NodePolicy {
	return d.policies[id]
}

// Builder accumulates nodes and edges for a Definition. Errors are
// collected and reported once from Build, so construction code reads as
// a flat sequence without per-call error handling.
type Builder[D, R any] struct {
	def  *Definition[D, R]
	errs []error
}

// NewBuilder starts an empty graph named name.
func NewBuilder[D, R any](name string) *Builder[D, R] {
	return &Builder[D, R]{
		def: &Definition[D, R]{
			name:     name,
			nodes:    make(map[string]Node[D, R]),
			edges:    make(map[string]edge[D, R]),
			policies: make(map[string]NodePolicy),
		},
	}
}

// Add registers a node under id.
func (b *Builder[D, R]) Add(id string, n Node[D, R]) *Builder[D, R] {
	if _, exists := b.def.nodes[id]; exists {
		b.errs = append(b.errs, ConfigError("%v: %q", ErrDuplicateNode, id))
		return b
	}
	if n == nil {
		b.errs = append(b.errs, ConfigError("node %q is nil", id))
		return b
	}
	b.def.nodes[id] = n
	return b
}

// AddFunc registers a plain function as a node.
func (b *Builder[D, R]) AddFunc(id string, fn NodeFunc[D, R]) *Builder[D, R] {
	return b.Add(id, fn)
}

// Policy attaches a per-node execution policy.
func (b *Builder[D, R]) Policy(id string, p NodePolicy) *Builder[D, R] {
	if p.Retry != nil {
		if err := p.Retry.Validate(); err != nil {
			b.errs = append(b.errs, ConfigError("node %q: %v", id, err))
			return b
		}
	}
	b.def.policies[id] = p
	return b
}

// StartAt sets the entry node.
func (b *Builder[D, R]) StartAt(id string) *Builder[D, R] {
	b.def.entry = id
	return b
}

// Connect adds a static edge from one node to the next.
func (b *Builder[D, R]) Connect(from, to string) *Builder[D, R] {
	if _, exists := b.def.edges[from]; exists {
		b.errs = append(b.errs, ConfigError("node %q already has an outgoing edge", from))
		return b
	}
	b.def.edges[from] = edge[D, R]{next: to}
	return b
}

// Branch adds a conditional edge: after from runs, router picks a label
// and the matching target becomes the next node. The full label set is
// declared here so Build can verify every target exists.
func (b *Builder[D, R]) Branch(from string, router Router[D, R], targets map[Label]string) *Builder[D, R] {
	if _, exists := b.def.edges[from]; exists {
		b.errs = append(b.errs, ConfigError("node %q already has an outgoing edge", from))
		return b
	}
	if router == nil {
		b.errs = append(b.errs, ConfigError("node %q: branch router is nil", from))
		return b
	}
	if len(targets) == 0 {
		b.errs = append(b.errs, ConfigError("node %q: branch has no targets", from))
		return b
	}
	b.def.edges[from] = edge[D, R]{router: router, targets: targets}
	return b
}

// FailWith designates the node the runner jumps to after any failure.
// The failure node runs at most once per execution.
func (b *Builder[D, R]) FailWith(id string) *Builder[D, R] {
	b.def.failure = id
	return b
}

// Build validates the accumulated graph and returns the immutable
// Definition. Validation covers: entry point set and known, every edge
// endpoint known, every branch target known, failure node known, and no
// cycle reachable from the entry.
func (b *Builder[D, R]) Build() (*Definition[D, R], error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	d := b.def

	if d.entry == "" {
		return nil, ConfigError("%s: %v", d.name, ErrNoEntryPoint)
	}
	if _, ok := d.nodes[d.entry]; !ok {
		return nil, ConfigError("%s: entry %q: %v", d.name, d.entry, ErrUnknownNode)
	}
	if d.failure != "" {
		if _, ok := d.nodes[d.failure]; !ok {
			return nil, ConfigError("%s: failure node %q: %v", d.name, d.failure, ErrUnknownNode)
		}
	}
	for from, e := range d.edges {
		if _, ok := d.nodes[from]; !ok {
			return nil, ConfigError("%s: edge from %q: %v", d.name, from, ErrUnknownNode)
		}
		if e.next != "" {
			if _, ok := d.nodes[e.next]; !ok {
				return nil, ConfigError("%s: edge %q -> %q: %v", d.name, from, e.next, ErrUnknownNode)
			}
			continue
		}
		for label, to := range e.targets {
			if _, ok := d.nodes[to]; !ok {
				return nil, ConfigError("%s: edge %q -[%s]-> %q: %v", d.name, from, label, to, ErrUnknownNode)
			}
		}
	}
	for id := range d.policies {
		if _, ok := d.nodes[id]; !ok {
			return nil, ConfigError("%s: policy for %q: %v", d.name, id, ErrUnknownNode)
		}
	}
	if err := d.checkAcyclic(); err != nil {
		return nil, err
	}
	return d, nil
}

// checkAcyclic runs a three-color DFS over every edge, static and
// conditional alike. The main path must be a DAG; loops belong inside a
// node's own retry policy, invisible to the runner.
func (d *Definition[D, R]) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		e, ok := d.edges[id]
		if ok {
			succ := make([]string, 0, 1+len(e.targets))
			if e.next != "" {
				succ = append(succ, e.next)
			}
			for _, to := range e.targets {
				succ = append(succ, to)
			}
			for _, to := range succ {
				switch color[to] {
				case gray:
					return ConfigError("%s: %v: %q -> %q", d.name, ErrCyclicGraph, id, to)
				case white:
					if err := visit(to); err != nil {
						return err
					}
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range d.nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
