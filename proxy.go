package pulse

import (
	"sync"
	"sync/atomic"
)

// Proxy is a late-bindable indirection node: instruments may be declared on
// it before the real destination is configured. Setting a target rebinds
// every instrument declared on the node and on descendants that have not
// pinned an override. Writes issued while no target is bound are dropped and
// counted in diagnostics.
//
// A write in flight at the moment of a target swap may still reach the old
// target; it is never duplicated.
type Proxy struct {
	mu       sync.Mutex // guards children, pinned, metrics
	parent   *Proxy
	children map[*Proxy]struct{}
	pinned   bool
	metrics  map[string]*proxyMetric

	effective atomic.Value // drainTarget
	gen       atomic.Uint64
	closed    atomic.Bool
}

// Process-wide proxy state: the default fallback target and the registry of
// root nodes it propagates to.
var (
	proxyMu     sync.Mutex
	rootProxies = make(map[*Proxy]struct{})
	fallback    Scope
)

// root is the process-global proxy backing the Root* declaration helpers.
// Safe to bind instruments against during static initialisation.
var root = NewProxy()

// NewProxy constructs a detached proxy node bound to the process default
// target (if one is installed).
func NewProxy() *Proxy {
	p := &Proxy{
		children: make(map[*Proxy]struct{}),
		metrics:  make(map[string]*proxyMetric),
	}
	proxyMu.Lock()
	rootProxies[p] = struct{}{}
	if fallback != nil {
		p.effective.Store(drainTarget{scope: fallback})
	}
	proxyMu.Unlock()
	return p
}

// Root returns the process-global proxy.
func Root() *Proxy { return root }

// SetDefaultTarget installs the process-wide fallback scope. Every proxy
// node that has not pinned its own target rebinds to it.
func SetDefaultTarget(target Scope) {
	proxyMu.Lock()
	fallback = target
	for p := range rootProxies {
		p.mu.Lock()
		pinnedHere := p.pinned
		p.mu.Unlock()
		if !pinnedHere {
			p.rebindSubtree(target)
		}
	}
	proxyMu.Unlock()
}

// Child returns a sub-node that follows this node's target until it pins an
// override of its own.
func (p *Proxy) Child() *Proxy {
	c := &Proxy{
		parent:   p,
		children: make(map[*Proxy]struct{}),
		metrics:  make(map[string]*proxyMetric),
	}
	p.mu.Lock()
	p.children[c] = struct{}{}
	p.mu.Unlock()
	if t := p.currentTarget(); t != nil {
		c.effective.Store(drainTarget{scope: t})
	}
	return c
}

// SetTarget atomically swaps the downstream scope for this node and rebinds
// descendants that have not pinned an override. Writers observe the new
// target on their next binding lookup.
func (p *Proxy) SetTarget(target Scope) {
	p.mu.Lock()
	p.pinned = true
	p.mu.Unlock()
	p.rebindSubtree(target)
}

// UnsetTarget removes this node's override and restores the parent's target,
// or the process default for a detached node.
func (p *Proxy) UnsetTarget() {
	p.mu.Lock()
	p.pinned = false
	p.mu.Unlock()

	var inherited Scope
	if p.parent != nil {
		inherited = p.parent.currentTarget()
	} else {
		proxyMu.Lock()
		inherited = fallback
		proxyMu.Unlock()
	}
	p.rebindSubtree(inherited)
}

// rebindSubtree installs the target on this node and every descendant that
// has not pinned an override. Dropped (closed) children are pruned on the
// way down.
func (p *Proxy) rebindSubtree(target Scope) {
	p.effective.Store(drainTarget{scope: target})
	p.gen.Add(1)

	p.mu.Lock()
	children := make([]*Proxy, 0, len(p.children))
	for c := range p.children {
		if c.closed.Load() {
			delete(p.children, c)
			continue
		}
		children = append(children, c)
	}
	p.mu.Unlock()

	for _, c := range children {
		c.mu.Lock()
		pinnedHere := c.pinned
		c.mu.Unlock()
		if !pinnedHere {
			c.rebindSubtree(target)
		}
	}
}

func (p *Proxy) currentTarget() Scope {
	t, ok := p.effective.Load().(drainTarget)
	if !ok {
		return nil
	}
	return t.scope
}

// Metric returns the write handle for (name, kind). The handle binds lazily
// to the current target through a cheap per-write pointer load and rebinds
// when the target changes.
func (p *Proxy) Metric(name string, kind Kind) (InputMetric, error) {
	if p.closed.Load() {
		return nil, ErrScopeClosed
	}

	p.mu.Lock()
	pm, ok := p.metrics[name]
	if ok {
		if pm.kind != kind {
			p.mu.Unlock()
			return nil, kindConflict(name, pm.kind, kind)
		}
	} else {
		pm = &proxyMetric{node: p, name: name, kind: kind}
		p.metrics[name] = pm
	}
	p.mu.Unlock()

	return pm.write, nil
}

// Flush forwards to the currently bound target, if any.
func (p *Proxy) Flush() error {
	if t := p.currentTarget(); t != nil {
		return t.Flush()
	}
	return nil
}

// Close flushes the bound target, marks the node closed, and detaches it
// from its parent and the process registry. It does not close the target:
// the proxy only borrows it.
func (p *Proxy) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	err := p.Flush()

	if p.parent != nil {
		p.parent.mu.Lock()
		delete(p.parent.children, p)
		p.parent.mu.Unlock()
	} else {
		proxyMu.Lock()
		delete(rootProxies, p)
		proxyMu.Unlock()
	}
	return err
}

// proxyMetric is an instrument declaration bound to a proxy node. The bound
// write handle is cached together with the generation it was resolved at;
// a generation bump forces a rebind on the next write.
type proxyMetric struct {
	node  *Proxy
	name  string
	kind  Kind
	bound atomic.Value // proxyBinding
}

type proxyBinding struct {
	gen   uint64
	write InputMetric // nil when no target is bound
}

func (pm *proxyMetric) write(value int64, labels Labels) {
	if pm.node.closed.Load() {
		countClosedDrop()
		return
	}

	gen := pm.node.gen.Load()
	if b, ok := pm.bound.Load().(proxyBinding); ok && b.gen == gen {
		if b.write == nil {
			countUnboundDrop()
			return
		}
		b.write(value, labels)
		return
	}

	// Rebind against the current target. Define errors (kind conflict on the
	// concrete scope) leave the handle unbound; the write is dropped.
	var w InputMetric
	if t := pm.node.currentTarget(); t != nil {
		if ww, err := t.Metric(pm.name, pm.kind); err == nil {
			w = ww
		}
	}
	pm.bound.Store(proxyBinding{gen: gen, write: w})

	if w == nil {
		countUnboundDrop()
		return
	}
	w(value, labels)
}

// Root* helpers declare named instruments on the process-global proxy. They
// are intended for module-scope variable declarations and panic on a kind
// conflict, which is a programming error at that call site.

// RootCounter declares a counter on the global proxy.
func RootCounter(name string) *Counter {
	c, err := NewCounter(root, name)
	if err != nil {
		panic(err)
	}
	return c
}

// RootMarker declares a marker on the global proxy.
func RootMarker(name string) *Marker {
	m, err := NewMarker(root, name)
	if err != nil {
		panic(err)
	}
	return m
}

// RootGauge declares a gauge on the global proxy.
func RootGauge(name string) *Gauge {
	g, err := NewGauge(root, name)
	if err != nil {
		panic(err)
	}
	return g
}

// RootTimer declares a timer on the global proxy.
func RootTimer(name string) *Timer {
	t, err := NewTimer(root, name)
	if err != nil {
		panic(err)
	}
	return t
}

// RootLevel declares a level on the global proxy.
func RootLevel(name string) *Level {
	l, err := NewLevel(root, name)
	if err != nil {
		panic(err)
	}
	return l
}
