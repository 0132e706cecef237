package stack

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicate         = errors.New("duplicate resource")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCycle             = errors.New("dependency cycle")
)

type node struct {
	res  Resource
	deps []string
}

// Graph holds resources and the edges between them.
type Graph struct {
	nodes map[string]*node
	names []string // insertion order
}

func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// Add registers r, which must be applied after every name in dependsOn.
func (g *Graph) Add(r Resource, dependsOn ...string) error {
	name := r.ResourceName()
	if _, ok := g.nodes[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	g.nodes[name] = &node{res: r, deps: append([]string(nil), dependsOn...)}
	g.names = append(g.names, name)
	return nil
}

func (g *Graph) Resource(name string) (Resource, bool) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, false
	}
	return n.res, true
}

func (g *Graph) DependsOn(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return append([]string(nil), n.deps...)
}

func (g *Graph) Len() int { return len(g.names) }

// Order returns resources so that every resource follows its dependencies.
// Among resources that are ready at the same time, insertion order wins.
func (g *Graph) Order() ([]Resource, error) {
	for _, name := range g.names {
		for _, dep := range g.nodes[name].deps {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, name, dep)
			}
		}
	}

	placed := make(map[string]bool, len(g.names))
	order := make([]Resource, 0, len(g.names))
	for len(order) < len(g.names) {
		progressed := false
		for _, name := range g.names {
			if placed[name] || !g.ready(name, placed) {
				continue
			}
			placed[name] = true
			order = append(order, g.nodes[name].res)
			progressed = true
			break
		}
		if !progressed {
			var stuck []string
			for _, name := range g.names {
				if !placed[name] {
					stuck = append(stuck, name)
				}
			}
			return nil, fmt.Errorf("%w among %s", ErrCycle, strings.Join(stuck, ", "))
		}
	}
	return order, nil
}

func (g *Graph) ready(name string, placed map[string]bool) bool {
	for _, dep := range g.nodes[name].deps {
		if !placed[dep] {
			return false
		}
	}
	return true
}
