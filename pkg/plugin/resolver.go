package plugin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Graph is an adjacency map from plugin id to the ids it depends on.
type Graph map[string][]string

// BuildDependencyGraph maps every plugin to its required and optional
// dependency ids. Plugins without dependencies map to an empty slice.
func BuildDependencyGraph(plugins []*Plugin) Graph {
	g := make(Graph, len(plugins))
	for _, p := range plugins {
		if p == nil {
			continue
		}
		deps := make([]string, 0, len(p.Dependencies))
		for _, d := range p.Dependencies {
			deps = append(deps, d.ID)
		}
		g[p.ID()] = deps
	}
	return g
}

// DetectCircularDependencies returns every cycle found by a depth-first walk
// of g. A cycle is the slice of the walk stack from the first occurrence of
// the revisited node up to the node that closes it, so a self-dependency is
// reported as a one-element cycle. Ids without an entry in g are leaves.
// The result is empty iff g is acyclic.
func DetectCircularDependencies(g Graph) [][]string {
	const (
		unvisited = iota
		onStack
		done
	)
	mark := make(map[string]int, len(g))
	var (
		stack  []string
		cycles [][]string
	)

	var visit func(id string)
	visit = func(id string) {
		mark[id] = onStack
		stack = append(stack, id)
		for _, dep := range g[id] {
			switch mark[dep] {
			case unvisited:
				visit(dep)
			case onStack:
				idx := indexOf(stack, dep)
				cycle := make([]string, len(stack)-idx)
				copy(cycle, stack[idx:])
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		mark[id] = done
	}

	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if mark[id] == unvisited {
			visit(id)
		}
	}
	if cycles == nil {
		cycles = [][]string{}
	}
	return cycles
}

// LoadOrder returns plugins ordered so that each appears after every plugin
// it depends on. Independent plugins keep their input order. Dependencies
// not present in plugins are treated as already satisfied. Members of a
// cycle are emitted in walk order.
func LoadOrder(plugins []*Plugin) []*Plugin {
	byID := make(map[string]*Plugin, len(plugins))
	for _, p := range plugins {
		if p != nil {
			byID[p.ID()] = p
		}
	}
	visited := make(map[string]bool, len(plugins))
	visiting := make(map[string]bool)
	order := make([]*Plugin, 0, len(plugins))

	var visit func(p *Plugin)
	visit = func(p *Plugin) {
		id := p.ID()
		if visited[id] || visiting[id] {
			return
		}
		visiting[id] = true
		for _, d := range p.Dependencies {
			if dep, ok := byID[d.ID]; ok {
				visit(dep)
			}
		}
		visiting[id] = false
		visited[id] = true
		order = append(order, p)
	}

	for _, p := range plugins {
		if p != nil {
			visit(p)
		}
	}
	return order
}

// ResolveDependencies checks the required dependencies of plugins against
// reg and returns one message per unmet dependency. Optional dependencies
// never produce a message. An empty result means every dependency is met.
func ResolveDependencies(plugins []*Plugin, reg Registry) []string {
	problems := []string{}
	for _, p := range plugins {
		if p == nil {
			continue
		}
		for _, d := range p.Dependencies {
			if d.Optional {
				continue
			}
			state, ok := reg.Get(d.ID)
			switch {
			case !ok:
				problems = append(problems, fmt.Sprintf("plugin %s requires %s which is not installed", p.ID(), d.ID))
			case state.Status == StatusError:
				problems = append(problems, fmt.Sprintf("plugin %s requires %s which has errors", p.ID(), d.ID))
			}
		}
	}
	return problems
}

// versionMismatches lists installed dependencies of p whose version does
// not satisfy the semver constraint p declares for them. Constraints that do
// not parse are ignored.
func versionMismatches(p *Plugin, reg Registry) []string {
	var out []string
	for _, d := range p.Dependencies {
		raw := strings.TrimSpace(d.Version)
		if raw == "" {
			continue
		}
		constraint, err := semver.NewConstraint(raw)
		if err != nil {
			continue
		}
		state, ok := reg.Get(d.ID)
		if !ok || state.Plugin == nil {
			continue
		}
		installed, err := semver.NewVersion(state.Plugin.Version())
		if err != nil {
			continue
		}
		if !constraint.Check(installed) {
			out = append(out, fmt.Sprintf("plugin %s wants %s %s but %s is installed", p.ID(), d.ID, d.Version, state.Plugin.Version()))
		}
	}
	return out
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
