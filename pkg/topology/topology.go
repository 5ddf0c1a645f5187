// Package topology computes a startup order over resolved service
// descriptors from their depends_on edges. Siblings without an edge
// between them belong to the same wave and may start in parallel.
package topology

import (
	"sort"
	"strings"

	"github.com/go-go-golems/stackctl/pkg/profile"
	"github.com/pkg/errors"
)

type Plan struct {
	// Ordered is a full topological order with a deterministic
	// (name-sorted) tie-break.
	Ordered []profile.ServiceSpec
	// Waves groups Ordered into start layers: everything in wave N only
	// depends on services in waves < N.
	Waves [][]string
}

// Build validates the dependency graph of the resolved services and
// returns the launch plan. Cycles are reported with the offending path.
func Build(services []profile.ServiceSpec) (*Plan, error) {
	byName := make(map[string]profile.ServiceSpec, len(services))
	for _, s := range services {
		if _, dup := byName[s.Name]; dup {
			return nil, errors.Errorf("duplicate service %q", s.Name)
		}
		byName[s.Name] = s
	}

	deps := map[string][]string{}
	for _, s := range services {
		for _, d := range s.DependsOn {
			if _, ok := byName[d.Service]; !ok {
				return nil, errors.Errorf("service %q depends on unknown service %q", s.Name, d.Service)
			}
			deps[s.Name] = append(deps[s.Name], d.Service)
		}
		sort.Strings(deps[s.Name])
	}

	if cycle := findCycle(byName, deps); len(cycle) > 0 {
		return nil, errors.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	remaining := map[string]int{}
	for name := range byName {
		remaining[name] = len(deps[name])
	}
	dependents := map[string][]string{}
	for name, ds := range deps {
		for _, d := range ds {
			dependents[d] = append(dependents[d], name)
		}
	}

	plan := &Plan{}
	for len(remaining) > 0 {
		var wave []string
		for name, n := range remaining {
			if n == 0 {
				wave = append(wave, name)
			}
		}
		if len(wave) == 0 {
			// Unreachable after cycle detection; guard anyway.
			return nil, errors.New("dependency graph did not converge")
		}
		sort.Strings(wave)
		plan.Waves = append(plan.Waves, wave)
		for _, name := range wave {
			plan.Ordered = append(plan.Ordered, byName[name])
			delete(remaining, name)
			for _, dep := range dependents[name] {
				remaining[dep]--
			}
		}
	}
	return plan, nil
}

// findCycle runs a DFS and returns the first cycle found as a path, or nil.
func findCycle(byName map[string]profile.ServiceSpec, deps map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range deps[name] {
			switch color[dep] {
			case gray:
				// Found the back edge; slice the stack from the repeat.
				for i, n := range stack {
					if n == dep {
						return append(append([]string{}, stack[i:]...), dep)
					}
				}
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if color[name] == white {
			stack = stack[:0]
			if c := visit(name); c != nil {
				return c
			}
		}
	}
	return nil
}
