// Package style assigns style-group classes to nodes.
package style

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentic-research/loom/api"
	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/query"
)

// Group families. Global groups come from the config file, local groups
// belong to one session.
const (
	Global = "global"
	Local  = "local"
)

// Rule is the presentation attached to one group class.
type Rule struct {
	Class string `json:"class"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
	Shape string `json:"shape,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

type group struct {
	def   api.StyleGroup
	query *query.Query
}

// Groups is a compiled, ordered list of style groups of one family.
type Groups struct {
	family string
	groups []group
}

// Compile compiles every group filter. An invalid filter is reported with
// the group's name.
func Compile(family string, defs []api.StyleGroup) (*Groups, error) {
	g := &Groups{family: family, groups: make([]group, 0, len(defs))}
	for _, d := range defs {
		q, err := query.Compile(d.Filter)
		if err != nil {
			return nil, fmt.Errorf("style group %q: %w", d.Name, err)
		}
		g.groups = append(g.groups, group{def: d, query: q})
	}
	return g, nil
}

// Len returns the number of groups.
func (g *Groups) Len() int {
	if g == nil {
		return 0
	}
	return len(g.groups)
}

// Class returns the class owned by the i-th group.
func (g *Groups) Class(i int) string { return g.family + "-" + strconv.Itoa(i) }

// IsClass reports whether class belongs to this family.
func (g *Groups) IsClass(class string) bool {
	rest, ok := strings.CutPrefix(class, g.family+"-")
	if !ok {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// Apply clears the family's classes from every node, then assigns each
// matching group's class in declared order. Group classes are sticky.
func (g *Groups) Apply(nodes []*graph.Node) {
	if g == nil {
		return
	}
	for _, n := range nodes {
		for _, c := range n.StickyClasses() {
			if g.IsClass(c) {
				n.RemoveClass(c)
			}
		}
	}
	for i, grp := range g.groups {
		class := g.Class(i)
		for _, n := range nodes {
			if grp.query.MatchNode(n) {
				n.AddSticky(class)
			}
		}
	}
}

// Rules returns the presentation of every group, in order.
func (g *Groups) Rules() []Rule {
	if g == nil {
		return nil
	}
	out := make([]Rule, 0, g.Len())
	for i, grp := range g.groups {
		out = append(out, Rule{
			Class: g.Class(i),
			Name:  grp.def.Name,
			Color: grp.def.Color,
			Shape: grp.def.Shape,
			Icon:  grp.def.Icon,
		})
	}
	return out
}
