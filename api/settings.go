package api

// Settings are the view settings a graph session consumes.
// They are owned by the host; the session only reads them and keeps the
// current filter query in sync.
type Settings struct {
	// Filter is the structured query applied to every node after each
	// structural change. Nodes that do not match are tagged "filtered".
	Filter string `json:"filter,omitempty"`
	// HardFilter is applied to newly retrieved nodes only. Nodes that do not
	// match are tagged "filtered-hard" until they are explicitly expanded.
	HardFilter string `json:"hard_filter,omitempty"`
	// LocalGroups are the session's own style groups ("local-<i>" classes).
	LocalGroups []StyleGroup `json:"local_groups,omitempty"`
	// Layout is passed verbatim to the layout collaborator on every restart.
	Layout LayoutConfig `json:"layout"`
}

// StyleGroup assigns a class to every node matching Filter.
// Groups are evaluated in declared order; the i-th group of a family owns the
// class "<family>-<i>".
type StyleGroup struct {
	Name   string `json:"name" hcl:"name,label"`
	Filter string `json:"filter" hcl:"filter"`
	Color  string `json:"color,omitempty" hcl:"color,optional"`
	Shape  string `json:"shape,omitempty" hcl:"shape,optional"`
	Icon   string `json:"icon,omitempty" hcl:"icon,optional"`
}

// LayoutConfig describes one layout pass. The layout algorithm itself lives
// with the renderer.
type LayoutConfig struct {
	// Name of the layout algorithm (e.g. "force", "hierarchy", "circle", "grid").
	Name string `json:"name" hcl:"name,optional"`
	// Animate requests an animated pass.
	Animate bool `json:"animate,omitempty" hcl:"animate,optional"`
	// Fit zooms the viewport to the graph once the pass settles.
	Fit bool `json:"fit,omitempty" hcl:"fit,optional"`
	// MaxSimulationMillis bounds force-directed passes (0 = renderer default).
	MaxSimulationMillis int `json:"max_simulation_ms,omitempty" hcl:"max_simulation_ms,optional"`
}

// DefaultLayout is the layout used when none is configured.
func DefaultLayout() LayoutConfig {
	return LayoutConfig{Name: "force", Animate: true, Fit: false, MaxSimulationMillis: 4000}
}
