package graph

import "sort"

// Well-known classes. Sticky ones survive a re-merge of the same node.
const (
	ClassProtected = "protected"
	ClassPinned    = "pinned"
	ClassExpanded  = "expanded"

	ClassFiltered     = "filtered"
	ClassFilteredHard = "filtered-hard"
	ClassDangling     = "dangling"
	ClassActive       = "active-node"
	ClassNote         = "note"
	ClassFile         = "file"
	ClassImage        = "image"
	ClassTag          = "tag"
	ClassLoop         = "loop"
	ClassInline       = "inline"
)

// stickyNames are routed into the sticky set by AddClass. Style-group
// classes are sticky too but are added explicitly with AddSticky.
var stickyNames = map[string]struct{}{
	ClassProtected: {},
	ClassPinned:    {},
	ClassExpanded:  {},
}

// IsStickyName reports whether AddClass routes class into the sticky set.
func IsStickyName(class string) bool {
	_, ok := stickyNames[class]
	return ok
}

// classSet holds a node's tags as two explicit sets. Whether a tag is sticky
// is decided by which set holds it, not by how it is spelled.
type classSet struct {
	transient map[string]struct{}
	sticky    map[string]struct{}
}

func newClassSet() classSet {
	return classSet{
		transient: make(map[string]struct{}),
		sticky:    make(map[string]struct{}),
	}
}

func (c *classSet) has(class string) bool {
	if _, ok := c.sticky[class]; ok {
		return true
	}
	_, ok := c.transient[class]
	return ok
}

func (c *classSet) all() []string {
	out := make([]string, 0, len(c.transient)+len(c.sticky))
	for k := range c.sticky {
		out = append(out, k)
	}
	for k := range c.transient {
		if _, dup := c.sticky[k]; !dup {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
