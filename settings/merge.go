package settings

// Merge overlays override on top of base.
//
// Objects are merged key by key, recursively. For every other combination
// (values, arrays, or nodes of different kinds) the override replaces the
// base node wholesale. A nil side yields the other side unchanged.
func Merge(base, override *Node) *Node {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}
	if base.kind != KindObject || override.kind != KindObject {
		return override
	}

	merged := make([]*Node, 0, len(base.children)+len(override.children))
	i, j := 0, 0
	for i < len(base.children) && j < len(override.children) {
		b, o := base.children[i], override.children[j]
		bk, ok := lower(b.name), lower(o.name)
		switch {
		case bk < ok:
			merged = append(merged, b)
			i++
		case bk > ok:
			merged = append(merged, o)
			j++
		default:
			merged = append(merged, Merge(b, o))
			i++
			j++
		}
	}
	merged = append(merged, base.children[i:]...)
	merged = append(merged, override.children[j:]...)

	return &Node{name: override.name, kind: KindObject, children: merged}
}
