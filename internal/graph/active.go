package graph

import "sort"

// ActiveSet is the set of ids highlighted for a hover. The zero value is
// the idle set: nothing hovered, nothing dimmed.
type ActiveSet struct {
	ids map[string]bool
}

// ActiveSet returns the hovered id plus every ancestor reachable along
// inbound edges and every descendant reachable along outbound edges. An id
// that is not in the graph, or not in layer, yields the idle set.
func (g *Graph) ActiveSet(id string, layer Layer) ActiveSet {
	node, ok := g.Node(id)
	if !ok || node.Layer != layer {
		return ActiveSet{}
	}
	ids := map[string]bool{id: true}
	walk(id, g.inbound, ids)
	walk(id, g.outbound, ids)
	return ActiveSet{ids: ids}
}

func walk(from string, adjacency map[string][]string, seen map[string]bool) {
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[current] {
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
}

func (a ActiveSet) Idle() bool {
	return len(a.ids) == 0
}

// Contains reports whether id is highlighted. Everything is when idle.
func (a ActiveSet) Contains(id string) bool {
	return a.Idle() || a.ids[id]
}

// Dimmed reports whether id should render de-emphasised.
func (a ActiveSet) Dimmed(id string) bool {
	return !a.Contains(id)
}

// EdgeActive reports whether both ends of e are highlighted.
func (a ActiveSet) EdgeActive(e Edge) bool {
	return a.Contains(e.Source) && a.Contains(e.Target)
}

// IDs returns the highlighted ids, sorted; nil when idle.
func (a ActiveSet) IDs() []string {
	if a.Idle() {
		return nil
	}
	out := make([]string, 0, len(a.ids))
	for id := range a.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
