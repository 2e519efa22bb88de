// Package graph resolves the Outcome -> Measure -> Bet -> Task dependency
// graph from entity snapshots and answers hover highlight queries over it.
// Resolution is pure and tolerates dangling references.
package graph

import (
	"fmt"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

type Layer string

const (
	LayerOutcome Layer = "outcome"
	LayerMeasure Layer = "measure"
	LayerBet     Layer = "bet"
	LayerTask    Layer = "task"
)

// Layers lists the layers top to bottom.
func Layers() []Layer {
	return []Layer{LayerOutcome, LayerMeasure, LayerBet, LayerTask}
}

// Column is the zero-based position of the layer, top to bottom.
func (l Layer) Column() (int, error) {
	switch l {
	case LayerOutcome:
		return 0, nil
	case LayerMeasure:
		return 1, nil
	case LayerBet:
		return 2, nil
	case LayerTask:
		return 3, nil
	default:
		return 0, fmt.Errorf("unknown layer %q", string(l))
	}
}

func (l Layer) Valid() bool {
	_, err := l.Column()
	return err == nil
}

type EdgeKind string

const (
	EdgeOutcomeMeasure EdgeKind = "outcome_measure"
	EdgeMeasureBet     EdgeKind = "measure_bet"
	// EdgeOutcomeBet is the legacy direct link, only used for bets without
	// any resolvable measure link.
	EdgeOutcomeBet EdgeKind = "outcome_bet"
	EdgeBetTask    EdgeKind = "bet_task"
)

// UnassignedID is the synthetic outcome holding measures whose outcome is
// missing. Generated ids never contain an underscore, and an outcome stored
// under this id is ignored.
const UnassignedID = "_unassigned"

type Node struct {
	ID        string             `json:"id"`
	Layer     Layer              `json:"layer"`
	Label     string             `json:"label"`
	Synthetic bool               `json:"synthetic,omitempty"`
	Health    store.HealthStatus `json:"health,omitempty"`
	Progress  int                `json:"progress"`
}

type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
}

// Dangling records a reference that did not resolve.
type Dangling struct {
	ID    string `json:"id"`
	Layer Layer  `json:"layer"`
	Ref   string `json:"ref"`
}

type Input struct {
	Outcomes []store.Outcome
	Measures []store.Measure
	Bets     []store.Bet
	Tasks    []store.Task
	// OwnerID restricts the graph to entities owned by this user plus their
	// visible parents and children. Empty means no filter.
	OwnerID string
}

type Graph struct {
	Nodes    []Node     `json:"nodes"`
	Edges    []Edge     `json:"edges"`
	Dangling []Dangling `json:"-"`

	index    map[string]int
	outbound map[string][]string
	inbound  map[string][]string
}

// Node returns the node with id.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// Layer returns the nodes of one layer in resolution order.
func (g *Graph) Layer(l Layer) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Layer == l {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) addNode(n Node) {
	g.index[n.ID] = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
}

func (g *Graph) addEdge(source, target string, kind EdgeKind) {
	for _, existing := range g.outbound[source] {
		if existing == target {
			return
		}
	}
	g.Edges = append(g.Edges, Edge{Source: source, Target: target, Kind: kind})
	g.outbound[source] = append(g.outbound[source], target)
	g.inbound[target] = append(g.inbound[target], source)
}

func owns(owners []string, id string) bool {
	for _, owner := range owners {
		if owner == id {
			return true
		}
	}
	return false
}

// Resolve builds the graph. Archived outcomes and bets are left out and
// count as missing for references pointing at them.
func Resolve(in Input) *Graph {
	outcomes := make(map[string]store.Outcome, len(in.Outcomes))
	for _, o := range in.Outcomes {
		if o.ArchivedAt == nil && o.ID != UnassignedID {
			outcomes[o.ID] = o
		}
	}
	measures := make(map[string]store.Measure, len(in.Measures))
	for _, m := range in.Measures {
		measures[m.ID] = m
	}
	bets := make(map[string]store.Bet, len(in.Bets))
	for _, b := range in.Bets {
		if b.ArchivedAt == nil {
			bets[b.ID] = b
		}
	}

	g := &Graph{
		index:    make(map[string]int),
		outbound: make(map[string][]string),
		inbound:  make(map[string][]string),
	}

	parentOf := func(m store.Measure) string {
		if _, ok := outcomes[m.OutcomeID]; ok {
			return m.OutcomeID
		}
		return UnassignedID
	}
	measureLinks := func(b store.Bet) []string {
		var out []string
		for _, id := range b.LinkedMeasureIDs {
			if _, ok := measures[id]; ok {
				out = append(out, id)
			}
		}
		return out
	}
	outcomeLinks := func(b store.Bet) []string {
		if len(measureLinks(b)) > 0 {
			return nil
		}
		var out []string
		for _, id := range b.LinkedOutcomeIDs {
			if _, ok := outcomes[id]; ok {
				out = append(out, id)
			}
		}
		return out
	}

	filtered := in.OwnerID != ""
	visible := make(map[string]bool)

	// Forward pass: direct matches and children of visible parents.
	for _, o := range in.Outcomes {
		if _, ok := outcomes[o.ID]; ok && (!filtered || owns(o.OwnerIDs, in.OwnerID)) {
			visible[o.ID] = true
		}
	}
	for _, m := range in.Measures {
		if !filtered || owns(m.OwnerIDs, in.OwnerID) || visible[parentOf(m)] {
			visible[m.ID] = true
		}
	}
	for _, b := range in.Bets {
		if _, ok := bets[b.ID]; !ok {
			continue
		}
		if !filtered || owns(b.OwnerIDs, in.OwnerID) || anyVisible(visible, measureLinks(b)) || anyVisible(visible, outcomeLinks(b)) {
			visible[b.ID] = true
		}
	}
	for _, t := range in.Tasks {
		if _, ok := bets[t.BetID]; !ok {
			continue
		}
		if !filtered || t.OwnerID == in.OwnerID || visible[t.BetID] {
			visible[t.ID] = true
		}
	}

	// Backward pass: parents of visible children.
	for _, t := range in.Tasks {
		if visible[t.ID] {
			visible[t.BetID] = true
		}
	}
	for _, b := range in.Bets {
		if !visible[b.ID] {
			continue
		}
		for _, id := range measureLinks(b) {
			visible[id] = true
		}
		for _, id := range outcomeLinks(b) {
			visible[id] = true
		}
	}
	for _, m := range in.Measures {
		if visible[m.ID] {
			visible[parentOf(m)] = true
		}
	}

	for _, o := range in.Outcomes {
		if _, ok := outcomes[o.ID]; ok && visible[o.ID] {
			g.addNode(Node{ID: o.ID, Layer: LayerOutcome, Label: o.Title, Health: o.Health})
		}
	}
	if visible[UnassignedID] {
		g.addNode(Node{ID: UnassignedID, Layer: LayerOutcome, Label: "Unassigned", Synthetic: true})
	}
	for _, m := range in.Measures {
		if !visible[m.ID] {
			continue
		}
		g.addNode(Node{ID: m.ID, Layer: LayerMeasure, Label: m.Name})
		parent := parentOf(m)
		if parent == UnassignedID && m.OutcomeID != "" {
			g.Dangling = append(g.Dangling, Dangling{ID: m.ID, Layer: LayerMeasure, Ref: m.OutcomeID})
		}
		g.addEdge(parent, m.ID, EdgeOutcomeMeasure)
	}
	for _, b := range in.Bets {
		if _, ok := bets[b.ID]; !ok || !visible[b.ID] {
			continue
		}
		g.addNode(Node{ID: b.ID, Layer: LayerBet, Label: b.Title, Progress: b.Progress})
		for _, id := range b.LinkedMeasureIDs {
			if _, ok := measures[id]; !ok {
				g.Dangling = append(g.Dangling, Dangling{ID: b.ID, Layer: LayerBet, Ref: id})
			}
		}
		for _, id := range measureLinks(b) {
			g.addEdge(id, b.ID, EdgeMeasureBet)
		}
		for _, id := range outcomeLinks(b) {
			g.addEdge(id, b.ID, EdgeOutcomeBet)
		}
	}
	for _, t := range in.Tasks {
		if _, ok := bets[t.BetID]; !ok {
			g.Dangling = append(g.Dangling, Dangling{ID: t.ID, Layer: LayerTask, Ref: t.BetID})
			continue
		}
		if !visible[t.ID] {
			continue
		}
		g.addNode(Node{ID: t.ID, Layer: LayerTask, Label: t.Title, Progress: t.Progress})
		g.addEdge(t.BetID, t.ID, EdgeBetTask)
	}
	return g
}

func anyVisible(visible map[string]bool, ids []string) bool {
	for _, id := range ids {
		if visible[id] {
			return true
		}
	}
	return false
}
