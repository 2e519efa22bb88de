package graph

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type LayoutOptions struct {
	ColumnWidth float64
	RowHeight   float64
	Padding     float64
}

func DefaultLayoutOptions() LayoutOptions {
	return LayoutOptions{ColumnWidth: 280, RowHeight: 72, Padding: 24}
}

// Layout stacks the nodes of each layer in its own column, in node order.
func Layout(g *Graph, opts LayoutOptions) map[string]Point {
	rows := make(map[Layer]int, 4)
	out := make(map[string]Point, len(g.Nodes))
	for _, n := range g.Nodes {
		col, err := n.Layer.Column()
		if err != nil {
			continue
		}
		row := rows[n.Layer]
		rows[n.Layer] = row + 1
		out[n.ID] = Point{
			X: opts.Padding + float64(col)*opts.ColumnWidth,
			Y: opts.Padding + float64(row)*opts.RowHeight,
		}
	}
	return out
}
