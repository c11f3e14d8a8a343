package graph

// Node is a persisted entity: a stable identifier, a type label, and a
// property map. The optional embedding vector lives in Props under
// "embedding" so matching code sees one uniform map.
type Node struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Props map[string]any `json:"properties"`
}

// Clone returns a copy safe to hand across goroutines; property values
// themselves are treated as immutable.
func (n *Node) Clone() *Node {
	props := make(map[string]any, len(n.Props))
	for k, v := range n.Props {
		props[k] = v
	}
	return &Node{ID: n.ID, Type: n.Type, Props: props}
}

// Name returns the node's display name, trying name then title.
func (n *Node) Name() string {
	for _, key := range []string{"name", "title"} {
		if s, ok := n.Props[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Edge is a typed, directed relationship between two nodes. It has no
// identity beyond type plus endpoints: re-importing the same edge updates
// its properties instead of duplicating it.
type Edge struct {
	Type     string         `json:"type"`
	SourceID string         `json:"source_id"`
	TargetID string         `json:"target_id"`
	Props    map[string]any `json:"properties"`
}

// Stats summarizes graph contents for the stats endpoint and seed tooling.
type Stats struct {
	Nodes       int64            `json:"nodes"`
	Edges       int64            `json:"edges"`
	NodesByType map[string]int64 `json:"nodes_by_type"`
}
