package neo4jdb

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// normalizeValue переводит графовые типы драйвера в map и срезы.
// Остальные значения возвращаются как есть.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case neo4j.Node:
		return nodeMap(val)
	case neo4j.Relationship:
		return relationshipMap(val)
	case neo4j.Path:
		nodes := make([]any, len(val.Nodes))
		for i, n := range val.Nodes {
			nodes[i] = nodeMap(n)
		}
		rels := make([]any, len(val.Relationships))
		for i, r := range val.Relationships {
			rels[i] = relationshipMap(r)
		}
		return map[string]any{"nodes": nodes, "relationships": rels}
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func nodeMap(n neo4j.Node) map[string]any {
	return map[string]any{
		"element_id": n.ElementId,
		"labels":     n.Labels,
		"props":      normalizeValue(n.Props),
	}
}

func relationshipMap(r neo4j.Relationship) map[string]any {
	return map[string]any{
		"element_id": r.ElementId,
		"type":       r.Type,
		"start":      r.StartElementId,
		"end":        r.EndElementId,
		"props":      normalizeValue(r.Props),
	}
}
