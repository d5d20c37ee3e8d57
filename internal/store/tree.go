package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document-tree helpers shared by both backends. A document is a tree of
// generic JSON values rooted at a map[string]any.

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

func joinPath(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, "/")
}

// lookup returns the value at segs within node, nil when absent.
func lookup(node any, segs []string) any {
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[seg]
	}
	return node
}

// writeAt overwrites the value at segs, creating intermediate maps. Non-map
// intermediates are replaced; segs must be non-empty.
func writeAt(root map[string]any, segs []string, value any) {
	node := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = value
}

// removeAt deletes the subtree at segs. Missing paths are a no-op.
func removeAt(root map[string]any, segs []string) {
	if len(segs) == 0 {
		for k := range root {
			delete(root, k)
		}
		return
	}
	node := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		node = child
	}
	delete(node, segs[len(segs)-1])
}

// applyField applies one field of an Update map: nil deletes the field, a
// Delta adjusts the numeric value (absent counts as zero), anything else
// overwrites.
func applyField(root map[string]any, segs []string, value any) error {
	if len(segs) == 0 {
		return fmt.Errorf("store: empty field path")
	}
	switch v := value.(type) {
	case nil:
		removeAt(root, segs)
	case Delta:
		current, _ := toFloat(lookup(root, segs))
		writeAt(root, segs, current+float64(v.By))
	default:
		doc, err := toDocument(v)
		if err != nil {
			return err
		}
		writeAt(root, segs, doc)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toDocument converts an arbitrary Go value into generic JSON types via a
// marshal round trip, so stored trees only ever hold map[string]any, []any,
// float64, string, bool and nil.
func toDocument(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode value: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("store: decode value: %w", err)
	}
	return doc, nil
}

// clone deep-copies a document tree so callers can never alias internal
// state.
func clone(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = clone(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = clone(child)
		}
		return out
	default:
		return v
	}
}
