package payload

import (
	"encoding/json"
	"reflect"
)

// Reference is a directed edge from one item to another.
type Reference struct {
	UUID        string `json:"uuid"`
	ContentType string `json:"content_type"`
}

// Content is the decrypted bare-object form of an item's content: an open
// JSON object that always carries a references array.
type Content map[string]any

// NewContent returns an empty content object with an empty references array.
func NewContent() Content {
	return Content{"references": []any{}}
}

// References decodes the references array. Malformed entries are skipped.
func (c Content) References() []Reference {
	raw, ok := c["references"]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		// Already-typed slice, e.g. constructed in code rather than
		// decoded from JSON.
		if typed, ok := raw.([]Reference); ok {
			out := make([]Reference, len(typed))
			copy(out, typed)
			return out
		}
		return nil
	}
	refs := make([]Reference, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		ref := Reference{}
		if s, ok := m["uuid"].(string); ok {
			ref.UUID = s
		}
		if s, ok := m["content_type"].(string); ok {
			ref.ContentType = s
		}
		if ref.UUID != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// WithReferences returns a copy of c carrying the given references.
func (c Content) WithReferences(refs []Reference) Content {
	out := c.Copy()
	items := make([]any, 0, len(refs))
	for _, r := range refs {
		items = append(items, map[string]any{"uuid": r.UUID, "content_type": r.ContentType})
	}
	out["references"] = items
	return out
}

// Copy deep-copies the content via JSON round-trip, which also normalizes
// value types so copies compare structurally.
func (c Content) Copy() Content {
	if c == nil {
		return nil
	}
	return normalizeContent(c)
}

func normalizeContent(c Content) Content {
	b, err := json.Marshal(c)
	if err != nil {
		// Content always originates from JSON or from literals built of
		// JSON-compatible values.
		panic(err)
	}
	var out Content
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return out
}

// EqualContent reports deep structural equality of two content values,
// ignoring key ordering and numeric representation differences.
func EqualContent(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case Content:
		bv, ok := b.(Content)
		if !ok {
			return false
		}
		return reflect.DeepEqual(normalizeContent(av), normalizeContent(bv))
	default:
		return reflect.DeepEqual(a, b)
	}
}
