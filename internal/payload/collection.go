package payload

// Collection groups payloads under a single provenance source, with O(1)
// lookup by uuid. Collections are immutable; derivation returns a new one.
type Collection struct {
	source Source
	byUUID map[string]*Payload
	order  []string
}

// NewCollection builds a collection. Later duplicates of a uuid replace
// earlier ones in place, preserving first-seen order.
func NewCollection(payloads []*Payload, source Source) *Collection {
	c := &Collection{
		source: source,
		byUUID: make(map[string]*Payload, len(payloads)),
		order:  make([]string, 0, len(payloads)),
	}
	for _, p := range payloads {
		if p == nil {
			continue
		}
		if _, seen := c.byUUID[p.UUID()]; !seen {
			c.order = append(c.order, p.UUID())
		}
		c.byUUID[p.UUID()] = p
	}
	return c
}

func (c *Collection) Source() Source { return c.source }

// Get returns the payload for uuid, or nil.
func (c *Collection) Get(uuid string) *Payload {
	return c.byUUID[uuid]
}

// All returns the payloads in insertion order.
func (c *Collection) All() []*Payload {
	out := make([]*Payload, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byUUID[id])
	}
	return out
}

// UUIDs returns the member uuids in insertion order.
func (c *Collection) UUIDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Collection) Len() int { return len(c.order) }

// Merged derives a new collection with the given payloads added or
// replacing same-uuid members.
func (c *Collection) Merged(payloads ...*Payload) *Collection {
	all := c.All()
	return NewCollection(append(all, payloads...), c.source)
}
