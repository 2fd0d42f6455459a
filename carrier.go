package scopez

// publisherSpanKeyType is a private type so no other package can collide with the key.
type publisherSpanKeyType struct{}

// PublisherSpanKey is the carrier key under which a pipeline stores its span.
var PublisherSpanKey any = publisherSpanKeyType{}

type entry struct {
	key   any
	value any
}

// Carrier is an immutable, ordered key-value context attached to a Subscriber.
// Every mutating method returns a new Carrier and leaves the receiver untouched.
// The zero value is an empty carrier.
type Carrier struct {
	entries []entry
}

// EmptyCarrier returns a carrier with no entries.
func EmptyCarrier() Carrier {
	return Carrier{}
}

// Put returns a copy of c with key set to value.
// Replacing an existing key keeps its original position.
func (c Carrier) Put(key, value any) Carrier {
	if i := c.index(key); i >= 0 {
		entries := make([]entry, len(c.entries))
		copy(entries, c.entries)
		entries[i].value = value
		return Carrier{entries: entries}
	}

	entries := make([]entry, len(c.entries), len(c.entries)+1)
	copy(entries, c.entries)
	return Carrier{entries: append(entries, entry{key: key, value: value})}
}

// PutAll returns a copy of c merged with other. Values from other win.
func (c Carrier) PutAll(other Carrier) Carrier {
	out := c
	for _, e := range other.entries {
		out = out.Put(e.key, e.value)
	}
	return out
}

// Delete returns a copy of c without key.
func (c Carrier) Delete(key any) Carrier {
	i := c.index(key)
	if i < 0 {
		return c
	}
	entries := make([]entry, 0, len(c.entries)-1)
	entries = append(entries, c.entries[:i]...)
	entries = append(entries, c.entries[i+1:]...)
	return Carrier{entries: entries}
}

// Get looks up key.
func (c Carrier) Get(key any) (any, bool) {
	if i := c.index(key); i >= 0 {
		return c.entries[i].value, true
	}
	return nil, false
}

// GetOrDefault returns the value stored under key, or def when absent.
func (c Carrier) GetOrDefault(key, def any) any {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// Len returns the number of entries.
func (c Carrier) Len() int {
	return len(c.entries)
}

// Keys returns the keys in insertion order.
func (c Carrier) Keys() []any {
	keys := make([]any, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.key
	}
	return keys
}

// index panics when key shares a non-comparable dynamic type with a stored key.
func (c Carrier) index(key any) int {
	for i := range c.entries {
		if c.entries[i].key == key {
			return i
		}
	}
	return -1
}
