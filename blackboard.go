package graphicscore

import "reflect"

// Blackboard is the polymorphic heterogeneous map keyed by type-hash spec.md §4.7
// describes: passes publish output structs that later passes consume, the only inter-pass
// coupling the graph exposes. The original engine backs this with a linked list in the
// frame-graph's setup allocator; this module uses a plain Go map keyed by reflect.Type
// since Go has no equivalent of the original's type-hash-over-raw-bytes trick and
// reflect.Type is already the idiomatic stand-in for a type key.
type Blackboard struct {
	entries map[reflect.Type]any
}

func newBlackboard() *Blackboard {
	return &Blackboard{entries: map[reflect.Type]any{}}
}

// Publish stores v under its own type, overwriting any prior value of that type.
func Publish[T any](b *Blackboard, v T) {
	b.entries[reflect.TypeOf(v)] = v
}

// Get retrieves the most recently published value of type T, and reports whether one
// exists.
func Get[T any](b *Blackboard) (T, bool) {
	var zero T
	v, ok := b.entries[reflect.TypeOf(zero)]
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// reset clears every entry; called once per frame at PrepareSetup.
func (b *Blackboard) reset() {
	for k := range b.entries {
		delete(b.entries, k)
	}
}
