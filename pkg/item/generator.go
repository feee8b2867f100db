package item

import (
	"iter"
)

// Node is one entry of an external collection tree. Leaves yield an Item;
// inner nodes yield children in document order.
type Node interface {
	Name() string
	Item() (Item, bool)
	// Children returns a *SkipError when the node is deliberately skipped.
	Children() ([]Node, error)
}

// StopFunc reports that no further work should be produced.
type StopFunc func() bool

// ErrorFunc receives collection failures; node is the failing node's name.
type ErrorFunc func(node string, err error)

// Never is a StopFunc that never stops.
func Never() bool { return false }

// Generate walks roots depth-first in document order and yields the items
// that match keyword. stop is checked before each item is yielded; once it
// reports true the sequence ends. The returned sequence can be ranged over
// any number of times and yields the same items for the same inputs.
func Generate(roots []Node, keyword string, stop StopFunc, onErr ErrorFunc) iter.Seq[Item] {
	filter := ParseFilter(keyword)
	if stop == nil {
		stop = Never
	}
	return func(yield func(Item) bool) {
		for _, root := range roots {
			if !walk(root, filter, stop, onErr, yield) {
				return
			}
		}
	}
}

// walk returns false when iteration must end.
func walk(n Node, filter Filter, stop StopFunc, onErr ErrorFunc, yield func(Item) bool) bool {
	if it, ok := n.Item(); ok {
		if !filter.Match(it) {
			return true
		}
		if stop() {
			return false
		}
		return yield(it)
	}
	children, err := n.Children()
	if err != nil {
		if onErr != nil {
			onErr(n.Name(), err)
		}
		return !stop()
	}
	for _, child := range children {
		if !walk(child, filter, stop, onErr, yield) {
			return false
		}
	}
	return true
}
