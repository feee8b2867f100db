package item

import "strings"

// Filter is a parsed keyword expression. Terms are whitespace separated and
// all of them must hold; a leading "-" negates a term. A term matches when it
// is a substring of the item id or equals one of its keywords.
type Filter struct {
	include []string
	exclude []string
}

func ParseFilter(expr string) Filter {
	var f Filter
	for _, term := range strings.Fields(expr) {
		if neg, ok := strings.CutPrefix(term, "-"); ok {
			if neg != "" {
				f.exclude = append(f.exclude, neg)
			}
			continue
		}
		f.include = append(f.include, term)
	}
	return f
}

func (f Filter) Empty() bool { return len(f.include) == 0 && len(f.exclude) == 0 }

func (f Filter) Match(it Item) bool {
	for _, term := range f.include {
		if !termMatches(it, term) {
			return false
		}
	}
	for _, term := range f.exclude {
		if termMatches(it, term) {
			return false
		}
	}
	return true
}

func termMatches(it Item, term string) bool {
	if strings.Contains(it.ID, term) {
		return true
	}
	for _, kw := range it.Keywords {
		if kw == term {
			return true
		}
	}
	return false
}
