package find

import (
	"fmt"
	"sort"
	"strings"
)

// Condition is a filter of find options: either a Where or an Or.
// The set of implementations is closed.
type Condition interface {
	condition()
}

// Where is a set of property predicates combined with AND. Values are
// one of:
//
//   - nil, matching NULL
//   - an *Operator
//   - a nested Where, for embedded groups and relations
//   - an Or, for alternatives on a relation
//   - any other value, compared for equality
type Where map[string]any

// Or is a list of Where combined with OR.
type Or []Where

func (Where) condition() {}
func (Or) condition()    {}

// Keys returns the keys of w in lexical order.
func (w Where) Keys() []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// And merges several Where into one. Nested Where under the same key are
// merged recursively; other collisions keep the last value.
func And(ws ...Where) Where {
	out := Where{}
	for _, w := range ws {
		merge(out, w)
	}
	return out
}

func merge(dst, src Where) {
	for k, v := range src {
		sw, ok := v.(Where)
		if !ok {
			dst[k] = v
			continue
		}
		dw, ok := dst[k].(Where)
		if !ok {
			dw = Where{}
			dst[k] = dw
		}
		merge(dw, sw)
	}
}

// Path builds a Where for a dotted property path:
//
//	Path("author.country", "US") // Where{"author": Where{"country": "US"}}
func Path(path string, v any) Where {
	parts := strings.Split(path, ".")
	w := Where{parts[len(parts)-1]: v}
	for i := len(parts) - 2; i >= 0; i-- {
		w = Where{parts[i]: w}
	}
	return w
}

// String implements fmt.Stringer with keys in lexical order.
func (w Where) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range w.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, w[k])
	}
	b.WriteByte('}')
	return b.String()
}
