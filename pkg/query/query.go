// Package query turns element filters into agent requests and applies
// client-side visibility rules to the results.
package query

import (
	"fmt"
	"sort"
	"strings"
)

// Recognized filter keys.
const (
	KeyID     = "id"
	KeyMarked = "marked"
	KeyText   = "text"
	KeyType   = "type"
	KeyIndex  = "index"
	KeyAll    = "all"
)

var validKeys = map[string]bool{
	KeyID:     true,
	KeyMarked: true,
	KeyText:   true,
	KeyType:   true,
	KeyIndex:  true,
	KeyAll:    true,
}

// Query is a declarative element filter. The empty query and a query
// holding only "all" are wildcards and match every element.
type Query map[string]interface{}

// IsWildcard reports whether q has no discriminating keys.
func (q Query) IsWildcard() bool {
	for k := range q {
		if k != KeyAll {
			return false
		}
	}
	return true
}

// IncludeAll reports whether invisible elements are wanted.
func (q Query) IncludeAll() bool {
	all, _ := q[KeyAll].(bool)
	return all
}

// Validate rejects unknown keys and ill-typed values.
func (q Query) Validate() error {
	var unknown []string
	for k := range q {
		if !validKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errInvalidQuery("unrecognized query key(s) %s; valid keys are id, index, marked, text, type, all",
			strings.Join(quoteAll(unknown), ", "))
	}

	if v, ok := q[KeyAll]; ok {
		if _, isBool := v.(bool); !isBool {
			return errInvalidQuery("query key \"all\" must be a boolean, got %T", v)
		}
	}
	if v, ok := q[KeyIndex]; ok {
		switch n := v.(type) {
		case int:
			if n < 0 {
				return errInvalidQuery("query key \"index\" must be >= 0, got %d", n)
			}
		case float64:
			if n < 0 || n != float64(int(n)) {
				return errInvalidQuery("query key \"index\" must be a non-negative integer, got %v", n)
			}
		default:
			return errInvalidQuery("query key \"index\" must be an integer, got %T", v)
		}
	}
	for _, k := range []string{KeyID, KeyMarked, KeyText, KeyType} {
		if v, ok := q[k]; ok {
			if _, isString := v.(string); !isString {
				return errInvalidQuery("query key %q must be a string, got %T", k, v)
			}
		}
	}
	return nil
}

// Params returns the server-side filter: q without "all".
func (q Query) Params() map[string]interface{} {
	params := make(map[string]interface{}, len(q))
	for k, v := range q {
		if k == KeyAll {
			continue
		}
		params[k] = v
	}
	return params
}

func (q Query) String() string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, q[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func quoteAll(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%q", k)
	}
	return out
}

// Filter builds a Query with typed fields.
type Filter struct {
	ID     string
	Marked string
	Text   string
	Type   string
	Index  *int
	All    bool
}

// Query converts the filter, leaving out zero fields.
func (f Filter) Query() Query {
	q := Query{}
	if f.ID != "" {
		q[KeyID] = f.ID
	}
	if f.Marked != "" {
		q[KeyMarked] = f.Marked
	}
	if f.Text != "" {
		q[KeyText] = f.Text
	}
	if f.Type != "" {
		q[KeyType] = f.Type
	}
	if f.Index != nil {
		q[KeyIndex] = *f.Index
	}
	if f.All {
		q[KeyAll] = true
	}
	return q
}

// ByID is a shorthand for Query{"id": id}.
func ByID(id string) Query { return Query{KeyID: id} }

// ByType is a shorthand for Query{"type": typ}.
func ByType(typ string) Query { return Query{KeyType: typ} }
