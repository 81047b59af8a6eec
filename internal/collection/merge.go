package collection

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// PartialUpdate is one site's contribution from one scattered stage: an
// ordered set of entities restricted to that site, carrying only the
// attributes the stage computes.
type PartialUpdate struct {
	Site     string
	Entities []*Entity
}

// MergeKeyError reports an update entity whose key is absent from the base
// collection. Entities are never created by a merge, only attributed, so
// this always indicates a site/entity mismatch upstream.
type MergeKeyError struct {
	Site string
	Key  string
}

func (e *MergeKeyError) Error() string {
	return fmt.Sprintf("update for site %q refers to entity key %q absent from the base collection", e.Site, e.Key)
}

// Merge reconciles per-site updates against a base collection and returns
// a new collection version. The base is left unmodified.
//
// Updates are applied in the order given, which callers must keep equal to
// site order (not arrival order) so that merging is deterministic. For
// each update entity the matching base entity is located by key; a missing
// key fails the whole merge with MergeKeyError before any result is
// produced. Attributes are overwritten on the new version's entity; when
// allowed is non-nil, attributes outside it are ignored.
func Merge(base *Collection, updates []*PartialUpdate, allowed []string) (*Collection, error) {
	// Validate every key first so a failed merge has no partial effect.
	for _, u := range updates {
		for _, e := range u.Entities {
			if _, ok := base.index[e.Key]; !ok {
				return nil, &MergeKeyError{Site: u.Site, Key: e.Key}
			}
		}
	}

	var allowedSet map[string]bool
	if allowed != nil {
		allowedSet = make(map[string]bool, len(allowed))
		for _, a := range allowed {
			allowedSet[a] = true
		}
	}

	next := &Collection{
		version:  base.version + 1,
		entities: make([]*Entity, len(base.entities)),
		index:    make(map[string]int, len(base.index)),
	}
	for i, e := range base.entities {
		next.entities[i] = e.clone()
		next.index[e.Key] = i
	}

	for _, u := range updates {
		for _, ue := range u.Entities {
			target := next.entities[next.index[ue.Key]]
			// Iterate attribute names in sorted order. Overwrites of
			// distinct names are order-independent, but the sorted walk
			// keeps the merge free of map-iteration nondeterminism even
			// under future instrumentation.
			for _, name := range ue.AttrNames() {
				if allowedSet != nil && !allowedSet[name] {
					continue
				}
				target.Attrs[name] = ue.Attrs[name]
			}
		}
	}
	return next, nil
}

// NumberAttr is a convenience constructor for numeric attribute values.
func NumberAttr(f float64) cty.Value {
	return cty.NumberFloatVal(f)
}

// StringAttr is a convenience constructor for string attribute values.
func StringAttr(s string) cty.Value {
	return cty.StringVal(s)
}
