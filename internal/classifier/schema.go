package classifier

import (
	"fmt"
	"sort"
)

// Schema is the ordered set of feature names a classifier was trained on,
// plus the label encodings for its categorical features. It is fixed when
// the artifact is loaded.
type Schema struct {
	names      []string
	index      map[string]int
	categories map[string]map[string]float64
}

// NewSchema builds a schema from ordered feature names. Names must be
// non-empty and unique. Category maps may only reference schema features.
func NewSchema(names []string, categories map[string]map[string]float64) (Schema, error) {
	if len(names) == 0 {
		return Schema{}, fmt.Errorf("feature_names is empty")
	}

	index := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return Schema{}, fmt.Errorf("feature_names[%d] is empty", i)
		}
		if _, dup := index[name]; dup {
			return Schema{}, fmt.Errorf("duplicate feature name %q", name)
		}
		index[name] = i
	}

	cats := make(map[string]map[string]float64, len(categories))
	for feature, codes := range categories {
		if _, ok := index[feature]; !ok {
			return Schema{}, fmt.Errorf("categories reference unknown feature %q", feature)
		}
		copied := make(map[string]float64, len(codes))
		for label, code := range codes {
			copied[label] = code
		}
		cats[feature] = copied
	}

	return Schema{
		names:      append([]string(nil), names...),
		index:      index,
		categories: cats,
	}, nil
}

// Names returns the feature names in training order.
func (s Schema) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of features.
func (s Schema) Len() int {
	return len(s.names)
}

// Index returns the position of name in the schema.
func (s Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// EncodeCategory maps a categorical label to the numeric code used during
// training. It reports false when the feature is not categorical or the
// label was never seen.
func (s Schema) EncodeCategory(feature, label string) (float64, bool) {
	codes, ok := s.categories[feature]
	if !ok {
		return 0, false
	}
	code, ok := codes[label]
	return code, ok
}

// CategoricalFeatures returns the names of features with label encodings,
// sorted.
func (s Schema) CategoricalFeatures() []string {
	out := make([]string, 0, len(s.categories))
	for name := range s.categories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
