package ingredients

import (
	"fmt"
	"sort"
	"strings"
)

// Tag is a canonical intolerance identifier.
type Tag string

const (
	TagLactose   Tag = "lactose"
	TagGluten    Tag = "gluten"
	TagEgg       Tag = "egg"
	TagSoy       Tag = "soy"
	TagPeanut    Tag = "peanut"
	TagTreeNut   Tag = "tree_nut"
	TagFish      Tag = "fish"
	TagShellfish Tag = "shellfish"
	TagSesame    Tag = "sesame"
	TagFructose  Tag = "fructose"
	TagSorbitol  Tag = "sorbitol"
	TagFODMAP    Tag = "fodmap"
	TagHistamine Tag = "histamine"
	TagCaffeine  Tag = "caffeine"
)

var canonicalTags = map[Tag]struct{}{
	TagLactose: {}, TagGluten: {}, TagEgg: {}, TagSoy: {}, TagPeanut: {},
	TagTreeNut: {}, TagFish: {}, TagShellfish: {}, TagSesame: {},
	TagFructose: {}, TagSorbitol: {}, TagFODMAP: {}, TagHistamine: {},
	TagCaffeine: {},
}

// tagAliases maps spellings seen in hand-written data to the canonical tag.
var tagAliases = map[string]Tag{
	"eggs":       TagEgg,
	"milk":       TagLactose,
	"dairy":      TagLactose,
	"nuts":       TagTreeNut,
	"nut":        TagTreeNut,
	"tree_nuts":  TagTreeNut,
	"treenut":    TagTreeNut,
	"treenuts":   TagTreeNut,
	"peanuts":    TagPeanut,
	"seafood":    TagShellfish,
	"crustacean": TagShellfish,
	"fodmaps":    TagFODMAP,
	"soya":       TagSoy,
	"wheat":      TagGluten,
}

// AllTags returns the canonical tag set in sorted order.
func AllTags() []Tag {
	out := make([]Tag, 0, len(canonicalTags))
	for t := range canonicalTags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NormalizeTag folds case and separators, resolves aliases and rejects
// anything outside the canonical set.
func NormalizeTag(raw string) (Tag, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if s == "" {
		return "", fmt.Errorf("empty intolerance tag")
	}
	if t, ok := tagAliases[s]; ok {
		return t, nil
	}
	if _, ok := canonicalTags[Tag(s)]; ok {
		return Tag(s), nil
	}
	return "", fmt.Errorf("unknown intolerance tag %q", raw)
}

// ParseTags normalizes a list of raw tags into a set.
func ParseTags(raw []string) (TagSet, error) {
	set := make(TagSet, len(raw))
	for _, r := range raw {
		t, err := NormalizeTag(r)
		if err != nil {
			return nil, err
		}
		set[t] = struct{}{}
	}
	return set, nil
}

// TagSet is an unordered set of canonical tags. A nil TagSet is empty.
type TagSet map[Tag]struct{}

// NewTagSet builds a set from already-canonical tags.
func NewTagSet(tags ...Tag) TagSet {
	set := make(TagSet, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

func (s TagSet) Has(t Tag) bool {
	_, ok := s[t]
	return ok
}

// Intersects reports whether s and other share at least one tag.
func (s TagSet) Intersects(other TagSet) bool {
	small, big := s, other
	if len(big) < len(small) {
		small, big = big, small
	}
	for t := range small {
		if big.Has(t) {
			return true
		}
	}
	return false
}

// Intersection returns the shared tags, sorted.
func (s TagSet) Intersection(other TagSet) []Tag {
	var out []Tag
	for t := range s {
		if other.Has(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Union adds every tag of other into s and returns s.
func (s TagSet) Union(other TagSet) TagSet {
	if s == nil {
		s = make(TagSet, len(other))
	}
	for t := range other {
		s[t] = struct{}{}
	}
	return s
}

// Sorted returns the tags in ascending order.
func (s TagSet) Sorted() []Tag {
	out := make([]Tag, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted tags as plain strings.
func (s TagSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, t := range sorted {
		out[i] = string(t)
	}
	return out
}
