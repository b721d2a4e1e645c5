package compat

import (
	"fmt"

	"github.com/fdg312/mealpool/internal/ingredients"
	"github.com/fdg312/mealpool/internal/mealgen"
	"github.com/fdg312/mealpool/internal/rules"
	"github.com/fdg312/mealpool/internal/substitution"
)

// DefaultMaxSubstitutions is the number of conflicting components a
// candidate may have and still be repaired.
const DefaultMaxSubstitutions = 1

// Verdict is the filter outcome for one candidate.
type Verdict string

const (
	Accepted          Verdict = "accepted"
	Rejected          Verdict = "rejected"
	NeedsSubstitution Verdict = "needs_substitution"
)

// Conflict is a component that clashes with the profile.
type Conflict struct {
	Index         int               `json:"index"`
	IngredientKey string            `json:"ingredient_key"`
	Tags          []ingredients.Tag `json:"tags,omitempty"`
	Excluded      bool              `json:"excluded,omitempty"`
}

// Decision is the verdict for one candidate. Repairs is set only for
// NeedsSubstitution, Reason only for Rejected.
type Decision struct {
	Candidate mealgen.Candidate
	Verdict   Verdict
	Conflicts []Conflict
	Repairs   []substitution.Repair
	Reason    string
}

// Result partitions the evaluated candidates, each in input order.
type Result struct {
	Accepted          []Decision
	Rejected          []Decision
	NeedsSubstitution []Decision
}

// Filter evaluates candidates against a profile. It holds no mutable state.
type Filter struct {
	pool             *ingredients.Pool
	resolver         *substitution.Resolver
	maxSubstitutions int
	// rule, when set, must admit every substitute
	rule *rules.Rule
}

// NewFilter returns a filter. A negative maxSubstitutions selects the
// default; zero disables repairs.
func NewFilter(pool *ingredients.Pool, resolver *substitution.Resolver, maxSubstitutions int) *Filter {
	if maxSubstitutions < 0 {
		maxSubstitutions = DefaultMaxSubstitutions
	}
	return &Filter{pool: pool, resolver: resolver, maxSubstitutions: maxSubstitutions}
}

// WithRule returns a copy of f that only picks substitutes the rule admits.
func (f *Filter) WithRule(rule rules.Rule) *Filter {
	out := *f
	out.rule = &rule
	return &out
}

// Apply evaluates every candidate.
func (f *Filter) Apply(candidates []mealgen.Candidate, p Profile) Result {
	var res Result
	for _, c := range candidates {
		d := f.Evaluate(c, p)
		switch d.Verdict {
		case Accepted:
			res.Accepted = append(res.Accepted, d)
		case NeedsSubstitution:
			res.NeedsSubstitution = append(res.NeedsSubstitution, d)
		default:
			res.Rejected = append(res.Rejected, d)
		}
	}
	return res
}

// Evaluate decides a single candidate. Diet violations reject outright.
// Components that trigger one of the profile's intolerances or are excluded
// by it are conflicts; the candidate needs substitution when each conflict has
// a substitute and there are no more than the configured number of them.
func (f *Filter) Evaluate(c mealgen.Candidate, p Profile) Decision {
	d := Decision{Candidate: c}
	reject := func(format string, args ...any) Decision {
		d.Verdict = Rejected
		d.Repairs = nil
		d.Reason = fmt.Sprintf(format, args...)
		return d
	}

	for i, comp := range c.Components {
		ing, ok := f.pool.Get(comp.IngredientKey)
		if !ok {
			return reject("unknown ingredient %q", comp.IngredientKey)
		}
		if !p.Allows(ing) {
			return reject("%s diet does not allow %q (%s)", p.Diet, ing.Key, ing.Source)
		}

		tags := ing.Triggers.Intersection(p.Intolerances)
		excluded := p.Excludes(ing.Key)
		if len(tags) > 0 || excluded {
			d.Conflicts = append(d.Conflicts, Conflict{
				Index:         i,
				IngredientKey: ing.Key,
				Tags:          tags,
				Excluded:      excluded,
			})
		}
	}

	if len(d.Conflicts) == 0 {
		d.Verdict = Accepted
		return d
	}
	if len(d.Conflicts) > f.maxSubstitutions {
		return reject("%d conflicting components, at most %d can be substituted", len(d.Conflicts), f.maxSubstitutions)
	}

	avoid := make(map[string]struct{}, len(c.Components)+len(p.Excluded))
	for k := range p.Excluded {
		avoid[k] = struct{}{}
	}
	for _, comp := range c.Components {
		avoid[comp.IngredientKey] = struct{}{}
	}

	for _, conflict := range d.Conflicts {
		sub, ok := f.resolver.Find(conflict.IngredientKey, substitution.Criteria{
			Intolerances:   p.Intolerances,
			Avoid:          avoid,
			Allow:          f.allows(p),
			RequireSafeFor: len(conflict.Tags) > 0,
		})
		if !ok {
			return reject("no substitute for %q", conflict.IngredientKey)
		}
		avoid[sub.Key] = struct{}{}
		d.Repairs = append(d.Repairs, substitution.Repair{
			Index: conflict.Index,
			From:  conflict.IngredientKey,
			To:    sub.Key,
		})
	}

	d.Verdict = NeedsSubstitution
	return d
}

// allows combines the profile's diet with the rule, if any.
func (f *Filter) allows(p Profile) func(ingredients.Ingredient) bool {
	if f.rule == nil {
		return p.Allows
	}
	rule := *f.rule
	return func(ing ingredients.Ingredient) bool {
		return p.Allows(ing) && rule.Admits(ing)
	}
}
