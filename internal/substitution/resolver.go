package substitution

import (
	"fmt"
	"math"

	"github.com/fdg312/mealpool/internal/ingredients"
	"github.com/fdg312/mealpool/internal/mealgen"
)

// confidencePenalty is subtracted from a candidate's confidence per repair.
const confidencePenalty = 0.05

// Criteria narrows the search for a substitute.
type Criteria struct {
	Intolerances ingredients.TagSet
	// Avoid lists keys that must not be chosen, typically the profile's
	// exclusions and the other components of the meal.
	Avoid map[string]struct{}
	// Allow, when set, must accept the substitute (dietary preference).
	Allow func(ingredients.Ingredient) bool
	// RequireSafeFor demands that the substitute is marked safe for at least
	// one of Intolerances.
	RequireSafeFor bool
}

// Repair replaces the component at Index, which must hold From, with To.
type Repair struct {
	Index int    `json:"index"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// Resolver finds and applies ingredient substitutes from one pool.
type Resolver struct {
	pool        *ingredients.Pool
	lang        string
	staplePairs []mealgen.StaplePair
}

func NewResolver(pool *ingredients.Pool, lang string, staplePairs []mealgen.StaplePair) *Resolver {
	if lang == "" {
		lang = mealgen.DefaultLang
	}
	if staplePairs == nil {
		staplePairs = mealgen.DefaultStaplePairs
	}
	return &Resolver{pool: pool, lang: lang, staplePairs: staplePairs}
}

// FindSubstitute returns the closest same-category ingredient registered as
// a replacement for key that is marked safe for one of the intolerances and
// triggers none of them.
func (r *Resolver) FindSubstitute(key string, intolerances ingredients.TagSet) (ingredients.Ingredient, bool) {
	return r.Find(key, Criteria{Intolerances: intolerances, RequireSafeFor: true})
}

// Find returns the best substitute for key under c. Candidates are ranked by
// absolute kcal-per-100 difference from the original, then by key.
func (r *Resolver) Find(key string, c Criteria) (ingredients.Ingredient, bool) {
	orig, ok := r.pool.Get(key)
	if !ok {
		return ingredients.Ingredient{}, false
	}

	var (
		best     ingredients.Ingredient
		bestDiff float64
		found    bool
	)
	for _, cand := range r.pool.SubstitutesFor(key) {
		if cand.Category != orig.Category {
			continue
		}
		if c.RequireSafeFor && !cand.SafeFor.Intersects(c.Intolerances) {
			continue
		}
		if cand.Triggers.Intersects(c.Intolerances) {
			continue
		}
		if _, avoid := c.Avoid[cand.Key]; avoid {
			continue
		}
		if c.Allow != nil && !c.Allow(cand) {
			continue
		}

		diff := math.Abs(cand.Per100.Kcal - orig.Per100.Kcal)
		if !found || diff < bestDiff || (diff == bestDiff && cand.Key < best.Key) {
			best, bestDiff, found = cand, diff, true
		}
	}
	return best, found
}

// Apply returns a copy of c with the repairs applied. Substitutes take their
// default portion and every derived field is recomputed from scratch.
func (r *Resolver) Apply(c mealgen.Candidate, repairs []Repair) (mealgen.Candidate, error) {
	out := c.Clone()
	for _, rep := range repairs {
		if rep.Index < 0 || rep.Index >= len(out.Components) {
			return mealgen.Candidate{}, fmt.Errorf("repair index %d out of range", rep.Index)
		}
		if got := out.Components[rep.Index].IngredientKey; got != rep.From {
			return mealgen.Candidate{}, fmt.Errorf("repair expects %q at %d, found %q", rep.From, rep.Index, got)
		}
		sub, ok := r.pool.Get(rep.To)
		if !ok {
			return mealgen.Candidate{}, fmt.Errorf("unknown substitute %q", rep.To)
		}
		out.Components[rep.Index] = mealgen.Component{
			IngredientKey: sub.Key,
			Category:      sub.Category,
			Portion:       sub.DefaultPortion,
			Unit:          sub.Unit,
		}
	}

	if err := mealgen.Recompute(r.pool, &out, r.lang, r.staplePairs); err != nil {
		return mealgen.Candidate{}, err
	}
	out.Confidence = math.Max(0, math.Round((c.Confidence-confidencePenalty*float64(len(repairs)))*100)/100)
	return out, nil
}
