package mealgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/fdg312/mealpool/internal/ingredients"
	"github.com/fdg312/mealpool/internal/rules"
)

const (
	DefaultRetryFactor     = 3
	DefaultExclusionWindow = 3
	DefaultLang            = "en"

	// optionalChance is the probability an optional category is included.
	optionalChance = 0.5

	relaxedWindowPenalty = 0.1
	fallbackRulePenalty  = 0.1
	globalRulePenalty    = 0.25
)

// ErrInvalidQuantity is returned for a non-positive quantity.
var ErrInvalidQuantity = errors.New("quantity must be positive")

// Options configure a Generator.
type Options struct {
	Seed int64
	// RetryFactor bounds attempts to RetryFactor*quantity.
	RetryFactor int
	// ExclusionWindow is the number of most recent meals whose ingredients
	// are avoided while alternatives exist. Zero means the default, a
	// negative value disables the window.
	ExclusionWindow int
	Lang            string
	StaplePairs     []StaplePair
}

func (o Options) withDefaults() Options {
	if o.RetryFactor <= 0 {
		o.RetryFactor = DefaultRetryFactor
	}
	if o.ExclusionWindow == 0 {
		o.ExclusionWindow = DefaultExclusionWindow
	}
	if o.Lang == "" {
		o.Lang = DefaultLang
	}
	if o.StaplePairs == nil {
		o.StaplePairs = DefaultStaplePairs
	}
	return o
}

// Result is the outcome of one Generate call.
type Result struct {
	Candidates []Candidate
	Rule       rules.Rule
	RuleChain  []string
	Requested  int
	Attempts   int
	// Shortfall is the number of requested candidates that could not be
	// produced within the attempt limit.
	Shortfall int
}

// Generator assembles candidates from a pool and rule set. It owns its random
// source and exclusion window, so a Generator must not be shared between
// goroutines.
type Generator struct {
	pool   *ingredients.Pool
	rules  *rules.Set
	opts   Options
	rng    *rand.Rand
	recent []map[string]bool
}

// New returns a generator seeded with opts.Seed.
func New(pool *ingredients.Pool, set *rules.Set, opts Options) *Generator {
	opts = opts.withDefaults()
	return &Generator{
		pool:  pool,
		rules: set,
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}
}

// Generate produces up to quantity distinct candidates for the pair. Keys in
// exclude are never used. Running out of attempts is reported through
// Result.Shortfall, not as an error.
func (g *Generator) Generate(ctx context.Context, country string, mealType rules.MealType, quantity int, exclude []string) (Result, error) {
	if quantity <= 0 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}

	rule, chain, err := g.rules.ResolveChain(country, mealType)
	if err != nil {
		return Result{}, err
	}
	country = rules.NormalizeCountry(country)

	excluded := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		excluded[k] = true
	}

	res := Result{Rule: rule, RuleChain: chain, Requested: quantity}
	seen := make(map[string]bool, quantity)
	maxAttempts := quantity * g.opts.RetryFactor

	for res.Attempts < maxAttempts && len(res.Candidates) < quantity {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts++

		cand, ok := g.assemble(rule, country, excluded)
		if !ok {
			continue
		}
		if err := Recompute(g.pool, &cand, g.opts.Lang, g.opts.StaplePairs); err != nil {
			return res, fmt.Errorf("recompute %s/%s candidate: %w", country, mealType, err)
		}
		if CheckRule(rule, cand) != nil {
			continue
		}
		if seen[cand.Signature] {
			continue
		}
		seen[cand.Signature] = true
		res.Candidates = append(res.Candidates, cand)
		g.remember(cand)
	}

	res.Shortfall = quantity - len(res.Candidates)
	return res, nil
}

func (g *Generator) assemble(rule rules.Rule, country string, excluded map[string]bool) (Candidate, bool) {
	used := make(map[string]bool)
	confidence := 1.0
	switch {
	case rule.CountryCode == rules.GlobalCountry && country != rules.GlobalCountry:
		confidence -= globalRulePenalty
	case rule.CountryCode != country:
		confidence -= fallbackRulePenalty
	}

	var comps []Component
	add := func(cat ingredients.Category) bool {
		ing, relaxed, ok := g.pick(rule, cat, used, excluded)
		if !ok {
			return false
		}
		if relaxed {
			confidence -= relaxedWindowPenalty
		}
		used[ing.Key] = true
		comps = append(comps, Component{
			IngredientKey: ing.Key,
			Category:      ing.Category,
			Portion:       ing.DefaultPortion,
			Unit:          ing.Unit,
		})
		return true
	}

	for _, cat := range rule.Required {
		if !add(cat) {
			return Candidate{}, false
		}
	}
	for _, cat := range rule.Optional {
		if rule.Forbids(cat) {
			continue
		}
		if g.rng.Float64() >= optionalChance {
			continue
		}
		add(cat)
	}

	if confidence < 0 {
		confidence = 0
	}
	return Candidate{
		MealType:    rule.MealType,
		CountryCode: country,
		RuleCountry: rule.CountryCode,
		Components:  comps,
		Confidence:  round2(confidence),
	}, true
}

// pick draws an ingredient of category cat. Ingredients from the recent
// window are avoided unless nothing else is left, in which case relaxed is
// true. Beverages prefer the rule's typical beverages.
func (g *Generator) pick(rule rules.Rule, cat ingredients.Category, used, excluded map[string]bool) (ing ingredients.Ingredient, relaxed bool, ok bool) {
	var base []ingredients.Ingredient
	for _, c := range g.pool.ByCategory(cat) {
		if used[c.Key] || excluded[c.Key] {
			continue
		}
		if cat == ingredients.CategoryBeverage && rule.ForbidsBeverage(c.Key) {
			continue
		}
		base = append(base, c)
	}
	if len(base) == 0 {
		return ingredients.Ingredient{}, false, false
	}

	choices := make([]ingredients.Ingredient, 0, len(base))
	for _, c := range base {
		if !g.recentlyUsed(c.Key) {
			choices = append(choices, c)
		}
	}
	if len(choices) == 0 {
		choices = base
		relaxed = true
	}

	if cat == ingredients.CategoryBeverage && len(rule.TypicalBeverages) > 0 {
		var typical []ingredients.Ingredient
		for _, c := range choices {
			if rule.IsTypicalBeverage(c.Key) {
				typical = append(typical, c)
			}
		}
		if len(typical) > 0 {
			choices = typical
		}
	}

	return choices[g.rng.Intn(len(choices))], relaxed, true
}

func (g *Generator) recentlyUsed(key string) bool {
	for _, m := range g.recent {
		if m[key] {
			return true
		}
	}
	return false
}

func (g *Generator) remember(c Candidate) {
	if g.opts.ExclusionWindow < 0 {
		return
	}
	keys := make(map[string]bool, len(c.Components))
	for _, comp := range c.Components {
		keys[comp.IngredientKey] = true
	}
	g.recent = append(g.recent, keys)
	if len(g.recent) > g.opts.ExclusionWindow {
		g.recent = g.recent[len(g.recent)-g.opts.ExclusionWindow:]
	}
}
