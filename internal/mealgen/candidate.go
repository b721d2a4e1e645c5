package mealgen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/fdg312/mealpool/internal/ingredients"
	"github.com/fdg312/mealpool/internal/rules"
)

// Component is one ingredient entry of a candidate.
type Component struct {
	IngredientKey string               `json:"ingredient_key"`
	Name          string               `json:"name"`
	Category      ingredients.Category `json:"type"`
	Portion       float64              `json:"portion"`
	Unit          ingredients.Unit     `json:"unit"`
}

// PortionLabel renders the portion for display, e.g. "150g" or "200ml".
func (c Component) PortionLabel() string {
	return strconv.FormatFloat(c.Portion, 'f', -1, 64) + string(c.Unit)
}

// Totals are rounded aggregate macros: whole kcal, grams to one decimal.
type Totals struct {
	Kcal    int     `json:"kcal"`
	Protein float64 `json:"protein"`
	Carbs   float64 `json:"carbs"`
	Fat     float64 `json:"fat"`
	Fiber   float64 `json:"fiber"`
}

// Candidate is a generated meal. Everything except Components, MealType,
// CountryCode, RuleCountry and Confidence is derived by Recompute.
type Candidate struct {
	Name        string            `json:"name"`
	MealType    rules.MealType    `json:"meal_type"`
	CountryCode string            `json:"country_code"`
	RuleCountry string            `json:"rule_country"`
	Components  []Component       `json:"components"`
	Totals      Totals            `json:"totals"`
	BlockedFor  []ingredients.Tag `json:"blocked_for_intolerances"`
	Confidence  float64           `json:"confidence"`
	Signature   string            `json:"signature"`
}

// Keys returns the component ingredient keys in meal order.
func (c Candidate) Keys() []string {
	out := make([]string, len(c.Components))
	for i, comp := range c.Components {
		out[i] = comp.IngredientKey
	}
	return out
}

// Clone returns a deep copy of the candidate.
func (c Candidate) Clone() Candidate {
	out := c
	out.Components = append([]Component(nil), c.Components...)
	out.BlockedFor = append([]ingredients.Tag(nil), c.BlockedFor...)
	return out
}

// StaplePair orders two staple components: a component whose key is or ends
// with a Before token is placed ahead of one matching an After token.
type StaplePair struct {
	Before []string
	After  []string
}

// DefaultStaplePairs keeps rice ahead of beans.
var DefaultStaplePairs = []StaplePair{
	{Before: []string{"rice", "arroz"}, After: []string{"beans", "bean", "feijao"}},
}

// Recompute rebuilds names, totals, blocked tags and the signature of c from
// its components and the pool. Totals are summed unrounded and rounded once.
func Recompute(pool *ingredients.Pool, c *Candidate, lang string, pairs []StaplePair) error {
	seen := make(map[string]bool, len(c.Components))
	var sum ingredients.Macros
	blocked := ingredients.TagSet{}

	for i, comp := range c.Components {
		if seen[comp.IngredientKey] {
			return fmt.Errorf("duplicate component %q", comp.IngredientKey)
		}
		seen[comp.IngredientKey] = true

		ing, ok := pool.Get(comp.IngredientKey)
		if !ok {
			return fmt.Errorf("unknown ingredient %q", comp.IngredientKey)
		}
		if comp.Portion <= 0 {
			return fmt.Errorf("component %q has non-positive portion", comp.IngredientKey)
		}

		c.Components[i].Name = ing.Name(lang)
		c.Components[i].Category = ing.Category
		c.Components[i].Unit = ing.Unit
		sum = sum.Add(ing.Per100.Scale(comp.Portion))
		blocked.Union(ing.Triggers)
	}

	OrderStaples(c.Components, pairs)

	c.Totals = Totals{
		Kcal:    int(math.Round(sum.Kcal)),
		Protein: round1(sum.Protein),
		Carbs:   round1(sum.Carbs),
		Fat:     round1(sum.Fat),
		Fiber:   round1(sum.Fiber),
	}
	c.BlockedFor = blocked.Sorted()
	c.Name = mealName(c.Components, lang)
	c.Signature = Signature(c.MealType, c.Components)
	return nil
}

// OrderStaples moves components in place so that every Before staple
// precedes the first matching After staple. Other components keep their
// relative order.
func OrderStaples(comps []Component, pairs []StaplePair) {
	for _, p := range pairs {
		before := indexOfToken(comps, p.Before)
		after := indexOfToken(comps, p.After)
		if before < 0 || after < 0 || before < after {
			continue
		}
		moved := comps[before]
		copy(comps[after+1:before+1], comps[after:before])
		comps[after] = moved
	}
}

// indexOfToken finds the first component whose key is one of tokens or ends
// with one of them. Only the head word counts, so "rice_noodles" is not rice.
func indexOfToken(comps []Component, tokens []string) int {
	for i, c := range comps {
		head := c.IngredientKey
		if j := strings.LastIndexByte(head, '_'); j >= 0 {
			head = head[j+1:]
		}
		for _, t := range tokens {
			if c.IngredientKey == t || head == t {
				return i
			}
		}
	}
	return -1
}

// Signature identifies meal content independently of component order.
func Signature(mt rules.MealType, comps []Component) string {
	parts := make([]string, len(comps))
	for i, c := range comps {
		parts[i] = c.IngredientKey + ":" + strconv.FormatFloat(c.Portion, 'f', -1, 64)
	}
	sort.Strings(parts)

	h := sha256.New()
	h.Write([]byte(mt))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

var conjunctions = map[string]string{
	"en": "and",
	"pt": "e",
	"es": "y",
	"fr": "et",
	"it": "e",
}

func mealName(comps []Component, lang string) string {
	names := make([]string, len(comps))
	for i, c := range comps {
		names[i] = c.Name
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	conj, ok := conjunctions[lang]
	if !ok {
		conj = conjunctions["en"]
	}
	return strings.Join(names[:len(names)-1], ", ") + " " + conj + " " + names[len(names)-1]
}

// CheckRule verifies a candidate against a rule: every required category is
// present, no forbidden category and no forbidden beverage appear.
func CheckRule(rule rules.Rule, c Candidate) error {
	present := make(map[ingredients.Category]int)
	for _, comp := range c.Components {
		if rule.Forbids(comp.Category) {
			return fmt.Errorf("component %q has forbidden category %s", comp.IngredientKey, comp.Category)
		}
		if comp.Category == ingredients.CategoryBeverage && rule.ForbidsBeverage(comp.IngredientKey) {
			return fmt.Errorf("beverage %q is forbidden", comp.IngredientKey)
		}
		present[comp.Category]++
	}

	need := make(map[ingredients.Category]int)
	for _, cat := range rule.Required {
		need[cat]++
	}
	for cat, n := range need {
		if present[cat] < n {
			return fmt.Errorf("missing required %s component", cat)
		}
	}
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
