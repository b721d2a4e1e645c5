package rules

import (
	"fmt"
	"strings"

	"github.com/fdg312/mealpool/internal/ingredients"
)

// GlobalCountry holds the default rules every fallback chain ends at.
const GlobalCountry = "GLOBAL"

// MealType is a fixed daily slot.
type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Dinner    MealType = "dinner"
	Snack     MealType = "snack"
)

// ParseMealType accepts the canonical names and the plural "snacks".
func ParseMealType(raw string) (MealType, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch MealType(s) {
	case Breakfast, Lunch, Dinner, Snack:
		return MealType(s), nil
	}
	if s == "snacks" {
		return Snack, nil
	}
	return "", fmt.Errorf("unknown meal type %q", raw)
}

// NormalizeCountry upper-cases a country code.
func NormalizeCountry(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Rule constrains the component categories of meals for one country and
// meal type.
type Rule struct {
	CountryCode        string
	MealType           MealType
	Required           []ingredients.Category
	Optional           []ingredients.Category
	Forbidden          []ingredients.Category
	TypicalBeverages   []string
	ForbiddenBeverages []string
	MaxPrepMinutes     int
	FallbackCountry    string
	Structure          string
	Active             bool
}

// Forbids reports whether the rule forbids category c.
func (r Rule) Forbids(c ingredients.Category) bool {
	for _, f := range r.Forbidden {
		if f == c {
			return true
		}
	}
	return false
}

// ForbidsBeverage reports whether key is a forbidden beverage.
func (r Rule) ForbidsBeverage(key string) bool {
	return containsString(r.ForbiddenBeverages, key)
}

// Admits reports whether ing may appear in a meal under the rule: its
// category is not forbidden and, for beverages, its key is not either.
func (r Rule) Admits(ing ingredients.Ingredient) bool {
	if r.Forbids(ing.Category) {
		return false
	}
	return ing.Category != ingredients.CategoryBeverage || !r.ForbidsBeverage(ing.Key)
}

// IsTypicalBeverage reports whether key is listed as a typical beverage.
func (r Rule) IsTypicalBeverage(key string) bool {
	return containsString(r.TypicalBeverages, key)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Record is the wire form of a rule in a catalog document.
type Record struct {
	CountryCode         string   `json:"country_code" validate:"required,alpha,min=2,max=16"`
	MealType            string   `json:"meal_type" validate:"required,oneof=breakfast lunch dinner snack snacks"`
	RequiredComponents  []string `json:"required_components" validate:"required,min=1,dive,oneof=protein carb vegetable fruit beverage condiment fat dairy"`
	OptionalComponents  []string `json:"optional_components,omitempty" validate:"dive,oneof=protein carb vegetable fruit beverage condiment fat dairy"`
	ForbiddenComponents []string `json:"forbidden_components,omitempty" validate:"dive,oneof=protein carb vegetable fruit beverage condiment fat dairy"`
	TypicalBeverages    []string `json:"typical_beverages,omitempty" validate:"dive,required,ingredient_key"`
	ForbiddenBeverages  []string `json:"forbidden_beverages,omitempty" validate:"dive,required,ingredient_key"`
	MaxPrepMinutes      int      `json:"max_prep_minutes" validate:"gte=0,lte=600"`
	FallbackCountry     string   `json:"fallback_country,omitempty" validate:"omitempty,alpha,min=2,max=16"`
	Structure           string   `json:"structure,omitempty" validate:"max=500"`
	Active              *bool    `json:"active,omitempty"`
}

// ID identifies the record in error messages.
func (r Record) ID() string {
	return NormalizeCountry(r.CountryCode) + "/" + strings.ToLower(r.MealType)
}

// ToRule validates the record and converts it. Records without an explicit
// active flag are active.
func (r Record) ToRule() (Rule, error) {
	if err := ingredients.Validator().Struct(r); err != nil {
		return Rule{}, err
	}

	mt, err := ParseMealType(r.MealType)
	if err != nil {
		return Rule{}, err
	}

	required, err := parseCategories(r.RequiredComponents)
	if err != nil {
		return Rule{}, err
	}
	optional, err := parseCategories(r.OptionalComponents)
	if err != nil {
		return Rule{}, err
	}
	forbidden, err := parseCategories(r.ForbiddenComponents)
	if err != nil {
		return Rule{}, err
	}

	active := true
	if r.Active != nil {
		active = *r.Active
	}

	rule := Rule{
		CountryCode:        NormalizeCountry(r.CountryCode),
		MealType:           mt,
		Required:           required,
		Optional:           optional,
		Forbidden:          forbidden,
		TypicalBeverages:   append([]string(nil), r.TypicalBeverages...),
		ForbiddenBeverages: append([]string(nil), r.ForbiddenBeverages...),
		MaxPrepMinutes:     r.MaxPrepMinutes,
		FallbackCountry:    NormalizeCountry(r.FallbackCountry),
		Structure:          r.Structure,
		Active:             active,
	}
	if err := rule.validate(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

func (r Rule) validate() error {
	for _, c := range r.Required {
		if r.Forbids(c) {
			return fmt.Errorf("category %q is both required and forbidden", c)
		}
	}
	for _, b := range r.TypicalBeverages {
		if r.ForbidsBeverage(b) {
			return fmt.Errorf("beverage %q is both typical and forbidden", b)
		}
	}
	if r.FallbackCountry == r.CountryCode && r.FallbackCountry != "" {
		return fmt.Errorf("rule falls back to its own country")
	}
	if r.CountryCode == GlobalCountry && r.FallbackCountry != "" {
		return fmt.Errorf("global rules cannot fall back")
	}
	return nil
}

func parseCategories(raw []string) ([]ingredients.Category, error) {
	out := make([]ingredients.Category, 0, len(raw))
	for _, s := range raw {
		c, err := ingredients.ParseCategory(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
