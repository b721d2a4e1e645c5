package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fdg312/mealpool/internal/ingredients"
)

func rule(country string, mt MealType, fallback string) Rule {
	return Rule{
		CountryCode:     country,
		MealType:        mt,
		Required:        []ingredients.Category{ingredients.CategoryCarb},
		FallbackCountry: fallback,
		Active:          true,
	}
}

func TestParseMealType(t *testing.T) {
	mt, err := ParseMealType("Snacks")
	require.NoError(t, err)
	assert.Equal(t, Snack, mt)

	mt, err = ParseMealType("breakfast")
	require.NoError(t, err)
	assert.Equal(t, Breakfast, mt)

	_, err = ParseMealType("brunch")
	assert.Error(t, err)
}

func TestRecordToRule(t *testing.T) {
	rec := Record{
		CountryCode:         "br",
		MealType:            "breakfast",
		RequiredComponents:  []string{"carb", "beverage"},
		OptionalComponents:  []string{"fruit"},
		ForbiddenComponents: []string{"vegetable"},
		TypicalBeverages:    []string{"coffee"},
		MaxPrepMinutes:      15,
		FallbackCountry:     "pt",
	}

	r, err := rec.ToRule()
	require.NoError(t, err)
	assert.Equal(t, "BR", r.CountryCode)
	assert.Equal(t, "PT", r.FallbackCountry)
	assert.True(t, r.Active)
	assert.True(t, r.Forbids(ingredients.CategoryVegetable))
	assert.True(t, r.IsTypicalBeverage("coffee"))

	inactive := false
	rec.Active = &inactive
	r, err = rec.ToRule()
	require.NoError(t, err)
	assert.False(t, r.Active)
}

func TestRecordToRuleRejectsMalformed(t *testing.T) {
	base := func() Record {
		return Record{CountryCode: "US", MealType: "lunch", RequiredComponents: []string{"protein"}}
	}
	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"no required", func(r *Record) { r.RequiredComponents = nil }},
		{"unknown category", func(r *Record) { r.RequiredComponents = []string{"dessert"} }},
		{"unknown meal type", func(r *Record) { r.MealType = "brunch" }},
		{"country with digits", func(r *Record) { r.CountryCode = "U5" }},
		{"required and forbidden", func(r *Record) { r.ForbiddenComponents = []string{"protein"} }},
		{"typical and forbidden beverage", func(r *Record) {
			r.TypicalBeverages = []string{"soda"}
			r.ForbiddenBeverages = []string{"soda"}
		}},
		{"self fallback", func(r *Record) { r.FallbackCountry = "us" }},
		{"negative prep time", func(r *Record) { r.MaxPrepMinutes = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base()
			tt.mutate(&rec)
			_, err := rec.ToRule()
			assert.Error(t, err)
		})
	}
}

func TestNewSetRejectsDuplicateActiveRule(t *testing.T) {
	_, err := NewSet([]Rule{rule("BR", Lunch, ""), rule("BR", Lunch, "")}, nil)
	assert.ErrorContains(t, err, "more than one active rule")

	inactive := rule("BR", Lunch, "")
	inactive.Active = false
	_, err = NewSet([]Rule{rule("BR", Lunch, ""), inactive}, nil)
	assert.NoError(t, err)
}

func TestNewSetRejectsConflictingFallbacks(t *testing.T) {
	_, err := NewSet([]Rule{rule("AR", Lunch, "BR")}, map[string]string{"AR": "PT"})
	assert.ErrorContains(t, err, "conflicting fallbacks")
}

func TestResolveExact(t *testing.T) {
	set, err := NewSet([]Rule{rule("BR", Breakfast, ""), rule(GlobalCountry, Breakfast, "")}, nil)
	require.NoError(t, err)

	r, chain, err := set.ResolveChain("br", Breakfast)
	require.NoError(t, err)
	assert.Equal(t, "BR", r.CountryCode)
	assert.Equal(t, []string{"BR"}, chain)
}

func TestResolveFollowsFallbackChain(t *testing.T) {
	set, err := NewSet([]Rule{
		rule("BR", Lunch, ""),
		rule(GlobalCountry, Lunch, ""),
	}, map[string]string{"AO": "PT", "PT": "BR"})
	require.NoError(t, err)

	r, chain, err := set.ResolveChain("AO", Lunch)
	require.NoError(t, err)
	assert.Equal(t, "BR", r.CountryCode)
	assert.Equal(t, []string{"AO", "PT", "BR"}, chain)
}

func TestResolveFallsBackToGlobal(t *testing.T) {
	set, err := NewSet([]Rule{rule(GlobalCountry, Dinner, "")}, nil)
	require.NoError(t, err)

	r, chain, err := set.ResolveChain("JP", Dinner)
	require.NoError(t, err)
	assert.Equal(t, GlobalCountry, r.CountryCode)
	assert.Equal(t, []string{"JP", GlobalCountry}, chain)
}

func TestResolveNoGlobal(t *testing.T) {
	set, err := NewSet([]Rule{rule("BR", Lunch, "")}, nil)
	require.NoError(t, err)

	_, err = set.Resolve("BR", Snack)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoRuleFound))

	var nrf *NoRuleFoundError
	require.ErrorAs(t, err, &nrf)
	assert.Equal(t, "BR", nrf.Country)
	assert.Equal(t, Snack, nrf.MealType)
}

func TestResolveTerminatesOnCycle(t *testing.T) {
	set, err := NewSet([]Rule{rule(GlobalCountry, Lunch, "")}, map[string]string{"AA": "BB", "BB": "CC", "CC": "AA"})
	require.NoError(t, err)

	_, err = set.Resolve("AA", Lunch)
	var nrf *NoRuleFoundError
	require.ErrorAs(t, err, &nrf)
	assert.Equal(t, "fallback cycle", nrf.Reason)
	assert.Equal(t, []string{"AA", "BB", "CC", "AA"}, nrf.Chain)

	assert.ErrorContains(t, set.CheckFallbacks(), "fallback cycle")
}

func TestResolveBoundedDepth(t *testing.T) {
	fallbacks := map[string]string{"C0": "CA", "CA": "CB", "CB": "CC", "CC": "CD", "CD": "CE", "CE": "CF"}
	set, err := NewSet([]Rule{rule("CF", Lunch, ""), rule("CE", Dinner, ""), rule(GlobalCountry, Lunch, "")}, fallbacks)
	require.NoError(t, err)

	_, err = set.Resolve("C0", Lunch)
	var nrf *NoRuleFoundError
	require.ErrorAs(t, err, &nrf)
	assert.Contains(t, nrf.Reason, "depth")
	assert.LessOrEqual(t, len(nrf.Chain), MaxFallbackDepth+1)

	r, err := set.Resolve("C0", Dinner)
	require.NoError(t, err)
	assert.Equal(t, "CE", r.CountryCode)
}

func TestCheckFallbacks(t *testing.T) {
	set, err := NewSet([]Rule{rule("BR", Lunch, ""), rule(GlobalCountry, Lunch, "")}, map[string]string{"PT": "BR", "AO": "PT"})
	require.NoError(t, err)
	assert.NoError(t, set.CheckFallbacks())

	set, err = NewSet([]Rule{rule("BR", Lunch, "XX")}, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, set.CheckFallbacks(), "unknown country XX")
}

func TestRulesSorted(t *testing.T) {
	set, err := NewSet([]Rule{rule("US", Lunch, ""), rule("BR", Lunch, ""), rule("BR", Breakfast, "")}, nil)
	require.NoError(t, err)

	got := set.Rules()
	require.Len(t, got, 3)
	assert.Equal(t, "BR", got[0].CountryCode)
	assert.Equal(t, Breakfast, got[0].MealType)
	assert.Equal(t, "US", got[2].CountryCode)
}
