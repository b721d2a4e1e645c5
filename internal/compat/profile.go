package compat

import (
	"fmt"
	"strings"

	"github.com/fdg312/mealpool/internal/ingredients"
)

// Diet is a dietary preference enforced as a hard filter on ingredient
// sources.
type Diet string

const (
	Omnivore        Diet = "omnivore"
	Vegetarian      Diet = "vegetarian"
	LactoVegetarian Diet = "lacto_vegetarian"
	OvoVegetarian   Diet = "ovo_vegetarian"
	Pescatarian     Diet = "pescatarian"
	Vegan           Diet = "vegan"
)

var allowedSources = map[Diet]map[ingredients.Source]bool{
	Omnivore: {
		ingredients.SourcePlant: true, ingredients.SourceMeat: true, ingredients.SourceFish: true,
		ingredients.SourceEgg: true, ingredients.SourceDairy: true,
	},
	Vegetarian: {
		ingredients.SourcePlant: true, ingredients.SourceEgg: true, ingredients.SourceDairy: true,
	},
	LactoVegetarian: {
		ingredients.SourcePlant: true, ingredients.SourceDairy: true,
	},
	OvoVegetarian: {
		ingredients.SourcePlant: true, ingredients.SourceEgg: true,
	},
	Pescatarian: {
		ingredients.SourcePlant: true, ingredients.SourceFish: true,
		ingredients.SourceEgg: true, ingredients.SourceDairy: true,
	},
	Vegan: {
		ingredients.SourcePlant: true,
	},
}

// ParseDiet normalizes a diet name. Empty means omnivore.
func ParseDiet(raw string) (Diet, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if s == "" || s == "none" {
		return Omnivore, nil
	}
	if _, ok := allowedSources[Diet(s)]; !ok {
		return "", fmt.Errorf("unknown diet %q", raw)
	}
	return Diet(s), nil
}

// Allows reports whether the diet permits ingredients of source src.
func (d Diet) Allows(src ingredients.Source) bool {
	allowed, ok := allowedSources[d]
	if !ok {
		allowed = allowedSources[Omnivore]
	}
	return allowed[src]
}

// Profile is the read-only constraint set of one user.
type Profile struct {
	Intolerances ingredients.TagSet
	Diet         Diet
	Excluded     map[string]struct{}
}

// NewProfile normalizes raw profile input. Unknown tags or diets are errors.
func NewProfile(diet string, intolerances, excluded []string) (Profile, error) {
	d, err := ParseDiet(diet)
	if err != nil {
		return Profile{}, err
	}
	tags, err := ingredients.ParseTags(intolerances)
	if err != nil {
		return Profile{}, err
	}
	ex := make(map[string]struct{}, len(excluded))
	for _, k := range excluded {
		k = strings.TrimSpace(k)
		if k != "" {
			ex[k] = struct{}{}
		}
	}
	return Profile{Intolerances: tags, Diet: d, Excluded: ex}, nil
}

// Allows reports whether the profile's diet accepts ing.
func (p Profile) Allows(ing ingredients.Ingredient) bool {
	diet := p.Diet
	if diet == "" {
		diet = Omnivore
	}
	return diet.Allows(ing.Source)
}

// Excludes reports whether key is on the profile's exclusion list.
func (p Profile) Excludes(key string) bool {
	_, ok := p.Excluded[key]
	return ok
}
