package ingredients

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/go-playground/validator/v10"
)

// Category is the component type an ingredient fills in a meal.
type Category string

const (
	CategoryProtein   Category = "protein"
	CategoryCarb      Category = "carb"
	CategoryVegetable Category = "vegetable"
	CategoryFruit     Category = "fruit"
	CategoryBeverage  Category = "beverage"
	CategoryCondiment Category = "condiment"
	CategoryFat       Category = "fat"
	CategoryDairy     Category = "dairy"
)

// ParseCategory validates a raw category name.
func ParseCategory(raw string) (Category, error) {
	switch c := Category(raw); c {
	case CategoryProtein, CategoryCarb, CategoryVegetable, CategoryFruit,
		CategoryBeverage, CategoryCondiment, CategoryFat, CategoryDairy:
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

// Source is the origin of an ingredient as seen by dietary preferences.
type Source string

const (
	SourcePlant Source = "plant"
	SourceMeat  Source = "meat"
	SourceFish  Source = "fish"
	SourceEgg   Source = "egg"
	SourceDairy Source = "dairy"
)

// Unit of a default portion.
type Unit string

const (
	UnitGram       Unit = "g"
	UnitMilliliter Unit = "ml"
)

// Macros holds nutrient amounts. For Ingredient.Per100 they are per 100 g/ml.
type Macros struct {
	Kcal    float64
	Protein float64
	Carbs   float64
	Fat     float64
	Fiber   float64
}

// Scale returns the amounts for the given portion of a per-100 base.
func (m Macros) Scale(portion float64) Macros {
	f := portion / 100
	return Macros{
		Kcal:    m.Kcal * f,
		Protein: m.Protein * f,
		Carbs:   m.Carbs * f,
		Fat:     m.Fat * f,
		Fiber:   m.Fiber * f,
	}
}

// Add returns the element-wise sum.
func (m Macros) Add(o Macros) Macros {
	return Macros{
		Kcal:    m.Kcal + o.Kcal,
		Protein: m.Protein + o.Protein,
		Carbs:   m.Carbs + o.Carbs,
		Fat:     m.Fat + o.Fat,
		Fiber:   m.Fiber + o.Fiber,
	}
}

// Ingredient is a validated pool entry. Values handed out by Pool share their
// maps and slices with the pool and must be treated as read-only.
//
// Per100 is immutable once a catalog version is published: meals persisted
// from that version carry totals derived from it.
type Ingredient struct {
	Key            string
	Names          map[string]string
	Category       Category
	Source         Source
	Per100         Macros
	DefaultPortion float64
	Unit           Unit
	SafeFor        TagSet
	Triggers       TagSet
	Replaces       []string
}

// Name returns the display name for lang, falling back to English,
// Portuguese, any other language and finally the key.
func (i Ingredient) Name(lang string) string {
	for _, l := range []string{lang, "en", "pt"} {
		if n, ok := i.Names[l]; ok && n != "" {
			return n
		}
	}
	langs := make([]string, 0, len(i.Names))
	for l := range i.Names {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	for _, l := range langs {
		if i.Names[l] != "" {
			return i.Names[l]
		}
	}
	return i.Key
}

// CanReplace reports whether i is registered as a substitute for key.
func (i Ingredient) CanReplace(key string) bool {
	idx := sort.SearchStrings(i.Replaces, key)
	return idx < len(i.Replaces) && i.Replaces[idx] == key
}

// Record is the wire form of an ingredient in a catalog document.
type Record struct {
	Key                  string            `json:"key" validate:"required,max=80,ingredient_key"`
	Names                map[string]string `json:"names" validate:"required,min=1,dive,keys,required,endkeys,required"`
	Category             string            `json:"category" validate:"required,oneof=protein carb vegetable fruit beverage condiment fat dairy"`
	Source               string            `json:"source,omitempty" validate:"omitempty,oneof=plant meat fish egg dairy"`
	KcalPer100           *float64          `json:"kcal_per_100" validate:"required,gte=0,lte=900"`
	ProteinPer100        *float64          `json:"protein_per_100" validate:"required,gte=0,lte=100"`
	CarbsPer100          *float64          `json:"carbs_per_100" validate:"required,gte=0,lte=100"`
	FatPer100            *float64          `json:"fat_per_100" validate:"required,gte=0,lte=100"`
	FiberPer100          *float64          `json:"fiber_per_100" validate:"required,gte=0,lte=100"`
	DefaultPortion       float64           `json:"default_portion" validate:"gt=0,lte=2000"`
	PortionUnit          string            `json:"portion_unit,omitempty" validate:"omitempty,oneof=g ml"`
	SafeForIntolerances  []string          `json:"safe_for_intolerances,omitempty"`
	TriggersIntolerances []string          `json:"triggers_intolerances,omitempty"`
	Replaces             []string          `json:"replaces,omitempty" validate:"dive,required,ingredient_key"`
}

var keyPattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("ingredient_key", func(fl validator.FieldLevel) bool {
		return keyPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validator exposes the shared struct validator so sibling packages validate
// their records with the same registered rules.
func Validator() *validator.Validate {
	return validate
}

// ToIngredient validates the record and converts it into an Ingredient.
func (r Record) ToIngredient() (Ingredient, error) {
	if err := validate.Struct(r); err != nil {
		return Ingredient{}, err
	}

	category := Category(r.Category)
	source := Source(r.Source)
	if category == CategoryProtein && source == "" {
		return Ingredient{}, fmt.Errorf("protein ingredient requires a source")
	}
	if category == CategoryDairy {
		if source != "" && source != SourceDairy {
			return Ingredient{}, fmt.Errorf("dairy ingredient must have source dairy, got %q", source)
		}
		source = SourceDairy
	}
	if source == "" {
		source = SourcePlant
	}

	unit := Unit(r.PortionUnit)
	if unit == "" {
		unit = UnitGram
		if category == CategoryBeverage {
			unit = UnitMilliliter
		}
	}

	per100 := Macros{
		Kcal:    *r.KcalPer100,
		Protein: *r.ProteinPer100,
		Carbs:   *r.CarbsPer100,
		Fat:     *r.FatPer100,
		Fiber:   *r.FiberPer100,
	}
	if per100.Protein+per100.Carbs+per100.Fat+per100.Fiber > 100.5 {
		return Ingredient{}, fmt.Errorf("macros exceed 100 g per 100 g")
	}

	safeFor, err := ParseTags(r.SafeForIntolerances)
	if err != nil {
		return Ingredient{}, fmt.Errorf("safe_for_intolerances: %w", err)
	}
	triggers, err := ParseTags(r.TriggersIntolerances)
	if err != nil {
		return Ingredient{}, fmt.Errorf("triggers_intolerances: %w", err)
	}
	if both := safeFor.Intersection(triggers); len(both) > 0 {
		return Ingredient{}, fmt.Errorf("tags both safe and triggered: %v", both)
	}

	replaces := make([]string, 0, len(r.Replaces))
	seen := make(map[string]bool, len(r.Replaces))
	for _, k := range r.Replaces {
		if k == r.Key {
			return Ingredient{}, fmt.Errorf("ingredient cannot replace itself")
		}
		if !seen[k] {
			seen[k] = true
			replaces = append(replaces, k)
		}
	}
	sort.Strings(replaces)

	names := make(map[string]string, len(r.Names))
	for lang, n := range r.Names {
		names[lang] = n
	}

	return Ingredient{
		Key:            r.Key,
		Names:          names,
		Category:       category,
		Source:         source,
		Per100:         per100,
		DefaultPortion: r.DefaultPortion,
		Unit:           unit,
		SafeFor:        safeFor,
		Triggers:       triggers,
		Replaces:       replaces,
	}, nil
}
