package mealpool

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fdg312/mealpool/internal/compat"
	"github.com/fdg312/mealpool/internal/ingredients"
	"github.com/fdg312/mealpool/internal/rules"
	"github.com/fdg312/mealpool/internal/storage"
)

// GenerateRequest asks for one batch of pooled meals.
type GenerateRequest struct {
	CountryCode string `json:"country_code"`
	MealType    string `json:"meal_type"`
	Quantity    int    `json:"quantity"`

	DietaryFilter       string   `json:"dietary_filter,omitempty"`
	IntoleranceFilter   []string `json:"intolerance_filter,omitempty"`
	ExcludedIngredients []string `json:"excluded_ingredients,omitempty"` // repaired by substitution
	ExclusionList       []string `json:"exclusion_list,omitempty"`       // never generated

	Seed   *int64 `json:"seed,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// ValidationError is a request the service refuses to run.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the request. maxQuantity <= 0 means no upper bound.
func (r *GenerateRequest) Validate(maxQuantity int) error {
	country := rules.NormalizeCountry(r.CountryCode)
	if country == "" {
		return invalid("country_code", "is required")
	}
	if len(country) < 2 || len(country) > 16 {
		return invalid("country_code", "must be 2-16 letters")
	}
	for _, c := range country {
		if c < 'A' || c > 'Z' {
			return invalid("country_code", "must be 2-16 letters")
		}
	}
	if _, err := rules.ParseMealType(r.MealType); err != nil {
		return invalid("meal_type", "must be one of breakfast, lunch, dinner, snack")
	}
	if r.Quantity <= 0 {
		return invalid("quantity", "must be positive")
	}
	if maxQuantity > 0 && r.Quantity > maxQuantity {
		return invalid("quantity", "cannot exceed %d", maxQuantity)
	}
	if _, err := compat.ParseDiet(r.DietaryFilter); err != nil {
		return invalid("dietary_filter", "%v", err)
	}
	if _, err := ingredients.ParseTags(r.IntoleranceFilter); err != nil {
		return invalid("intolerance_filter", "%v", err)
	}
	for i, k := range r.ExcludedIngredients {
		if strings.TrimSpace(k) == "" {
			return invalid("excluded_ingredients", "item[%d] is empty", i)
		}
	}
	for i, k := range r.ExclusionList {
		if strings.TrimSpace(k) == "" {
			return invalid("exclusion_list", "item[%d] is empty", i)
		}
	}
	return nil
}

// ComponentDTO matches the persisted component shape.
type ComponentDTO struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	PortionLabel  string `json:"portion_label"`
	IngredientKey string `json:"ingredient_key"`
}

type MealDTO struct {
	ID             string         `json:"id,omitempty"`
	Name           string         `json:"name"`
	MealType       string         `json:"meal_type"`
	CountryCodes   []string       `json:"country_codes"`
	Components     []ComponentDTO `json:"components"`
	TotalCalories  int            `json:"total_calories"`
	TotalProtein   float64        `json:"total_protein"`
	TotalCarbs     float64        `json:"total_carbs"`
	TotalFat       float64        `json:"total_fat"`
	TotalFiber     float64        `json:"total_fiber"`
	BlockedFor     []string       `json:"blocked_for_intolerances"`
	Confidence     float64        `json:"confidence"`
	Signature      string         `json:"signature"`
	CatalogVersion string         `json:"catalog_version,omitempty"`
	Substituted    bool           `json:"substituted,omitempty"`
	Inserted       bool           `json:"inserted"`
	CreatedAt      *time.Time     `json:"created_at,omitempty"`
}

// RejectionDTO explains why a generated candidate was dropped.
type RejectionDTO struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Reason    string `json:"reason"`
}

type GenerateResponse struct {
	Success        bool           `json:"success"`
	CountryCode    string         `json:"country_code"`
	MealType       string         `json:"meal_type"`
	RuleCountry    string         `json:"rule_country"`
	RuleChain      []string       `json:"rule_chain"`
	CatalogVersion string         `json:"catalog_version"`
	Requested      int            `json:"requested"`
	Generated      int            `json:"generated"`
	Inserted       int            `json:"inserted"`
	Skipped        int            `json:"skipped"`
	Rejected       int            `json:"rejected"`
	Substituted    int            `json:"substituted"`
	Shortfall      int            `json:"shortfall"`
	Attempts       int            `json:"attempts"`
	Meals          []MealDTO      `json:"meals"`
	Rejections     []RejectionDTO `json:"rejections,omitempty"`
}

type BatchRequest struct {
	Batches []GenerateRequest `json:"batches"`
}

type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchResult carries either a response or the error of one batch.
type BatchResult struct {
	Response *GenerateResponse `json:"response,omitempty"`
	Error    *ErrorDTO         `json:"error,omitempty"`
}

type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

type ListMealsResponse struct {
	Meals []MealDTO `json:"meals"`
}

// ResolveResponse shows which rule a (country, meal type) pair resolves to.
type ResolveResponse struct {
	CountryCode    string   `json:"country_code"`
	MealType       string   `json:"meal_type"`
	RuleCountry    string   `json:"rule_country"`
	Chain          []string `json:"chain"`
	Required       []string `json:"required_components"`
	Optional       []string `json:"optional_components"`
	Forbidden      []string `json:"forbidden_components"`
	Typical        []string `json:"typical_beverages"`
	MaxPrepMinutes int      `json:"max_prep_minutes"`
	Structure      string   `json:"structure,omitempty"`
	CatalogVersion string   `json:"catalog_version"`
}

func toMealDTO(m storage.PooledMeal) MealDTO {
	comps := make([]ComponentDTO, len(m.Components))
	for i, c := range m.Components {
		comps[i] = ComponentDTO{
			Name:          c.Name,
			Type:          c.Type,
			PortionLabel:  c.PortionLabel,
			IngredientKey: c.IngredientKey,
		}
	}
	blocked := m.BlockedFor
	if blocked == nil {
		blocked = []string{}
	}
	dto := MealDTO{
		Name:           m.Name,
		MealType:       m.MealType,
		CountryCodes:   m.CountryCodes,
		Components:     comps,
		TotalCalories:  m.TotalCalories,
		TotalProtein:   m.TotalProtein,
		TotalCarbs:     m.TotalCarbs,
		TotalFat:       m.TotalFat,
		TotalFiber:     m.TotalFiber,
		BlockedFor:     blocked,
		Confidence:     m.Confidence,
		Signature:      m.Signature,
		CatalogVersion: m.CatalogVersion,
	}
	if m.ID != uuid.Nil {
		dto.ID = m.ID.String()
	}
	if !m.CreatedAt.IsZero() {
		at := m.CreatedAt
		dto.CreatedAt = &at
	}
	return dto
}

func categoryStrings(cats []ingredients.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
