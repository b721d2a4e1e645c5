package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fdg312/mealpool/internal/storage"
	"github.com/jung-kurt/gofpdf"
)

var csvHeader = []string{
	"name", "meal_type", "country_codes", "components",
	"total_calories", "total_protein", "total_carbs", "total_fat", "total_fiber",
	"blocked_for_intolerances", "confidence", "catalog_version", "signature", "created_at",
}

// GenerateCSV renders meals one per row.
func GenerateCSV(meals []storage.PooledMeal) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, m := range meals {
		row := []string{
			m.Name,
			m.MealType,
			strings.Join(m.CountryCodes, "|"),
			componentList(m.Components),
			strconv.Itoa(m.TotalCalories),
			formatFloat(m.TotalProtein),
			formatFloat(m.TotalCarbs),
			formatFloat(m.TotalFat),
			formatFloat(m.TotalFiber),
			strings.Join(m.BlockedFor, "|"),
			formatFloat(m.Confidence),
			m.CatalogVersion,
			m.Signature,
			m.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// GeneratePDF renders a summary page followed by a meal table.
func GeneratePDF(title string, meals []storage.PooledMeal) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(title), false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, tr(title))
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Meals: %d", len(meals)))
	pdf.Ln(6)
	if len(meals) > 0 {
		var kcal int
		for _, m := range meals {
			kcal += m.TotalCalories
		}
		pdf.Cell(0, 6, fmt.Sprintf("Average kcal: %d", kcal/len(meals)))
		pdf.Ln(6)

		counts := map[string]int{}
		for _, m := range meals {
			counts[m.MealType]++
		}
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		sort.Strings(types)
		parts := make([]string, 0, len(types))
		for _, t := range types {
			parts = append(parts, fmt.Sprintf("%s %d", t, counts[t]))
		}
		pdf.Cell(0, 6, "By meal type: "+strings.Join(parts, ", "))
		pdf.Ln(10)
	} else {
		pdf.Ln(4)
		pdf.Cell(0, 6, "No meals match this export.")
	}

	if len(meals) > 0 {
		widths := []float64{78, 22, 16, 16, 16, 16, 26}
		headers := []string{"Name", "Type", "kcal", "P", "C", "F", "Blocked"}

		pdf.SetFont("Arial", "B", 9)
		for i, h := range headers {
			pdf.CellFormat(widths[i], 7, h, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 8)
		for _, m := range meals {
			cells := []string{
				truncate(m.Name, 48),
				m.MealType,
				strconv.Itoa(m.TotalCalories),
				formatFloat(m.TotalProtein),
				formatFloat(m.TotalCarbs),
				formatFloat(m.TotalFat),
				truncate(strings.Join(m.BlockedFor, ","), 16),
			}
			for i, c := range cells {
				align := "L"
				if i >= 2 && i <= 5 {
					align = "R"
				}
				pdf.CellFormat(widths[i], 6, tr(c), "1", 0, align, false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func componentList(cs []storage.PooledComponent) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, fmt.Sprintf("%s:%s (%s)", c.Type, c.IngredientKey, c.PortionLabel))
	}
	return strings.Join(parts, "; ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
