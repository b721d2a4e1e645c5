package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

const (
	defaultAPIBase = "http://localhost:8080"
)

var (
	apiBase  string
	country  string
	client   = &http.Client{Timeout: 60 * time.Second}
	inserted int
)

func main() {
	fmt.Println("=== Meal Pool E2E Smoke Test ===")
	fmt.Println()

	apiBase = strings.TrimRight(getEnv("API_BASE_URL", defaultAPIBase), "/")
	country = strings.ToUpper(getEnv("SMOKE_COUNTRY", "BR"))

	fmt.Printf("API Base: %s\n", apiBase)
	fmt.Printf("Country: %s\n", country)
	fmt.Println()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"Healthz", testHealthz},
		{"Resolve Rule (fallback)", testResolveFallback},
		{"Unknown Country (fallback to GLOBAL)", testResolveGlobal},
		{"Generate Breakfast", testGenerateBreakfast},
		{"Generate Dry Run", testGenerateDryRun},
		{"Generate Lactose-Free", testGenerateLactoseFree},
		{"Generate Batch", testGenerateBatch},
		{"Invalid Request", testInvalidRequest},
		{"List Meals", testListMeals},
		{"Export CSV", testExportCSV},
		{"Export PDF", testExportPDF},
		{"Metrics", testMetrics},
	}

	failed := false
	for i, step := range steps {
		fmt.Printf("[%d/%d] %s... ", i+1, len(steps), step.name)
		if err := step.fn(); err != nil {
			fmt.Printf("❌ FAILED\n")
			fmt.Printf("  Error: %v\n\n", err)
			failed = true
			break
		}
		fmt.Printf("✅ OK\n")
	}

	fmt.Println()
	if failed {
		fmt.Println("❌ SMOKE TEST FAILED")
		os.Exit(1)
	}

	fmt.Println("✅ ALL SMOKE TESTS PASSED")
}

type generateResponse struct {
	Success     bool     `json:"success"`
	RuleCountry string   `json:"rule_country"`
	RuleChain   []string `json:"rule_chain"`
	Requested   int      `json:"requested"`
	Generated   int      `json:"generated"`
	Inserted    int      `json:"inserted"`
	Skipped     int      `json:"skipped"`
	Rejected    int      `json:"rejected"`
	Substituted int      `json:"substituted"`
	Shortfall   int      `json:"shortfall"`
	Meals       []struct {
		Name       string `json:"name"`
		Components []struct {
			Type          string `json:"type"`
			IngredientKey string `json:"ingredient_key"`
		} `json:"components"`
		BlockedFor []string `json:"blocked_for_intolerances"`
	} `json:"meals"`
}

func testHealthz() error {
	_, err := doJSON(http.MethodGet, "/healthz", nil, http.StatusOK, nil)
	return err
}

func testResolveFallback() error {
	var out struct {
		RuleCountry string   `json:"rule_country"`
		RuleChain   []string `json:"chain"`
	}
	if _, err := doJSON(http.MethodGet, "/v1/meal-pool/rules/resolve?country_code=MX&meal_type=breakfast", nil, http.StatusOK, &out); err != nil {
		return err
	}
	if out.RuleCountry != "US" {
		return fmt.Errorf("expected MX breakfast to resolve to US, got %s (chain %v)", out.RuleCountry, out.RuleChain)
	}
	return nil
}

func testResolveGlobal() error {
	var out struct {
		RuleCountry string `json:"rule_country"`
	}
	if _, err := doJSON(http.MethodGet, "/v1/meal-pool/rules/resolve?country_code=JP&meal_type=snack", nil, http.StatusOK, &out); err != nil {
		return err
	}
	if out.RuleCountry != "GLOBAL" {
		return fmt.Errorf("expected JP snack to resolve to GLOBAL, got %s", out.RuleCountry)
	}
	return nil
}

func testGenerateBreakfast() error {
	var out generateResponse
	_, err := doJSON(http.MethodPost, "/v1/meal-pool/generate", map[string]any{
		"country_code": country,
		"meal_type":    "breakfast",
		"quantity":     5,
	}, http.StatusOK, &out)
	if err != nil {
		return err
	}
	if out.Generated == 0 {
		return fmt.Errorf("no candidates generated (shortfall=%d)", out.Shortfall)
	}
	if out.Inserted+out.Skipped+out.Rejected < out.Generated {
		return fmt.Errorf("counters do not add up: %+v", out)
	}
	inserted += out.Inserted
	return nil
}

func testGenerateDryRun() error {
	var out generateResponse
	_, err := doJSON(http.MethodPost, "/v1/meal-pool/generate", map[string]any{
		"country_code": country,
		"meal_type":    "lunch",
		"quantity":     3,
		"dry_run":      true,
	}, http.StatusOK, &out)
	if err != nil {
		return err
	}
	if out.Inserted != 0 {
		return fmt.Errorf("dry run inserted %d meals", out.Inserted)
	}
	return nil
}

func testGenerateLactoseFree() error {
	var out generateResponse
	_, err := doJSON(http.MethodPost, "/v1/meal-pool/generate", map[string]any{
		"country_code":       country,
		"meal_type":          "breakfast",
		"quantity":           5,
		"intolerance_filter": []string{"lactose"},
	}, http.StatusOK, &out)
	if err != nil {
		return err
	}
	for _, m := range out.Meals {
		for _, c := range m.Components {
			switch c.IngredientKey {
			case "whole_milk", "coffee_with_milk", "natural_yogurt", "butter", "minas_cheese":
				return fmt.Errorf("meal %q still contains %s", m.Name, c.IngredientKey)
			}
		}
	}
	inserted += out.Inserted
	return nil
}

func testGenerateBatch() error {
	var out struct {
		Results []struct {
			Response *generateResponse `json:"response"`
			Error    *struct {
				Code string `json:"code"`
			} `json:"error"`
		} `json:"results"`
	}
	_, err := doJSON(http.MethodPost, "/v1/meal-pool/generate/batch", map[string]any{
		"batches": []map[string]any{
			{"country_code": country, "meal_type": "lunch", "quantity": 3},
			{"country_code": "US", "meal_type": "dinner", "quantity": 3},
		},
	}, http.StatusOK, &out)
	if err != nil {
		return err
	}
	if len(out.Results) != 2 {
		return fmt.Errorf("expected 2 results, got %d", len(out.Results))
	}
	for i, r := range out.Results {
		if r.Error != nil {
			return fmt.Errorf("batch %d failed: %s", i, r.Error.Code)
		}
		inserted += r.Response.Inserted
	}
	return nil
}

func testInvalidRequest() error {
	body, err := doJSON(http.MethodPost, "/v1/meal-pool/generate", map[string]any{
		"country_code": country,
		"meal_type":    "brunch",
		"quantity":     1,
	}, http.StatusBadRequest, nil)
	if err != nil {
		return err
	}
	if !bytes.Contains(body, []byte("invalid_request")) {
		return fmt.Errorf("expected invalid_request, got %s", string(body))
	}
	return nil
}

func testListMeals() error {
	var out struct {
		Meals []json.RawMessage `json:"meals"`
	}
	if _, err := doJSON(http.MethodGet, "/v1/meal-pool/meals?limit=1000", nil, http.StatusOK, &out); err != nil {
		return err
	}
	// Пул общий, прошлые прогоны тоже в нём
	if len(out.Meals) < inserted {
		return fmt.Errorf("inserted %d meals in this run but list returned %d", inserted, len(out.Meals))
	}
	return nil
}

func testExportCSV() error {
	body, resp, err := download("/v1/meal-pool/export?format=csv&country_code=" + country)
	if err != nil {
		return err
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		return fmt.Errorf("unexpected content type %q", ct)
	}
	if !bytes.HasPrefix(body, []byte("name,meal_type,")) {
		return fmt.Errorf("unexpected csv header: %.80s", string(body))
	}
	return nil
}

func testExportPDF() error {
	body, _, err := download("/v1/meal-pool/export?format=pdf")
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(body, []byte("%PDF-")) {
		return fmt.Errorf("response is not a PDF")
	}
	return nil
}

func testMetrics() error {
	body, _, err := download("/metrics")
	if err != nil {
		return err
	}
	if !bytes.Contains(body, []byte("mealpool_batches_total")) {
		return fmt.Errorf("mealpool_batches_total not exported")
	}
	return nil
}

// doJSON sends body as JSON, checks the status and decodes into out when set.
func doJSON(method, path string, body any, wantStatus int, out any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, apiBase+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != wantStatus {
		return data, fmt.Errorf("status=%d body=%.512s", resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return data, fmt.Errorf("decode response: %w", err)
		}
	}
	return data, nil
}

func download(path string) ([]byte, *http.Response, error) {
	resp, err := client.Get(apiBase + path)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, err
	}
	if resp.StatusCode != http.StatusOK {
		return data, resp, fmt.Errorf("status=%d body=%.512s", resp.StatusCode, string(data))
	}
	return data, resp, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
