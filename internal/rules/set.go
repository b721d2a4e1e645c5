package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxFallbackDepth bounds the number of fallback hops Resolve follows.
const MaxFallbackDepth = 5

// ErrNoRuleFound matches every *NoRuleFoundError.
var ErrNoRuleFound = errors.New("no rule found")

// NoRuleFoundError reports a failed resolution with the countries visited.
type NoRuleFoundError struct {
	Country  string
	MealType MealType
	Chain    []string
	Reason   string
}

func (e *NoRuleFoundError) Error() string {
	return fmt.Sprintf("no rule found for %s/%s (chain %s): %s",
		e.Country, e.MealType, strings.Join(e.Chain, " -> "), e.Reason)
}

func (e *NoRuleFoundError) Is(target error) bool {
	return target == ErrNoRuleFound
}

type ruleKey struct {
	country  string
	mealType MealType
}

// Set is an immutable index of active rules and the country fallback graph.
type Set struct {
	rules     map[ruleKey]Rule
	fallbacks map[string]string
}

// NewSet indexes active rules. Fallbacks come from the rules themselves and
// from countryFallbacks, which covers countries without any rule of their
// own. Conflicting fallbacks for the same country are an error, as is more
// than one active rule for a (country, meal type) pair.
func NewSet(rules []Rule, countryFallbacks map[string]string) (*Set, error) {
	s := &Set{
		rules:     make(map[ruleKey]Rule, len(rules)),
		fallbacks: make(map[string]string),
	}

	addFallback := func(from, to string) error {
		from, to = NormalizeCountry(from), NormalizeCountry(to)
		if to == "" {
			return nil
		}
		if from == to {
			return fmt.Errorf("country %s falls back to itself", from)
		}
		if prev, ok := s.fallbacks[from]; ok && prev != to {
			return fmt.Errorf("country %s has conflicting fallbacks %s and %s", from, prev, to)
		}
		s.fallbacks[from] = to
		return nil
	}

	for _, r := range rules {
		if !r.Active {
			continue
		}
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("rule %s/%s: %w", r.CountryCode, r.MealType, err)
		}
		k := ruleKey{country: NormalizeCountry(r.CountryCode), mealType: r.MealType}
		if _, dup := s.rules[k]; dup {
			return nil, fmt.Errorf("more than one active rule for %s/%s", k.country, k.mealType)
		}
		s.rules[k] = r
		if err := addFallback(r.CountryCode, r.FallbackCountry); err != nil {
			return nil, err
		}
	}

	countries := make([]string, 0, len(countryFallbacks))
	for from := range countryFallbacks {
		countries = append(countries, from)
	}
	sort.Strings(countries)
	for _, from := range countries {
		if err := addFallback(from, countryFallbacks[from]); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Resolve returns the rule for the pair, following fallbacks when there is
// no exact match.
func (s *Set) Resolve(country string, mealType MealType) (Rule, error) {
	rule, _, err := s.ResolveChain(country, mealType)
	return rule, err
}

// ResolveChain is Resolve plus the countries visited, starting with the
// requested one and ending with the country whose rule was returned.
func (s *Set) ResolveChain(country string, mealType MealType) (Rule, []string, error) {
	country = NormalizeCountry(country)
	chain := []string{country}
	visited := map[string]bool{country: true}

	fail := func(reason string) (Rule, []string, error) {
		return Rule{}, chain, &NoRuleFoundError{
			Country:  country,
			MealType: mealType,
			Chain:    append([]string(nil), chain...),
			Reason:   reason,
		}
	}

	current := country
	for hops := 0; ; hops++ {
		if r, ok := s.rules[ruleKey{country: current, mealType: mealType}]; ok {
			return r, chain, nil
		}

		next, ok := s.fallbacks[current]
		if !ok || next == "" {
			break
		}
		if hops == MaxFallbackDepth {
			return fail(fmt.Sprintf("fallback depth %d exceeded", MaxFallbackDepth))
		}
		if visited[next] {
			chain = append(chain, next)
			return fail("fallback cycle")
		}
		visited[next] = true
		chain = append(chain, next)
		current = next
	}

	if current != GlobalCountry {
		if r, ok := s.rules[ruleKey{country: GlobalCountry, mealType: mealType}]; ok {
			chain = append(chain, GlobalCountry)
			return r, chain, nil
		}
	}
	return fail("no global default")
}

// CheckFallbacks reports fallback cycles and fallbacks pointing at countries
// the set knows nothing about.
func (s *Set) CheckFallbacks() error {
	known := make(map[string]bool)
	for k := range s.rules {
		known[k.country] = true
	}
	for from := range s.fallbacks {
		known[from] = true
	}

	countries := make([]string, 0, len(s.fallbacks))
	for from := range s.fallbacks {
		countries = append(countries, from)
	}
	sort.Strings(countries)

	var errs []error
	reportedCycles := make(map[string]bool)
	for _, from := range countries {
		to := s.fallbacks[from]
		if !known[to] && to != GlobalCountry {
			errs = append(errs, fmt.Errorf("country %s falls back to unknown country %s", from, to))
		}

		seen := map[string]bool{from: true}
		path := []string{from}
		for cur := to; cur != ""; cur = s.fallbacks[cur] {
			path = append(path, cur)
			if seen[cur] {
				cycle := cycleKey(path)
				if !reportedCycles[cycle] {
					reportedCycles[cycle] = true
					errs = append(errs, fmt.Errorf("fallback cycle: %s", strings.Join(path, " -> ")))
				}
				break
			}
			seen[cur] = true
		}
	}

	return errors.Join(errs...)
}

// cycleKey names a cycle independently of where the walk entered it.
func cycleKey(path []string) string {
	last := path[len(path)-1]
	start := 0
	for i, c := range path {
		if c == last {
			start = i
			break
		}
	}
	members := append([]string(nil), path[start:len(path)-1]...)
	sort.Strings(members)
	return strings.Join(members, ",")
}

// Rules returns the active rules ordered by country and meal type.
func (s *Set) Rules() []Rule {
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CountryCode != out[j].CountryCode {
			return out[i].CountryCode < out[j].CountryCode
		}
		return out[i].MealType < out[j].MealType
	})
	return out
}

// Fallback returns the fallback country for country, if any.
func (s *Set) Fallback(country string) (string, bool) {
	to, ok := s.fallbacks[NormalizeCountry(country)]
	return to, ok
}
