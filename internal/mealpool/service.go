package mealpool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fdg312/mealpool/internal/catalog"
	"github.com/fdg312/mealpool/internal/compat"
	"github.com/fdg312/mealpool/internal/mealgen"
	"github.com/fdg312/mealpool/internal/rules"
	"github.com/fdg312/mealpool/internal/storage"
	"github.com/fdg312/mealpool/internal/substitution"
)

// SnapshotLoader provides the catalog a batch runs against.
type SnapshotLoader interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// Options tune the pipeline. Zero values select the package defaults.
type Options struct {
	Seed               int64 // 0: clock-derived per batch unless the request sets one
	RetryFactor        int
	ExclusionWindow    int
	MaxQuantity        int
	MaxSubstitutions   int
	NameLang           string
	MaxParallelBatches int
	StaplePairs        []mealgen.StaplePair
}

// Service runs generation batches and persists accepted meals.
type Service struct {
	loader  SnapshotLoader
	store   storage.MealPoolStorage
	opts    Options
	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates a meal pool service. metrics and log may be nil.
func NewService(loader SnapshotLoader, store storage.MealPoolStorage, opts Options, metrics *Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.NameLang == "" {
		opts.NameLang = mealgen.DefaultLang
	}
	if opts.MaxParallelBatches <= 0 {
		opts.MaxParallelBatches = 4
	}
	if opts.MaxSubstitutions <= 0 {
		opts.MaxSubstitutions = compat.DefaultMaxSubstitutions
	}
	return &Service{
		loader:  loader,
		store:   store,
		opts:    opts,
		metrics: metrics,
		log:     log.Named("mealpool"),
		now:     time.Now,
	}
}

// accepted is a candidate that passed the filter, possibly after repair.
type accepted struct {
	cand        mealgen.Candidate
	substituted bool
}

// Generate runs one batch: generate, filter, repair, re-verify, persist.
// A NoRuleFoundError or a cancelled context aborts the batch; pool
// exhaustion is reported as shortfall.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	started := s.now()
	if err := req.Validate(s.opts.MaxQuantity); err != nil {
		return GenerateResponse{}, err
	}
	mealType, _ := rules.ParseMealType(req.MealType)
	country := rules.NormalizeCountry(req.CountryCode)

	resp, err := s.generate(ctx, req, country, mealType)
	if err != nil {
		s.metrics.observeBatch(string(mealType), "error", started)
		s.log.Warn("batch failed",
			zap.String("country_code", country),
			zap.String("meal_type", string(mealType)),
			zap.Error(err))
		return resp, err
	}

	s.metrics.observeBatch(string(mealType), "ok", started)
	s.metrics.observeResponse(resp)
	s.log.Info("batch done",
		zap.String("country_code", country),
		zap.String("meal_type", string(mealType)),
		zap.String("rule_country", resp.RuleCountry),
		zap.String("catalog_version", resp.CatalogVersion),
		zap.Int("generated", resp.Generated),
		zap.Int("inserted", resp.Inserted),
		zap.Int("skipped", resp.Skipped),
		zap.Int("rejected", resp.Rejected),
		zap.Int("substituted", resp.Substituted),
		zap.Int("shortfall", resp.Shortfall),
		zap.Duration("took", s.now().Sub(started)))
	return resp, nil
}

func (s *Service) generate(ctx context.Context, req GenerateRequest, country string, mealType rules.MealType) (GenerateResponse, error) {
	profile, err := compat.NewProfile(req.DietaryFilter, req.IntoleranceFilter, req.ExcludedIngredients)
	if err != nil {
		return GenerateResponse{}, &ValidationError{Field: "profile", Message: err.Error()}
	}

	snap, err := s.loader.Snapshot(ctx)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("load catalog for %s/%s: %w", country, mealType, err)
	}

	// Явный seed из запроса, включая 0, фиксирует результат
	var seed int64
	switch {
	case req.Seed != nil:
		seed = *req.Seed
	case s.opts.Seed != 0:
		seed = s.opts.Seed
	default:
		seed = s.now().UnixNano()
	}

	gen := mealgen.New(snap.Pool, snap.Rules, mealgen.Options{
		Seed:            seed,
		RetryFactor:     s.opts.RetryFactor,
		ExclusionWindow: s.opts.ExclusionWindow,
		Lang:            s.opts.NameLang,
		StaplePairs:     s.opts.StaplePairs,
	})
	res, err := gen.Generate(ctx, country, mealType, req.Quantity, req.ExclusionList)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("generate %s/%s: %w", country, mealType, err)
	}

	resp := GenerateResponse{
		CountryCode:    country,
		MealType:       string(mealType),
		RuleCountry:    res.Rule.CountryCode,
		RuleChain:      res.RuleChain,
		CatalogVersion: snap.Version,
		Requested:      res.Requested,
		Generated:      len(res.Candidates),
		Shortfall:      res.Shortfall,
		Attempts:       res.Attempts,
		Meals:          []MealDTO{},
	}

	resolver := substitution.NewResolver(snap.Pool, s.opts.NameLang, s.opts.StaplePairs)
	filter := compat.NewFilter(snap.Pool, resolver, s.opts.MaxSubstitutions).WithRule(res.Rule)

	reject := func(c mealgen.Candidate, reason string) {
		resp.Rejected++
		resp.Rejections = append(resp.Rejections, RejectionDTO{Name: c.Name, Signature: c.Signature, Reason: reason})
	}

	var keep []accepted
	seen := make(map[string]bool, len(res.Candidates))
	for _, cand := range res.Candidates {
		if err := ctx.Err(); err != nil {
			return resp, fmt.Errorf("filter %s/%s: %w", country, mealType, err)
		}

		d := filter.Evaluate(cand, profile)
		switch d.Verdict {
		case compat.Accepted:
		case compat.NeedsSubstitution:
			repaired, err := resolver.Apply(cand, d.Repairs)
			if err != nil {
				reject(cand, err.Error())
				continue
			}
			if err := mealgen.CheckRule(res.Rule, repaired); err != nil {
				reject(cand, "substitute breaks rule: "+err.Error())
				continue
			}
			if again := filter.Evaluate(repaired, profile); again.Verdict != compat.Accepted {
				reject(cand, "substitute still conflicts with profile")
				continue
			}
			cand = repaired
			resp.Substituted++
		default:
			reject(cand, d.Reason)
			continue
		}

		if seen[cand.Signature] {
			resp.Skipped++
			continue
		}
		seen[cand.Signature] = true
		keep = append(keep, accepted{cand: cand, substituted: d.Verdict == compat.NeedsSubstitution})
	}

	for _, a := range keep {
		if err := ctx.Err(); err != nil {
			return resp, fmt.Errorf("persist %s/%s: %w", country, mealType, err)
		}

		meal := toPooledMeal(a.cand, snap.Version)
		dto := toMealDTO(meal)
		dto.Substituted = a.substituted

		if !req.DryRun {
			meal.CreatedAt = s.now().UTC()
			inserted, err := s.store.InsertMeal(ctx, meal)
			if err != nil {
				return resp, fmt.Errorf("persist %s/%s meal %s: %w", country, mealType, meal.Signature, err)
			}
			dto.Inserted = inserted
			if inserted {
				resp.Inserted++
			} else {
				resp.Skipped++
			}
		}
		resp.Meals = append(resp.Meals, dto)
	}

	resp.Success = true
	return resp, nil
}

// GenerateMany runs batches in parallel. A failing batch is reported in its
// slot; only cancellation of ctx aborts the whole call.
func (s *Service) GenerateMany(ctx context.Context, reqs []GenerateRequest) ([]BatchResult, error) {
	results := make([]BatchResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallelBatches)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := s.Generate(gctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				code, _, msg := classify(err)
				results[i] = BatchResult{Error: &ErrorDTO{Code: code, Message: msg}}
				return nil
			}
			results[i] = BatchResult{Response: &resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ListMeals returns pooled meals, newest first.
func (s *Service) ListMeals(ctx context.Context, country, mealType string, limit int) ([]MealDTO, error) {
	filter := storage.MealFilter{CountryCode: rules.NormalizeCountry(country), Limit: limit}
	if mealType != "" {
		mt, err := rules.ParseMealType(mealType)
		if err != nil {
			return nil, invalid("meal_type", "must be one of breakfast, lunch, dinner, snack")
		}
		filter.MealType = string(mt)
	}

	meals, err := s.store.ListMeals(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]MealDTO, len(meals))
	for i, m := range meals {
		out[i] = toMealDTO(m)
		out[i].Inserted = true
	}
	return out, nil
}

// ResolveRule reports the rule a pair resolves to under the current catalog.
func (s *Service) ResolveRule(ctx context.Context, country, mealType string) (ResolveResponse, error) {
	country = rules.NormalizeCountry(country)
	if country == "" {
		return ResolveResponse{}, invalid("country_code", "is required")
	}
	mt, err := rules.ParseMealType(mealType)
	if err != nil {
		return ResolveResponse{}, invalid("meal_type", "must be one of breakfast, lunch, dinner, snack")
	}

	snap, err := s.loader.Snapshot(ctx)
	if err != nil {
		return ResolveResponse{}, fmt.Errorf("load catalog for %s/%s: %w", country, mt, err)
	}
	rule, chain, err := snap.Rules.ResolveChain(country, mt)
	if err != nil {
		return ResolveResponse{}, err
	}

	typical := append([]string{}, rule.TypicalBeverages...)
	return ResolveResponse{
		CountryCode:    country,
		MealType:       string(mt),
		RuleCountry:    rule.CountryCode,
		Chain:          chain,
		Required:       categoryStrings(rule.Required),
		Optional:       categoryStrings(rule.Optional),
		Forbidden:      categoryStrings(rule.Forbidden),
		Typical:        typical,
		MaxPrepMinutes: rule.MaxPrepMinutes,
		Structure:      rule.Structure,
		CatalogVersion: snap.Version,
	}, nil
}

func toPooledMeal(c mealgen.Candidate, catalogVersion string) storage.PooledMeal {
	comps := make([]storage.PooledComponent, len(c.Components))
	for i, comp := range c.Components {
		comps[i] = storage.PooledComponent{
			Name:          comp.Name,
			Type:          string(comp.Category),
			PortionLabel:  comp.PortionLabel(),
			IngredientKey: comp.IngredientKey,
		}
	}
	blocked := make([]string, len(c.BlockedFor))
	for i, t := range c.BlockedFor {
		blocked[i] = string(t)
	}

	return storage.PooledMeal{
		Signature:      c.Signature,
		Name:           c.Name,
		MealType:       string(c.MealType),
		CountryCodes:   CountryCodes(c.CountryCode, c.RuleCountry),
		Components:     comps,
		TotalCalories:  c.Totals.Kcal,
		TotalProtein:   c.Totals.Protein,
		TotalCarbs:     c.Totals.Carbs,
		TotalFat:       c.Totals.Fat,
		TotalFiber:     c.Totals.Fiber,
		BlockedFor:     blocked,
		Confidence:     c.Confidence,
		CatalogVersion: catalogVersion,
	}
}

// CountryCodes lists the requested country plus the rule's country when the
// meal came from a fallback rule other than the global default.
func CountryCodes(requested, ruleCountry string) []string {
	out := []string{requested}
	if ruleCountry != "" && ruleCountry != requested && ruleCountry != rules.GlobalCountry {
		out = append(out, ruleCountry)
	}
	return out
}
