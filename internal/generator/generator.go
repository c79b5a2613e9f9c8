// Package generator synthesizes test units from a page analysis by prompting
// an AI provider and extracting the script from its reply.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
)

// Conservative generation parameters: scripts should be deterministic, not
// creative.
const (
	genTemperature = 0.2
	genMaxTokens   = 4096
)

// Provider is one AI backend capable of turning a generation request into a
// test script.
type Provider interface {
	// Name identifies the backend in logs and unit descriptions.
	Name() string
	// GenerateScript returns the raw model reply for one request. The
	// generator extracts the script and packages the unit.
	GenerateScript(ctx context.Context, req schemas.GenerationRequest) (string, error)
}

// Credentials are the login credentials handed to the provider when it
// synthesizes login units.
type Credentials struct {
	Username string
	Password string
}

// Generator orchestrates suite generation over a single provider.
type Generator struct {
	provider Provider
	logger   *zap.Logger
}

func New(provider Provider, logger *zap.Logger) *Generator {
	return &Generator{
		provider: provider,
		logger:   logger.Named("generator"),
	}
}

// GenerateSuite produces one unit per category applicable to the analyzed
// page. A failed category is logged and skipped; the suite is whatever the
// provider managed to produce.
func (g *Generator) GenerateSuite(ctx context.Context, analysis *schemas.PageAnalysis, creds Credentials) ([]schemas.TestUnit, error) {
	categories := applicableCategories(analysis)
	g.logger.Info("Generating test suite",
		zap.String("url", analysis.URL),
		zap.String("provider", g.provider.Name()),
		zap.Int("categories", len(categories)),
	)

	units := make([]schemas.TestUnit, 0, len(categories))
	for _, category := range categories {
		if err := ctx.Err(); err != nil {
			return units, err
		}

		unit, err := g.GenerateUnit(ctx, analysis, category, creds)
		if err != nil {
			g.logger.Warn("Skipping category, generation failed",
				zap.String("category", string(category)), zap.Error(err))
			continue
		}
		units = append(units, unit)
	}

	if len(units) == 0 {
		return nil, fmt.Errorf("provider %s produced no usable units for %s", g.provider.Name(), analysis.URL)
	}
	return units, nil
}

// GenerateUnit asks the provider for a single unit of the given category.
func (g *Generator) GenerateUnit(ctx context.Context, analysis *schemas.PageAnalysis, category schemas.Category, creds Credentials) (schemas.TestUnit, error) {
	req := schemas.GenerationRequest{
		Analysis: *analysis,
		Category: category,
	}
	if category == schemas.CategoryLogin {
		req.Username = creds.Username
		req.Password = creds.Password
	}

	reply, err := g.provider.GenerateScript(ctx, req)
	if err != nil {
		return schemas.TestUnit{}, fmt.Errorf("generating %s unit: %w", category, err)
	}

	script := ExtractScript(reply)
	if strings.TrimSpace(script) == "" {
		return schemas.TestUnit{}, fmt.Errorf("provider %s returned no script for %s", g.provider.Name(), category)
	}

	return schemas.TestUnit{
		ID:          fmt.Sprintf("%s_%s", category, uuid.New().String()[:8]),
		Category:    category,
		Source:      script,
		Description: fmt.Sprintf("%s test for %s (%s)", category, analysis.URL, g.provider.Name()),
	}, nil
}

// applicableCategories decides which categories the page supports. Navigation
// is always worth testing; the rest depend on page structure.
func applicableCategories(analysis *schemas.PageAnalysis) []schemas.Category {
	categories := []schemas.Category{schemas.CategoryNavigation}

	if analysis.HasLogin || analysis.PageType == "login" {
		categories = append(categories, schemas.CategoryLogin)
	}
	if len(analysis.Forms) > 0 {
		categories = append(categories, schemas.CategoryFormInteraction)
	}
	for _, form := range analysis.Forms {
		if hasSearchInput(form) {
			categories = append(categories, schemas.CategorySearch)
			break
		}
	}

	categories = append(categories, schemas.CategoryAccessibility, schemas.CategoryPerformance)
	return categories
}

func hasSearchInput(form schemas.PageForm) bool {
	for _, in := range form.Inputs {
		if in.Type == "search" || strings.Contains(strings.ToLower(in.Name), "search") {
			return true
		}
	}
	return false
}
