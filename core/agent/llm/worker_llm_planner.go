package llm

import (
	"context"
	"fmt"

	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
)

// PlanSource resolves the execution plan for an account.
type PlanSource interface {
	PlanFor(ctx context.Context, account domain.AccountRef) ([]Target, error)
}

// Planner reads the user's model settings and builds a plan from the catalog. Users without
// settings get the deployment defaults.
type Planner struct {
	settings out.ModelSettingsRepository
	catalog  *Catalog
	defaults domain.ModelSettings
}

func NewPlanner(settings out.ModelSettingsRepository, catalog *Catalog, defaults domain.ModelSettings) *Planner {
	return &Planner{settings: settings, catalog: catalog, defaults: defaults}
}

var _ PlanSource = (*Planner)(nil)

func (p *Planner) PlanFor(ctx context.Context, account domain.AccountRef) ([]Target, error) {
	settings := &p.defaults
	if p.settings != nil {
		s, err := p.settings.GetByUserID(ctx, account.UserID)
		if err != nil {
			return nil, fmt.Errorf("load model settings: %w", err)
		}
		if s != nil && !s.Primary.IsZero() {
			settings = s
		}
	}
	return p.catalog.Plan(settings)
}
