package llm

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"jenn_worker/core/domain"
)

// ProviderSpec is one OpenAI-compatible endpoint from the model catalog.
type ProviderSpec struct {
	Name         string
	BaseURL      string
	APIKey       string
	DefaultModel string
}

// Catalog builds LanguageModels for user model choices.
type Catalog struct {
	providers  map[string]ProviderSpec
	httpClient *http.Client
	maxRetries int
	log        zerolog.Logger
}

func NewCatalog(specs []ProviderSpec, httpClient *http.Client, maxRetries int, log zerolog.Logger) *Catalog {
	providers := make(map[string]ProviderSpec, len(specs))
	for _, s := range specs {
		providers[strings.ToLower(s.Name)] = s
	}
	return &Catalog{
		providers:  providers,
		httpClient: httpClient,
		maxRetries: maxRetries,
		log:        log.With().Str("component", "llm_catalog").Logger(),
	}
}

// Build returns a client for choice. A key on the choice overrides the catalog key.
func (c *Catalog) Build(choice domain.ModelChoice) (LanguageModel, error) {
	spec, ok := c.providers[strings.ToLower(choice.Provider)]
	if !ok {
		return nil, fmt.Errorf("unknown model provider %q", choice.Provider)
	}
	key := spec.APIKey
	if choice.APIKey != "" {
		key = choice.APIKey
	}
	if key == "" {
		return nil, fmt.Errorf("no api key configured for provider %q", spec.Name)
	}
	model := choice.Model
	if model == "" {
		model = spec.DefaultModel
	}
	return NewClient(ClientConfig{
		Provider:   spec.Name,
		BaseURL:    spec.BaseURL,
		APIKey:     key,
		Model:      model,
		HTTPClient: c.httpClient,
		MaxRetries: c.maxRetries,
	}), nil
}

// Plan builds the execution plan for a user's settings. Only a broken primary is an error;
// backup and fallbacks that cannot be built are left out of the plan.
func (c *Catalog) Plan(settings *domain.ModelSettings) ([]Target, error) {
	if settings == nil || settings.Primary.IsZero() {
		return nil, fmt.Errorf("no primary model configured")
	}
	primary, err := c.Build(settings.Primary)
	if err != nil {
		return nil, fmt.Errorf("primary model: %w", err)
	}

	cfg := ModelConfig{Primary: NewTarget(primary)}
	if settings.Backup != nil && !settings.Backup.IsZero() {
		if m, err := c.Build(*settings.Backup); err == nil {
			t := NewTarget(m)
			cfg.Backup = &t
		} else {
			c.log.Warn().Err(err).Str("provider", settings.Backup.Provider).Msg("skipping backup model")
		}
	}
	for _, fb := range settings.Fallbacks {
		m, err := c.Build(fb)
		if err != nil {
			c.log.Warn().Err(err).Str("provider", fb.Provider).Str("model", fb.Model).Msg("skipping fallback model")
			continue
		}
		cfg.Fallbacks = append(cfg.Fallbacks, NewTarget(m))
	}
	return BuildExecutionPlan(cfg), nil
}
