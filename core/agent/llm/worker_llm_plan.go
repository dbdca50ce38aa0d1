package llm

// ModelConfig is the per-call model bundle: the user's primary, an optional legacy
// backup and an ordered fallback list.
type ModelConfig struct {
	Primary   Target
	Backup    *Target
	Fallbacks []Target
}

// BuildExecutionPlan orders targets as primary, backup, fallbacks.
// The primary is always position 0; backup and fallbacks without a model are skipped.
func BuildExecutionPlan(cfg ModelConfig) []Target {
	plan := make([]Target, 0, 2+len(cfg.Fallbacks))
	plan = append(plan, cfg.Primary)

	if cfg.Backup != nil && cfg.Backup.Model != nil {
		plan = append(plan, *cfg.Backup)
	}
	for _, fb := range cfg.Fallbacks {
		if fb.Model == nil {
			continue
		}
		plan = append(plan, fb)
	}
	return plan
}
