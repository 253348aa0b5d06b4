package intent

// #region intent

// Intent is the structured representation of a user's goal, derived per
// request from free text and context. Never persisted standalone; it is
// embedded in the interaction record.
type Intent struct {
	Goal          string   `json:"goal"`
	Persona       string   `json:"persona,omitempty"`
	BuildingScale string   `json:"building_scale,omitempty"`
	Theme         string   `json:"theme,omitempty"`
	Constraints   []string `json:"constraints,omitempty"`
	TargetMetrics []string `json:"target_metrics,omitempty"`

	// LowConfidence marks the keyword-fallback path: the language-generation
	// capability was unavailable or unparsable, so ranking loses precision
	// but must not fail.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// #endregion intent

// #region user-context

// UserContext carries explicit per-request personalization fields.
type UserContext struct {
	BuildingScale   string   `json:"building_scale,omitempty"`
	ExistingModules []string `json:"existing_modules,omitempty"`
	LicenseTier     string   `json:"license_type,omitempty"`
	Industry        string   `json:"industry,omitempty"`
	Goals           []string `json:"goals,omitempty"`
}

// #endregion user-context
