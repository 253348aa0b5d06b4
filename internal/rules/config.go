package rules

// #region imports
import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// #endregion imports

// #region config

// Config holds the rules engine's data-driven tables. All checks read from
// here; nothing is hardcoded in the evaluation path.
type Config struct {
	// ScaleEquivalents normalizes free-form scale values to canonical ones.
	ScaleEquivalents map[string]string `yaml:"scale_equivalents"`

	// LicenseHierarchy orders tiers; a module is blocked when its tier level
	// exceeds the user's.
	LicenseHierarchy map[string]int `yaml:"license_hierarchy"`

	// Theme-coherence advisory thresholds.
	MinModulesForThemeCheck int `yaml:"min_modules_for_theme_check"`
	MaxThemeFragmentation   int `yaml:"max_theme_fragmentation"`

	// WarnFreeTierWithPremiumLicense surfaces an advisory when a free-tier
	// module is recommended to a premium-or-better license holder.
	WarnFreeTierWithPremiumLicense bool `yaml:"warn_on_free_tier_with_premium_license"`
}

// DefaultConfig returns the built-in rules tables.
func DefaultConfig() Config {
	return Config{
		ScaleEquivalents: map[string]string{
			"small": "single-building", "low": "single-building",
			"single": "single-building", "single-building": "single-building",
			"medium": "multiple-buildings", "multiple": "multiple-buildings",
			"multiple-buildings": "multiple-buildings",
			"large":              "campus", "campus": "campus",
			"enterprise": "portfolio", "portfolio": "portfolio",
			"multi-site": "portfolio",
		},
		LicenseHierarchy: map[string]int{
			"free": 0, "standard": 1, "premium": 2, "enterprise": 3,
		},
		MinModulesForThemeCheck:        3,
		MaxThemeFragmentation:          2,
		WarnFreeTierWithPremiumLicense: true,
	}
}

// LoadConfig reads a YAML rules file, filling omitted tables from defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read rules config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse rules config: %w", err)
	}
	if len(cfg.ScaleEquivalents) == 0 {
		cfg.ScaleEquivalents = DefaultConfig().ScaleEquivalents
	}
	if len(cfg.LicenseHierarchy) == 0 {
		cfg.LicenseHierarchy = DefaultConfig().LicenseHierarchy
	}
	return cfg, nil
}

// #endregion config
