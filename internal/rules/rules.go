package rules

// #region imports
import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/buildingos/module-advisor/internal/catalog"
)

// #endregion imports

// #region errors

// ErrMalformedGraph means the dependency/conflict graph is inconsistent with
// the candidate set (e.g. a candidate missing from the catalog graph).
// Terminal: the engine must not silently drop modules.
var ErrMalformedGraph = errors.New("rules: malformed module graph")

// #endregion errors

// #region verdict

// BlockReason identifies a hard block excluding a candidate from ranking.
type BlockReason string

const (
	BlockMissingDependency BlockReason = "missing_dependency"
	BlockConflict          BlockReason = "active_conflict"
	BlockLicense           BlockReason = "license_tier_insufficient"
)

// Block is one hard-block finding.
type Block struct {
	Reason BlockReason
	Detail string
}

// Verdict is the per-candidate rule outcome. A candidate with any Block is
// excluded from ranking; Warnings are carried into the recommendation for
// display only.
type Verdict struct {
	ModuleID string
	Eligible bool
	Blocks   []Block
	Warnings []string
}

// Evaluation bundles per-candidate verdicts with set-level advisories
// (theme coherence across the eligible set).
type Evaluation struct {
	Verdicts   map[string]Verdict
	Advisories []string
}

// #endregion verdict

// #region user-state

// UserState is the caller-side input to rule evaluation.
type UserState struct {
	LicenseTier   string
	BuildingScale string
	Installed     []string
}

// #endregion user-state

// #region engine

// Engine evaluates compatibility, licensing, and dependency rules over a
// module graph. Pure and deterministic: no I/O, identical inputs always
// yield identical verdicts.
type Engine struct {
	config Config
}

// NewEngine creates an Engine with the given rules tables.
func NewEngine(config Config) *Engine {
	return &Engine{config: config}
}

// #endregion engine

// #region evaluate

// Evaluate computes a Verdict for every candidate against the current graph
// and user state.
//
// Dependency satisfaction is direct-only: a required dependency passes when
// it is already installed or is itself among the candidates. A candidate
// dependency whose own dependencies are unmet yields a multi-hop soft
// warning, not a hard block.
func (e *Engine) Evaluate(candidates []catalog.Module, graph catalog.Graph, user UserState) (Evaluation, error) {
	verdicts := make(map[string]Verdict, len(candidates))

	installed := make(map[string]bool, len(user.Installed))
	for _, id := range user.Installed {
		installed[id] = true
	}
	candidateSet := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		candidateSet[c.ID] = true
	}

	for _, c := range candidates {
		if c.ID == "" {
			return Evaluation{}, fmt.Errorf("%w: candidate with empty id", ErrMalformedGraph)
		}
		mod, ok := graph.Get(c.ID)
		if !ok {
			return Evaluation{}, fmt.Errorf("%w: candidate %s not in catalog graph", ErrMalformedGraph, c.ID)
		}

		v := Verdict{ModuleID: c.ID}

		v.Blocks = append(v.Blocks, e.checkDependencies(mod, installed, candidateSet)...)
		v.Warnings = append(v.Warnings, e.multiHopWarnings(mod, graph, installed, candidateSet)...)

		v.Blocks = append(v.Blocks, e.checkConflicts(mod, graph, installed)...)
		v.Warnings = append(v.Warnings, e.coCandidateConflictWarnings(mod, candidateSet)...)

		blocks, warnings := e.checkLicense(mod, user.LicenseTier)
		v.Blocks = append(v.Blocks, blocks...)
		v.Warnings = append(v.Warnings, warnings...)

		v.Warnings = append(v.Warnings, e.checkScale(mod, user.BuildingScale)...)

		v.Eligible = len(v.Blocks) == 0
		verdicts[c.ID] = v
	}

	var eligible []string
	for id, v := range verdicts {
		if v.Eligible {
			eligible = append(eligible, id)
		}
	}
	sort.Strings(eligible)

	return Evaluation{
		Verdicts:   verdicts,
		Advisories: e.themeCoherence(eligible, graph),
	}, nil
}

// #endregion evaluate

// #region dependencies

func (e *Engine) checkDependencies(mod catalog.Module, installed, candidateSet map[string]bool) []Block {
	var blocks []Block
	for _, dep := range mod.Dependencies {
		if installed[dep] || candidateSet[dep] {
			continue
		}
		blocks = append(blocks, Block{
			Reason: BlockMissingDependency,
			Detail: fmt.Sprintf("'%s' requires dependency '%s' which is not installed or recommended", mod.Name, dep),
		})
	}
	return blocks
}

// multiHopWarnings flags dependencies satisfied by a co-candidate that itself
// has unmet dependencies: deploying the recommendation needs more than one hop.
func (e *Engine) multiHopWarnings(mod catalog.Module, graph catalog.Graph, installed, candidateSet map[string]bool) []string {
	var warnings []string
	for _, dep := range mod.Dependencies {
		if installed[dep] || !candidateSet[dep] {
			continue
		}
		depMod, ok := graph.Get(dep)
		if !ok {
			continue
		}
		for _, transitive := range depMod.Dependencies {
			if !installed[transitive] && !candidateSet[transitive] {
				warnings = append(warnings, fmt.Sprintf(
					"'%s' depends on '%s', which itself needs '%s' (multi-hop dependency)",
					mod.Name, dep, transitive))
			}
		}
	}
	return warnings
}

// #endregion dependencies

// #region conflicts

func (e *Engine) checkConflicts(mod catalog.Module, graph catalog.Graph, installed map[string]bool) []Block {
	var blocks []Block
	for _, conflict := range mod.Conflicts {
		if !installed[conflict] {
			continue
		}
		name := conflict
		if cm, ok := graph.Get(conflict); ok {
			name = cm.Name
		}
		blocks = append(blocks, Block{
			Reason: BlockConflict,
			Detail: fmt.Sprintf("'%s' conflicts with installed module '%s'", mod.Name, name),
		})
	}
	return blocks
}

// coCandidateConflictWarnings flags conflicts within the candidate set:
// both modules can be ranked, but deploying both together would fail.
func (e *Engine) coCandidateConflictWarnings(mod catalog.Module, candidateSet map[string]bool) []string {
	var warnings []string
	for _, conflict := range mod.Conflicts {
		if candidateSet[conflict] {
			warnings = append(warnings, fmt.Sprintf(
				"'%s' conflicts with co-recommended module '%s'; deploy only one", mod.Name, conflict))
		}
	}
	return warnings
}

// #endregion conflicts

// #region license

func (e *Engine) checkLicense(mod catalog.Module, userTier string) ([]Block, []string) {
	if userTier == "" {
		return nil, nil
	}

	moduleLevel, ok := e.config.LicenseHierarchy[strings.ToLower(mod.License)]
	if !ok {
		moduleLevel = e.config.LicenseHierarchy["standard"]
	}
	userLevel, ok := e.config.LicenseHierarchy[strings.ToLower(userTier)]
	if !ok {
		userLevel = e.config.LicenseHierarchy["standard"]
	}

	if moduleLevel > userLevel {
		return []Block{{
			Reason: BlockLicense,
			Detail: fmt.Sprintf("'%s' requires '%s' license, user has '%s'", mod.Name, mod.License, userTier),
		}}, nil
	}

	if e.config.WarnFreeTierWithPremiumLicense &&
		strings.EqualFold(mod.License, "free") && userLevel > moduleLevel {
		return nil, []string{fmt.Sprintf("'%s' is free tier, consider a premium alternative", mod.Name)}
	}
	return nil, nil
}

// #endregion license

// #region scale

// checkScale flags scale mismatch as a soft warning: the module may still be
// useful, but it is not designed for the user's building scale.
func (e *Engine) checkScale(mod catalog.Module, userScale string) []string {
	if userScale == "" || len(mod.Scales) == 0 {
		return nil
	}
	userNorm := e.normalizeScale(userScale)
	for _, s := range mod.Scales {
		if e.normalizeScale(s) == userNorm {
			return nil
		}
	}
	return []string{fmt.Sprintf(
		"'%s' does not list '%s' scale (supported: %s)",
		mod.Name, userScale, strings.Join(mod.Scales, ", "))}
}

func (e *Engine) normalizeScale(scale string) string {
	lower := strings.ToLower(strings.TrimSpace(scale))
	if norm, ok := e.config.ScaleEquivalents[lower]; ok {
		return norm
	}
	return lower
}

// #endregion scale

// #region theme-coherence

// themeCoherence warns when the eligible set spans many single-module themes.
func (e *Engine) themeCoherence(eligibleIDs []string, graph catalog.Graph) []string {
	if len(eligibleIDs) <= e.config.MinModulesForThemeCheck {
		return nil
	}
	themeCounts := make(map[string]int)
	for _, id := range eligibleIDs {
		if m, ok := graph.Get(id); ok {
			themeCounts[m.Theme]++
		}
	}
	singles := 0
	for _, count := range themeCounts {
		if count == 1 {
			singles++
		}
	}
	if singles > e.config.MaxThemeFragmentation {
		return []string{fmt.Sprintf(
			"recommendation spans %d themes; consider focusing on fewer themes for better integration",
			len(themeCounts))}
	}
	return nil
}

// #endregion theme-coherence

// #region missing-dependencies

// MissingDependencies reports, per candidate, dependencies satisfied neither
// by the set itself nor by installed modules.
func (e *Engine) MissingDependencies(ids []string, installed []string, graph catalog.Graph) map[string][]string {
	available := make(map[string]bool, len(ids)+len(installed))
	for _, id := range ids {
		available[id] = true
	}
	for _, id := range installed {
		available[id] = true
	}

	missing := make(map[string][]string)
	for _, id := range ids {
		mod, ok := graph.Get(id)
		if !ok {
			continue
		}
		for _, dep := range mod.Dependencies {
			if !available[dep] {
				missing[id] = append(missing[id], dep)
			}
		}
	}
	return missing
}

// #endregion missing-dependencies

// #region suggestions

// Suggestion is a complementary-module hint derived from the selected set.
type Suggestion struct {
	Module    catalog.Module
	Rationale string
	Score     float64
}

// SuggestComplementary proposes modules that complement the selected ones:
// same-theme modules score 0.8, shared-dependency modules 0.7. Deduplicated,
// ordered by score descending then id ascending.
func (e *Engine) SuggestComplementary(selected []string, graph catalog.Graph, max int) []Suggestion {
	selectedSet := make(map[string]bool, len(selected))
	themes := make(map[string]bool)
	for _, id := range selected {
		selectedSet[id] = true
		if m, ok := graph.Get(id); ok {
			themes[m.Theme] = true
		}
	}

	var ids []string
	for id := range graph.Modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var suggestions []Suggestion
	for _, id := range ids {
		if selectedSet[id] {
			continue
		}
		m := graph.Modules[id]
		if themes[m.Theme] {
			suggestions = append(suggestions, Suggestion{
				Module:    m,
				Rationale: fmt.Sprintf("complements other %s modules", m.Theme),
				Score:     0.8,
			})
			continue
		}
		for _, dep := range m.Dependencies {
			if selectedSet[dep] {
				suggestions = append(suggestions, Suggestion{
					Module:    m,
					Rationale: "shares infrastructure dependencies",
					Score:     0.7,
				})
				break
			}
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return suggestions[i].Module.ID < suggestions[j].Module.ID
	})
	if len(suggestions) > max {
		suggestions = suggestions[:max]
	}
	return suggestions
}

// #endregion suggestions
