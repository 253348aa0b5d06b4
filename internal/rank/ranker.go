package rank

// #region imports
import (
	"sort"

	"github.com/buildingos/module-advisor/internal/catalog"
	"github.com/buildingos/module-advisor/internal/feedback"
	"github.com/buildingos/module-advisor/internal/rules"
	"github.com/buildingos/module-advisor/internal/search"
)

// #endregion imports

// #region config

// Config holds the scoring knobs for the final ranking pass.
type Config struct {
	// WarningPenalty is subtracted from the retrieval score per soft warning.
	WarningPenalty float64
	// AffinityClip bounds the personalization contribution to +/- this value,
	// so history nudges the order but never overrides relevance.
	AffinityClip float64
	// HighThreshold and MediumThreshold split final scores into priority bands.
	HighThreshold   float64
	MediumThreshold float64
}

// DefaultConfig returns the standard ranking parameters.
func DefaultConfig() Config {
	return Config{
		WarningPenalty:  0.05,
		AffinityClip:    0.15,
		HighThreshold:   0.75,
		MediumThreshold: 0.45,
	}
}

// #endregion config

// #region recommendation

// Priority labels for surfaced recommendations.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Recommendation is one ranked, eligible module. Rationale fields are filled
// in by a later generation pass.
type Recommendation struct {
	Module         catalog.Module `json:"module"`
	Rank           int            `json:"rank"`
	Score          float64        `json:"score"`
	RetrievalScore float64        `json:"retrieval_score"`
	AffinityBoost  float64        `json:"affinity_boost"`
	Priority       string         `json:"priority"`
	Warnings       []string       `json:"warnings,omitempty"`

	Rationale            string `json:"rationale,omitempty"`
	RationaleUnavailable bool   `json:"rationale_unavailable,omitempty"`
}

// #endregion recommendation

// #region ranker

// Ranker combines retrieval scores, rule warnings, and user affinity into a
// final ordering. Pure: identical inputs always yield identical output.
type Ranker struct {
	config Config
}

// NewRanker creates a Ranker with the given scoring parameters.
func NewRanker(config Config) *Ranker {
	return &Ranker{config: config}
}

// Rank scores the eligible candidates and returns at most topN of them in
// final order. Blocked candidates never appear. The final score is the
// retrieval score minus a penalty per soft warning plus the clipped affinity
// boost, clamped to [0, 1]. Ties break on fewer warnings, then module id.
func (r *Ranker) Rank(candidates []search.Candidate, eval rules.Evaluation, profile feedback.Profile, topN int) []Recommendation {
	out := make([]Recommendation, 0, len(candidates))
	for _, c := range candidates {
		v, ok := eval.Verdicts[c.Module.ID]
		if !ok || !v.Eligible {
			continue
		}
		boost := clip(profile.Boost(c.Module.ID, c.Module.Theme), r.config.AffinityClip)
		score := clamp01(c.Score - r.config.WarningPenalty*float64(len(v.Warnings)) + boost)
		out = append(out, Recommendation{
			Module:         c.Module,
			Score:          score,
			RetrievalScore: c.Score,
			AffinityBoost:  boost,
			Priority:       r.priority(score),
			Warnings:       v.Warnings,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if len(out[i].Warnings) != len(out[j].Warnings) {
			return len(out[i].Warnings) < len(out[j].Warnings)
		}
		return out[i].Module.ID < out[j].Module.ID
	})

	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func (r *Ranker) priority(score float64) string {
	switch {
	case score >= r.config.HighThreshold:
		return PriorityHigh
	case score >= r.config.MediumThreshold:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// #endregion ranker

// #region helpers

func clip(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
