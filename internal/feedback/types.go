package feedback

// #region imports
import (
	"time"

	"github.com/buildingos/module-advisor/internal/intent"
	"github.com/buildingos/module-advisor/internal/llm"
)

// #endregion imports

// #region action

// Action is the kind of user response to a past recommendation.
type Action string

const (
	ActionAccepted Action = "accepted"
	ActionRejected Action = "rejected"
	ActionDeployed Action = "deployed"
	ActionRating   Action = "rating"
)

// signal maps an action to its affinity contribution in [-1, 1].
// Deployment is the strongest positive signal; a rating r in [1,5] is
// rescaled to the same range.
func signal(action Action, rating int) float64 {
	switch action {
	case ActionDeployed:
		return 1.0
	case ActionAccepted:
		return 0.6
	case ActionRejected:
		return -0.6
	case ActionRating:
		if rating < 1 {
			rating = 1
		}
		if rating > 5 {
			rating = 5
		}
		return float64(rating-3) / 2.0
	}
	return 0
}

// #endregion action

// #region feedback

// Feedback is one user action on a past recommendation. Append-only;
// a later OccurredAt for the same (user, interaction, module) supersedes
// an earlier one, it is never double-applied.
type Feedback struct {
	UserID        string    `json:"user_id"`
	InteractionID string    `json:"interaction_id"`
	ModuleID      string    `json:"module_id"`
	ModuleTheme   string    `json:"module_theme,omitempty"`
	Action        Action    `json:"action"`
	Rating        int       `json:"rating,omitempty"`
	Comment       string    `json:"comment,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// #endregion feedback

// #region profile

// Profile holds a user's decayed affinity scores, keyed "module:<id>" and
// "theme:<theme>". Owned exclusively by the feedback recorder; read-only to
// the ranker.
type Profile struct {
	UserID     string
	Affinities map[string]float64
}

// Boost returns the personalization signal for a module: the module-specific
// affinity when present, otherwise the theme affinity, otherwise 0.
func (p Profile) Boost(moduleID, theme string) float64 {
	if p.Affinities == nil {
		return 0
	}
	if a, ok := p.Affinities[moduleKey(moduleID)]; ok {
		return a
	}
	if a, ok := p.Affinities[themeKey(theme)]; ok {
		return a
	}
	return 0
}

func moduleKey(id string) string   { return "module:" + id }
func themeKey(theme string) string { return "theme:" + theme }

// #endregion profile

// #region interaction

// RecommendationRecord is the persisted slice of one recommendation inside
// an interaction, used as the feedback join target.
type RecommendationRecord struct {
	ModuleID string  `json:"module_id"`
	Rank     int     `json:"rank"`
	Score    float64 `json:"score"`
	Priority string  `json:"priority"`
}

// Interaction is one engine invocation. Created at request start, immutable
// once persisted, never destroyed.
type Interaction struct {
	ID              string                 `json:"id"`
	ConversationID  string                 `json:"conversation_id"`
	UserID          string                 `json:"user_id"`
	Intent          intent.Intent          `json:"intent"`
	Recommendations []RecommendationRecord `json:"recommendations"`
	Usage           llm.Usage              `json:"usage"`
	Diagnostics     []string               `json:"diagnostics,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// #endregion interaction
