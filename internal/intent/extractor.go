package intent

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/buildingos/module-advisor/internal/llm"
)

// #endregion imports

// #region errors

// ErrNoSignal means neither the capability call nor the keyword fallback
// produced a usable goal. Terminal for the request.
var ErrNoSignal = errors.New("intent: query carries no usable signal")

// #endregion errors

// #region generator

// Generator abstracts the language-generation call so the extractor can be
// tested without a live endpoint.
type Generator interface {
	Complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error)
}

// #endregion generator

// #region extractor

// Extractor turns raw query plus context into a structured Intent.
type Extractor struct {
	gen Generator // nil = fallback-only
	log *logrus.Logger
}

// NewExtractor creates an Extractor. gen may be nil to force the fallback path.
func NewExtractor(gen Generator, log *logrus.Logger) *Extractor {
	return &Extractor{gen: gen, log: log}
}

// #endregion extractor

// #region prompt

const extractionSystemPrompt = `You extract structured intent from building-management queries.
Respond with a single JSON object, nothing else:
{"goal": "<one sentence restating the user's goal>",
 "persona": "<facility_manager|energy_manager|security_officer|executive|>",
 "building_scale": "<small|medium|large|enterprise|>",
 "theme": "<energy_management|hvac|security|maintenance|space_management|air_quality|>",
 "constraints": ["<short tags>"],
 "target_metrics": ["<metrics the user wants to move>"]}
Leave fields empty when the query does not state them. Never invent constraints.`

// #endregion prompt

// #region extract

// Extract derives an Intent from query, context, and the prior turn's intent.
// Degrades to the keyword fallback when the capability is unavailable or
// returns unparsable structure; fails with ErrNoSignal only when both paths
// produce an empty goal.
func (e *Extractor) Extract(ctx context.Context, query string, uc UserContext, prior *Intent) (Intent, llm.Usage, error) {
	query = strings.TrimSpace(query)
	var usage llm.Usage

	if e.gen != nil {
		extracted, u, err := e.extractViaCapability(ctx, query, uc, prior)
		usage.Add(u)
		if err == nil && strings.TrimSpace(extracted.Goal) != "" {
			return extracted, usage, nil
		}
		if err != nil {
			e.log.WithError(err).Warn("[INTENT] capability extraction failed, using fallback")
		}
	}

	fallback := fallbackIntent(query, uc)
	if strings.TrimSpace(fallback.Goal) == "" {
		return Intent{}, usage, ErrNoSignal
	}
	return fallback, usage, nil
}

// #endregion extract

// #region capability-path

func (e *Extractor) extractViaCapability(ctx context.Context, query string, uc UserContext, prior *Intent) (Intent, llm.Usage, error) {
	var sb strings.Builder
	if prior != nil {
		priorJSON, _ := json.Marshal(prior)
		fmt.Fprintf(&sb, "Prior turn intent: %s\n", priorJSON)
	}
	if ctxJSON := marshalContext(uc); ctxJSON != "" {
		fmt.Fprintf(&sb, "User context: %s\n", ctxJSON)
	}
	fmt.Fprintf(&sb, "Query: %s", query)

	result, err := e.gen.Complete(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens: 300,
		JSONMode:  true,
	})
	if err != nil {
		return Intent{}, result.Usage, err
	}

	parsed, err := parseIntentJSON(result.Text)
	if err != nil {
		return Intent{}, result.Usage, fmt.Errorf("parse extraction output: %w", err)
	}

	// Explicit context fields win over model guesses.
	if uc.BuildingScale != "" {
		parsed.BuildingScale = uc.BuildingScale
	}
	return parsed, result.Usage, nil
}

// parseIntentJSON tolerates fenced output around the JSON object.
func parseIntentJSON(text string) (Intent, error) {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}
	var in Intent
	if err := json.Unmarshal([]byte(text), &in); err != nil {
		return Intent{}, err
	}
	return in, nil
}

func marshalContext(uc UserContext) string {
	b, err := json.Marshal(uc)
	if err != nil || string(b) == "{}" {
		return ""
	}
	return string(b)
}

// #endregion capability-path

// #region fallback

type keywordRule struct {
	label    string
	keywords []string
}

// themeRules map query keywords to catalog themes for the fallback path.
// Ordered: the first matching rule wins, so fallback extraction is deterministic.
var themeRules = []keywordRule{
	{"hvac", []string{"hvac", "heating", "cooling", "thermostat"}},
	{"air_quality", []string{"air quality", "co2", "humidity", "iaq", "ventilation"}},
	{"energy_management", []string{"energy", "consumption", "electricity", "power", "utility", "costs", "savings"}},
	{"security", []string{"security", "access", "intrusion", "camera", "surveillance", "badge"}},
	{"maintenance", []string{"maintenance", "repair", "fault", "breakdown", "work order", "asset"}},
	{"space_management", []string{"space", "occupancy", "desk", "room", "booking", "utilization"}},
}

// personaRules map query keywords to personas, first match wins.
var personaRules = []keywordRule{
	{"energy_manager", []string{"energy manager", "sustainability"}},
	{"security_officer", []string{"security officer", "guard"}},
	{"executive", []string{"roi", "portfolio", "board", "executive"}},
	{"facility_manager", []string{"facility", "facilities", "building manager"}},
}

func firstMatch(lower string, rules []keywordRule) string {
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.label
			}
		}
	}
	return ""
}

// fallbackIntent builds a minimal low-confidence Intent from explicit
// context fields and keyword matching only. No capability call.
func fallbackIntent(query string, uc UserContext) Intent {
	lower := strings.ToLower(query)

	in := Intent{
		Goal:          query,
		BuildingScale: uc.BuildingScale,
		LowConfidence: true,
	}

	in.Theme = firstMatch(lower, themeRules)
	in.Persona = firstMatch(lower, personaRules)

	if in.Goal == "" && len(uc.Goals) > 0 {
		in.Goal = strings.Join(uc.Goals, "; ")
	}
	in.TargetMetrics = append(in.TargetMetrics, uc.Goals...)

	return in
}

// #endregion fallback
