package engine

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/buildingos/module-advisor/internal/catalog"
	"github.com/buildingos/module-advisor/internal/convo"
	"github.com/buildingos/module-advisor/internal/feedback"
	"github.com/buildingos/module-advisor/internal/intent"
	"github.com/buildingos/module-advisor/internal/llm"
	"github.com/buildingos/module-advisor/internal/rank"
	"github.com/buildingos/module-advisor/internal/rationale"
	"github.com/buildingos/module-advisor/internal/rules"
	"github.com/buildingos/module-advisor/internal/search"
)

// #endregion imports

// #region config

// Config bounds one advisory pipeline run.
type Config struct {
	// TopK is the retrieval candidate bound fed to rule evaluation.
	TopK int
	// MaxResults caps the recommendations returned per request.
	MaxResults int
	// SuggestionMax caps the complementary-module hints.
	SuggestionMax int
	// TrendingWindow bounds the feedback lookback for trending queries.
	TrendingWindow time.Duration
}

// DefaultConfig returns the standard pipeline bounds.
func DefaultConfig() Config {
	return Config{
		TopK:           20,
		MaxResults:     5,
		SuggestionMax:  3,
		TrendingWindow: 30 * 24 * time.Hour,
	}
}

// #endregion config

// #region request-result

// Request is one advisory query.
type Request struct {
	Query          string             `json:"query"`
	UserID         string             `json:"user_id"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Context        intent.UserContext `json:"context"`
	MaxResults     int                `json:"max_results,omitempty"`
}

// Ineligible reports one candidate excluded by a hard rule, so callers can
// see why a module they expected is absent.
type Ineligible struct {
	ModuleID string   `json:"module_id"`
	Reasons  []string `json:"reasons"`
}

// Diagnostics surfaces every degradation the pipeline absorbed instead of
// failing.
type Diagnostics struct {
	RetrievalDegraded   bool     `json:"retrieval_degraded,omitempty"`
	RetrievalReason     string   `json:"retrieval_reason,omitempty"`
	LowConfidenceIntent bool     `json:"low_confidence_intent,omitempty"`
	ProfileUnavailable  bool     `json:"profile_unavailable,omitempty"`
	RationaleFailures   []string `json:"rationale_failures,omitempty"`
}

// List flattens diagnostics for persistence.
func (d Diagnostics) List() []string {
	var out []string
	if d.RetrievalDegraded {
		out = append(out, "retrieval_degraded: "+d.RetrievalReason)
	}
	if d.LowConfidenceIntent {
		out = append(out, "low_confidence_intent")
	}
	if d.ProfileUnavailable {
		out = append(out, "profile_unavailable")
	}
	for _, id := range d.RationaleFailures {
		out = append(out, "rationale_failed: "+id)
	}
	return out
}

// Result is one completed advisory run.
type Result struct {
	InteractionID   string                `json:"interaction_id"`
	ConversationID  string                `json:"conversation_id"`
	Intent          intent.Intent         `json:"intent"`
	Recommendations []rank.Recommendation `json:"recommendations"`
	Ineligible      []Ineligible          `json:"ineligible,omitempty"`
	Advisories      []string              `json:"advisories,omitempty"`
	Suggestions     []rules.Suggestion    `json:"suggestions,omitempty"`
	// MissingDependencies lists, per recommended module, dependencies
	// neither installed nor covered by the recommendation set.
	MissingDependencies map[string][]string `json:"missing_dependencies,omitempty"`
	Usage               llm.Usage           `json:"usage"`
	Diagnostics         Diagnostics         `json:"diagnostics"`
}

// #endregion request-result

// #region engine

// Engine coordinates the full advisory pipeline: intent extraction,
// retrieval, rule evaluation, ranking, rationale generation, and
// persistence. Extraction and rule evaluation failures are terminal;
// everything else degrades and reports through Diagnostics.
type Engine struct {
	catalog   *catalog.Store
	convos    *convo.Store
	feedback  *feedback.Store
	extractor *intent.Extractor
	retriever *search.Retriever
	rules     *rules.Engine
	ranker    *rank.Ranker
	writer    *rationale.Writer
	config    Config
	log       *logrus.Logger
}

// New creates a fully wired Engine.
func New(
	cat *catalog.Store,
	convos *convo.Store,
	fb *feedback.Store,
	extractor *intent.Extractor,
	retriever *search.Retriever,
	ruleEngine *rules.Engine,
	ranker *rank.Ranker,
	writer *rationale.Writer,
	config Config,
	log *logrus.Logger,
) *Engine {
	return &Engine{
		catalog:   cat,
		convos:    convos,
		feedback:  fb,
		extractor: extractor,
		retriever: retriever,
		rules:     ruleEngine,
		ranker:    ranker,
		writer:    writer,
		config:    config,
		log:       log,
	}
}

// #endregion engine

// #region session

// session carries the shared state of one run between the ranking phase and
// the delivery phase.
type session struct {
	interactionID string
	conversation  convo.Conversation
	intent        intent.Intent
	recs          []rank.Recommendation
	ineligible    []Ineligible
	advisories    []string
	suggestions   []rules.Suggestion
	missingDeps   map[string][]string
	usage         llm.Usage
	diagnostics   Diagnostics
	request       Request
}

// prepare runs every pipeline stage up to (not including) rationale
// generation. The returned session holds the ranked recommendations.
func (e *Engine) prepare(ctx context.Context, req Request) (*session, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, wrap(KindValidation, errors.New("empty query"))
	}
	if req.UserID == "" {
		return nil, wrap(KindValidation, errors.New("empty user id"))
	}

	s := &session{interactionID: uuid.NewString(), request: req}

	conv, err := e.convos.Begin(ctx, req.ConversationID, req.UserID)
	if err != nil {
		// Conversation continuity is best-effort; recommend without it.
		e.log.WithError(err).Warn("conversation lookup failed, running stateless")
		conv = convo.Conversation{ID: req.ConversationID}
		if conv.ID == "" {
			conv.ID = uuid.NewString()
		}
	}
	s.conversation = conv

	var prior *intent.Intent
	if conv.Intent.Goal != "" {
		p := conv.Intent
		prior = &p
	}
	extracted, usage, err := e.extractor.Extract(ctx, req.Query, req.Context, prior)
	s.usage.Add(usage)
	if err != nil {
		return nil, wrap(KindExtraction, err)
	}
	s.intent = convo.MergeIntent(conv.Intent, extracted)
	s.diagnostics.LowConfidenceIntent = s.intent.LowConfidence
	if err := e.convos.UpdateIntent(ctx, conv.ID, s.intent); err != nil {
		e.log.WithError(err).Warn("intent persistence failed")
	}

	res, err := e.retriever.Retrieve(ctx, search.BuildQuery(s.intent, req.Context, e.config.TopK))
	if err != nil {
		// Only a malformed query is the caller's fault; a catalog read
		// failure is a storage error.
		if errors.Is(err, search.ErrBadQuery) {
			return nil, wrap(KindValidation, err)
		}
		return nil, wrap(KindStorage, err)
	}
	s.diagnostics.RetrievalDegraded = res.Degraded
	s.diagnostics.RetrievalReason = res.Reason

	graph, err := e.catalog.Graph(ctx)
	if err != nil {
		return nil, wrap(KindStorage, fmt.Errorf("load module graph: %w", err))
	}
	mods := make([]catalog.Module, len(res.Candidates))
	for i, c := range res.Candidates {
		mods[i] = c.Module
	}
	eval, err := e.rules.Evaluate(mods, graph, rules.UserState{
		LicenseTier:   req.Context.LicenseTier,
		BuildingScale: req.Context.BuildingScale,
		Installed:     req.Context.ExistingModules,
	})
	if err != nil {
		return nil, wrap(KindRuleEvaluation, err)
	}
	s.advisories = eval.Advisories
	s.ineligible = collectIneligible(eval)

	profile, err := e.feedback.GetProfile(ctx, req.UserID)
	if err != nil {
		e.log.WithError(err).Warn("profile load failed, ranking without affinity")
		s.diagnostics.ProfileUnavailable = true
		profile = feedback.Profile{}
	}

	maxResults := req.MaxResults
	if maxResults <= 0 || maxResults > e.config.MaxResults {
		maxResults = e.config.MaxResults
	}
	s.recs = e.ranker.Rank(res.Candidates, eval, profile, maxResults)

	selected := make([]string, len(s.recs))
	for i, r := range s.recs {
		selected[i] = r.Module.ID
	}
	s.suggestions = e.rules.SuggestComplementary(selected, graph, e.config.SuggestionMax)
	if deps := e.rules.MissingDependencies(selected, req.Context.ExistingModules, graph); len(deps) > 0 {
		s.missingDeps = deps
	}
	return s, nil
}

func collectIneligible(eval rules.Evaluation) []Ineligible {
	var ids []string
	for id, v := range eval.Verdicts {
		if !v.Eligible {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []Ineligible
	for _, id := range ids {
		v := eval.Verdicts[id]
		reasons := make([]string, len(v.Blocks))
		for i, b := range v.Blocks {
			reasons[i] = fmt.Sprintf("%s: %s", b.Reason, b.Detail)
		}
		out = append(out, Ineligible{ModuleID: id, Reasons: reasons})
	}
	return out
}

// finish assembles the result and persists the interaction and conversation
// turns. Persistence failures degrade: the user still gets their answer.
func (e *Engine) finish(ctx context.Context, s *session) Result {
	result := Result{
		InteractionID:       s.interactionID,
		ConversationID:      s.conversation.ID,
		Intent:              s.intent,
		Recommendations:     s.recs,
		Ineligible:          s.ineligible,
		Advisories:          s.advisories,
		Suggestions:         s.suggestions,
		MissingDependencies: s.missingDeps,
		Usage:               s.usage,
		Diagnostics:         s.diagnostics,
	}

	records := make([]feedback.RecommendationRecord, len(s.recs))
	for i, r := range s.recs {
		records[i] = feedback.RecommendationRecord{
			ModuleID: r.Module.ID,
			Rank:     r.Rank,
			Score:    r.Score,
			Priority: r.Priority,
		}
	}
	err := e.feedback.AppendInteraction(ctx, feedback.Interaction{
		ID:              s.interactionID,
		ConversationID:  s.conversation.ID,
		UserID:          s.request.UserID,
		Intent:          s.intent,
		Recommendations: records,
		Usage:           s.usage,
		Diagnostics:     s.diagnostics.List(),
	})
	if err != nil {
		e.log.WithError(err).Warn("interaction persistence failed")
	}

	if _, err := e.convos.AppendTurn(ctx, s.conversation.ID, "user", s.request.Query, ""); err != nil {
		e.log.WithError(err).Warn("turn persistence failed")
	}
	summary := fmt.Sprintf("recommended %d modules", len(s.recs))
	if _, err := e.convos.AppendTurn(ctx, s.conversation.ID, "advisor", summary, s.interactionID); err != nil {
		e.log.WithError(err).Warn("turn persistence failed")
	}

	e.log.WithFields(logrus.Fields{
		"interaction":  s.interactionID,
		"conversation": s.conversation.ID,
		"recommended":  len(s.recs),
		"ineligible":   len(s.ineligible),
		"tokens":       s.usage.TotalTokens,
	}).Info("advisory run complete")
	return result
}

// #endregion session

// #region recommend

// Recommend runs the full pipeline and returns the complete result in one
// call.
func (e *Engine) Recommend(ctx context.Context, req Request) (Result, error) {
	s, err := e.prepare(ctx, req)
	if err != nil {
		return Result{}, err
	}
	recs, usage, failed := e.writer.Generate(ctx, s.recs, s.intent)
	s.recs = recs
	s.usage.Add(usage)
	s.diagnostics.RationaleFailures = failed
	return e.finish(ctx, s), nil
}

// #endregion recommend

// #region stream

// Event types, in emission order: one start, then text_delta and
// rationale_complete per recommendation in rank order, then exactly one
// complete carrying the final recommendation list and usage, then a bare
// terminal done. A mid-stream failure replaces the remaining sequence with a
// single error event. Nothing follows done or error.
const (
	EventStart             = "start"
	EventTextDelta         = "text_delta"
	EventRationaleComplete = "rationale_complete"
	EventComplete          = "complete"
	EventDone              = "done"
	EventError             = "error"
)

// Event is one streaming frame.
type Event struct {
	Type            string                `json:"type"`
	InteractionID   string                `json:"interaction_id,omitempty"`
	ConversationID  string                `json:"conversation_id,omitempty"`
	Timestamp       time.Time             `json:"timestamp,omitempty"`
	Intent          *intent.Intent        `json:"intent,omitempty"`
	Recommendations []rank.Recommendation `json:"recommendations,omitempty"`
	Index           int                   `json:"index"`
	ModuleID        string                `json:"module_id,omitempty"`
	Delta           string                `json:"delta,omitempty"`
	Accumulated     string                `json:"accumulated,omitempty"`
	Recommendation  *rank.Recommendation  `json:"recommendation,omitempty"`
	Usage           *llm.Usage            `json:"usage,omitempty"`
	Error           string                `json:"error,omitempty"`
	Result          *Result               `json:"result,omitempty"`
}

// RecommendStream runs the same pipeline as Recommend but delivers
// rationales incrementally. Terminal pipeline errors return synchronously;
// after that the channel yields start, per-candidate deltas and
// rationale_complete frames in rank order, one complete with the full
// result, and a terminal done. The channel closes after done, or early when
// ctx is cancelled.
func (e *Engine) RecommendStream(ctx context.Context, req Request) (<-chan Event, error) {
	s, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 8)
	go func() {
		defer close(events)

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		skeleton := make([]rank.Recommendation, len(s.recs))
		copy(skeleton, s.recs)
		if !send(Event{
			Type:            EventStart,
			InteractionID:   s.interactionID,
			ConversationID:  s.conversation.ID,
			Timestamp:       time.Now().UTC(),
			Intent:          &s.intent,
			Recommendations: skeleton,
		}) {
			return
		}

		// Rationale text accumulates per candidate so each delta carries
		// the full text streamed so far for its index.
		current := -1
		var acc strings.Builder

		errSink := errors.New("event receiver gone")
		recs, usage, failed, err := e.writer.GenerateStream(ctx, s.recs, s.intent,
			func(i int, delta string) error {
				if i != current {
					current = i
					acc.Reset()
				}
				acc.WriteString(delta)
				if !send(Event{
					Type:        EventTextDelta,
					Index:       i,
					ModuleID:    s.recs[i].Module.ID,
					Delta:       delta,
					Accumulated: acc.String(),
				}) {
					return errSink
				}
				return nil
			},
			func(i int, rec rank.Recommendation) error {
				// rec carries the authoritative rationale (the fallback when
				// generation failed), so this frame always agrees with the
				// final result.
				if !send(Event{
					Type:           EventRationaleComplete,
					Index:          i,
					ModuleID:       rec.Module.ID,
					Recommendation: &rec,
				}) {
					return errSink
				}
				return nil
			})
		if err != nil {
			e.log.WithError(err).Warn("rationale stream aborted")
			if !errors.Is(err, errSink) && ctx.Err() == nil {
				send(Event{Type: EventError, InteractionID: s.interactionID, Error: err.Error()})
			}
			return
		}

		s.recs = recs
		s.usage.Add(usage)
		s.diagnostics.RationaleFailures = failed
		result := e.finish(ctx, s)
		if !send(Event{
			Type:            EventComplete,
			InteractionID:   s.interactionID,
			ConversationID:  s.conversation.ID,
			Recommendations: result.Recommendations,
			Usage:           &result.Usage,
			Result:          &result,
		}) {
			return
		}
		send(Event{Type: EventDone, InteractionID: s.interactionID, Timestamp: time.Now().UTC()})
	}()
	return events, nil
}

// #endregion stream

// #region feedback

// RecordFeedback validates and applies one feedback event. The module theme
// is resolved from the catalog so theme affinity tracks even when the client
// omits it.
func (e *Engine) RecordFeedback(ctx context.Context, fb feedback.Feedback) error {
	switch fb.Action {
	case feedback.ActionAccepted, feedback.ActionRejected, feedback.ActionDeployed:
	case feedback.ActionRating:
		if fb.Rating < 1 || fb.Rating > 5 {
			return wrap(KindValidation, fmt.Errorf("rating %d out of range 1-5", fb.Rating))
		}
	default:
		return wrap(KindValidation, fmt.Errorf("unknown action %q", fb.Action))
	}

	if fb.ModuleTheme == "" {
		if m, ok, err := e.catalog.Get(ctx, fb.ModuleID); err == nil && ok {
			fb.ModuleTheme = m.Theme
		}
	}
	if err := e.feedback.Record(ctx, fb); err != nil {
		if errors.Is(err, feedback.ErrUnknownInteraction) {
			return wrap(KindValidation, err)
		}
		return wrap(KindStorage, err)
	}
	e.log.WithFields(logrus.Fields{
		"user":   fb.UserID,
		"module": fb.ModuleID,
		"action": fb.Action,
	}).Info("feedback recorded")
	return nil
}

// History returns the user's recent interactions, newest first.
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]feedback.Interaction, error) {
	if userID == "" {
		return nil, wrap(KindValidation, errors.New("empty user id"))
	}
	out, err := e.feedback.RecentByUser(ctx, userID, limit)
	if err != nil {
		return nil, wrap(KindStorage, err)
	}
	return out, nil
}

// Trending ranks modules by recent positive feedback.
func (e *Engine) Trending(ctx context.Context, limit int) ([]feedback.TrendingEntry, error) {
	out, err := e.feedback.Trending(ctx, e.config.TrendingWindow, limit)
	if err != nil {
		return nil, wrap(KindStorage, err)
	}
	return out, nil
}

// #endregion feedback
