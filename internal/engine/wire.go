package engine

// #region imports
import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildingos/module-advisor/internal/catalog"
	"github.com/buildingos/module-advisor/internal/config"
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

// #region build

// Build wires a complete Engine from runtime configuration: one shared
// sqlite database, an OpenAI-compatible capability client with transient
// retries, and every pipeline stage. The returned cleanup closes the
// database.
func Build(cfg config.Config, log *logrus.Logger) (*Engine, func(), error) {
	cat, err := catalog.NewStore(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	cleanup := func() { cat.Close() }

	convos, err := convo.NewStoreWithDB(cat.DB())
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init conversations: %w", err)
	}
	fb, err := feedback.NewStoreWithDB(cat.DB(), cfg.AffinityDecay)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init feedback: %w", err)
	}

	rulesCfg := rules.DefaultConfig()
	if cfg.RulesConfigPath != "" {
		if rulesCfg, err = rules.LoadConfig(cfg.RulesConfigPath); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("load rules config: %w", err)
		}
	}

	client := llm.NewClient(llm.Config{
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		ChatModel:  cfg.LLMChatModel,
		EmbedModel: cfg.LLMEmbedModel,
		Timeout:    cfg.LLMTimeout,
	})
	capability := llm.NewRetry(client, 2*time.Second)

	eng := New(
		cat, convos, fb,
		intent.NewExtractor(capability, log),
		search.NewRetriever(cat, capability, search.Config{BlendWeight: cfg.BlendWeight}, log),
		rules.NewEngine(rulesCfg),
		rank.NewRanker(rank.Config{
			WarningPenalty:  rank.DefaultConfig().WarningPenalty,
			AffinityClip:    cfg.AffinityClip,
			HighThreshold:   rank.DefaultConfig().HighThreshold,
			MediumThreshold: rank.DefaultConfig().MediumThreshold,
		}),
		rationale.NewWriter(capability, rationale.Config{
			Concurrency: cfg.RationaleConcurrency,
			Timeout:     cfg.RationaleTimeout,
		}, log),
		Config{
			TopK:           cfg.DefaultTopK,
			MaxResults:     cfg.MaxResults,
			SuggestionMax:  DefaultConfig().SuggestionMax,
			TrendingWindow: DefaultConfig().TrendingWindow,
		},
		log,
	)
	return eng, cleanup, nil
}

// #endregion build
