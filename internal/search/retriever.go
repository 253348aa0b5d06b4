package search

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/buildingos/module-advisor/internal/catalog"
	"github.com/buildingos/module-advisor/internal/intent"
)

// #endregion imports

// #region errors

// ErrBadQuery marks a malformed retrieval request (caller error), as
// opposed to a catalog read failure.
var ErrBadQuery = errors.New("bad retrieval query")

// #endregion errors

// #region types

// Candidate is a module scored by retrieval, not yet rule-filtered or ranked.
// Transient: exists only within one request's pipeline.
type Candidate struct {
	Module       catalog.Module
	LexicalScore float64
	VectorScore  float64
	Score        float64 // blended retrieval score in [0,1]
}

// Result is the outcome of one retrieval call.
type Result struct {
	Candidates []Candidate
	Degraded   bool   // vector path failed, lexical-only scoring used
	Reason     string // human-readable explanation
}

// Query carries the retrieval inputs built from an Intent.
type Query struct {
	Text    string
	Theme   string   // required theme filter, empty = none
	Exclude []string // module ids to drop (already installed)
	K       int      // result bound, must be >= 1
}

// #endregion types

// #region config

// Config holds the retrieval blend parameters.
type Config struct {
	// BlendWeight is the vector weight w in
	// score = w*vector + (1-w)*lexical. Fixed per deployment, never derived
	// per request.
	BlendWeight float64
}

// DefaultConfig returns the documented default blend.
func DefaultConfig() Config {
	return Config{BlendWeight: 0.6}
}

// #endregion config

// #region interfaces

// Lister reads the candidate universe from the catalog.
type Lister interface {
	List(ctx context.Context, theme string) ([]catalog.Module, error)
}

// Embedder abstracts the embedding capability so retrieval can be tested
// without a live endpoint.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion interfaces

// #region retriever

// Retriever issues a combined lexical+vector query over the catalog.
type Retriever struct {
	lister   Lister
	embedder Embedder // nil = lexical-only, always degraded
	config   Config
	log      *logrus.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(lister Lister, embedder Embedder, config Config, log *logrus.Logger) *Retriever {
	return &Retriever{lister: lister, embedder: embedder, config: config, log: log}
}

// #endregion retriever

// #region build-query

// BuildQuery derives the retrieval query from an Intent and the user's
// installed modules.
func BuildQuery(in intent.Intent, uc intent.UserContext, k int) Query {
	parts := []string{in.Goal}
	if in.Theme != "" {
		parts = append(parts, in.Theme)
	}
	parts = append(parts, in.Constraints...)
	parts = append(parts, in.TargetMetrics...)

	return Query{
		Text:    strings.Join(parts, " "),
		Theme:   in.Theme,
		Exclude: uc.ExistingModules,
		K:       k,
	}
}

// #endregion build-query

// #region retrieve

// Retrieve returns at most q.K candidates ordered by blended score descending,
// ties broken by module id ascending for determinism. A vector-path failure
// degrades to lexical-only scoring with Degraded set; it never fails the call.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (Result, error) {
	if q.K < 1 {
		return Result{}, fmt.Errorf("%w: K must be >= 1, got %d", ErrBadQuery, q.K)
	}

	modules, err := r.lister.List(ctx, q.Theme)
	if err != nil {
		return Result{}, fmt.Errorf("retrieve: list modules: %w", err)
	}

	excluded := tokenSetFromIDs(q.Exclude)
	queryTokens := tokenize(q.Text)

	var queryVec []float32
	result := Result{}
	if r.embedder == nil {
		result.Degraded = true
		result.Reason = "no embedder configured, lexical-only scoring"
	} else {
		queryVec, err = r.embedder.Embed(ctx, q.Text)
		if err != nil {
			result.Degraded = true
			result.Reason = fmt.Sprintf("vector path failed (%v), lexical-only scoring", err)
			r.log.WithError(err).Warn("[SEARCH] vector path degraded")
		}
	}

	w := r.config.BlendWeight
	if result.Degraded {
		w = 0 // lexical carries the whole score
	}

	var candidates []Candidate
	for _, m := range modules {
		if excluded[m.ID] {
			continue
		}
		lex := lexicalScore(queryTokens, m)
		var vec float64
		if !result.Degraded && len(m.Embedding) > 0 {
			vec = clamp01(float64(cosineSimilarity(queryVec, m.Embedding)))
		}
		score := w*vec + (1-w)*lex
		if score <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			Module:       m,
			LexicalScore: lex,
			VectorScore:  vec,
			Score:        score,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Module.ID < candidates[j].Module.ID
	})
	if len(candidates) > q.K {
		candidates = candidates[:q.K]
	}

	result.Candidates = candidates
	if result.Reason == "" {
		result.Reason = fmt.Sprintf("retrieved %d candidates (blend w=%.2f)", len(candidates), w)
	}
	return result, nil
}

// #endregion retrieve

// #region lexical

// lexicalScore measures query-token overlap against the module's searchable
// text, with a boost for name and theme hits. Normalized to [0,1].
func lexicalScore(queryTokens []string, m catalog.Module) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	docTokens := tokenSet(tokenize(m.SearchText()))
	nameTokens := tokenSet(tokenize(m.Name + " " + m.Theme))

	matched := 0.0
	for _, qt := range queryTokens {
		if nameTokens[qt] {
			matched += 1.5
		} else if docTokens[qt] {
			matched += 1.0
		}
	}
	score := matched / (1.5 * float64(len(queryTokens)))
	return clamp01(score)
}

// #endregion lexical

// #region vector

// cosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for mismatched or zero-length inputs.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// #endregion vector

// #region helpers

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func tokenSetFromIDs(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// #endregion helpers
