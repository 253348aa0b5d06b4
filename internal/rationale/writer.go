package rationale

// #region imports
import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildingos/module-advisor/internal/catalog"
	"github.com/buildingos/module-advisor/internal/intent"
	"github.com/buildingos/module-advisor/internal/llm"
	"github.com/buildingos/module-advisor/internal/rank"
)

// #endregion imports

// #region config

// Config bounds the rationale generation fan-out.
type Config struct {
	// Concurrency caps the number of in-flight capability calls.
	Concurrency int
	// Timeout applies per candidate, not to the whole batch.
	Timeout time.Duration
}

// DefaultConfig returns the standard generation bounds.
func DefaultConfig() Config {
	return Config{Concurrency: 4, Timeout: 30 * time.Second}
}

// #endregion config

// #region generator

// Generator is the language capability used to write rationales.
// *llm.Client satisfies it.
type Generator interface {
	Complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error)
	Stream(ctx context.Context, req llm.ChatRequest, onDelta func(delta string) error) (llm.ChatResult, error)
}

// Writer produces a short grounded rationale per recommendation. Prompts
// contain only catalog facts, the extracted intent, and rule warnings, so
// the capability has nothing to invent from.
type Writer struct {
	gen    Generator
	config Config
	log    *logrus.Logger
}

// NewWriter creates a Writer.
func NewWriter(gen Generator, config Config, log *logrus.Logger) *Writer {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Writer{gen: gen, config: config, log: log}
}

// #endregion generator

// #region prompt

const rationaleSystemPrompt = `You explain why a building-management module was recommended.
Write 2-3 plain sentences grounded ONLY in the facts provided. Reference the
user's goal and the module's capabilities. If soft warnings are listed,
acknowledge them briefly. Never invent features, numbers, or integrations
that are not in the facts. Respond with the rationale text only.`

func (w *Writer) request(rec rank.Recommendation, in intent.Intent) llm.ChatRequest {
	var b strings.Builder
	m := rec.Module
	fmt.Fprintf(&b, "Module: %s (%s)\n", m.Name, m.ID)
	fmt.Fprintf(&b, "Theme: %s\n", m.Theme)
	fmt.Fprintf(&b, "Description: %s\n", m.Description)
	if len(m.Tags) > 0 {
		fmt.Fprintf(&b, "Capabilities: %s\n", strings.Join(m.Tags, ", "))
	}
	if in.Goal != "" {
		fmt.Fprintf(&b, "User goal: %s\n", in.Goal)
	}
	if in.Persona != "" {
		fmt.Fprintf(&b, "User role: %s\n", in.Persona)
	}
	if in.BuildingScale != "" {
		fmt.Fprintf(&b, "Building scale: %s\n", in.BuildingScale)
	}
	if len(rec.Warnings) > 0 {
		fmt.Fprintf(&b, "Soft warnings: %s\n", strings.Join(rec.Warnings, "; "))
	}
	return llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: rationaleSystemPrompt},
			{Role: "user", Content: b.String()},
		},
		MaxTokens:   256,
		Temperature: 0.3,
	}
}

// fallbackRationale is the canned text used when generation fails. Built
// from catalog facts only, so it is always truthful.
func fallbackRationale(m catalog.Module, in intent.Intent) string {
	var b strings.Builder
	b.WriteString(m.Name)
	b.WriteString(" matched your request")
	if in.Goal != "" {
		b.WriteString(" to ")
		b.WriteString(in.Goal)
	}
	if m.Description != "" {
		b.WriteString(". ")
		b.WriteString(strings.TrimSuffix(m.Description, "."))
	}
	b.WriteString(".")
	return b.String()
}

// #endregion prompt

// #region batch

type genResult struct {
	text  string
	usage llm.Usage
	err   error
}

// Generate fills in Rationale for each recommendation, fanning out at most
// Concurrency capability calls. A per-candidate failure substitutes the
// canned fallback and flags RationaleUnavailable; it never fails the batch.
// Returns the filled recommendations, total token usage, and the ids of
// candidates whose generation failed.
func (w *Writer) Generate(ctx context.Context, recs []rank.Recommendation, in intent.Intent) ([]rank.Recommendation, llm.Usage, []string) {
	results := make([]genResult, len(recs))
	sem := make(chan struct{}, w.config.Concurrency)
	var wg sync.WaitGroup
	for i := range recs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			cctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
			defer cancel()
			res, err := w.gen.Complete(cctx, w.request(recs[i], in))
			results[i] = genResult{text: res.Text, usage: res.Usage, err: err}
		}(i)
	}
	wg.Wait()

	var usage llm.Usage
	var failed []string
	for i, res := range results {
		usage.Add(res.usage)
		if res.err != nil {
			w.log.WithError(res.err).WithField("module", recs[i].Module.ID).
				Warn("rationale generation failed, using fallback")
			recs[i].Rationale = fallbackRationale(recs[i].Module, in)
			recs[i].RationaleUnavailable = true
			failed = append(failed, recs[i].Module.ID)
			continue
		}
		recs[i].Rationale = strings.TrimSpace(res.text)
	}
	return recs, usage, failed
}

// #endregion batch

// #region stream

// GenerateStream is Generate with incremental delivery: deltas for the
// rank-1 recommendation are emitted before any delta for rank 2, and so on,
// while generation itself runs concurrently behind the ordering. After each
// candidate finishes, onComplete (optional) receives the recommendation with
// its final rationale: the canned fallback when generation failed, so the
// completion view always agrees with the batch result even when partial
// deltas were already emitted. Either callback returning an error aborts the
// whole stream; that error is returned.
func (w *Writer) GenerateStream(ctx context.Context, recs []rank.Recommendation, in intent.Intent, onDelta func(index int, delta string) error, onComplete func(index int, rec rank.Recommendation) error) ([]rank.Recommendation, llm.Usage, []string, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]genResult, len(recs))
	deltas := make([]chan string, len(recs))
	for i := range deltas {
		deltas[i] = make(chan string, 16)
	}
	sem := make(chan struct{}, w.config.Concurrency)
	var wg sync.WaitGroup
	for i := range recs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer close(deltas[i])
			select {
			case sem <- struct{}{}:
			case <-wctx.Done():
				results[i] = genResult{err: wctx.Err()}
				return
			}
			defer func() { <-sem }()
			cctx, tcancel := context.WithTimeout(wctx, w.config.Timeout)
			defer tcancel()
			res, err := w.gen.Stream(cctx, w.request(recs[i], in), func(d string) error {
				select {
				case deltas[i] <- d:
					return nil
				case <-wctx.Done():
					return wctx.Err()
				}
			})
			results[i] = genResult{text: res.Text, usage: res.Usage, err: err}
		}(i)
	}

	drain := func(from int) {
		cancel()
		for i := from; i < len(deltas); i++ {
			for range deltas[i] {
			}
		}
		wg.Wait()
	}

	var failed []string
	for i := range recs {
		emitted := false
		for d := range deltas[i] {
			if err := onDelta(i, d); err != nil {
				drain(i)
				return nil, llm.Usage{}, nil, err
			}
			emitted = true
		}
		// Channel closed, so the worker's result is visible.
		if results[i].err != nil {
			if wctx.Err() != nil && ctx.Err() != nil {
				drain(i + 1)
				return nil, llm.Usage{}, nil, ctx.Err()
			}
			w.log.WithError(results[i].err).WithField("module", recs[i].Module.ID).
				Warn("rationale stream failed, using fallback")
			recs[i].Rationale = fallbackRationale(recs[i].Module, in)
			recs[i].RationaleUnavailable = true
			failed = append(failed, recs[i].Module.ID)
			if !emitted {
				if err := onDelta(i, recs[i].Rationale); err != nil {
					drain(i + 1)
					return nil, llm.Usage{}, nil, err
				}
			}
		} else {
			recs[i].Rationale = strings.TrimSpace(results[i].text)
		}
		if onComplete != nil {
			if err := onComplete(i, recs[i]); err != nil {
				drain(i + 1)
				return nil, llm.Usage{}, nil, err
			}
		}
	}
	wg.Wait()

	var usage llm.Usage
	for _, res := range results {
		usage.Add(res.usage)
	}
	return recs, usage, failed, nil
}

// #endregion stream
