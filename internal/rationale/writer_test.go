package rationale

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildingos/module-advisor/internal/catalog"
	"github.com/buildingos/module-advisor/internal/intent"
	"github.com/buildingos/module-advisor/internal/llm"
	"github.com/buildingos/module-advisor/internal/rank"
)

type fakeGen struct {
	texts     map[string]string
	fail      map[string]bool
	failAfter map[string]bool // error after the first delta
	gate      map[string]chan struct{}
	done      map[string]chan struct{}
}

// moduleOf recovers the module id from the "(id)" marker in the prompt.
func moduleOf(req llm.ChatRequest) string {
	content := req.Messages[len(req.Messages)-1].Content
	open := strings.Index(content, "(")
	end := strings.Index(content, ")")
	if open < 0 || end < open {
		return ""
	}
	return content[open+1 : end]
}

func (f *fakeGen) Complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error) {
	id := moduleOf(req)
	if f.fail[id] {
		return llm.ChatResult{}, errors.New("capability down")
	}
	return llm.ChatResult{
		Text:  f.texts[id],
		Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeGen) Stream(ctx context.Context, req llm.ChatRequest, onDelta func(string) error) (llm.ChatResult, error) {
	id := moduleOf(req)
	if gate, ok := f.gate[id]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return llm.ChatResult{}, ctx.Err()
		}
	}
	defer func() {
		if done, ok := f.done[id]; ok {
			close(done)
		}
	}()
	if f.fail[id] {
		return llm.ChatResult{}, errors.New("capability down")
	}
	text := f.texts[id]
	half := len(text) / 2
	for i, delta := range []string{text[:half], text[half:]} {
		if err := onDelta(delta); err != nil {
			return llm.ChatResult{}, err
		}
		if i == 0 && f.failAfter[id] {
			return llm.ChatResult{}, errors.New("capability dropped mid-stream")
		}
	}
	return llm.ChatResult{
		Text:  text,
		Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func recsFixture() []rank.Recommendation {
	return []rank.Recommendation{
		{Module: catalog.Module{ID: "energy-analyzer", Name: "Energy Analyzer",
			Theme: "energy_management", Description: "Tracks energy consumption"}, Rank: 1},
		{Module: catalog.Module{ID: "hvac-optimizer", Name: "HVAC Optimizer",
			Theme: "hvac", Description: "Optimizes heating schedules"}, Rank: 2},
	}
}

func TestGenerateFillsRationales(t *testing.T) {
	gen := &fakeGen{texts: map[string]string{
		"energy-analyzer": "Tracks consumption to cut your energy costs.",
		"hvac-optimizer":  "Tunes heating schedules for your buildings.",
	}}
	w := NewWriter(gen, Config{Concurrency: 2, Timeout: time.Second}, testLogger())

	out, usage, failed := w.Generate(context.Background(), recsFixture(),
		intent.Intent{Goal: "reduce energy costs"})
	if len(failed) != 0 {
		t.Fatalf("failed = %v, want none", failed)
	}
	if out[0].Rationale != "Tracks consumption to cut your energy costs." {
		t.Errorf("rationale[0] = %q", out[0].Rationale)
	}
	if out[1].RationaleUnavailable {
		t.Error("unexpected RationaleUnavailable")
	}
	if usage.TotalTokens != 30 {
		t.Errorf("usage = %d, want 30", usage.TotalTokens)
	}
}

func TestGenerateFallbackOnFailure(t *testing.T) {
	gen := &fakeGen{
		texts: map[string]string{"energy-analyzer": "Tracks consumption."},
		fail:  map[string]bool{"hvac-optimizer": true},
	}
	w := NewWriter(gen, Config{Concurrency: 2, Timeout: time.Second}, testLogger())

	out, _, failed := w.Generate(context.Background(), recsFixture(),
		intent.Intent{Goal: "reduce energy costs"})
	if len(failed) != 1 || failed[0] != "hvac-optimizer" {
		t.Fatalf("failed = %v, want [hvac-optimizer]", failed)
	}
	if !out[1].RationaleUnavailable {
		t.Error("expected RationaleUnavailable on failed candidate")
	}
	if !strings.Contains(out[1].Rationale, "HVAC Optimizer") {
		t.Errorf("fallback = %q, want module name mentioned", out[1].Rationale)
	}
	if out[0].RationaleUnavailable {
		t.Error("healthy candidate flagged unavailable")
	}
}

func TestGenerateStreamDeltasInRankOrder(t *testing.T) {
	// The rank-2 stream finishes before the rank-1 stream even starts, yet
	// every rank-1 delta must still be delivered first.
	secondDone := make(chan struct{})
	gen := &fakeGen{
		texts: map[string]string{
			"energy-analyzer": "Tracks consumption to cut costs.",
			"hvac-optimizer":  "Tunes heating schedules.",
		},
		gate: map[string]chan struct{}{"energy-analyzer": secondDone},
		done: map[string]chan struct{}{"hvac-optimizer": secondDone},
	}
	w := NewWriter(gen, Config{Concurrency: 2, Timeout: 5 * time.Second}, testLogger())

	var order []int
	out, _, failed, err := w.GenerateStream(context.Background(), recsFixture(),
		intent.Intent{}, func(index int, delta string) error {
			order = append(order, index)
			return nil
		}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("failed = %v", failed)
	}
	want := []int{0, 0, 1, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if out[0].Rationale != "Tracks consumption to cut costs." {
		t.Errorf("rationale[0] = %q", out[0].Rationale)
	}
}

func TestGenerateStreamAbortOnSinkError(t *testing.T) {
	gen := &fakeGen{texts: map[string]string{
		"energy-analyzer": "Tracks consumption.",
		"hvac-optimizer":  "Tunes schedules.",
	}}
	w := NewWriter(gen, Config{Concurrency: 2, Timeout: time.Second}, testLogger())

	abort := errors.New("client went away")
	_, _, _, err := w.GenerateStream(context.Background(), recsFixture(),
		intent.Intent{}, func(index int, delta string) error {
			return abort
		}, nil)
	if !errors.Is(err, abort) {
		t.Fatalf("err = %v, want abort error", err)
	}
}

func TestGenerateStreamCompletionAgreesWithResult(t *testing.T) {
	// The rank-1 stream dies after emitting a partial delta. The completion
	// callback must carry the fallback, not the partial text, so the stream
	// view and the returned recommendations never disagree.
	gen := &fakeGen{
		texts: map[string]string{
			"energy-analyzer": "Tracks consumption to cut costs.",
			"hvac-optimizer":  "Tunes schedules.",
		},
		failAfter: map[string]bool{"energy-analyzer": true},
	}
	w := NewWriter(gen, Config{Concurrency: 2, Timeout: time.Second}, testLogger())

	var completed []rank.Recommendation
	out, _, failed, err := w.GenerateStream(context.Background(), recsFixture(),
		intent.Intent{Goal: "reduce energy costs"},
		func(index int, delta string) error { return nil },
		func(index int, rec rank.Recommendation) error {
			completed = append(completed, rec)
			return nil
		})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(failed) != 1 || failed[0] != "energy-analyzer" {
		t.Fatalf("failed = %v, want [energy-analyzer]", failed)
	}
	if len(completed) != 2 {
		t.Fatalf("completions = %d, want 2", len(completed))
	}
	if !completed[0].RationaleUnavailable {
		t.Error("completion for failed candidate not flagged unavailable")
	}
	if completed[0].Rationale != out[0].Rationale {
		t.Errorf("completion rationale %q != result rationale %q",
			completed[0].Rationale, out[0].Rationale)
	}
	if !strings.Contains(completed[0].Rationale, "Energy Analyzer") {
		t.Errorf("completion carries %q, want the fallback", completed[0].Rationale)
	}
	if completed[1].Rationale != "Tunes schedules." {
		t.Errorf("healthy completion = %q", completed[1].Rationale)
	}
}

func TestGenerateStreamFallbackEmitsDelta(t *testing.T) {
	gen := &fakeGen{
		texts: map[string]string{"hvac-optimizer": "Tunes schedules."},
		fail:  map[string]bool{"energy-analyzer": true},
	}
	w := NewWriter(gen, Config{Concurrency: 2, Timeout: time.Second}, testLogger())

	var got []string
	out, _, failed, err := w.GenerateStream(context.Background(), recsFixture(),
		intent.Intent{Goal: "reduce energy costs"}, func(index int, delta string) error {
			if index == 0 {
				got = append(got, delta)
			}
			return nil
		}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(failed) != 1 || failed[0] != "energy-analyzer" {
		t.Fatalf("failed = %v", failed)
	}
	if !out[0].RationaleUnavailable {
		t.Error("expected RationaleUnavailable")
	}
	if len(got) != 1 || !strings.Contains(got[0], "Energy Analyzer") {
		t.Fatalf("fallback deltas = %v, want single fallback mentioning module", got)
	}
}
