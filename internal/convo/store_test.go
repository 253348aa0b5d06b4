package convo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/buildingos/module-advisor/internal/intent"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "convo.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeginCreatesAndResumes(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	c, err := s.Begin(ctx, "", "user-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if c.ID == "" || c.Status != StatusNew {
		t.Fatalf("fresh conversation = %+v", c)
	}

	again, err := s.Begin(ctx, c.ID, "user-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if again.ID != c.ID {
		t.Errorf("resumed id = %s, want %s", again.ID, c.ID)
	}
}

func TestBeginUnknownIDStartsFresh(t *testing.T) {
	s := tempStore(t)
	c, err := s.Begin(context.Background(), "never-seen", "user-1")
	if err != nil {
		t.Fatalf("begin with unknown id: %v", err)
	}
	if c.ID != "never-seen" || c.Status != StatusNew {
		t.Fatalf("conversation = %+v, want fresh under the supplied id", c)
	}
}

func TestUpdateIntentActivates(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	c, err := s.Begin(ctx, "", "user-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	in := intent.Intent{Goal: "reduce energy costs", Theme: "energy_management"}
	if err := s.UpdateIntent(ctx, c.ID, in); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok, err := s.Get(ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.Intent.Goal != "reduce energy costs" {
		t.Errorf("intent = %+v", got.Intent)
	}

	if err := s.UpdateIntent(ctx, "missing", in); err == nil {
		t.Fatal("expected error updating unknown conversation")
	}
}

func TestAppendTurnSequencing(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	c, err := s.Begin(ctx, "", "user-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	first, err := s.AppendTurn(ctx, c.ID, "user", "need energy savings", "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := s.AppendTurn(ctx, c.ID, "advisor", "recommended 2 modules", "int-1")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("seqs = %d, %d, want 1, 2", first.Seq, second.Seq)
	}

	turns, err := s.Turns(ctx, c.ID)
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(turns) != 2 || turns[0].Content != "need energy savings" || turns[1].InteractionID != "int-1" {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestMergeIntentRefines(t *testing.T) {
	prior := intent.Intent{
		Goal:          "reduce energy costs",
		Persona:       "facility_manager",
		BuildingScale: "medium",
		Theme:         "energy_management",
		Constraints:   []string{"budget under 10k"},
	}
	next := intent.Intent{
		Goal:        "reduce HVAC energy costs",
		Theme:       "hvac",
		Constraints: []string{"existing BMS integration"},
	}

	got := MergeIntent(prior, next)
	if got.Goal != "reduce HVAC energy costs" {
		t.Errorf("goal = %q", got.Goal)
	}
	if got.Persona != "facility_manager" || got.BuildingScale != "medium" {
		t.Errorf("carried fields lost: %+v", got)
	}
	if got.Theme != "hvac" {
		t.Errorf("theme = %q, want hvac", got.Theme)
	}
	if len(got.Constraints) != 2 || got.Constraints[0] != "budget under 10k" {
		t.Errorf("constraints = %v, want prior first then new", got.Constraints)
	}
}

func TestMergeIntentLowConfidence(t *testing.T) {
	prior := intent.Intent{Goal: "reduce energy costs"}
	next := intent.Intent{LowConfidence: true}
	if got := MergeIntent(prior, next); got.LowConfidence {
		t.Error("merge with established goal should clear low confidence")
	}
	if got := MergeIntent(intent.Intent{}, next); !got.LowConfidence {
		t.Error("merge with no prior goal should keep low confidence")
	}
}
