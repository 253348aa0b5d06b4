package feedback

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/buildingos/module-advisor/internal/intent"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "feedback.db"), 0.8)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedInteraction(t *testing.T, s *Store, id, userID string) {
	t.Helper()
	err := s.AppendInteraction(context.Background(), Interaction{
		ID:             id,
		ConversationID: "conv-1",
		UserID:         userID,
		Intent:         intent.Intent{Goal: "reduce energy costs", Theme: "energy_management"},
		Recommendations: []RecommendationRecord{
			{ModuleID: "energy-analyzer", Rank: 1, Score: 0.91, Priority: "high"},
		},
	})
	if err != nil {
		t.Fatalf("seed interaction: %v", err)
	}
}

func TestSignalMapping(t *testing.T) {
	cases := []struct {
		action Action
		rating int
		want   float64
	}{
		{ActionDeployed, 0, 1.0},
		{ActionAccepted, 0, 0.6},
		{ActionRejected, 0, -0.6},
		{ActionRating, 5, 1.0},
		{ActionRating, 4, 0.5},
		{ActionRating, 3, 0},
		{ActionRating, 1, -1.0},
		{ActionRating, 9, 1.0},
	}
	for _, c := range cases {
		if got := signal(c.action, c.rating); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("signal(%s, %d) = %v, want %v", c.action, c.rating, got, c.want)
		}
	}
}

func TestRecordUpdatesModuleAndThemeAffinity(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	seedInteraction(t, s, "int-1", "user-1")
	seedInteraction(t, s, "int-2", "user-1")

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	err := s.Record(ctx, Feedback{
		UserID: "user-1", InteractionID: "int-1", ModuleID: "energy-analyzer",
		ModuleTheme: "energy_management", Action: ActionDeployed, OccurredAt: base,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	err = s.Record(ctx, Feedback{
		UserID: "user-1", InteractionID: "int-2", ModuleID: "energy-analyzer",
		ModuleTheme: "energy_management", Action: ActionAccepted, OccurredAt: base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	p, err := s.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	// 0 -> 0.8*0 + 0.2*1.0 = 0.2 -> 0.8*0.2 + 0.2*0.6 = 0.28
	if got := p.Affinities["module:energy-analyzer"]; math.Abs(got-0.28) > 1e-9 {
		t.Errorf("module affinity = %v, want 0.28", got)
	}
	if got := p.Affinities["theme:energy_management"]; math.Abs(got-0.28) > 1e-9 {
		t.Errorf("theme affinity = %v, want 0.28", got)
	}
}

func TestRecordDuplicateIsIdempotent(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	seedInteraction(t, s, "int-1", "user-1")

	fb := Feedback{
		UserID: "user-1", InteractionID: "int-1", ModuleID: "energy-analyzer",
		ModuleTheme: "energy_management", Action: ActionDeployed,
		OccurredAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	for i := 0; i < 3; i++ {
		if err := s.Record(ctx, fb); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	p, err := s.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if got := p.Affinities["module:energy-analyzer"]; math.Abs(got-0.2) > 1e-9 {
		t.Errorf("affinity after replays = %v, want 0.2", got)
	}
}

func TestRecordSupersedesNotDoubleApplies(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	seedInteraction(t, s, "int-1", "user-1")

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	early := Feedback{
		UserID: "user-1", InteractionID: "int-1", ModuleID: "energy-analyzer",
		ModuleTheme: "energy_management", Action: ActionAccepted, OccurredAt: base,
	}
	late := Feedback{
		UserID: "user-1", InteractionID: "int-1", ModuleID: "energy-analyzer",
		ModuleTheme: "energy_management", Action: ActionRejected, OccurredAt: base.Add(time.Hour),
	}
	if err := s.Record(ctx, early); err != nil {
		t.Fatalf("record early: %v", err)
	}
	if err := s.Record(ctx, late); err != nil {
		t.Fatalf("record late: %v", err)
	}
	// A stale replay of the earlier event must not win.
	if err := s.Record(ctx, early); err != nil {
		t.Fatalf("replay early: %v", err)
	}

	p, err := s.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	// Only the rejection survives: 0.2 * -0.6 = -0.12.
	if got := p.Affinities["module:energy-analyzer"]; math.Abs(got-(-0.12)) > 1e-9 {
		t.Errorf("affinity = %v, want -0.12", got)
	}
}

func TestRecordSupersedesWithinSameSecond(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	seedInteraction(t, s, "int-1", "user-1")

	base := time.Date(2026, 8, 1, 10, 0, 5, 0, time.UTC)
	rejected := Feedback{
		UserID: "user-1", InteractionID: "int-1", ModuleID: "energy-analyzer",
		ModuleTheme: "energy_management", Action: ActionRejected, OccurredAt: base,
	}
	deployed := rejected
	deployed.Action = ActionDeployed
	deployed.OccurredAt = base.Add(500 * time.Millisecond)

	if err := s.Record(ctx, rejected); err != nil {
		t.Fatalf("record rejected: %v", err)
	}
	// Half a second later: the fractional timestamp must supersede the
	// whole-second one even though both share the same second.
	if err := s.Record(ctx, deployed); err != nil {
		t.Fatalf("record deployed: %v", err)
	}

	p, err := s.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if got := p.Affinities["module:energy-analyzer"]; math.Abs(got-0.2) > 1e-9 {
		t.Errorf("affinity = %v, want 0.2 from the superseding deployment", got)
	}
}

func TestRecordOutOfOrderConverges(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	events := []Feedback{
		{UserID: "u", InteractionID: "int-1", ModuleID: "hvac-optimizer",
			ModuleTheme: "hvac", Action: ActionDeployed, OccurredAt: base},
		{UserID: "u", InteractionID: "int-2", ModuleID: "hvac-optimizer",
			ModuleTheme: "hvac", Action: ActionRejected, OccurredAt: base.Add(time.Hour)},
		{UserID: "u", InteractionID: "int-3", ModuleID: "hvac-optimizer",
			ModuleTheme: "hvac", Action: ActionRating, Rating: 4, OccurredAt: base.Add(2 * time.Hour)},
	}

	apply := func(order []int) Profile {
		s := tempStore(t)
		for _, id := range []string{"int-1", "int-2", "int-3"} {
			seedInteraction(t, s, id, "u")
		}
		for _, i := range order {
			if err := s.Record(ctx, events[i]); err != nil {
				t.Fatalf("record: %v", err)
			}
		}
		p, err := s.GetProfile(ctx, "u")
		if err != nil {
			t.Fatalf("profile: %v", err)
		}
		return p
	}

	forward := apply([]int{0, 1, 2})
	shuffled := apply([]int{2, 0, 1})
	for key, want := range forward.Affinities {
		if got := shuffled.Affinities[key]; math.Abs(got-want) > 1e-9 {
			t.Errorf("affinity[%s] = %v out of order, want %v", key, got, want)
		}
	}
}

func TestRecordUnknownInteraction(t *testing.T) {
	s := tempStore(t)
	err := s.Record(context.Background(), Feedback{
		UserID: "user-1", InteractionID: "nope", ModuleID: "energy-analyzer",
		Action: ActionAccepted,
	})
	if !errors.Is(err, ErrUnknownInteraction) {
		t.Fatalf("err = %v, want ErrUnknownInteraction", err)
	}
}

func TestBoostPrefersModuleOverTheme(t *testing.T) {
	p := Profile{Affinities: map[string]float64{
		"module:energy-analyzer":  0.3,
		"theme:energy_management": -0.1,
	}}
	if got := p.Boost("energy-analyzer", "energy_management"); got != 0.3 {
		t.Errorf("module boost = %v, want 0.3", got)
	}
	if got := p.Boost("load-balancer", "energy_management"); got != -0.1 {
		t.Errorf("theme boost = %v, want -0.1", got)
	}
	if got := p.Boost("load-balancer", "security"); got != 0 {
		t.Errorf("unknown boost = %v, want 0", got)
	}
}

func TestInteractionRoundTripAndRecent(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"int-a", "int-b", "int-c"} {
		err := s.AppendInteraction(ctx, Interaction{
			ID: id, ConversationID: "conv-1", UserID: "user-1",
			Intent:    intent.Intent{Goal: "improve air quality"},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	got, ok, err := s.GetInteraction(ctx, "int-b")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Intent.Goal != "improve air quality" {
		t.Errorf("goal = %q", got.Intent.Goal)
	}

	recent, err := s.RecentByUser(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "int-c" || recent[1].ID != "int-b" {
		t.Fatalf("recent order = %+v, want int-c then int-b", recent)
	}

	if err := s.AppendInteraction(ctx, Interaction{ID: "int-a", UserID: "user-1"}); err == nil {
		t.Fatal("expected duplicate interaction id to be rejected")
	}
}

func TestTrendingCountsPositiveSignals(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, id := range []string{"int-1", "int-2", "int-3", "int-4"} {
		seedInteraction(t, s, id, "user-1")
	}

	records := []Feedback{
		{UserID: "user-1", InteractionID: "int-1", ModuleID: "energy-analyzer",
			ModuleTheme: "energy_management", Action: ActionDeployed, OccurredAt: now.Add(-time.Hour)},
		{UserID: "user-1", InteractionID: "int-2", ModuleID: "energy-analyzer",
			ModuleTheme: "energy_management", Action: ActionAccepted, OccurredAt: now.Add(-2 * time.Hour)},
		{UserID: "user-1", InteractionID: "int-3", ModuleID: "hvac-optimizer",
			ModuleTheme: "hvac", Action: ActionRating, Rating: 5, OccurredAt: now.Add(-3 * time.Hour)},
		// Rejections never trend.
		{UserID: "user-1", InteractionID: "int-4", ModuleID: "access-control",
			ModuleTheme: "security", Action: ActionRejected, OccurredAt: now.Add(-time.Hour)},
	}
	for _, fb := range records {
		if err := s.Record(ctx, fb); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.Trending(ctx, 30*24*time.Hour, 10)
	if err != nil {
		t.Fatalf("trending: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("trending len = %d, want 2: %+v", len(got), got)
	}
	if got[0].ModuleID != "energy-analyzer" || got[0].Count != 2 {
		t.Errorf("top = %+v, want energy-analyzer x2", got[0])
	}
	if got[1].ModuleID != "hvac-optimizer" || got[1].Count != 1 {
		t.Errorf("second = %+v, want hvac-optimizer x1", got[1])
	}
}
