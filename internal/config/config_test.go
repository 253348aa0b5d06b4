package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.DBPath != "module_advisor.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.BlendWeight != 0.6 {
		t.Errorf("BlendWeight = %v", cfg.BlendWeight)
	}
	if cfg.AffinityDecay != 0.8 || cfg.AffinityClip != 0.15 {
		t.Errorf("affinity params = %v, %v", cfg.AffinityDecay, cfg.AffinityClip)
	}
	if cfg.LLMTimeout != 30*time.Second {
		t.Errorf("LLMTimeout = %v", cfg.LLMTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ADVISOR_DB", "/tmp/other.db")
	t.Setenv("RETRIEVAL_BLEND_WEIGHT", "0.4")
	t.Setenv("RATIONALE_CONCURRENCY", "8")
	t.Setenv("LLM_TIMEOUT", "5s")

	cfg := Load()
	if cfg.DBPath != "/tmp/other.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.BlendWeight != 0.4 {
		t.Errorf("BlendWeight = %v", cfg.BlendWeight)
	}
	if cfg.RationaleConcurrency != 8 {
		t.Errorf("RationaleConcurrency = %d", cfg.RationaleConcurrency)
	}
	if cfg.LLMTimeout != 5*time.Second {
		t.Errorf("LLMTimeout = %v", cfg.LLMTimeout)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RETRIEVAL_TOP_K", "not-a-number")
	cfg := Load()
	if cfg.DefaultTopK != 10 {
		t.Errorf("DefaultTopK = %d, want default 10", cfg.DefaultTopK)
	}
}
