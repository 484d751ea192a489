package ratelimit

import "testing"

func TestDefaultConfig_HasEmbedToolLimit(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GetToolLimit("embed") == nil {
		t.Fatal("expected DefaultConfig to carry an \"embed\" tool limit")
	}
}

func TestDefaultConfig_ToolNamesMatchAPIRoutePatterns(t *testing.T) {
	cfg := DefaultConfig()

	want := []string{
		"embed",
		"/api/v1/search",
		"/api/v1/memories",
		"/api/v1/memories/:id/migrate",
		"/api/v1/memories/:id/freeze",
		"/api/v1/memories/:id/unfreeze",
		"/api/v1/insights",
	}
	for _, name := range want {
		if cfg.GetToolLimit(name) == nil {
			t.Errorf("expected DefaultConfig to carry a tool limit named %q", name)
		}
	}
	if len(cfg.Tools) != len(want) {
		t.Errorf("expected %d tool limits, got %d", len(want), len(cfg.Tools))
	}
}
