package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"kanline/internal/config"
	"kanline/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default("/ws")
	if cfg.Ledger.Path != "/ws/data/tasks.json" {
		t.Fatalf("ledger path: %s", cfg.Ledger.Path)
	}
	if cfg.Ledger.IDPrefix != "KAN" || cfg.Ledger.Initiator != "dispatch" {
		t.Fatalf("ledger defaults: %+v", cfg.Ledger)
	}
	if cfg.HeartbeatActive() != 180*time.Second || cfg.HeartbeatStalled() != 600*time.Second {
		t.Fatalf("heartbeat defaults: %+v", cfg.Heartbeat)
	}
	if _, ok := cfg.Templates["delivery"]; !ok {
		t.Fatal("delivery template missing")
	}
}

func TestNextStateGraph(t *testing.T) {
	cfg := config.Default(".")
	hops := map[domain.State]domain.State{
		domain.StatePending:  domain.StateTaizi,
		domain.StateTaizi:    domain.StateZhongshu,
		domain.StateZhongshu: domain.StateMenxia,
		domain.StateMenxia:   domain.StateAssigned,
		domain.StateAssigned: domain.StateDoing,
		domain.StateNext:     domain.StateDoing,
		domain.StateDoing:    domain.StateReview,
		domain.StateReview:   domain.StateDone,
	}
	for from, want := range hops {
		got, ok := cfg.NextState(from)
		if !ok || got != want {
			t.Fatalf("NextState(%s) = %s,%v want %s", from, got, ok, want)
		}
	}
	for _, s := range []domain.State{domain.StateDone, domain.StateBlocked, domain.StateCancelled} {
		if _, ok := cfg.NextState(s); ok {
			t.Fatalf("%s should have no next state", s)
		}
	}
}

func TestStageLabelFallback(t *testing.T) {
	cfg := config.Default(".")
	if cfg.StageLabel(domain.StateZhongshu) != "中书省" {
		t.Fatalf("label: %s", cfg.StageLabel(domain.StateZhongshu))
	}
	cfg.Workflow.Stages = nil
	if cfg.StageLabel(domain.StateZhongshu) != "Zhongshu" {
		t.Fatalf("fallback: %s", cfg.StageLabel(domain.StateZhongshu))
	}
}

func TestValidateRejectsBadGraphs(t *testing.T) {
	cases := []string{
		"workflow:\n  advance:\n    Nowhere: Doing\n",
		"workflow:\n  advance:\n    Doing: Nowhere\n",
		"workflow:\n  advance:\n    Done: Pending\n",
		"workflow:\n  advance:\n    Blocked: Doing\n",
		"heartbeat:\n  active_seconds: 600\n  stalled_seconds: 180\n",
	}
	for _, yml := range cases {
		if _, err := config.FromYAML([]byte(yml)); err == nil {
			t.Fatalf("expected validation error for:\n%s", yml)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	ws := t.TempDir()

	cfg, err := config.LoadOptional(ws)
	if err != nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if cfg.Ledger.IDPrefix != "KAN" {
		t.Fatalf("defaults not applied: %+v", cfg.Ledger)
	}

	custom := `ledger:
  id_prefix: OPS
workflow:
  advance:
    Zhongshu: Doing
    Doing: Done
`
	if err := os.WriteFile(config.Path(ws), []byte(custom), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = config.LoadOptional(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ledger.IDPrefix != "OPS" {
		t.Fatalf("override lost: %s", cfg.Ledger.IDPrefix)
	}
	if next, ok := cfg.NextState(domain.StateZhongshu); !ok || next != domain.StateDoing {
		t.Fatalf("custom graph lost: %s %v", next, ok)
	}
	// untouched sections fall back to defaults and paths anchor to the workspace
	if cfg.Ledger.Initiator != "dispatch" {
		t.Fatalf("initiator default lost: %s", cfg.Ledger.Initiator)
	}
	if cfg.Ledger.Path != filepath.Join(ws, "data", "tasks.json") {
		t.Fatalf("path not anchored: %s", cfg.Ledger.Path)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("default template invalid: %v", err)
	}
	if len(cfg.Workflow.Advance) == 0 {
		t.Fatal("default template missing workflow graph")
	}
}
