package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"kanline/internal/domain"
)

// Config models kanline.yml.
type Config struct {
	Ledger struct {
		Path      string `yaml:"path"`
		IDPrefix  string `yaml:"id_prefix"`
		Initiator string `yaml:"initiator"`
	} `yaml:"ledger"`
	Workflow struct {
		// Advance is the fixed progression graph, state to next state.
		// It is configuration data: deployments disagreeing on the
		// Pending hop edit the graph instead of the code.
		Advance map[string]string `yaml:"advance"`
		// Stages maps a state to the organizational label routed to it.
		Stages map[string]string `yaml:"stages"`
	} `yaml:"workflow"`
	Heartbeat struct {
		ActiveSeconds  int `yaml:"active_seconds"`
		StalledSeconds int `yaml:"stalled_seconds"`
	} `yaml:"heartbeat"`
	Sanitizer struct {
		Markers  []string `yaml:"markers"`
		Prefixes []string `yaml:"prefixes"`
	} `yaml:"sanitizer"`
	Refresh struct {
		LivePath string `yaml:"live_path"`
		// Command is an optional argv list run after each refresh,
		// never a shell string.
		Command []string `yaml:"command"`
	} `yaml:"refresh"`
	Templates map[string]Template `yaml:"templates"`
}

// Template pre-seeds todos on tasks created from it. Todo titles may
// reference creation params as ${name}.
type Template struct {
	Todos []string `yaml:"todos"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "kanline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run kl init or start from the default template", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	cfg.anchor(workspace)
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in config anchored at a workspace.
func Default(workspace string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	cfg.anchor(workspace)
	return &cfg
}

// anchor resolves relative data paths against the workspace and fills
// missing fields from the defaults.
func (c *Config) anchor(workspace string) {
	if workspace == "" {
		workspace = "."
	}
	def := defaults()
	if c.Ledger.Path == "" {
		c.Ledger.Path = def.Ledger.Path
	}
	if c.Ledger.IDPrefix == "" {
		c.Ledger.IDPrefix = def.Ledger.IDPrefix
	}
	if c.Ledger.Initiator == "" {
		c.Ledger.Initiator = def.Ledger.Initiator
	}
	if len(c.Workflow.Advance) == 0 {
		c.Workflow.Advance = def.Workflow.Advance
	}
	if len(c.Workflow.Stages) == 0 {
		c.Workflow.Stages = def.Workflow.Stages
	}
	if c.Heartbeat.ActiveSeconds == 0 {
		c.Heartbeat.ActiveSeconds = def.Heartbeat.ActiveSeconds
	}
	if c.Heartbeat.StalledSeconds == 0 {
		c.Heartbeat.StalledSeconds = def.Heartbeat.StalledSeconds
	}
	if c.Refresh.LivePath == "" {
		c.Refresh.LivePath = def.Refresh.LivePath
	}
	if !filepath.IsAbs(c.Ledger.Path) {
		c.Ledger.Path = filepath.Join(workspace, c.Ledger.Path)
	}
	if !filepath.IsAbs(c.Refresh.LivePath) {
		c.Refresh.LivePath = filepath.Join(workspace, c.Refresh.LivePath)
	}
}

func defaults() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// Validate ensures the workflow graph is sound.
func (c *Config) Validate() error {
	known := map[domain.State]bool{
		domain.StatePending: true, domain.StateTaizi: true,
		domain.StateZhongshu: true, domain.StateMenxia: true,
		domain.StateAssigned: true, domain.StateNext: true,
		domain.StateDoing: true, domain.StateReview: true,
		domain.StateDone: true, domain.StateBlocked: true,
		domain.StateCancelled: true,
	}
	for from, to := range c.Workflow.Advance {
		if !known[domain.State(from)] {
			return fmt.Errorf("workflow.advance: unknown state %q", from)
		}
		if !known[domain.State(to)] {
			return fmt.Errorf("workflow.advance: unknown target state %q", to)
		}
		if domain.State(from) == domain.StateDone {
			return fmt.Errorf("workflow.advance: Done is terminal and cannot advance")
		}
		if domain.State(from).Paused() {
			return fmt.Errorf("workflow.advance: %s is a hold state; use resume", from)
		}
	}
	for state, label := range c.Workflow.Stages {
		if !known[domain.State(state)] {
			return fmt.Errorf("workflow.stages: unknown state %q", state)
		}
		if label == "" {
			return fmt.Errorf("workflow.stages: empty label for %s", state)
		}
	}
	if c.Heartbeat.ActiveSeconds < 0 || c.Heartbeat.StalledSeconds < 0 {
		return fmt.Errorf("heartbeat thresholds must be non-negative")
	}
	if c.Heartbeat.ActiveSeconds > 0 && c.Heartbeat.StalledSeconds > 0 &&
		c.Heartbeat.StalledSeconds <= c.Heartbeat.ActiveSeconds {
		return fmt.Errorf("heartbeat.stalled_seconds must exceed active_seconds")
	}
	return nil
}

// NextState returns the advance target for a state, if any.
func (c *Config) NextState(s domain.State) (domain.State, bool) {
	to, ok := c.Workflow.Advance[string(s)]
	return domain.State(to), ok
}

// StageLabel returns the organizational label for a state, falling back
// to the state name itself.
func (c *Config) StageLabel(s domain.State) string {
	if label, ok := c.Workflow.Stages[string(s)]; ok {
		return label
	}
	return string(s)
}

// HeartbeatActive returns the active threshold as a duration.
func (c *Config) HeartbeatActive() time.Duration {
	return time.Duration(c.Heartbeat.ActiveSeconds) * time.Second
}

// HeartbeatStalled returns the stalled threshold as a duration.
func (c *Config) HeartbeatStalled() time.Duration {
	return time.Duration(c.Heartbeat.StalledSeconds) * time.Second
}

// GenerateDefault returns the default config YAML for kl init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `ledger:
  path: data/tasks.json
  id_prefix: KAN
  initiator: dispatch

workflow:
  advance:
    Pending: Taizi
    Taizi: Zhongshu
    Zhongshu: Menxia
    Menxia: Assigned
    Assigned: Doing
    Next: Doing
    Doing: Review
    Review: Done
  stages:
    Pending: 候旨
    Taizi: 太子
    Zhongshu: 中书省
    Menxia: 门下省
    Assigned: 尚书省
    Next: 待办
    Doing: 执行中
    Review: 尚书省
    Done: 完成
    Blocked: 阻塞
    Cancelled: 已撤

heartbeat:
  active_seconds: 180
  stalled_seconds: 600

refresh:
  live_path: data/live_status.json

templates:
  delivery:
    todos:
      - "梳理需求：${goal}"
      - "拆解子任务并排期"
      - "产出交付物并自查"
      - "提交审核"
`
