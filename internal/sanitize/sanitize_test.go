package sanitize_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"kanline/internal/sanitize"
)

func TestCleanCutsAtMetadataMarker(t *testing.T) {
	var s sanitize.Sanitizer
	got := s.Clean("重构文件锁模块以支持超时 Conversation info (session=abc123, turn=4)")
	if got != "重构文件锁模块以支持超时" {
		t.Fatalf("marker not cut: %q", got)
	}
}

func TestCleanCutsAtCodeFence(t *testing.T) {
	var s sanitize.Sanitizer
	got := s.Clean("部署脚本整理与归档 ```bash\nrm -rf /tmp/x\n```")
	if got != "部署脚本整理与归档" {
		t.Fatalf("fence not cut: %q", got)
	}
}

func TestCleanStripsDirectivePrefixes(t *testing.T) {
	var s sanitize.Sanitizer
	cases := map[string]string{
		"传旨：梳理季度目标并产出排期文档": "梳理季度目标并产出排期文档",
		"下旨（自动预建）：整理数据管道监控指标": "整理数据管道监控指标",
		"dispatch: ship the quarterly report draft": "ship the quarterly report draft",
	}
	for in, want := range cases {
		if got := s.Clean(in); got != want {
			t.Fatalf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanTruncatesWithEllipsis(t *testing.T) {
	var s sanitize.Sanitizer
	got := s.Clean(strings.Repeat("长", 150))
	if n := utf8.RuneCountInString(got); n != sanitize.MaxDisplayRunes {
		t.Fatalf("expected %d runes, got %d", sanitize.MaxDisplayRunes, n)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("missing ellipsis: %q", got)
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	var s sanitize.Sanitizer
	inputs := []string{
		"传旨：传旨：双重前缀也要洗干净",
		strings.Repeat("a", 300),
		"正常标题不应被改动哦这里凑够十个字",
		"标题 Conversation info (x) 尾巴",
	}
	for _, in := range inputs {
		once := s.Clean(in)
		twice := s.Clean(once)
		if once != twice {
			t.Fatalf("not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestValidateTitleRejectsShort(t *testing.T) {
	var s sanitize.Sanitizer
	if err := s.ValidateTitle("太短了"); err == nil {
		t.Fatal("expected rejection for short title")
	}
}

func TestValidateTitleRejectsLowInformation(t *testing.T) {
	var s sanitize.Sanitizer
	for _, title := range []string{"ok", "OK", "好的", "测试", "..."} {
		if err := s.ValidateTitle(title); err == nil {
			t.Fatalf("expected rejection for %q", title)
		}
	}
}

func TestValidateTitleRejectsBarePath(t *testing.T) {
	var s sanitize.Sanitizer
	for _, title := range []string{
		"/var/log/app/server.log",
		"~/projects/kanline/data.json",
		"./scripts/deploy_all_regions.sh",
	} {
		if err := s.ValidateTitle(title); err == nil {
			t.Fatalf("expected rejection for %q", title)
		}
	}
	if err := s.ValidateTitle("清理 /var/log 下过期日志文件"); err != nil {
		t.Fatalf("path inside prose should pass: %v", err)
	}
}

func TestCleanTitleEndToEnd(t *testing.T) {
	var s sanitize.Sanitizer
	got, err := s.CleanTitle("传旨：优化夜间批处理任务窗口 Conversation info (turn=9)")
	if err != nil {
		t.Fatalf("clean title: %v", err)
	}
	if got != "优化夜间批处理任务窗口" {
		t.Fatalf("unexpected title: %q", got)
	}

	if _, err := s.CleanTitle("传旨：好的"); err == nil {
		t.Fatal("expected rejection after prefix strip leaves low-information text")
	}
}

func TestCustomMarkersAndPrefixes(t *testing.T) {
	s := sanitize.Sanitizer{
		Markers:  []string{"[meta]"},
		Prefixes: []string{"TASK:"},
	}
	got := s.Clean("TASK: rotate signing keys quarterly [meta] ignored")
	if got != "rotate signing keys quarterly" {
		t.Fatalf("custom sets not applied: %q", got)
	}
	// built-in defaults are replaced, not merged
	if got := s.Clean("传旨：保持原样的十个字标题"); got != "传旨：保持原样的十个字标题" {
		t.Fatalf("default prefix unexpectedly applied: %q", got)
	}
}
