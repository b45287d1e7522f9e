// Package sanitize cleans free-text titles and remarks before they enter
// the task ledger. Upstream automation free-forms its input, so candidate
// text can carry chat chit-chat, tool-call metadata, code fences, or bare
// file paths. Cleaning is an ordered pipeline of pure string transforms;
// each step is independently testable and the whole pipeline is idempotent.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MinTitleRunes is the shortest sanitized title accepted at creation.
	MinTitleRunes = 10
	// MaxDisplayRunes is where cleaned text is cut with an ellipsis.
	MaxDisplayRunes = 100
)

// DefaultMarkers begin trailing metadata blocks that must be cut off.
// Session scrapers append trailers like "Conversation info (…)".
var DefaultMarkers = []string{"Conversation info (", "Conversation "}

// DefaultPrefixes are directive prefixes stripped from the front of a
// candidate title, in both full-width and ASCII colon forms.
var DefaultPrefixes = []string{
	"传旨：", "传旨:",
	"下旨（自动预建）：", "下旨：", "下旨:",
	"dispatch：", "dispatch:",
}

// lowInformation lists utterances that are never a task description.
// Compared case-insensitively against the sanitized title.
var lowInformation = map[string]struct{}{
	"ok": {}, "okay": {}, "yes": {}, "no": {}, "done": {},
	"test": {}, "测试": {}, "好的": {}, "好": {}, "嗯": {}, "收到": {},
	"可以": {}, "行": {}, "谢谢": {}, "thanks": {},
	".": {}, "..": {}, "...": {}, "。": {}, "?": {}, "？": {}, "!": {}, "！": {},
}

// barePath matches a string that is nothing but a filesystem path.
var barePath = regexp.MustCompile(`^(~|\.{1,2})?/\S*$`)

// ValidationError reports a title rejected after sanitization. The ledger
// is never mutated for a rejected title.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid title: %s", e.Reason)
}

// Sanitizer carries the configurable marker and prefix sets. The zero
// value uses the defaults.
type Sanitizer struct {
	Markers  []string
	Prefixes []string
}

func (s Sanitizer) markers() []string {
	if len(s.Markers) > 0 {
		return s.Markers
	}
	return DefaultMarkers
}

func (s Sanitizer) prefixes() []string {
	if len(s.Prefixes) > 0 {
		return s.Prefixes
	}
	return DefaultPrefixes
}

// Clean runs the full pipeline: cut at the first metadata marker, cut at
// the first fenced code block, strip one leading directive prefix, trim
// whitespace, and truncate overlong text with an ellipsis. Remarks go
// through Clean only; they are never rejected because they annotate an
// already-valid task.
func (s Sanitizer) Clean(in string) string {
	out := in
	for _, marker := range s.markers() {
		if i := strings.Index(out, marker); i >= 0 {
			out = out[:i]
		}
	}
	if i := strings.Index(out, "```"); i >= 0 {
		out = out[:i]
	}
	trimmed := strings.TrimSpace(out)
	for stripped := true; stripped; {
		stripped = false
		for _, prefix := range s.prefixes() {
			if rest, ok := strings.CutPrefix(trimmed, prefix); ok {
				trimmed = strings.TrimSpace(rest)
				stripped = true
			}
		}
	}
	return truncateRunes(trimmed, MaxDisplayRunes)
}

// ValidateTitle checks an already-cleaned title. It rejects text that is
// too short, a known low-information utterance, or a bare filesystem path
// with no other content.
func (s Sanitizer) ValidateTitle(title string) error {
	if utf8.RuneCountInString(title) < MinTitleRunes {
		return ValidationError{Reason: fmt.Sprintf("shorter than %d characters", MinTitleRunes)}
	}
	if _, ok := lowInformation[strings.ToLower(title)]; ok {
		return ValidationError{Reason: "low-information utterance"}
	}
	if barePath.MatchString(title) {
		return ValidationError{Reason: "bare filesystem path"}
	}
	return nil
}

// CleanTitle is Clean followed by ValidateTitle, returning the cleaned
// title on success.
func (s Sanitizer) CleanTitle(in string) (string, error) {
	title := s.Clean(in)
	if err := s.ValidateTitle(title); err != nil {
		return "", err
	}
	return title, nil
}

// truncateRunes cuts to max runes total, ellipsis included, so cleaning
// an already-cleaned string is a no-op.
func truncateRunes(in string, max int) string {
	if utf8.RuneCountInString(in) <= max {
		return in
	}
	runes := []rune(in)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}
