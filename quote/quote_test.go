package quote

import (
	"reflect"
	"regexp"
	"strings"
	"testing"
)

func testTrimmer() *Trimmer {
	return NewTrimmer(Settings{SiteTitle: "Meta Forum", PreviousDiscussion: "Previous Replies"})
}

func TestTrim(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		want     string
		stopRule string
	}{
		{
			name:     "separator",
			lines:    []string{"Hello\n", "-----\n", "Quoted reply\n"},
			want:     "Hello",
			stopRule: "separator",
		},
		{
			name:     "first line is a separator",
			lines:    []string{"-----\n", "x\n"},
			want:     "-----",
			stopRule: "separator",
		},
		{
			name:     "separator with surrounding whitespace",
			lines:    []string{"Hi\n", "  ----------   \n", "old\n"},
			want:     "Hi",
			stopRule: "separator",
		},
		{
			name:  "two dashes are not a separator",
			lines: []string{"Hi\n", "--\n", "Bob\n"},
			want:  "Hi\n--\nBob",
		},
		{
			name:  "more than eighty dashes are not a separator",
			lines: []string{"Hi\n", strings.Repeat("-", 81) + "\n", "Bob\n"},
			want:  "Hi\n" + strings.Repeat("-", 81) + "\nBob",
		},
		{
			name:     "previous discussion heading",
			lines:    []string{"Sounds good\n", "\n", "  Previous Replies  \n", "older post\n"},
			want:     "Sounds good",
			stopRule: "previous-discussion",
		},
		{
			name:  "previous discussion inside a sentence",
			lines: []string{"See Previous Replies below\n", "ok\n"},
			want:  "See Previous Replies below\nok",
		},
		{
			name:     "via site title",
			lines:    []string{"Agreed.\n", "On Mon, Alice via Meta Forum <meta@example.com>:\n", "> text\n"},
			want:     "Agreed.",
			stopRule: "via-site",
		},
		{
			name:     "dated reply header",
			lines:    []string{"Thanks!\n", "\n", "On Jan 1, 2020 at 3:45pm, Bob wrote:\n", "> original\n"},
			want:     "Thanks!",
			stopRule: "dated-header",
		},
		{
			name:     "dated reply header with crlf",
			lines:    []string{"Danke\r\n", "Am 01.02.2021 um 13:37 schrieb Eve:\r\n", "> alt\r\n"},
			want:     "Danke",
			stopRule: "dated-header",
		},
		{
			name:  "date without trailing colon is kept",
			lines: []string{"Meeting on 2021-05-04 at 9:30 works\n"},
			want:  "Meeting on 2021-05-04 at 9:30 works",
		},
		{
			name:  "no trailing newline",
			lines: []string{"one\n", "two"},
			want:  "one\ntwo",
		},
		{
			name:  "empty body",
			lines: nil,
			want:  "",
		},
	}

	trimmer := testTrimmer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rule := trimmer.TrimWithRule(strings.Join(tt.lines, ""))
			if got != tt.want {
				t.Errorf("Trim() = %q, want %q", got, tt.want)
			}
			if rule != tt.stopRule {
				t.Errorf("stopped by %q, want %q", rule, tt.stopRule)
			}
		})
	}
}

func TestRulesSkipEmptySettings(t *testing.T) {
	var names []string
	for _, rule := range NewTrimmer(Settings{}).Rules() {
		names = append(names, rule.Name)
	}
	want := []string{"separator", "dated-header"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("rules = %v, want %v", names, want)
	}

	// without a title "via anything:" lines are kept
	got := NewTrimmer(Settings{}).Trim("a\nsent via Something:\nb\n")
	if got != "a\nsent via Something:\nb" {
		t.Errorf("Trim() = %q", got)
	}
}

func TestSettingsAreQuoted(t *testing.T) {
	trimmer := NewTrimmer(Settings{SiteTitle: "C++ (dev)", PreviousDiscussion: "Earlier [replies]"})

	if got := trimmer.Trim("x\nHi via C++ (dev) team:\ny\n"); got != "x" {
		t.Errorf("title rule: Trim() = %q", got)
	}
	if got := trimmer.Trim("x\nEarlier [replies]\ny\n"); got != "x" {
		t.Errorf("phrase rule: Trim() = %q", got)
	}
	if got := trimmer.Trim("x\nEarlier r\ny\n"); got != "x\nEarlier r\ny" {
		t.Errorf("phrase must match literally: Trim() = %q", got)
	}
}

func TestWithRules(t *testing.T) {
	outlook := regexp.MustCompile(`^-+ ?Original Message ?-+`)
	base := NewTrimmer(Settings{})
	extended := base.WithRules(Rule{Name: "original-message", Match: outlook.MatchString})

	body := "Reply\n----- Original Message -----\nFrom: x\n"
	if got := base.Trim(body); got != strings.TrimSpace(body) {
		t.Errorf("base Trim() = %q", got)
	}
	got, rule := extended.TrimWithRule(body)
	if got != "Reply" || rule != "original-message" {
		t.Errorf("extended Trim() = %q by %q", got, rule)
	}
	if len(base.Rules()) != 2 {
		t.Errorf("WithRules must not modify the receiver")
	}
}

func TestLines(t *testing.T) {
	got := Lines("a\nb\r\nc")
	want := []string{"a\n", "b\r\n", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %q, want %q", got, want)
	}
	if Lines("") != nil {
		t.Error("Lines(\"\") should be nil")
	}
}

func BenchmarkTrimLongLine(b *testing.B) {
	body := strings.Repeat("1234 ", 20000) + "9:99\n" + strings.Repeat("x", 100000) + "\n"
	trimmer := testTrimmer()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		trimmer.Trim(body)
	}
}
