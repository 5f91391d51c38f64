package browser

import (
	"strings"
	"testing"

	"studioproxy/pkg/types"
)

func TestTextDelta(t *testing.T) {
	cases := []struct {
		name       string
		prev, cur  string
		wantDelta  string
		wantExtend bool
	}{
		{"growth", "Hello", "Hello world", " world", true},
		{"no change", "Hello", "Hello", "", true},
		{"from empty", "", "Hi", "Hi", true},
		{"replaced", "Hello", "Goodbye", "", false},
		{"shrunk", "Hello world", "Hello", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			delta, ok := TextDelta(tc.prev, tc.cur)
			if ok != tc.wantExtend {
				t.Fatalf("ok: got %v want %v", ok, tc.wantExtend)
			}
			if delta != tc.wantDelta {
				t.Fatalf("delta: got %q want %q", delta, tc.wantDelta)
			}
		})
	}
}

func TestBuildPromptSingleUserMessage(t *testing.T) {
	got := BuildPrompt([]types.Message{{Role: "user", Content: "just this"}})
	if got != "just this" {
		t.Fatalf("single user message must pass through untouched, got %q", got)
	}
}

func TestBuildPromptMultiTurn(t *testing.T) {
	got := BuildPrompt([]types.Message{
		{Role: "system", Content: "Be terse."},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "bye"},
	})
	for _, want := range []string{"System: Be terse.", "User: hi", "Assistant: hello", "User: bye"} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.HasSuffix(got, "\n") {
		t.Fatalf("trailing newline left in prompt: %q", got)
	}
	// Role framing preserves the original order.
	if strings.Index(got, "System:") > strings.Index(got, "User: hi") {
		t.Fatal("turn order lost")
	}
}

func TestModelOptionFor(t *testing.T) {
	s := DefaultSelectors()
	got := s.ModelOptionFor("gemini-1.5-pro")
	if !strings.Contains(got, `"gemini-1.5-pro"`) {
		t.Fatalf("selector missing quoted model id: %q", got)
	}
}
