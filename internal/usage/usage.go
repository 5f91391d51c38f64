// Package usage provides approximate token accounting for completions.
// Counts are advisory: the automation session does not report real token
// usage, so we count with a local BPE encoder and fall back to a
// character heuristic when the encoding is unavailable.
package usage

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"studioproxy/pkg/types"
)

const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			// Offline or missing encoding assets; Tokens falls back.
			return
		}
		enc = e
	})
	return enc
}

// Tokens counts the tokens in s.
func Tokens(s string) int {
	if s == "" {
		return 0
	}
	if e := encoder(); e != nil {
		return len(e.Encode(s, nil, nil))
	}
	// Rough heuristic: ~4 characters per token.
	n := (len(s) + 3) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// Count builds the usage block for a completion: prompt tokens over all
// messages (with a small per-message overhead for role framing) plus
// completion tokens.
func Count(messages []types.Message, completion string) types.Usage {
	prompt := 0
	for _, m := range messages {
		prompt += Tokens(m.Content) + 4
	}
	out := Tokens(completion)
	return types.Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}
