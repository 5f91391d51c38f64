package types

// Message is one role-tagged entry in a chat conversation.
type Message struct {
	// Role of the author: system, user or assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// Text content of the message.
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// GenParams are the generation parameters applied to the live session
// before a completion runs.
type GenParams struct {
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Maximum number of output tokens to generate.
	// example: 1024
	MaxOutputTokens int `json:"max_output_tokens,omitempty" example:"1024"`
	// Optional stop sequences.
	Stop []string `json:"stop,omitempty"`
}

// Equal reports whether two parameter sets would produce the same
// session-side configuration.
func (p GenParams) Equal(o GenParams) bool {
	if p.Temperature != o.Temperature || p.TopP != o.TopP || p.MaxOutputTokens != o.MaxOutputTokens {
		return false
	}
	if len(p.Stop) != len(o.Stop) {
		return false
	}
	for i := range p.Stop {
		if p.Stop[i] != o.Stop[i] {
			return false
		}
	}
	return true
}

// ChatCompletionRequest is the request payload for POST /v1/chat/completions.
type ChatCompletionRequest struct {
	// Target model identifier. If empty, the server default is used.
	// example: gemini-1.5-pro
	Model string `json:"model,omitempty" example:"gemini-1.5-pro"`
	// Ordered conversation messages. At least one is required.
	Messages []Message `json:"messages"`
	// If true, stream results as SSE chunks.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Sampling temperature.
	Temperature float64 `json:"temperature,omitempty"`
	// Nucleus sampling probability.
	TopP float64 `json:"top_p,omitempty"`
	// Maximum output tokens.
	MaxTokens int `json:"max_tokens,omitempty"`
	// Optional stop sequences.
	Stop []string `json:"stop,omitempty"`
}

// Params projects the request's generation knobs into a GenParams set.
func (r ChatCompletionRequest) Params() GenParams {
	return GenParams{
		Temperature:     r.Temperature,
		TopP:            r.TopP,
		MaxOutputTokens: r.MaxTokens,
		Stop:            r.Stop,
	}
}

// Usage is the token accounting block attached to completions.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion alternative. The proxy always produces
// exactly one.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatCompletionResponse is the whole (non-streaming) response payload.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// DeltaChoice is one incremental fragment in a streamed completion.
type DeltaChoice struct {
	Index        int     `json:"index"`
	Delta        Message `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is a single SSE data frame in a streamed completion.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []DeltaChoice `json:"choices"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: request queue is full
	Error string `json:"error" example:"request queue is full"`
	// HTTP status code.
	// example: 429
	Code int `json:"code" example:"429"`
}
