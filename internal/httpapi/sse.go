package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"studioproxy/pkg/types"
)

// sseWriter emits server-sent events, flushing after every frame so
// chunks reach the client as they are produced.
type sseWriter struct {
	w     http.ResponseWriter
	flush func()
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flush: f.Flush}, nil
}

// WriteChunk writes one data frame. Write errors are swallowed: a broken
// client connection surfaces through the request context.
func (s *sseWriter) WriteChunk(chunk types.ChatCompletionChunk) {
	b, err := json.Marshal(chunk)
	if err != nil {
		zlogErr(err, "marshal sse chunk")
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", b)
	s.flush()
}

// WriteDone terminates a successful stream.
func (s *sseWriter) WriteDone() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flush()
}

func chunkDelta(id, model, delta string) types.ChatCompletionChunk {
	return types.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.DeltaChoice{{
			Delta: types.Message{Role: "assistant", Content: delta},
		}},
	}
}

func chunkFinish(id, model string) types.ChatCompletionChunk {
	reason := "stop"
	return types.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.DeltaChoice{{
			Delta:        types.Message{},
			FinishReason: &reason,
		}},
	}
}

// chunkError conveys an in-band failure after the 200 header is gone out.
func chunkError(id, model string, err error) types.ChatCompletionChunk {
	reason := "error"
	return types.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.DeltaChoice{{
			Delta:        types.Message{Role: "assistant", Content: "\n[error] " + err.Error()},
			FinishReason: &reason,
		}},
	}
}
