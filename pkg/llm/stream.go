package llm

// StreamSentinel is the payload of the final SSE data line.
const StreamSentinel = "[DONE]"

// StreamChunk represents a single event payload in a streaming chat
// response. The incremental text lives at choices[0].delta.content.
type StreamChunk struct {
	ID      string         `json:"id,omitempty"`
	Model   string         `json:"model,omitempty"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice is one choice of a stream chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// StreamDelta carries the incremental fragment.
type StreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// NewTextChunk builds a single-choice chunk carrying a text fragment.
func NewTextChunk(text string) StreamChunk {
	return StreamChunk{Choices: []StreamChoice{{Delta: StreamDelta{Content: text}}}}
}

// Content returns the first choice's fragment, or "" when absent.
func (c *StreamChunk) Content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}
