package llm

// ChatRequest is the outbound request body. The chat shape carries the full
// history and is answered with an SSE stream; the image-generation shape
// carries a single user prompt with GenerateImage set and is answered with
// an ImageResponse.
type ChatRequest struct {
	Messages      []Message `json:"messages"`
	GenerateImage bool      `json:"generateImage,omitempty"`
}

// NewImageRequest builds the image-generation request shape for a prompt.
func NewImageRequest(prompt string) *ChatRequest {
	return &ChatRequest{
		Messages:      []Message{{Role: "user", Content: TextOnly(prompt)}},
		GenerateImage: true,
	}
}

// Prompt returns the text of the last user message, used as the image prompt.
func (r *ChatRequest) Prompt() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content.Text()
		}
	}
	return ""
}
