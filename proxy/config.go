package proxy

// Config is the relay server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// Upstream OpenAI-compatible API base URL (e.g., "https://api.x.ai/v1")
	UpstreamURL string

	// APIKey is the upstream bearer key. Chat requests fail with 500 while
	// it is empty.
	APIKey string

	// ChatModel and ImageModel name the upstream models.
	ChatModel  string
	ImageModel string

	// Temperature is the sampling temperature for chat completions.
	Temperature float32
}
