package llm

// ImageResponse is the non-streamed image-generation response. The image
// reference lives at data[0].url.
type ImageResponse struct {
	Created int64       `json:"created,omitempty"`
	Data    []ImageData `json:"data"`
}

// ImageData is one generated image.
type ImageData struct {
	URL           string `json:"url,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}
