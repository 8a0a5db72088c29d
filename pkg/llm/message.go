package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Content part types for multi-part message content.
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// Message represents a single message in an outbound chat request.
type Message struct {
	Role    string  `json:"role"`    // "user", "assistant"
	Content Content `json:"content"` // Plain string or multi-part array on the wire
}

// ImageURL wraps an image reference in a content part.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multi-part content array.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Content is the message content union. On the wire it is either a plain
// string (TextOnly) or a [text, image_url] part array (TextWithImage).
type Content struct {
	text     string
	imageRef string
}

// TextOnly builds plain string content.
func TextOnly(text string) Content {
	return Content{text: text}
}

// TextWithImage builds multi-part content carrying a text part and an image part.
func TextWithImage(text, imageRef string) Content {
	return Content{text: text, imageRef: imageRef}
}

// Text returns the text portion of the content.
func (c Content) Text() string { return c.text }

// ImageRef returns the image reference, empty for text-only content.
func (c Content) ImageRef() string { return c.imageRef }

// HasImage reports whether the content is the multi-part form.
func (c Content) HasImage() bool { return c.imageRef != "" }

// Parts returns the multi-part form of the content.
func (c Content) Parts() []ContentPart {
	parts := []ContentPart{{Type: PartTypeText, Text: c.text}}
	if c.imageRef != "" {
		parts = append(parts, ContentPart{Type: PartTypeImageURL, ImageURL: &ImageURL{URL: c.imageRef}})
	}
	return parts
}

// MarshalJSON emits a string for text-only content and a part array otherwise.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.imageRef == "" {
		return json.Marshal(c.text)
	}
	return json.Marshal(c.Parts())
}

// UnmarshalJSON accepts either wire form. Multiple text parts are joined
// with newlines; the first image part wins.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextOnly(s)
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content is neither a string nor a part array: %w", err)
	}

	var out Content
	for _, p := range parts {
		switch p.Type {
		case PartTypeText:
			if out.text != "" {
				out.text += "\n"
			}
			out.text += p.Text
		case PartTypeImageURL:
			if p.ImageURL != nil && out.imageRef == "" {
				out.imageRef = p.ImageURL.URL
			}
		}
	}
	*c = out
	return nil
}
