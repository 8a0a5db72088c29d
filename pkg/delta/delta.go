// Package delta extracts incremental fragments from stream event payloads.
package delta

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Fragment is the piece of assistant output carried by one event. A chat
// chunk carries Text; an image-generation response carries ImageURL.
type Fragment struct {
	Text     string
	ImageURL string
}

// IsEmpty reports whether the fragment contributes nothing.
func (f Fragment) IsEmpty() bool {
	return f.Text == "" && f.ImageURL == ""
}

// IsImage reports whether the fragment is a terminal image reference.
func (f Fragment) IsImage() bool {
	return f.ImageURL != ""
}

// DecodeError reports a payload that could not be decoded. It is never
// fatal to a turn.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode event payload %q: %v", preview(e.Payload, 64), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// payload covers both documented fragment paths: choices[0].delta.content
// for chat chunks and data[0].url for image responses.
type payload struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Parse decodes one data payload into a fragment. Missing paths yield an
// empty fragment; malformed JSON yields a *DecodeError.
func Parse(raw string) (Fragment, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Fragment{}, &DecodeError{Payload: raw, Err: err}
	}

	var f Fragment
	if len(p.Choices) > 0 && p.Choices[0].Delta.Content != nil {
		f.Text = *p.Choices[0].Delta.Content
	}
	if len(p.Data) > 0 {
		f.ImageURL = p.Data[0].URL
	}
	return f, nil
}

// ParseImageResponse decodes a non-streamed image-generation response. A
// body without an image reference is a *DecodeError.
func ParseImageResponse(body []byte) (Fragment, error) {
	f, err := Parse(string(body))
	if err != nil {
		return Fragment{}, err
	}
	if !f.IsImage() {
		return Fragment{}, &DecodeError{Payload: string(body), Err: fmt.Errorf("no image reference at data[0].url")}
	}
	return Fragment{ImageURL: f.ImageURL}, nil
}

func preview(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
