package llm_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/koziky/pkg/llm"
)

var _ = Describe("Content", func() {
	It("encodes text-only content as a plain string", func() {
		data, err := json.Marshal(llm.Message{Role: "user", Content: llm.TextOnly("hi")})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(MatchJSON(`{"role":"user","content":"hi"}`))
	})

	It("encodes content with an image as a text part and an image part", func() {
		data, err := json.Marshal(llm.Message{Role: "user", Content: llm.TextWithImage("what is this", "https://x/y.png")})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(MatchJSON(`{
			"role": "user",
			"content": [
				{"type": "text", "text": "what is this"},
				{"type": "image_url", "image_url": {"url": "https://x/y.png"}}
			]
		}`))
	})

	It("chooses the shape per message within one request", func() {
		req := llm.ChatRequest{Messages: []llm.Message{
			{Role: "user", Content: llm.TextWithImage("look", "data:image/png;base64,AAAA")},
			{Role: "assistant", Content: llm.TextOnly("a cat")},
		}}
		data, err := json.Marshal(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(MatchJSON(`{"messages":[
			{"role":"user","content":[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}]},
			{"role":"assistant","content":"a cat"}
		]}`))
	})

	It("decodes either wire form", func() {
		var m llm.Message
		Expect(json.Unmarshal([]byte(`{"role":"user","content":"plain"}`), &m)).To(Succeed())
		Expect(m.Content.Text()).To(Equal("plain"))
		Expect(m.Content.HasImage()).To(BeFalse())

		Expect(json.Unmarshal([]byte(`{"role":"user","content":[
			{"type":"text","text":"a"},
			{"type":"image_url","image_url":{"url":"u1"}},
			{"type":"text","text":"b"},
			{"type":"image_url","image_url":{"url":"u2"}}
		]}`), &m)).To(Succeed())
		Expect(m.Content.Text()).To(Equal("a\nb"))
		Expect(m.Content.ImageRef()).To(Equal("u1"))
	})

	It("rejects content that is neither form", func() {
		var m llm.Message
		Expect(json.Unmarshal([]byte(`{"role":"user","content":42}`), &m)).NotTo(Succeed())
	})
})

var _ = Describe("ChatRequest", func() {
	It("builds the image-generation shape", func() {
		data, err := json.Marshal(llm.NewImageRequest("a red fox"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(MatchJSON(`{"messages":[{"role":"user","content":"a red fox"}],"generateImage":true}`))
	})

	It("omits the image flag from the chat shape", func() {
		data, err := json.Marshal(llm.ChatRequest{Messages: []llm.Message{{Role: "user", Content: llm.TextOnly("hi")}}})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).NotTo(ContainSubstring("generateImage"))
	})

	It("finds the prompt in the last user message", func() {
		req := llm.ChatRequest{Messages: []llm.Message{
			{Role: "user", Content: llm.TextOnly("first")},
			{Role: "assistant", Content: llm.TextOnly("reply")},
			{Role: "user", Content: llm.TextOnly("second")},
			{Role: "assistant", Content: llm.TextOnly("reply")},
		}}
		Expect(req.Prompt()).To(Equal("second"))
	})
})
