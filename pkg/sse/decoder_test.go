package sse_test

import (
	"errors"
	"io"
	"strings"
	"testing/iotest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/koziky/pkg/sse"
)

// chunkedReader hands out the input in fixed-size pieces regardless of line
// boundaries, then finishes with err.
type chunkedReader struct {
	data []byte
	size int
	err  error
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, c.err
	}
	n := c.size
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func drain(d *sse.Decoder) ([]string, error) {
	var out []string
	for {
		payload, err := d.Next()
		if err != nil {
			return out, err
		}
		out = append(out, payload)
	}
}

var _ = Describe("Decoder", func() {
	const stream = "data: {\"a\":1}\n\ndata: {\"b\":2}\n\ndata: [DONE]\n\n"

	It("yields data payloads and ends at the sentinel", func() {
		d := sse.NewDecoder(strings.NewReader(stream))

		payloads, err := drain(d)
		Expect(err).To(MatchError(io.EOF))
		Expect(payloads).To(Equal([]string{`{"a":1}`, `{"b":2}`}))
		Expect(d.Done()).To(BeTrue())
	})

	It("reassembles lines split across arbitrary chunk boundaries", func() {
		for _, size := range []int{1, 2, 3, 7, 13, 64} {
			d := sse.NewDecoder(&chunkedReader{data: []byte(stream), size: size, err: io.EOF})

			payloads, err := drain(d)
			Expect(err).To(MatchError(io.EOF), "chunk size %d", size)
			Expect(payloads).To(Equal([]string{`{"a":1}`, `{"b":2}`}), "chunk size %d", size)
		}
	})

	It("works with a one-byte reader", func() {
		d := sse.NewDecoder(iotest.OneByteReader(strings.NewReader(stream)))

		payloads, err := drain(d)
		Expect(err).To(MatchError(io.EOF))
		Expect(payloads).To(HaveLen(2))
	})

	It("discards lines without the data prefix", func() {
		input := ": keep-alive\nevent: message\nid: 7\ndata: x\nretry: 100\ndata: [DONE]\n"
		payloads, err := drain(sse.NewDecoder(strings.NewReader(input)))

		Expect(err).To(MatchError(io.EOF))
		Expect(payloads).To(Equal([]string{"x"}))
	})

	It("accepts CRLF line endings and a missing space after the prefix", func() {
		input := "data:first\r\ndata: second\r\ndata:[DONE]\r\n"
		payloads, err := drain(sse.NewDecoder(strings.NewReader(input)))

		Expect(err).To(MatchError(io.EOF))
		Expect(payloads).To(Equal([]string{"first", "second"}))
	})

	It("does not emit anything after the sentinel", func() {
		input := "data: one\ndata: [DONE]\ndata: two\n"
		d := sse.NewDecoder(strings.NewReader(input))

		payloads, err := drain(d)
		Expect(err).To(MatchError(io.EOF))
		Expect(payloads).To(Equal([]string{"one"}))

		_, err = d.Next()
		Expect(err).To(MatchError(io.EOF))
	})

	It("handles a sentinel without a trailing newline", func() {
		payloads, err := drain(sse.NewDecoder(strings.NewReader("data: one\ndata: [DONE]")))

		Expect(err).To(MatchError(io.EOF))
		Expect(payloads).To(Equal([]string{"one"}))
	})

	It("makes no assumption about line length", func() {
		long := strings.Repeat("x", 1<<20)
		payloads, err := drain(sse.NewDecoder(strings.NewReader("data: " + long + "\ndata: [DONE]\n")))

		Expect(err).To(MatchError(io.EOF))
		Expect(payloads).To(HaveLen(1))
		Expect(payloads[0]).To(HaveLen(1 << 20))
	})

	Context("when the stream ends without the sentinel", func() {
		It("reports an interruption after the delivered payloads", func() {
			d := sse.NewDecoder(strings.NewReader("data: one\ndata: two\n"))

			payloads, err := drain(d)
			Expect(payloads).To(Equal([]string{"one", "two"}))
			Expect(errors.Is(err, sse.ErrInterrupted)).To(BeTrue())
			Expect(d.Done()).To(BeFalse())
		})

		It("still delivers an unterminated final line", func() {
			d := sse.NewDecoder(strings.NewReader("data: one\ndata: tail"))

			payloads, err := drain(d)
			Expect(payloads).To(Equal([]string{"one", "tail"}))
			Expect(errors.Is(err, sse.ErrInterrupted)).To(BeTrue())
		})

		It("wraps the read error as the cause", func() {
			boom := errors.New("connection reset")
			d := sse.NewDecoder(&chunkedReader{data: []byte("data: one\n"), size: 4, err: boom})

			payloads, err := drain(d)
			Expect(payloads).To(Equal([]string{"one"}))

			var interrupted *sse.InterruptedError
			Expect(errors.As(err, &interrupted)).To(BeTrue())
			Expect(errors.Is(err, boom)).To(BeTrue())
			Expect(errors.Is(err, sse.ErrInterrupted)).To(BeTrue())
		})

		It("does not report a plain close as the sentinel", func() {
			d := sse.NewDecoder(strings.NewReader("data: Partial\n"))

			_, err := drain(d)
			Expect(errors.Is(err, io.EOF)).To(BeFalse())
			Expect(errors.Is(err, io.ErrUnexpectedEOF)).To(BeTrue())
			Expect(d.Done()).To(BeFalse())
		})

		It("keeps returning the same error", func() {
			d := sse.NewDecoder(strings.NewReader(""))

			_, first := d.Next()
			_, second := d.Next()
			Expect(first).To(Equal(second))
		})
	})

	It("counts the bytes read from the wire", func() {
		d := sse.NewDecoder(strings.NewReader(stream))
		_, _ = drain(d)

		Expect(d.BytesRead()).To(BeEquivalentTo(len(stream)))
	})

	Describe("Lines", func() {
		It("iterates payloads and stops cleanly at the sentinel", func() {
			var got []string
			for payload, err := range sse.NewDecoder(strings.NewReader(stream)).Lines() {
				Expect(err).NotTo(HaveOccurred())
				got = append(got, payload)
			}
			Expect(got).To(Equal([]string{`{"a":1}`, `{"b":2}`}))
		})

		It("yields the interruption as the final pair", func() {
			var lastErr error
			count := 0
			for _, err := range sse.NewDecoder(strings.NewReader("data: a\n")).Lines() {
				count++
				lastErr = err
			}
			Expect(count).To(Equal(2))
			Expect(errors.Is(lastErr, sse.ErrInterrupted)).To(BeTrue())
		})
	})
})
