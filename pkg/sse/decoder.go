// Package sse decodes a server-sent event byte stream into the payloads of
// its data lines.
package sse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// DataPrefix marks the lines that carry event payloads.
const DataPrefix = "data:"

// Sentinel is the payload that terminates the stream.
const Sentinel = "[DONE]"

// ErrInterrupted is matched by every InterruptedError.
var ErrInterrupted = errors.New("stream interrupted")

// InterruptedError reports that the stream ended without the terminal
// sentinel, either by an early EOF or a read error.
type InterruptedError struct {
	Cause error
}

func (e *InterruptedError) Error() string {
	if e.Cause == nil || errors.Is(e.Cause, io.EOF) {
		return "stream interrupted: closed before terminal sentinel"
	}
	return fmt.Sprintf("stream interrupted: %v", e.Cause)
}

// Unwrap exposes ErrInterrupted and the cause. A bare io.EOF cause is
// reported as io.ErrUnexpectedEOF so that errors.Is(err, io.EOF) only
// matches the sentinel.
func (e *InterruptedError) Unwrap() []error {
	cause := e.Cause
	if cause == nil || cause == io.EOF {
		cause = io.ErrUnexpectedEOF
	}
	return []error{ErrInterrupted, cause}
}

// Decoder yields data payloads from an SSE stream. Lines may be split across
// any number of reads; partial trailing data is buffered until the next
// newline arrives.
type Decoder struct {
	reader *bufio.Reader
	count  countingReader
	err    error // terminal state, sticky once set
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	d := &Decoder{}
	d.count.r = r
	d.reader = bufio.NewReader(&d.count)
	return d
}

// Next returns the next data payload. It returns io.EOF once the sentinel
// has been read and an *InterruptedError when the stream ends any other
// way. Both are sticky.
func (d *Decoder) Next() (string, error) {
	for d.err == nil {
		line, readErr := d.reader.ReadString('\n')

		if payload, ok := parseLine(line); ok {
			if payload == Sentinel {
				d.err = io.EOF
				break
			}
			if readErr != nil {
				// Deliver the unterminated tail now, report the interruption
				// on the following call.
				d.err = &InterruptedError{Cause: readErr}
			}
			return payload, nil
		}

		if readErr != nil {
			d.err = &InterruptedError{Cause: readErr}
		}
	}
	return "", d.err
}

// Lines returns an iterator over the remaining payloads. The final pair
// carries the terminal error unless the stream ended with the sentinel.
func (d *Decoder) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			payload, err := d.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(payload, nil) {
				return
			}
		}
	}
}

// Done reports whether the stream ended with the terminal sentinel.
func (d *Decoder) Done() bool {
	return d.err == io.EOF
}

// BytesRead returns the number of bytes consumed from the underlying reader.
func (d *Decoder) BytesRead() int64 {
	return d.count.n
}

// parseLine extracts the payload of a data line. Non-data lines and empty
// payloads are reported as not ok.
func parseLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, DataPrefix) {
		return "", false
	}

	payload := strings.TrimPrefix(line[len(DataPrefix):], " ")
	if payload == "" {
		return "", false
	}
	return payload, true
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
