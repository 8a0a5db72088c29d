package orchestrator

import (
	"io"
	"sync/atomic"
	"time"
)

// idleReader cancels the turn when no byte arrives for timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel func()) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.fired.Store(true)
		cancel()
	})
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 && !ir.fired.Load() {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

// TimedOut reports whether the watchdog fired.
func (ir *idleReader) TimedOut() bool {
	return ir.fired.Load()
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}
