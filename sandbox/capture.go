package sandbox

import (
	"bytes"
	"io"
	"sync"
)

// outputCapture collects stdout, stderr and their interleaving. Each buffer
// stops growing at the limit; writes past it are discarded so the process
// never blocks on a full pipe.
type outputCapture struct {
	mu        sync.Mutex
	limit     int
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	combined  bytes.Buffer
	truncated bool
}

func newOutputCapture(limit int) *outputCapture {
	return &outputCapture{limit: limit}
}

type captureWriter struct {
	c   *outputCapture
	dst *bytes.Buffer
}

func (w captureWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	w.c.appendBounded(w.dst, p)
	w.c.appendBounded(&w.c.combined, p)
	return len(p), nil
}

func (c *outputCapture) stdoutWriter() io.Writer { return captureWriter{c: c, dst: &c.stdout} }
func (c *outputCapture) stderrWriter() io.Writer { return captureWriter{c: c, dst: &c.stderr} }

func (c *outputCapture) appendBounded(buf *bytes.Buffer, p []byte) {
	if c.limit <= 0 {
		buf.Write(p)
		return
	}
	room := c.limit - buf.Len()
	if room <= 0 {
		c.truncated = true
		return
	}
	if len(p) > room {
		p = p[:room]
		c.truncated = true
	}
	buf.Write(p)
}

func (c *outputCapture) result() CommandResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CommandResult{
		Stdout:    c.stdout.String(),
		Stderr:    c.stderr.String(),
		Combined:  c.combined.String(),
		Truncated: c.truncated,
	}
}
