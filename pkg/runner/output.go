package runner

import (
	"bytes"
	"io"
	"sync"
)

// prefixWriter writes complete lines to a shared destination, each prefixed
// with the instance name, so parallel instances do not interleave within a
// line.
type prefixWriter struct {
	mu      *sync.Mutex
	dest    io.Writer
	prefix  []byte
	pending []byte
}

func newPrefixWriter(dest io.Writer, prefix string, mu *sync.Mutex) *prefixWriter {
	return &prefixWriter{mu: mu, dest: dest, prefix: []byte(prefix)}
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	idx := bytes.LastIndexByte(w.pending, '\n')
	if idx < 0 {
		return len(p), nil
	}
	complete := w.pending[:idx+1]
	if err := w.emit(complete); err != nil {
		return 0, err
	}
	w.pending = append(w.pending[:0], w.pending[idx+1:]...)
	return len(p), nil
}

// Flush writes a trailing partial line.
func (w *prefixWriter) Flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	err := w.emit(append(w.pending, '\n'))
	w.pending = w.pending[:0]
	return err
}

func (w *prefixWriter) emit(lines []byte) error {
	var out bytes.Buffer
	for line := range bytes.Lines(lines) {
		out.Write(w.prefix)
		out.Write(line)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.dest.Write(out.Bytes())
	return err
}
