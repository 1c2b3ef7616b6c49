// Package console captures the entrypoint's own text output and forwards it
// line by line to the log sink.
package console

import (
	"sync"

	"github.com/bitmakerla/estela-entrypoint/internal/linebuf"
	"github.com/bitmakerla/estela-entrypoint/internal/model"
)

// Redirector is an io.Writer forwarding every complete line written to it as
// a record of the entrypoint stream. It replaces the terminal for anything
// the pipeline prints, including its log output.
type Redirector struct {
	mx     sync.Mutex
	buf    linebuf.Buffer
	sink   model.Sink
	jobID  string
	stream model.Stream
	closed bool
}

func New(sink model.Sink, jobID string) *Redirector {
	return &Redirector{
		sink:   sink,
		jobID:  jobID,
		stream: model.StreamEntrypoint,
	}
}

// Write never fails. Writes after Close are dropped.
func (r *Redirector) Write(p []byte) (int, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.closed {
		return len(p), nil
	}
	for _, line := range r.buf.Feed(p) {
		r.send(line)
	}
	return len(p), nil
}

// WriteString implements io.StringWriter.
func (r *Redirector) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// Close forwards the unterminated remainder, if any. It is safe to call
// Close more than once.
func (r *Redirector) Close() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if line, ok := r.buf.Remainder(); ok {
		r.send(line)
	}
	return nil
}

func (r *Redirector) send(line string) {
	r.sink.Send(model.LogsTopic, model.NewRecord(r.jobID, r.stream, line))
}
