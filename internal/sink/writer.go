package sink

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
)

// WriteProducer writes every record value as a single line to w. It backs
// the stdout and discard queue platforms.
type WriteProducer struct {
	mx sync.Mutex
	w  io.Writer
}

func NewWriteProducer(w io.Writer) *WriteProducer {
	if w == nil {
		w = os.Stdout
	}
	return &WriteProducer{w: w}
}

func (p *WriteProducer) Connect(context.Context) error {
	return nil
}

func (p *WriteProducer) Send(_ string, _, value []byte) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	line := value
	if !bytes.HasSuffix(line, []byte("\n")) {
		line = append(line[:len(line):len(line)], '\n')
	}
	_, err := p.w.Write(line)
	return err
}

func (p *WriteProducer) Flush(context.Context) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if s, ok := p.w.(interface{ Sync() error }); ok {
		// stdout might be a terminal or a pipe
		_ = s.Sync()
	}
	return nil
}

func (p *WriteProducer) Close() error {
	return nil
}
