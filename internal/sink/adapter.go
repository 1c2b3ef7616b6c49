package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bitmakerla/estela-entrypoint/internal/metrics"
	"github.com/bitmakerla/estela-entrypoint/internal/model"
)

// Adapter wraps a model.Producer behind the model.Sink contract. All calls to
// the producer are serialized. Records sent before a successful Connect or
// after Close never reach the producer: they are dropped and written to the
// fallback logger, as is every record the producer failed to accept.
type Adapter struct {
	mx        sync.Mutex
	producer  model.Producer
	connected bool
	closed    bool

	fallback *slog.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

type Option func(*Adapter)

// WithFallback sets the logger receiving undelivered records. It must not
// write into the adapter itself.
func WithFallback(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.fallback = logger
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(a *Adapter) {
		a.metrics = c
	}
}

// WithClock replaces time.Now used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

func NewAdapter(producer model.Producer, opts ...Option) *Adapter {
	a := &Adapter{
		producer: producer,
		fallback: slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Connect checks the broker. Failure is reported as ErrBrokerUnavailable.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.closed {
		return model.ErrSinkClosed
	}
	if err := a.producer.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", model.ErrBrokerUnavailable, err)
	}
	a.connected = true
	return nil
}

// Send implements model.Sink.
func (a *Adapter) Send(topic string, rec model.Record) {
	if rec.Time.IsZero() {
		rec.Time = a.now()
	}

	a.mx.Lock()
	defer a.mx.Unlock()

	switch {
	case a.closed:
		a.drop("closed", topic, rec, model.ErrSinkClosed)
		return
	case !a.connected:
		a.drop("not_connected", topic, rec, model.ErrSinkNotConnected)
		return
	}

	value, err := json.Marshal(rec)
	if err != nil {
		a.drop("encoding", topic, rec, err)
		return
	}
	if err := a.producer.Send(topic, []byte(rec.JobID), value); err != nil {
		a.drop("send", topic, rec, err)
		return
	}
	a.metrics.RecordSent(string(rec.Stream))
}

// Flush drains the producer. It is a no-op on a closed or never connected
// adapter.
func (a *Adapter) Flush(ctx context.Context) error {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.closed || !a.connected {
		return nil
	}
	return a.producer.Flush(ctx)
}

// Close releases the producer. Only the first call closes it.
func (a *Adapter) Close() error {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.producer.Close()
}

func (a *Adapter) drop(reason, topic string, rec model.Record, err error) {
	a.metrics.RecordDropped(reason)
	sendErr := model.SendError{Topic: topic, Stream: rec.Stream, Err: err}
	level := slog.LevelWarn
	if errors.Is(err, model.ErrSinkNotConnected) || errors.Is(err, model.ErrSinkClosed) {
		level = slog.LevelInfo
	}
	a.fallback.Log(context.Background(), level, rec.Message,
		slog.String("jid", rec.JobID),
		slog.String("stream", string(rec.Stream)),
		slog.String("reason", reason),
		slog.Any("error", sendErr),
	)
}
