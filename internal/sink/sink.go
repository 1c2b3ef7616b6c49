// Package sink delivers log records to the message broker.
//
// The Adapter is the only component shared between the drain goroutines of
// the launcher and the console redirector. It serializes every call to the
// underlying model.Producer and never propagates delivery failures to
// the callers: a record which cannot be delivered is counted and written to a
// fallback logger on the real stderr.
//
// Producers:
//   - Kafka: confluent-kafka-go, the default queue platform
//   - WriteProducer: newline delimited JSON on stdout (or discarded), for
//     local runs and tests
package sink

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bitmakerla/estela-entrypoint/internal/model"
)

// NewProducer returns the producer for the configured queue platform.
func NewProducer(cfg model.Queue, logger *slog.Logger) (model.Producer, error) {
	switch cfg.Platform {
	case model.QueuePlatformKafka:
		return NewKafka(cfg, logger)
	case model.QueuePlatformStdout:
		return NewWriteProducer(os.Stdout), nil
	case model.QueuePlatformDiscard:
		return NewWriteProducer(io.Discard), nil
	default:
		return nil, fmt.Errorf("unsupported queue platform %q", cfg.Platform)
	}
}
