package model

import (
	"context"
)

// Producer is the message-queue client. Implementations handle delivery
// guarantees, retries and authentication themselves.
type Producer interface {
	// Connect checks the broker is reachable.
	Connect(ctx context.Context) error
	Send(topic string, key, value []byte) error
	// Flush drains client side buffering.
	Flush(ctx context.Context) error
	Close() error
}

// Sink receives log records. Send never blocks the caller beyond the broker
// client timeout and is safe for concurrent use. Delivery failures are
// handled by the sink.
type Sink interface {
	Send(topic string, rec Record)
}
