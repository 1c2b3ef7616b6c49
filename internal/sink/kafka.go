package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/bitmakerla/estela-entrypoint/internal/model"
)

const DefaultSendTimeout = 30 * time.Second

// Kafka is a model.Producer backed by confluent-kafka-go. Retries and
// delivery timeouts are handled by librdkafka.
type Kafka struct {
	producer       *kafka.Producer
	brokers        []string
	connectTimeout time.Duration
	sendTimeout    time.Duration
	log            *slog.Logger
	wg             sync.WaitGroup
}

// NewKafka creates the producer. It does not contact the brokers, call
// Connect for that. Delivery reports are logged to logger, which must not
// write into a sink backed by this producer.
func NewKafka(cfg model.Queue, logger *slog.Logger) (*Kafka, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, errors.New("queue.listeners is empty")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conf := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(brokers, ","),
		"client.id":         "estela-entrypoint-" + uuid.NewString(),
	}
	if cfg.Kafka.Compression != "" {
		conf["compression.type"] = cfg.Kafka.Compression
	}
	if cfg.Kafka.Acks != "" {
		conf["acks"] = cfg.Kafka.Acks
	}
	if cfg.Kafka.MaxQueued > 0 {
		conf["queue.buffering.max.messages"] = cfg.Kafka.MaxQueued
		conf["batch.num.messages"] = min(cfg.Kafka.MaxQueued, 10000)
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if cfg.Kafka.SASLUsername != "" && cfg.Kafka.SASLPassword != "" {
		protocol := cfg.Kafka.SecurityProtocol
		if protocol == "" {
			protocol = "SASL_SSL"
		}
		conf["security.protocol"] = protocol
		conf["sasl.mechanism"] = cfg.Kafka.SASLMechanism
		conf["sasl.username"] = cfg.Kafka.SASLUsername
		conf["sasl.password"] = cfg.Kafka.SASLPassword
	} else if cfg.Kafka.SecurityProtocol != "" {
		conf["security.protocol"] = cfg.Kafka.SecurityProtocol
	}

	producer, err := kafka.NewProducer(&conf)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	k := &Kafka{
		producer:       producer,
		brokers:        brokers,
		connectTimeout: cfg.ConnectTimeout,
		sendTimeout:    sendTimeout,
		log:            logger,
	}
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.handleEvents()
	}()
	return k, nil
}

// Connect fetches cluster metadata to check a broker is reachable.
func (k *Kafka) Connect(ctx context.Context) error {
	timeout := k.connectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	md, err := k.producer.GetMetadata(nil, false, int(timeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("fetching metadata from %s: %w", strings.Join(k.brokers, ","), err)
	}
	if len(md.Brokers) == 0 {
		return fmt.Errorf("no brokers available at %s", strings.Join(k.brokers, ","))
	}
	return nil
}

// Send enqueues the message. The call returns once librdkafka accepted the
// message, delivery failures are reported asynchronously. While the local
// queue is full Send serves delivery reports and retries, for at most the
// send timeout.
func (k *Kafka) Send(topic string, key, value []byte) error {
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   key,
		Value: value,
	}
	var deadline time.Time
	for {
		err := k.producer.Produce(msg, nil)
		if err == nil {
			return nil
		}
		var kerr kafka.Error
		if !errors.As(err, &kerr) || kerr.Code() != kafka.ErrQueueFull {
			return fmt.Errorf("producing message: %w", err)
		}
		if deadline.IsZero() {
			deadline = time.Now().Add(k.sendTimeout)
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("producing message after %s: %w", k.sendTimeout, err)
		}
		k.producer.Flush(100)
	}
}

// Flush waits until all messages are delivered or ctx is done.
func (k *Kafka) Flush(ctx context.Context) error {
	for {
		remaining := k.producer.Flush(100)
		if remaining == 0 {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%d messages not flushed: %w", remaining, ctx.Err())
		}
	}
}

// Close closes the producer and waits for the delivery reports handler.
func (k *Kafka) Close() error {
	k.producer.Close()
	k.wg.Wait()
	return nil
}

func (k *Kafka) handleEvents() {
	// the channel is closed by producer.Close
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				k.log.Error("message delivery failed",
					"error", ev.TopicPartition.Error,
					"topic", topicName(ev.TopicPartition),
					"partition", ev.TopicPartition.Partition)
			}
		case kafka.Error:
			k.log.Warn("kafka client error", "error", ev, "code", ev.Code())
		}
	}
}

func topicName(tp kafka.TopicPartition) string {
	if tp.Topic == nil {
		return ""
	}
	return *tp.Topic
}
