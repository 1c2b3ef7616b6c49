// Package sinktest provides in-memory sinks and producers for tests.
package sinktest

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/bitmakerla/estela-entrypoint/internal/model"
)

// Sink collects records in memory. The zero value is ready to use.
type Sink struct {
	mx      sync.Mutex
	topics  []string
	records []model.Record
}

func (s *Sink) Send(topic string, rec model.Record) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if !slices.Contains(s.topics, topic) {
		s.topics = append(s.topics, topic)
	}
	s.records = append(s.records, rec)
}

func (s *Sink) Records() []model.Record {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.records)
}

// Messages returns the messages of all records in the order of arrival.
func (s *Sink) Messages() []string {
	return Messages(s.Records())
}

// Stream returns the messages of records of a single stream.
func (s *Sink) Stream(stream model.Stream) []string {
	return Messages(Filter(s.Records(), stream))
}

// Topics returns every distinct topic in order of first use.
func (s *Sink) Topics() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.topics)
}

func Filter(records []model.Record, stream model.Stream) []model.Record {
	var ret []model.Record
	for _, rec := range records {
		if rec.Stream == stream {
			ret = append(ret, rec)
		}
	}
	return ret
}

func Messages(records []model.Record) []string {
	ret := make([]string, len(records))
	for i, rec := range records {
		ret[i] = rec.Message
	}
	return ret
}

// Message is a single value handed to Producer.Send.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Producer is a model.Producer recording every call.
type Producer struct {
	ConnectErr error
	SendErr    error

	mx       sync.Mutex
	connects int
	flushes  int
	closes   int
	calls    []string
	messages []Message
}

func (p *Producer) Connect(context.Context) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.connects++
	p.calls = append(p.calls, "connect")
	return p.ConnectErr
}

func (p *Producer) Send(topic string, key, value []byte) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.SendErr != nil {
		return p.SendErr
	}
	p.messages = append(p.messages, Message{
		Topic: topic,
		Key:   slices.Clone(key),
		Value: slices.Clone(value),
	})
	return nil
}

func (p *Producer) Flush(context.Context) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.flushes++
	p.calls = append(p.calls, "flush")
	return nil
}

func (p *Producer) Close() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.closes++
	p.calls = append(p.calls, "close")
	return nil
}

func (p *Producer) Messages() []Message {
	p.mx.Lock()
	defer p.mx.Unlock()
	return slices.Clone(p.messages)
}

// Records decodes every sent value.
func (p *Producer) Records() ([]model.Record, error) {
	msgs := p.Messages()
	ret := make([]model.Record, 0, len(msgs))
	for _, msg := range msgs {
		var rec model.Record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return nil, err
		}
		ret = append(ret, rec)
	}
	return ret, nil
}

func (p *Producer) Connects() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.connects
}

func (p *Producer) Flushes() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.flushes
}

func (p *Producer) Closes() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.closes
}

// Calls returns connect, flush and close calls in order.
func (p *Producer) Calls() []string {
	p.mx.Lock()
	defer p.mx.Unlock()
	return slices.Clone(p.calls)
}
