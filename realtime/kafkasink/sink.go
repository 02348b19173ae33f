// Package kafkasink relays realtime events to a Kafka topic as JSON records.
// Delivery is best effort: write failures are logged and the relay keeps
// going.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jmcleod/ironwire/realtime"
)

const defaultWriteTimeout = 5 * time.Second

// ErrNoBrokers is returned when a sink is built without brokers or a topic.
var ErrNoBrokers = errors.New("kafka brokers and topic are required")

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the structured logger for the sink.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

// WithWriter replaces the Kafka writer.
func WithWriter(w MessageWriter) Option {
	return func(s *Sink) {
		s.writer = w
	}
}

// WithKey sets the message key, usually the session id, so a session's
// events stay ordered within one partition.
func WithKey(key string) Option {
	return func(s *Sink) {
		s.key = []byte(key)
	}
}

// WithWriteTimeout bounds each write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Sink) {
		s.timeout = d
	}
}

// Sink forwards events to Kafka.
type Sink struct {
	writer  MessageWriter
	key     []byte
	timeout time.Duration
	logger  *slog.Logger
}

// New returns a Sink writing to topic on brokers.
func New(brokers []string, topic string, opts ...Option) (*Sink, error) {
	s := &Sink{timeout: defaultWriteTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.writer == nil {
		if len(brokers) == 0 || topic == "" {
			return nil, ErrNoBrokers
		}
		s.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "kafkasink", "topic", topic)
	return s, nil
}

// Emit writes one event.
func (s *Sink) Emit(ctx context.Context, e realtime.Event) error {
	payload, err := json.Marshal(realtime.NewRecord(e))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.writer.WriteMessages(writeCtx, kafka.Message{Key: s.key, Value: payload})
}

// Run relays events from sub until ctx is done or the subscription closes.
func (s *Sink) Run(ctx context.Context, sub *realtime.Subscription) error {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := s.Emit(ctx, e); err != nil {
				s.logger.Warn("kafka emit failed", "error", err)
			}
		}
	}
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
