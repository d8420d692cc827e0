// Package stream consumes raw listings from Kafka, resolves them and
// publishes the decisions to an output topic.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/hazyhaar/hifi-resolver/pkg/kit"
	"github.com/hazyhaar/hifi-resolver/pkg/metrics"
	"github.com/hazyhaar/hifi-resolver/pkg/service"
)

const (
	fetchBackoff    = time.Second
	retryBackoff    = time.Second
	maxRetryBackoff = 30 * time.Second
)

// Config holds Kafka connection settings.
type Config struct {
	Brokers     []string `mapstructure:"brokers"`
	InputTopic  string   `mapstructure:"input_topic"`
	OutputTopic string   `mapstructure:"output_topic"`
	GroupID     string   `mapstructure:"group_id"`
}

// Validate reports missing settings.
func (c Config) Validate() error {
	switch {
	case len(c.Brokers) == 0:
		return errors.New("stream: no brokers configured")
	case c.InputTopic == "":
		return errors.New("stream: no input topic configured")
	case c.OutputTopic == "":
		return errors.New("stream: no output topic configured")
	case c.GroupID == "":
		return errors.New("stream: no consumer group configured")
	}
	return nil
}

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is the subset of *kafka.Writer the consumer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Resolver resolves one listing.
type Resolver interface {
	Resolve(ctx context.Context, l service.Listing) (*service.Resolution, error)
}

// NewKafkaReader returns a consumer-group reader on the input topic.
func NewKafkaReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.InputTopic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})
}

// NewKafkaWriter returns a writer on the output topic.
func NewKafkaWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.OutputTopic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Event is published for every consumed listing. Resolution is nil when the
// listing could not be resolved; Error then says why.
type Event struct {
	Listing     service.Listing     `json:"listing"`
	Resolution  *service.Resolution `json:"resolution,omitempty"`
	Error       string              `json:"error,omitempty"`
	Partition   int                 `json:"partition"`
	Offset      int64               `json:"offset"`
	ProcessedAt time.Time           `json:"processed_at"`
}

// Consumer resolves listings read from Kafka.
type Consumer struct {
	reader   Reader
	writer   Writer
	resolver Resolver
	logger   *slog.Logger
	backoff  time.Duration
}

// NewConsumer returns a Consumer.
func NewConsumer(reader Reader, writer Writer, resolver Resolver, logger *slog.Logger) *Consumer {
	return &Consumer{reader: reader, writer: writer, resolver: resolver, logger: logger, backoff: retryBackoff}
}

// Run consumes until ctx is cancelled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("stream consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("stream consumer stopping")
				return nil
			}
			c.logger.Error("fetch message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchBackoff):
			}
			continue
		}
		c.process(ctx, msg)
	}
}

// Close closes the reader and writer.
func (c *Consumer) Close() error {
	return errors.Join(c.reader.Close(), c.writer.Close())
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	log := c.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	var l service.Listing
	if err := json.Unmarshal(msg.Value, &l); err != nil {
		log.Warn("malformed listing, skipping", "error", err)
		metrics.StreamMessagesTotal.WithLabelValues("malformed").Inc()
		c.commit(ctx, log, msg)
		return
	}

	id := l.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctx = kit.WithRequestID(kit.WithTransport(ctx, kit.TransportStream), id)

	// A commit covers every earlier offset of the partition, so a failed
	// listing is retried in place until it succeeds or ctx ends.
	backoff := c.backoff
	for attempt := 1; ; attempt++ {
		status, err := c.handle(ctx, id, l, msg)
		if err == nil {
			metrics.StreamMessagesTotal.WithLabelValues(status).Inc()
			c.commit(ctx, log, msg)
			return
		}
		metrics.StreamMessagesTotal.WithLabelValues("error").Inc()
		log.Error("process listing, retrying", "error", err, "attempt", attempt, "request_id", id, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

// handle resolves one listing and publishes the decision. Invalid or
// uncategorized listings are published as unresolved; any other failure is
// returned.
func (c *Consumer) handle(ctx context.Context, id string, l service.Listing, msg kafka.Message) (string, error) {
	ev := Event{Listing: l, Partition: msg.Partition, Offset: msg.Offset}
	status := "ok"
	res, err := c.resolver.Resolve(ctx, l)
	switch {
	case err == nil:
		ev.Resolution = res
	case errors.Is(err, service.ErrInvalidListing) || errors.Is(err, service.ErrNoCategory):
		ev.Error = err.Error()
		status = "unresolved"
	default:
		return "", fmt.Errorf("resolve listing: %w", err)
	}
	if err := c.publish(ctx, id, ev); err != nil {
		return "", fmt.Errorf("publish decision: %w", err)
	}
	return status, nil
}

func (c *Consumer) publish(ctx context.Context, key string, ev Event) error {
	ev.ProcessedAt = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	headers := []kafka.Header{{Key: "status", Value: []byte("unresolved")}}
	if ev.Resolution != nil {
		headers = []kafka.Header{
			{Key: "status", Value: []byte("resolved")},
			{Key: "outcome", Value: []byte(ev.Resolution.Outcome)},
			{Key: "category", Value: []byte(ev.Resolution.Category)},
		}
	}
	return c.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data, Headers: headers})
}

func (c *Consumer) commit(ctx context.Context, log *slog.Logger, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error("commit message", "error", err)
	}
}
