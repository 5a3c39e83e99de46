package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/wayforge/wayforge/internal/livesignal"
)

// Message attributes set on published batches.
const (
	attrSchema  = "schema"
	attrFeed    = "feed"
	schemaValue = "livesignal.records.v1"
)

// EncodeBatch encodes records as a Pub/Sub message payload.
func EncodeBatch(records []livesignal.Record) ([]byte, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encoding records: %w", err)
	}
	return data, nil
}

// PublisherConfig holds configuration for the Pub/Sub publisher.
type PublisherConfig struct {
	ProjectID string
	Topic     string
	Logger    zerolog.Logger
}

// Publisher publishes record batches to a Pub/Sub topic. It implements
// Sink so a Poller can publish what it fetches.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

// NewPublisher creates a Pub/Sub publisher.
func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	publisher := client.Publisher(cfg.Topic)
	publisher.PublishSettings.DelayThreshold = 50 * time.Millisecond

	return &Publisher{
		client:    client,
		publisher: publisher,
		topic:     cfg.Topic,
		logger:    cfg.Logger,
	}, nil
}

// Deliver publishes records as one message and waits for the server id.
func (p *Publisher) Deliver(ctx context.Context, records []livesignal.Record) error {
	data, err := EncodeBatch(records)
	if err != nil {
		return err
	}

	attrs := map[string]string{attrSchema: schemaValue}
	if len(records) > 0 && records[0].Feed != "" {
		attrs[attrFeed] = records[0].Feed
	}

	id, err := p.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}

	p.logger.Debug().
		Str("message_id", id).
		Int("records", len(records)).
		Msg("published live records")
	return nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}

// SubscriberConfig holds configuration for the Pub/Sub subscriber.
type SubscriberConfig struct {
	ProjectID        string
	SubscriptionName string
	Aggregator       *livesignal.Aggregator
	Logger           zerolog.Logger
}

// Subscriber receives record batches and ingests them into an aggregator.
// Malformed messages are acknowledged and counted so they are never
// redelivered.
type Subscriber struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	handler          *BatchHandler
	logger           zerolog.Logger
}

// NewSubscriber creates a Pub/Sub subscriber.
func NewSubscriber(ctx context.Context, cfg SubscriberConfig) (*Subscriber, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 100
	subscriber.ReceiveSettings.MaxExtension = time.Minute

	return &Subscriber{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		handler:          NewBatchHandler(cfg.Aggregator, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start receives messages until ctx is done.
func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info().
		Str("subscription", s.subscriptionName).
		Msg("starting live signal subscriber")

	return s.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := s.logger.With().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Logger()

		if err := s.handler.Handle(ctx, msg.Data); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed live message")
		}
		msg.Ack()
	})
}

// Stats returns the handler counters.
func (s *Subscriber) Stats() BatchStats {
	return s.handler.Stats()
}

// Close closes the Pub/Sub client.
func (s *Subscriber) Close() error {
	return s.client.Close()
}

// BatchHandler decodes message payloads and ingests them.
type BatchHandler struct {
	aggregator *livesignal.Aggregator
	logger     zerolog.Logger

	messages  *xsync.Counter
	malformed *xsync.Counter
	accepted  *xsync.Counter
	dropped   *xsync.Counter
}

// NewBatchHandler creates a handler that ingests into agg.
func NewBatchHandler(agg *livesignal.Aggregator, logger zerolog.Logger) *BatchHandler {
	return &BatchHandler{
		aggregator: agg,
		logger:     logger,
		messages:   xsync.NewCounter(),
		malformed:  xsync.NewCounter(),
		accepted:   xsync.NewCounter(),
		dropped:    xsync.NewCounter(),
	}
}

// Handle ingests one payload. An error means the payload as a whole could
// not be decoded; individual bad records are dropped by the aggregator.
func (h *BatchHandler) Handle(ctx context.Context, data []byte) error {
	h.messages.Inc()

	records, err := DecodeRecords(data)
	if err != nil {
		h.malformed.Inc()
		return err
	}

	res := h.aggregator.Ingest(ctx, records)
	h.accepted.Add(int64(res.Accepted))
	h.dropped.Add(int64(res.Dropped))
	return nil
}

// BatchStats counts handled messages.
type BatchStats struct {
	Messages  int64 `json:"messages"`
	Malformed int64 `json:"malformed"`
	Accepted  int64 `json:"accepted"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns handler counters.
func (h *BatchHandler) Stats() BatchStats {
	return BatchStats{
		Messages:  h.messages.Value(),
		Malformed: h.malformed.Value(),
		Accepted:  h.accepted.Value(),
		Dropped:   h.dropped.Value(),
	}
}
