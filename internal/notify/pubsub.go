package notify

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"
)

// PubSubConfig identifies the target topic.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// PubSubNotifier publishes notifications to a Pub/Sub topic as JSON, with
// the task id and status mirrored into attributes for subscription filters.
type PubSubNotifier struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

// NewPubSubNotifier connects using application default credentials unless
// overridden through opts.
func NewPubSubNotifier(ctx context.Context, cfg PubSubConfig, opts ...option.ClientOption) (*PubSubNotifier, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	return &PubSubNotifier{
		client:    client,
		publisher: client.Publisher(cfg.Topic),
	}, nil
}

// Notify marshals the notification to JSON and publishes it, waiting for the
// server ack so the caller can log failures.
func (n *PubSubNotifier) Notify(ctx context.Context, note Notification) error {
	if n == nil || n.publisher == nil {
		return fmt.Errorf("pubsub notifier is not configured")
	}
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	msg.Attributes = map[string]string{
		"task_id": note.TaskID,
		"status":  string(note.Status),
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := n.publisher.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close flushes buffered messages and releases the client.
func (n *PubSubNotifier) Close() error {
	if n == nil {
		return nil
	}
	if n.publisher != nil {
		n.publisher.Stop()
	}
	if n.client != nil {
		return n.client.Close()
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
