package main

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/picknest-core/pkg/outbox/registry"
)

// sink delivers one encoded outbox row to a topic. key groups events of the
// same aggregate.
type sink interface {
	Publish(ctx context.Context, topic, key string, value []byte, attributes map[string]string) error
	Ping(ctx context.Context) error
}

type pubsubTopics interface {
	Ping(ctx context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// pubsubSink adapts the Pub/Sub client to sink.
type pubsubSink struct {
	client pubsubTopics
}

func newPubSubSink(client pubsubTopics) (*pubsubSink, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &pubsubSink{client: client}, nil
}

func (s *pubsubSink) Publish(ctx context.Context, topic, _ string, value []byte, attributes map[string]string) error {
	pub := s.client.Publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}
	result := pub.Publish(ctx, &gcppubsub.Message{Data: value, Attributes: attributes})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(ctx)
	return err
}

func (s *pubsubSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
