package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// EscrowEventMessage is the payload published for every committed lifecycle event.
type EscrowEventMessage struct {
	ID            int       `json:"id"`
	EventType     string    `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateId   string    `json:"aggregate_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	Payload       []byte    `json:"payload"`
	CorrelationId string    `json:"correlation_id"`
}

// PubSubSettings selects the project and topic for domain events.
// Application Default Credentials are used unless CredentialsJSON is set.
type PubSubSettings struct {
	ProjectID       string `env:"PUBSUB_PROJECT_ID"`
	FallbackProject string `env:"GOOGLE_CLOUD_PROJECT"`
	Topic           string `env:"PUBSUB_TOPIC"`
	CredentialsJSON string `env:"PUBSUB_CREDENTIALS_JSON"`
}

func (s PubSubSettings) project() string {
	if s.ProjectID != "" {
		return s.ProjectID
	}
	return s.FallbackProject
}

var (
	pubsubMu     sync.Mutex
	pubsubClient *pubsub.Client
	eventTopic   *pubsub.Topic
)

func loadPubSubSettings() (PubSubSettings, error) {
	var s PubSubSettings
	if err := env.Parse(&s); err != nil {
		return PubSubSettings{}, fmt.Errorf("parse pubsub env: %w", err)
	}
	if s.project() == "" {
		return PubSubSettings{}, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	if s.Topic == "" {
		return PubSubSettings{}, errors.New("PUBSUB_TOPIC is required")
	}
	return s, nil
}

// pubSubClient returns the shared client, retrying with BackoffFor until ctx ends.
func pubSubClient(ctx context.Context, settings PubSubSettings) (*pubsub.Client, error) {
	pubsubMu.Lock()
	defer pubsubMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	var opts []option.ClientOption
	if settings.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(settings.CredentialsJSON)))
	}
	for attempt := 1; ; attempt++ {
		c, err := pubsub.NewClient(ctx, settings.project(), opts...)
		if err == nil {
			pubsubClient = c
			GetLogger().WithFields(logrus.Fields{"field": "pubsub", "project_id": settings.project()}).Info("pubsub client ready")
			return c, nil
		}
		sleep := BackoffFor(attempt)
		GetLogger().WithFields(logrus.Fields{
			"field":   "pubsub",
			"attempt": attempt,
			"retry":   sleep.String(),
		}).Warn("pubsub client init failed: " + err.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// eventsTopic is created once; Publish on an ordered topic keeps per-key state that must persist.
func eventsTopic(ctx context.Context) (*pubsub.Topic, error) {
	settings, err := loadPubSubSettings()
	if err != nil {
		return nil, err
	}
	c, err := pubSubClient(ctx, settings)
	if err != nil {
		return nil, err
	}
	pubsubMu.Lock()
	defer pubsubMu.Unlock()
	if eventTopic == nil {
		t := c.Topic(settings.Topic)
		t.EnableMessageOrdering = true
		eventTopic = t
	}
	return eventTopic, nil
}

func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	if t, err = c.CreateTopic(ctx, topic); err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// EnsureEventTopic creates PUBSUB_TOPIC when it does not exist yet.
func EnsureEventTopic(ctx context.Context) error {
	settings, err := loadPubSubSettings()
	if err != nil {
		return err
	}
	c, err := pubSubClient(ctx, settings)
	if err != nil {
		return err
	}
	t, err := CreateTopicIfNotExists(ctx, c, settings.Topic)
	if err != nil {
		return err
	}
	t.Stop()
	return nil
}

// PublishEscrowEventWithResult publishes and returns the Pub/Sub server-assigned message ID.
// Messages for one aggregate share an ordering key.
func PublishEscrowEventWithResult(ctx context.Context, msg EscrowEventMessage) (string, error) {
	t, err := eventsTopic(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := t.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: msg.AggregateId,
		Attributes: map[string]string{
			"event_type":     msg.EventType,
			"aggregate_type": msg.AggregateType,
			"correlation_id": msg.CorrelationId,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		// A failed publish pauses its ordering key until resumed.
		t.ResumePublish(msg.AggregateId)
	}
	return id, err
}

// ClosePubSub flushes the events topic and closes the client.
func ClosePubSub() {
	pubsubMu.Lock()
	defer pubsubMu.Unlock()
	if eventTopic != nil {
		eventTopic.Stop()
		eventTopic = nil
	}
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}
