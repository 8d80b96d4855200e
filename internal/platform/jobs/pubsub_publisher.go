package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/chandanhastantram/artsstore-sub000/internal/services"
)

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// PublishOrderEvent enqueues an order event message on the configured topic.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(orderEventMessage{
		Type:        event.Type,
		OrderID:     event.OrderID,
		OrderNumber: event.OrderNumber,
		UserID:      event.UserID,
		Status:      string(event.Status),
		Previous:    string(event.Previous),
		Total:       event.Total,
		Currency:    event.Currency,
		OccurredAt:  event.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", string(event.Status))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

type orderEventMessage struct {
	Type        string `json:"type"`
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Status      string `json:"status"`
	Previous    string `json:"previous,omitempty"`
	Total       int64  `json:"total"`
	Currency    string `json:"currency,omitempty"`
	OccurredAt  string `json:"occurredAt"`
}

// PubSubStockEventPublisher publishes stock movement events to a Pub/Sub topic.
type PubSubStockEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubStockEventPublisher constructs a Pub/Sub backed stock event publisher.
func NewPubSubStockEventPublisher(topic *pubsub.Topic) (*PubSubStockEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub stock publisher: topic is required")
	}
	return &PubSubStockEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

var _ services.StockEventPublisher = (*PubSubStockEventPublisher)(nil)

// PublishStockEvent enqueues a stock movement message on the configured topic.
func (p *PubSubStockEventPublisher) PublishStockEvent(ctx context.Context, event services.StockEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub stock publisher: not initialised")
	}

	msg := stockEventMessage{
		Type:       event.Type,
		Ref:        event.Ref,
		OccurredAt: event.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	for _, adj := range event.Adjustments {
		msg.Adjustments = append(msg.Adjustments, stockAdjustmentMessage{
			ProductID: adj.ProductID,
			Delta:     adj.Delta,
			OnHand:    adj.OnHand,
			Reserved:  adj.Reserved,
		})
	}

	data, err := p.marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal stock event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "ref", event.Ref)
	setAttr(attrs, "lines", strconv.Itoa(len(event.Adjustments)))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish stock event: %w", err)
	}
	return nil
}

type stockEventMessage struct {
	Type        string                   `json:"type"`
	Ref         string                   `json:"ref"`
	Adjustments []stockAdjustmentMessage `json:"adjustments"`
	OccurredAt  string                   `json:"occurredAt"`
}

type stockAdjustmentMessage struct {
	ProductID string `json:"productId"`
	Delta     int    `json:"delta"`
	OnHand    int    `json:"onHand"`
	Reserved  int    `json:"reserved"`
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
