// Package registry maps outbox event types to their topic and payload shape
// and turns stored rows into publishable messages.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/pkg/config"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/outbox"
	"github.com/angelmondragon/welfare-engine/pkg/outbox/payloads"
)

// Route describes where an event type goes and what its payload must look like.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// Message is a transport-neutral publish request. Events sharing an
// OrderingKey must be delivered in the order they were written.
type Message struct {
	Topic       string
	OrderingKey string
	Data        []byte
	Attributes  map[string]string
}

// Resolved is a decoded, validated outbox row.
type Resolved struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
	Message  Message
}

// Catalog holds one route per event type.
type Catalog struct {
	routes   map[enums.OutboxEventType]Route
	validate *validator.Validate
}

// NonRetryableError marks rows that can never be published as stored.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err, or anything it wraps, is a
// NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

// NewCatalog routes every domain event to the configured topic.
func NewCatalog(cfg config.PubSubConfig) (*Catalog, error) {
	if cfg.DomainTopic == "" {
		return nil, fmt.Errorf("domain topic is required")
	}
	c := &Catalog{
		routes:   make(map[enums.OutboxEventType]Route),
		validate: validator.New(),
	}
	topic := cfg.DomainTopic
	c.add(enums.EventCheckoutCompleted, enums.AggregateCheckout, topic, func() any { return &payloads.CheckoutCompletedEvent{} })
	c.add(enums.EventTaskTransitioned, enums.AggregateTask, topic, func() any { return &payloads.TaskTransitionedEvent{} })
	c.add(enums.EventRequestTransitioned, enums.AggregateProductRequest, topic, func() any { return &payloads.RequestTransitionedEvent{} })
	c.add(enums.EventStockChanged, enums.AggregateStoreItem, topic, func() any { return &payloads.StockChangedEvent{} })
	return c, nil
}

func (c *Catalog) add(eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string, newPayload func() any) {
	c.routes[eventType] = Route{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		newPayload:    newPayload,
	}
}

// Resolve checks the row against its route, decodes and validates the
// payload and builds the message. Every failure is non-retryable.
func (c *Catalog) Resolve(event models.OutboxEvent) (*Resolved, error) {
	route, ok := c.routes[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if route.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", route.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s %s: %w", event.EventType, event.ID, err))
	}
	payload := route.newPayload()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	if err := c.validate.Struct(payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("invalid %s payload: %w", event.EventType, err))
	}

	return &Resolved{
		Route:    route,
		Envelope: envelope,
		Payload:  payload,
		Message:  buildMessage(route, event, envelope),
	}, nil
}

func buildMessage(route Route, event models.OutboxEvent, envelope outbox.PayloadEnvelope) Message {
	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"outbox_id":      event.ID.String(),
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"occurred_at":    envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if envelope.Actor != nil {
		attrs["actor_id"] = envelope.Actor.ActorID
		attrs["actor_role"] = string(envelope.Actor.Role)
	}
	return Message{
		Topic:       route.Topic,
		OrderingKey: OrderingKey(event),
		Data:        event.Payload,
		Attributes:  attrs,
	}
}

// OrderingKey groups events of one aggregate.
func OrderingKey(event models.OutboxEvent) string {
	return string(event.AggregateType) + ":" + event.AggregateID.String()
}
