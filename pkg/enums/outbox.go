package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateCheckout       OutboxAggregateType = "checkout"
	AggregateTask           OutboxAggregateType = "task"
	AggregateProductRequest OutboxAggregateType = "product_request"
	AggregateStoreItem      OutboxAggregateType = "store_item"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateCheckout,
	AggregateTask,
	AggregateProductRequest,
	AggregateStoreItem,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventCheckoutCompleted   OutboxEventType = "checkout_completed"
	EventTaskTransitioned    OutboxEventType = "task_transitioned"
	EventRequestTransitioned OutboxEventType = "request_transitioned"
	EventStockChanged        OutboxEventType = "stock_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventCheckoutCompleted,
	EventTaskTransitioned,
	EventRequestTransitioned,
	EventStockChanged,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason explains why the relay stopped retrying an event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: every allowed publish attempt failed.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonInvalidPayload: the stored row cannot be decoded or
	// fails payload validation.
	OutboxDLQReasonInvalidPayload OutboxDLQErrorReason = "invalid_payload"
	// OutboxDLQReasonPublishRejected: the broker refused the message outright.
	OutboxDLQReasonPublishRejected OutboxDLQErrorReason = "publish_rejected"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonInvalidPayload, OutboxDLQReasonPublishRejected:
		return true
	}
	return false
}
