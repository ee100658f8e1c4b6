package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateBid                OutboxAggregateType = "bid"
	AggregateNegotiationMessage OutboxAggregateType = "negotiation_message"
	AggregateProject            OutboxAggregateType = "project"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateBid,
	AggregateNegotiationMessage,
	AggregateProject,
}

// IsValid reports whether the value matches a known aggregate type.
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

// OutboxEventType names the domain event carried by an outbox row.
type OutboxEventType string

const (
	EventBidPlaced                  OutboxEventType = "bid_placed"
	EventBidCountered               OutboxEventType = "bid_countered"
	EventBidAccepted                OutboxEventType = "bid_accepted"
	EventBidRejected                OutboxEventType = "bid_rejected"
	EventBidWithdrawn               OutboxEventType = "bid_withdrawn"
	EventNegotiationMessageAppended OutboxEventType = "negotiation_message_appended"
	EventExpenseRecorded            OutboxEventType = "expense_recorded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventBidPlaced,
	EventBidCountered,
	EventBidAccepted,
	EventBidRejected,
	EventBidWithdrawn,
	EventNegotiationMessageAppended,
	EventExpenseRecorded,
}

// IsValid reports whether the value matches a known event type.
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

// BidEventOutboxType maps a bid lifecycle event to the outbox event it emits.
func BidEventOutboxType(event BidEvent) (OutboxEventType, error) {
	switch event {
	case BidEventCounter:
		return EventBidCountered, nil
	case BidEventAccept:
		return EventBidAccepted, nil
	case BidEventReject:
		return EventBidRejected, nil
	case BidEventWithdraw:
		return EventBidWithdrawn, nil
	default:
		return "", fmt.Errorf("no outbox event for bid event %q", event)
	}
}

// OutboxTerminalReason records why the publisher gave up on an event.
type OutboxTerminalReason string

const (
	OutboxTerminalMaxAttempts  OutboxTerminalReason = "max_attempts"
	OutboxTerminalNonRetryable OutboxTerminalReason = "non_retryable"
	// OutboxTerminalUndecodable marks rows the registry could not resolve.
	OutboxTerminalUndecodable OutboxTerminalReason = "undecodable"
)
