package enums

import (
	"fmt"
	"strings"
)

// BidEvent is an input to the bid lifecycle state machine.
type BidEvent string

const (
	BidEventCounter  BidEvent = "counter"
	BidEventAccept   BidEvent = "accept"
	BidEventReject   BidEvent = "reject"
	BidEventWithdraw BidEvent = "withdraw"
)

var validBidEvents = []BidEvent{
	BidEventCounter,
	BidEventAccept,
	BidEventReject,
	BidEventWithdraw,
}

// String implements fmt.Stringer.
func (e BidEvent) String() string {
	return string(e)
}

// IsValid reports whether the value is a known bid event.
func (e BidEvent) IsValid() bool {
	for _, candidate := range validBidEvents {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseBidEvent converts raw input into a BidEvent. Input is case-insensitive.
func ParseBidEvent(value string) (BidEvent, error) {
	normalized := BidEvent(strings.ToLower(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid bid event %q", value)
}
