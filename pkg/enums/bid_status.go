package enums

import (
	"fmt"
	"strings"
)

// BidStatus tracks where a bid sits in its negotiation lifecycle.
type BidStatus string

const (
	BidStatusPending   BidStatus = "pending"
	BidStatusCountered BidStatus = "countered"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusRejected  BidStatus = "rejected"
	BidStatusWithdrawn BidStatus = "withdrawn"
)

var validBidStatuses = []BidStatus{
	BidStatusPending,
	BidStatusCountered,
	BidStatusAccepted,
	BidStatusRejected,
	BidStatusWithdrawn,
}

// String implements fmt.Stringer.
func (s BidStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known bid status.
func (s BidStatus) IsValid() bool {
	for _, candidate := range validBidStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status accepts no further transitions.
func (s BidStatus) IsTerminal() bool {
	switch s {
	case BidStatusAccepted, BidStatusRejected, BidStatusWithdrawn:
		return true
	default:
		return false
	}
}

// ParseBidStatus converts raw input into a BidStatus. Input is case-insensitive.
func ParseBidStatus(value string) (BidStatus, error) {
	normalized := BidStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid bid status %q", value)
}
