package enums

import (
	"fmt"
	"strings"
)

// SenderType identifies which side of a bid authored a negotiation message.
type SenderType string

const (
	SenderBuyer  SenderType = "BUYER"
	SenderSeller SenderType = "SELLER"
)

// legacyBuyerSender is the wire value older clients send for the buyer side.
const legacyBuyerSender = "USER"

var validSenderTypes = []SenderType{
	SenderBuyer,
	SenderSeller,
}

// String implements fmt.Stringer.
func (s SenderType) String() string {
	return string(s)
}

// IsValid reports whether the value is a canonical sender type.
func (s SenderType) IsValid() bool {
	for _, candidate := range validSenderTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// Counterpart returns the opposite side of the negotiation.
func (s SenderType) Counterpart() SenderType {
	if s == SenderBuyer {
		return SenderSeller
	}
	return SenderBuyer
}

// ParseSenderType normalizes raw input into a SenderType. The legacy "USER"
// value maps to SenderBuyer.
func ParseSenderType(value string) (SenderType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if normalized == legacyBuyerSender {
		return SenderBuyer, nil
	}
	if st := SenderType(normalized); st.IsValid() {
		return st, nil
	}
	return "", fmt.Errorf("invalid sender type %q", value)
}
