package bids

import (
	"fmt"

	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
)

// NextStatus applies event to the current status. Terminal statuses accept no
// event at all.
func NextStatus(from enums.BidStatus, event enums.BidEvent) (enums.BidStatus, error) {
	if from.IsTerminal() {
		return "", invalidTransition(from, event, fmt.Sprintf("bid is already %s", from))
	}
	if from != enums.BidStatusPending && from != enums.BidStatusCountered {
		return "", invalidTransition(from, event, fmt.Sprintf("unknown bid status %q", from))
	}
	switch event {
	case enums.BidEventCounter:
		return enums.BidStatusCountered, nil
	case enums.BidEventAccept:
		return enums.BidStatusAccepted, nil
	case enums.BidEventReject:
		return enums.BidStatusRejected, nil
	case enums.BidEventWithdraw:
		return enums.BidStatusWithdrawn, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown bid event %q", event))
	}
}

// authorize checks that role may fire event on a bid whose latest counter
// was authored by proposer (nil when nobody countered yet).
func authorize(role enums.SenderType, event enums.BidEvent, proposer *enums.SenderType) error {
	switch event {
	case enums.BidEventAccept:
		if proposer == nil {
			if role != enums.SenderBuyer {
				return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can accept an uncountered bid")
			}
			return nil
		}
		if *proposer == role {
			return pkgerrors.New(pkgerrors.CodeForbidden, "a counter-offer can only be accepted by the other party")
		}
		return nil
	case enums.BidEventCounter, enums.BidEventReject, enums.BidEventWithdraw:
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown bid event %q", event))
	}
}

func invalidTransition(from enums.BidStatus, event enums.BidEvent, message string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, message).WithDetails(map[string]any{
		"status": from,
		"event":  event,
	})
}
