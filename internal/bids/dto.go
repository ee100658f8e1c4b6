package bids

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
)

// PlaceBidInput carries a seller's offer on a project.
type PlaceBidInput struct {
	ProjectID uuid.UUID
	SellerID  uuid.UUID
	Amount    decimal.Decimal
	Message   *string
}

// TransitionInput asks the lifecycle to apply event on behalf of ActorID.
// MessageID optionally names the counter-offer being accepted.
type TransitionInput struct {
	BidID     uuid.UUID
	Event     enums.BidEvent
	ActorID   uuid.UUID
	MessageID *uuid.UUID
}

// CounterInput records a counter-offer carried by a negotiation message.
type CounterInput struct {
	MessageID uuid.UUID
	ActorID   uuid.UUID
	Proposer  enums.SenderType
	Amount    decimal.Decimal
}

// ListFilter narrows a bid listing. Nil fields are not filtered on.
type ListFilter struct {
	ProjectID *uuid.UUID
	SellerID  *uuid.UUID
}

// BidList is one page of bids ordered by (created_at, id).
type BidList struct {
	Bids       []models.Bid `json:"bids"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// LockedBid is a bid row read under the per-bid lock together with its
// project.
type LockedBid struct {
	Bid     *models.Bid
	Project *models.Project
}

// Role resolves which side of the negotiation userID is on.
func (l LockedBid) Role(userID uuid.UUID) (enums.SenderType, bool) {
	return roleOf(l.Project, l.Bid, userID)
}

func roleOf(project *models.Project, bid *models.Bid, userID uuid.UUID) (enums.SenderType, bool) {
	switch {
	case userID == uuid.Nil:
		return "", false
	case project != nil && project.BuyerID == userID:
		return enums.SenderBuyer, true
	case bid != nil && bid.SellerID == userID:
		return enums.SenderSeller, true
	default:
		return "", false
	}
}
