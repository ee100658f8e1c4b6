package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bidroom-backend/pkg/enums"
)

// BidPlacedEvent is emitted when a seller submits a bid on an open project.
type BidPlacedEvent struct {
	BidID     uuid.UUID       `json:"bid_id"`
	ProjectID uuid.UUID       `json:"project_id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	Amount    decimal.Decimal `json:"amount"`
	PlacedAt  time.Time       `json:"placed_at"`
}

// BidTransitionedEvent is emitted for every accepted lifecycle transition.
type BidTransitionedEvent struct {
	BidID        uuid.UUID        `json:"bid_id"`
	ProjectID    uuid.UUID        `json:"project_id"`
	SellerID     uuid.UUID        `json:"seller_id"`
	Event        enums.BidEvent   `json:"event"`
	FromStatus   enums.BidStatus  `json:"from_status"`
	ToStatus     enums.BidStatus  `json:"to_status"`
	Amount       decimal.Decimal  `json:"amount"`
	ProposedBy   enums.SenderType `json:"proposed_by,omitempty"`
	MessageID    *uuid.UUID       `json:"message_id,omitempty"`
	TransitionAt time.Time        `json:"transition_at"`
}

// NegotiationMessageAppendedEvent is emitted when a thread gains a message.
type NegotiationMessageAppendedEvent struct {
	MessageID      uuid.UUID        `json:"message_id"`
	BidID          uuid.UUID        `json:"bid_id"`
	SenderID       uuid.UUID        `json:"sender_id"`
	SenderType     enums.SenderType `json:"sender_type"`
	HasAttachment  bool             `json:"has_attachment"`
	ProposedAmount *decimal.Decimal `json:"proposed_amount,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ExpenseRecordedEvent is emitted when spend is recorded against a project.
type ExpenseRecordedEvent struct {
	ExpenseID     uuid.UUID       `json:"expense_id"`
	ProjectID     uuid.UUID       `json:"project_id"`
	Stage         string          `json:"stage"`
	ExpenseAmount decimal.Decimal `json:"expense_amount"`
	OverSpent     bool            `json:"over_spent"`
}
