package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/pkg/enums"
)

// Bid is a seller's priced offer against a buyer's project. Rows are never
// deleted; terminal statuses keep the negotiation history readable.
type Bid struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProjectID uuid.UUID       `gorm:"column:project_id;type:uuid;not null;index" json:"projectId"`
	SellerID  uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;index" json:"sellerId"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Message   *string         `gorm:"column:message;type:text" json:"message,omitempty"`
	Status    enums.BidStatus `gorm:"column:status;type:text;not null" json:"status"`

	// Latest counter-offer on the thread. Amount stays untouched until accept.
	LatestProposedAmount    *decimal.Decimal  `gorm:"column:latest_proposed_amount;type:numeric(14,2)" json:"latestProposedAmount,omitempty"`
	LatestProposalMessageID *uuid.UUID        `gorm:"column:latest_proposal_message_id;type:uuid" json:"latestProposalMessageId,omitempty"`
	LatestProposerType      *enums.SenderType `gorm:"column:latest_proposer_type;type:text" json:"latestProposerType,omitempty"`

	AcceptedAt *time.Time `gorm:"column:accepted_at;type:timestamptz" json:"acceptedAt,omitempty"`
	ClosedAt   *time.Time `gorm:"column:closed_at;type:timestamptz" json:"closedAt,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at;type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;type:timestamptz;autoUpdateTime" json:"updatedAt"`
}

// BeforeCreate assigns identifiers and UTC timestamps that the database does
// not provide on every driver.
func (b *Bid) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	return nil
}

// CurrentAmount is the amount that accepting the bid right now would freeze.
func (b Bid) CurrentAmount() decimal.Decimal {
	if b.LatestProposedAmount != nil {
		return *b.LatestProposedAmount
	}
	return b.Amount
}
