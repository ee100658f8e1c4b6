package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/pkg/enums"
)

// NegotiationMessage is one immutable entry in a bid's thread. CreatedAt is
// assigned by the thread store and strictly increases within a thread.
type NegotiationMessage struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	BidID          uuid.UUID        `gorm:"column:bid_id;type:uuid;not null;index" json:"bidId"`
	SenderID       uuid.UUID        `gorm:"column:sender_id;type:uuid;not null" json:"senderId"`
	SenderType     enums.SenderType `gorm:"column:sender_type;type:text;not null" json:"senderType"`
	Message        string           `gorm:"column:message;type:text;not null" json:"message"`
	FileURL        *string          `gorm:"column:file_url;type:text" json:"fileUrl,omitempty"`
	ProposedAmount *decimal.Decimal `gorm:"column:proposed_amount;type:numeric(14,2)" json:"proposedAmount,omitempty"`
	CreatedAt      time.Time        `gorm:"column:created_at;type:timestamptz;not null" json:"createdAt"`
}

func (m *NegotiationMessage) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// IsProposal reports whether the message carries a counter-offer.
func (m NegotiationMessage) IsProposal() bool {
	return m.ProposedAmount != nil
}
