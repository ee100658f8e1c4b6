package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bidroom-backend/pkg/enums"
)

// Project is owned by the project collaborator. The negotiation core only
// reads it and records the accepted bid plus its frozen amount.
type Project struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	BuyerID        uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null" json:"buyerId"`
	Title          string              `gorm:"column:title;type:text;not null" json:"title"`
	Status         enums.ProjectStatus `gorm:"column:status;type:text;not null" json:"status"`
	AcceptedBidID  *uuid.UUID          `gorm:"column:accepted_bid_id;type:uuid" json:"acceptedBidId,omitempty"`
	BudgetBaseline *decimal.Decimal    `gorm:"column:budget_baseline;type:numeric(14,2)" json:"budgetBaseline,omitempty"`
	CreatedAt      time.Time           `gorm:"column:created_at;type:timestamptz;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;type:timestamptz;autoUpdateTime" json:"updatedAt"`
}
