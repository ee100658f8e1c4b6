package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/pkg/enums"
)

// OutboxEvent is a domain event written in the same transaction as the bid,
// message or expense change it describes. The publisher fills in the
// delivery columns.
type OutboxEvent struct {
	ID             uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	EventType      enums.OutboxEventType       `gorm:"column:event_type;type:text;not null"`
	AggregateType  enums.OutboxAggregateType   `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID    uuid.UUID                   `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload        json.RawMessage             `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime"`
	PublishedAt    *time.Time                  `gorm:"column:published_at"`
	AttemptCount   int                         `gorm:"column:attempt_count;not null;default:0"`
	LastError      *string                     `gorm:"column:last_error"`
	TerminalAt     *time.Time                  `gorm:"column:terminal_at"`
	TerminalReason *enums.OutboxTerminalReason `gorm:"column:terminal_reason"`
}

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}
