package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Expense is an append-only spend record against a project.
type Expense struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Description    string          `gorm:"column:description;type:text;not null" json:"description"`
	Stage          string          `gorm:"column:stage;type:text;not null" json:"stage"`
	ExpenseAmount  decimal.Decimal `gorm:"column:expense_amount;type:numeric(14,2);not null" json:"expenseAmount"`
	FinalProjectID uuid.UUID       `gorm:"column:final_project_id;type:uuid;not null;index" json:"finalProjectId"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;autoCreateTime" json:"createdAt"`
}

func (e *Expense) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	return nil
}
