package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
)

var errNoTx = errors.New("transaction required")

// maxErrorLen caps last_error so one runaway message cannot bloat the row.
const maxErrorLen = 2048

// Repository reads and updates outbox_events. Every method runs on the
// transaction it is handed so queueing and delivery bookkeeping commit with
// the surrounding work.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Create(event).Error
}

// ClaimBatch returns the oldest undelivered rows below maxAttempts. On
// Postgres the rows stay locked until tx ends and other publishers skip them.
func (r *Repository) ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errNoTx
	}
	query := tx.Where("published_at IS NULL AND terminal_at IS NULL")
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked})
	}
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}

	var rows []models.OutboxEvent
	err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.update(tx, id, map[string]any{"published_at": at.UTC()})
}

// RecordFailure counts one failed attempt. The row stays claimable.
func (r *Repository) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error {
	return r.update(tx, id, map[string]any{
		"last_error":    errorText(cause),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// MarkTerminal stops delivery for good.
func (r *Repository) MarkTerminal(tx *gorm.DB, id uuid.UUID, reason enums.OutboxTerminalReason, cause error, at time.Time) error {
	return r.update(tx, id, map[string]any{
		"last_error":      errorText(cause),
		"attempt_count":   gorm.Expr("attempt_count + 1"),
		"terminal_at":     at.UTC(),
		"terminal_reason": reason,
	})
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, values map[string]any) error {
	if tx == nil {
		return errNoTx
	}
	res := tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	text := err.Error()
	if len(text) > maxErrorLen {
		text = text[:maxErrorLen]
	}
	return &text
}
