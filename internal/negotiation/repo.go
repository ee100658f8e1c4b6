package negotiation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/internal/repo"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
)

// Repository persists negotiation threads. Messages are insert-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, message *models.NegotiationMessage) error
	LatestCreatedAt(ctx context.Context, bidID uuid.UUID) (*time.Time, error)
	ListAfter(ctx context.Context, bidID uuid.UUID, after *pagination.Cursor, limit int) ([]models.NegotiationMessage, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a negotiation repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, message *models.NegotiationMessage) error {
	return r.DB(ctx).Create(message).Error
}

func (r *repository) LatestCreatedAt(ctx context.Context, bidID uuid.UUID) (*time.Time, error) {
	var rows []models.NegotiationMessage
	err := r.DB(ctx).
		Select("created_at").
		Where("bid_id = ?", bidID).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[0].CreatedAt.UTC()
	return &latest, nil
}

// ListAfter returns up to limit messages strictly after the cursor in
// (created_at, id) order. A nil cursor starts at the beginning of the thread.
func (r *repository) ListAfter(ctx context.Context, bidID uuid.UUID, after *pagination.Cursor, limit int) ([]models.NegotiationMessage, error) {
	var rows []models.NegotiationMessage
	err := pagination.Seek(r.DB(ctx).Where("bid_id = ?", bidID), after).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
