package projects

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/internal/repo"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
)

// Repository reads projects owned by the project collaborator and records the
// accepted bid that becomes the budget baseline.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Project, error)
	SetAcceptedBid(ctx context.Context, id, bidID uuid.UUID, baseline decimal.Decimal) error
}

type repository struct {
	repo.Base
}

// NewRepository builds a projects repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var project models.Project
	if err := r.DB(ctx).Where("id = ?", id).First(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var project models.Project
	err := r.ForUpdate(ctx).
		Where("id = ?", id).
		First(&project).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// SetAcceptedBid only writes when the project has no accepted bid yet and
// returns gorm.ErrRecordNotFound otherwise.
func (r *repository) SetAcceptedBid(ctx context.Context, id, bidID uuid.UUID, baseline decimal.Decimal) error {
	res := r.DB(ctx).
		Model(&models.Project{}).
		Where("id = ? AND accepted_bid_id IS NULL", id).
		Updates(map[string]any{
			"accepted_bid_id": bidID,
			"budget_baseline": baseline,
			"updated_at":      time.Now().UTC(),
		})
	if err := repo.Affected(res); err != nil {
		return err
	}
	return nil
}
