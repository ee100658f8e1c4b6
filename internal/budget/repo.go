package budget

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/internal/repo"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
)

// Repository reads and appends project expenses.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, expense *models.Expense) error
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Expense, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds an expense repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, expense *models.Expense) error {
	return r.DB(ctx).Create(expense).Error
}

func (r *repository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Expense, error) {
	var rows []models.Expense
	err := r.DB(ctx).
		Where("final_project_id = ?", projectID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.Expense{}
	}
	return rows, nil
}
