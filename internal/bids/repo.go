package bids

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/internal/repo"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
)

// Repository persists bids.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, bid *models.Bid) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) (*BidList, error)
	UpdateState(ctx context.Context, bid *models.Bid, from enums.BidStatus) error
}

type repository struct {
	repo.Base
}

// NewRepository builds a bids repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, bid *models.Bid) error {
	return r.DB(ctx).Create(bid).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	var bid models.Bid
	if err := r.DB(ctx).Where("id = ?", id).First(&bid).Error; err != nil {
		return nil, err
	}
	return &bid, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	var bid models.Bid
	err := r.ForUpdate(ctx).
		Where("id = ?", id).
		First(&bid).Error
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) (*BidList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.DB(ctx)
	if filter.ProjectID != nil {
		query = query.Where("project_id = ?", *filter.ProjectID)
	}
	if filter.SellerID != nil {
		query = query.Where("seller_id = ?", *filter.SellerID)
	}

	limit := pagination.NormalizeLimit(params.Limit)
	var rows []models.Bid
	if err := pagination.Seek(query, cursor).Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, err
	}

	list := &BidList{}
	list.Bids, list.NextCursor = pagination.Trim(rows, limit, func(bid models.Bid) pagination.Cursor {
		return pagination.Cursor{CreatedAt: bid.CreatedAt, ID: bid.ID}
	})
	return list, nil
}

// UpdateState writes the mutable lifecycle columns. The write only lands if
// the row still carries status from; otherwise gorm.ErrRecordNotFound is
// returned so a concurrent writer on another node cannot be overwritten.
func (r *repository) UpdateState(ctx context.Context, bid *models.Bid, from enums.BidStatus) error {
	now := time.Now().UTC()
	res := r.DB(ctx).
		Model(&models.Bid{}).
		Where("id = ? AND status = ?", bid.ID, from).
		Updates(map[string]any{
			"status":                     bid.Status,
			"amount":                     bid.Amount,
			"latest_proposed_amount":     bid.LatestProposedAmount,
			"latest_proposal_message_id": bid.LatestProposalMessageID,
			"latest_proposer_type":       bid.LatestProposerType,
			"accepted_at":                bid.AcceptedAt,
			"closed_at":                  bid.ClosedAt,
			"updated_at":                 now,
		})
	if err := repo.Affected(res); err != nil {
		return err
	}
	bid.UpdatedAt = now
	return nil
}
