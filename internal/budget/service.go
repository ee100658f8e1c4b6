package budget

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/internal/projects"
	"github.com/angelmondragon/bidroom-backend/pkg/db"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Summary is the budget view of one project.
type Summary struct {
	ProjectID     uuid.UUID        `json:"projectId"`
	AcceptedBidID *uuid.UUID       `json:"acceptedBidId,omitempty"`
	Expenses      []models.Expense `json:"expenses"`
	Reconciliation
}

// RecordExpenseInput appends spend against a project.
type RecordExpenseInput struct {
	ProjectID   uuid.UUID
	ActorID     uuid.UUID
	Description string
	Stage       string
	Amount      decimal.Decimal
}

// Service exposes budget reads and expense recording.
type Service interface {
	Summary(ctx context.Context, projectID, actorID uuid.UUID) (*Summary, error)
	RecordExpense(ctx context.Context, input RecordExpenseInput) (*models.Expense, error)
}

type service struct {
	expenses Repository
	projects projects.Repository
	bids     acceptedBidReader
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
}

// acceptedBidReader resolves the seller of a project's accepted bid.
type acceptedBidReader interface {
	GetByID(ctx context.Context, bidID uuid.UUID) (*models.Bid, error)
}

// NewService builds the budget service with the required dependencies.
func NewService(expenses Repository, projectRepo projects.Repository, bids acceptedBidReader, tx txRunner, emitter outboxPublisher, logg *logger.Logger) (Service, error) {
	if expenses == nil {
		return nil, fmt.Errorf("expense repository required")
	}
	if projectRepo == nil {
		return nil, fmt.Errorf("projects repository required")
	}
	if bids == nil {
		return nil, fmt.Errorf("bid reader required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		expenses: expenses,
		projects: projectRepo,
		bids:     bids,
		tx:       tx,
		outbox:   emitter,
		logg:     logg,
	}, nil
}

// Summary is visible to the buyer and to the seller whose bid was accepted.
// Nothing is cached; every call re-reads the expenses.
func (s *service) Summary(ctx context.Context, projectID, actorID uuid.UUID) (*Summary, error) {
	project, err := s.loadProject(ctx, s.projects, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, project, actorID); err != nil {
		return nil, err
	}

	rows, err := s.expenses.ListByProject(ctx, projectID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expenses")
	}
	return &Summary{
		ProjectID:      project.ID,
		AcceptedBidID:  project.AcceptedBidID,
		Expenses:       rows,
		Reconciliation: Reconcile(baselineOf(project), rows),
	}, nil
}

func (s *service) RecordExpense(ctx context.Context, input RecordExpenseInput) (*models.Expense, error) {
	if input.ProjectID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "project id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	description := strings.TrimSpace(input.Description)
	stage := strings.TrimSpace(input.Stage)
	if description == "" || stage == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "description and stage are required")
	}
	if err := models.CheckMoney(input.Amount); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "expense amount "+err.Error())
	}

	var expense *models.Expense
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		project, err := s.loadProject(ctx, s.projects.WithTx(tx), input.ProjectID)
		if err != nil {
			return err
		}
		if project.BuyerID != input.ActorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the project buyer can record expenses")
		}

		repo := s.expenses.WithTx(tx)
		expense = &models.Expense{
			Description:    description,
			Stage:          stage,
			ExpenseAmount:  input.Amount,
			FinalProjectID: project.ID,
			CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
		}
		if err := repo.Create(ctx, expense); err != nil {
			return db.Classify(err, "insert expense")
		}
		rows, err := repo.ListByProject(ctx, project.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expenses")
		}
		summary := Reconcile(baselineOf(project), rows)

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventExpenseRecorded,
			AggregateType: enums.AggregateProject,
			AggregateID:   project.ID,
			Actor:         &outbox.ActorRef{UserID: input.ActorID, Role: enums.SenderBuyer},
			Data: payloads.ExpenseRecordedEvent{
				ExpenseID:     expense.ID,
				ProjectID:     project.ID,
				Stage:         expense.Stage,
				ExpenseAmount: expense.ExpenseAmount,
				OverSpent:     summary.OverSpent,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithField(s.logg.WithProjectID(ctx, input.ProjectID), "expense_id", expense.ID.String())
		s.logg.Info(logCtx, "budget.expense_recorded")
	}
	return expense, nil
}

func (s *service) loadProject(ctx context.Context, repo projects.Repository, projectID uuid.UUID) (*models.Project, error) {
	project, err := repo.FindByID(ctx, projectID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "project not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load project")
	}
	return project, nil
}

func (s *service) authorizeRead(ctx context.Context, project *models.Project, actorID uuid.UUID) error {
	if actorID != uuid.Nil && project.BuyerID == actorID {
		return nil
	}
	if project.AcceptedBidID != nil {
		bid, err := s.bids.GetByID(ctx, *project.AcceptedBidID)
		if err != nil {
			return err
		}
		if bid.SellerID == actorID {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "actor cannot view this project's budget")
}

func baselineOf(project *models.Project) decimal.Decimal {
	if project.BudgetBaseline == nil {
		return decimal.Zero
	}
	return *project.BudgetBaseline
}
