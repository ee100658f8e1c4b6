package bids

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/internal/projects"
	"github.com/angelmondragon/bidroom-backend/pkg/db"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/keymutex"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
	"github.com/angelmondragon/bidroom-backend/pkg/metrics"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the bid store: placement, lifecycle transitions and reads.
type Service interface {
	PlaceBid(ctx context.Context, input PlaceBidInput) (*models.Bid, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Bid, error)
	GetByID(ctx context.Context, bidID uuid.UUID) (*models.Bid, error)
	GetForParticipant(ctx context.Context, bidID, userID uuid.UUID) (*models.Bid, enums.SenderType, error)
	ListByProject(ctx context.Context, projectID, actorID uuid.UUID, params pagination.Params) (*BidList, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*BidList, error)

	// WithBidLock runs fn inside a transaction while holding the per-bid lock
	// and a row lock on the bid.
	WithBidLock(ctx context.Context, bidID uuid.UUID, fn func(tx *gorm.DB, locked LockedBid) error) error
	// ApplyCounter moves a locked bid to COUNTERED inside tx. It must be
	// called from within WithBidLock.
	ApplyCounter(ctx context.Context, tx *gorm.DB, locked LockedBid, input CounterInput) error
}

// ServiceParams wires the bid service.
type ServiceParams struct {
	Repo     Repository
	Projects projects.Repository
	Tx       txRunner
	Outbox   outboxPublisher
	Locks    *keymutex.KeyMutex[uuid.UUID]
	Metrics  *metrics.NegotiationMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
}

type service struct {
	repo     Repository
	projects projects.Repository
	tx       txRunner
	outbox   outboxPublisher
	locks    *keymutex.KeyMutex[uuid.UUID]
	metrics  *metrics.NegotiationMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the bid service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("bids repository required")
	}
	if params.Projects == nil {
		return nil, fmt.Errorf("projects repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("bid locks required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:     params.Repo,
		projects: params.Projects,
		tx:       params.Tx,
		outbox:   params.Outbox,
		locks:    params.Locks,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      func() time.Time { return clock().UTC().Truncate(time.Microsecond) },
	}, nil
}

func (s *service) PlaceBid(ctx context.Context, input PlaceBidInput) (*models.Bid, error) {
	if input.ProjectID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "project id required")
	}
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if err := models.CheckMoney(input.Amount); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount "+err.Error()).
			WithDetails(map[string]any{"field": "amount"})
	}

	var bid *models.Bid
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		project, err := s.projects.WithTx(tx).FindByID(ctx, input.ProjectID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "project not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load project")
		}
		if !project.Status.AcceptsBids() {
			return pkgerrors.New(pkgerrors.CodeValidation, "project is not open for bids").
				WithDetails(map[string]any{"projectStatus": project.Status})
		}
		if project.BuyerID == input.SellerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "buyers cannot bid on their own project")
		}

		now := s.now()
		bid = &models.Bid{
			ProjectID: project.ID,
			SellerID:  input.SellerID,
			Amount:    input.Amount,
			Message:   input.Message,
			Status:    enums.BidStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.WithTx(tx).Create(ctx, bid); err != nil {
			return db.Classify(err, "create bid")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBidPlaced,
			AggregateType: enums.AggregateBid,
			AggregateID:   bid.ID,
			Actor:         &outbox.ActorRef{UserID: input.SellerID, Role: enums.SenderSeller},
			Data: payloads.BidPlacedEvent{
				BidID:     bid.ID,
				ProjectID: bid.ProjectID,
				SellerID:  bid.SellerID,
				Amount:    bid.Amount,
				PlacedAt:  bid.CreatedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncBidPlaced()
	if s.logg != nil {
		logCtx := s.logg.WithProjectID(s.logg.WithBidID(ctx, bid.ID), bid.ProjectID)
		s.logg.Info(logCtx, "bid.placed")
	}
	return bid, nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Bid, error) {
	if input.BidID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bid id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Event.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown bid event %q", input.Event))
	}

	var result *models.Bid
	err := s.WithBidLock(ctx, input.BidID, func(tx *gorm.DB, locked LockedBid) error {
		role, ok := locked.Role(input.ActorID)
		if !ok {
			return pkgerrors.New(pkgerrors.CodeForbidden, "actor is not a participant of this bid")
		}
		if input.Event == enums.BidEventCounter {
			if locked.Bid.Status.IsTerminal() {
				return invalidTransition(locked.Bid.Status, input.Event, fmt.Sprintf("bid is already %s", locked.Bid.Status))
			}
			return invalidTransition(locked.Bid.Status, input.Event, "counter-offers are sent as negotiation messages with a proposed amount")
		}

		from := locked.Bid.Status
		to, err := NextStatus(from, input.Event)
		if err != nil {
			return err
		}
		if err := authorize(role, input.Event, locked.Bid.LatestProposerType); err != nil {
			return err
		}

		now := s.now()
		bid := locked.Bid
		switch input.Event {
		case enums.BidEventAccept:
			if err := checkAcceptedProposal(bid, input.MessageID); err != nil {
				return err
			}
			bid.Amount = bid.CurrentAmount()
			bid.AcceptedAt = &now
			bid.ClosedAt = &now
			if err := s.projects.WithTx(tx).SetAcceptedBid(ctx, locked.Project.ID, bid.ID, bid.Amount); err != nil {
				if db.IsNotFound(err) {
					return invalidTransition(from, input.Event, "project already has an accepted bid")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record project baseline")
			}
		default:
			bid.ClosedAt = &now
		}
		bid.Status = to

		if err := s.saveState(ctx, tx, bid, from, input.Event); err != nil {
			return err
		}
		if err := s.emitTransition(ctx, tx, bid, from, input.Event, input.ActorID, role, input.MessageID, now); err != nil {
			return err
		}
		result = bid
		return nil
	})
	s.recordTransition(ctx, input.BidID, input.Event, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ApplyCounter(ctx context.Context, tx *gorm.DB, locked LockedBid, input CounterInput) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required for counter-offer")
	}
	if err := models.CheckMoney(input.Amount); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "proposed amount "+err.Error())
	}
	bid := locked.Bid
	from := bid.Status
	to, err := NextStatus(from, enums.BidEventCounter)
	if err != nil {
		s.recordTransition(ctx, bid.ID, enums.BidEventCounter, err)
		return err
	}

	amount := input.Amount
	messageID := input.MessageID
	proposer := input.Proposer
	bid.Status = to
	bid.LatestProposedAmount = &amount
	bid.LatestProposalMessageID = &messageID
	bid.LatestProposerType = &proposer

	err = s.saveState(ctx, tx, bid, from, enums.BidEventCounter)
	if err == nil {
		err = s.emitTransition(ctx, tx, bid, from, enums.BidEventCounter, input.ActorID, proposer, &messageID, s.now())
	}
	s.recordTransition(ctx, bid.ID, enums.BidEventCounter, err)
	return err
}

func (s *service) WithBidLock(ctx context.Context, bidID uuid.UUID, fn func(tx *gorm.DB, locked LockedBid) error) error {
	unlock, err := s.locks.Lock(ctx, bidID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire bid lock")
	}
	defer unlock()

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		bid, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, bidID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "bid not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bid")
		}
		project, err := s.projects.WithTx(tx).FindByID(ctx, bid.ProjectID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "project not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load project")
		}
		return fn(tx, LockedBid{Bid: bid, Project: project})
	})
}

func (s *service) GetByID(ctx context.Context, bidID uuid.UUID) (*models.Bid, error) {
	bid, err := s.repo.FindByID(ctx, bidID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bid not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bid")
	}
	return bid, nil
}

func (s *service) GetForParticipant(ctx context.Context, bidID, userID uuid.UUID) (*models.Bid, enums.SenderType, error) {
	bid, err := s.GetByID(ctx, bidID)
	if err != nil {
		return nil, "", err
	}
	project, err := s.projects.FindByID(ctx, bid.ProjectID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, "", pkgerrors.New(pkgerrors.CodeNotFound, "project not found")
		}
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load project")
	}
	role, ok := roleOf(project, bid, userID)
	if !ok {
		return nil, "", pkgerrors.New(pkgerrors.CodeForbidden, "actor is not a participant of this bid")
	}
	return bid, role, nil
}

// ListByProject returns every bid to the project's buyer; a seller only sees
// their own bids on the project.
func (s *service) ListByProject(ctx context.Context, projectID, actorID uuid.UUID, params pagination.Params) (*BidList, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "project not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load project")
	}
	filter := ListFilter{ProjectID: &projectID}
	if project.BuyerID != actorID {
		filter.SellerID = &actorID
	}
	list, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list bids")
	}
	return list, nil
}

func (s *service) ListBySeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*BidList, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	list, err := s.repo.List(ctx, ListFilter{SellerID: &sellerID}, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list bids")
	}
	return list, nil
}

func (s *service) saveState(ctx context.Context, tx *gorm.DB, bid *models.Bid, from enums.BidStatus, event enums.BidEvent) error {
	if err := s.repo.WithTx(tx).UpdateState(ctx, bid, from); err != nil {
		if db.IsNotFound(err) {
			return invalidTransition(from, event, "bid changed concurrently")
		}
		if db.IsUniqueViolation(err, "") {
			return invalidTransition(from, event, "project already has an accepted bid")
		}
		return db.Classify(err, "update bid status")
	}
	return nil
}

func (s *service) emitTransition(ctx context.Context, tx *gorm.DB, bid *models.Bid, from enums.BidStatus, event enums.BidEvent, actorID uuid.UUID, role enums.SenderType, messageID *uuid.UUID, at time.Time) error {
	eventType, err := enums.BidEventOutboxType(event)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "map bid event")
	}
	data := payloads.BidTransitionedEvent{
		BidID:        bid.ID,
		ProjectID:    bid.ProjectID,
		SellerID:     bid.SellerID,
		Event:        event,
		FromStatus:   from,
		ToStatus:     bid.Status,
		Amount:       bid.CurrentAmount(),
		MessageID:    messageID,
		TransitionAt: at,
	}
	if bid.LatestProposerType != nil {
		data.ProposedBy = *bid.LatestProposerType
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateBid,
		AggregateID:   bid.ID,
		Actor:         &outbox.ActorRef{UserID: actorID, Role: role},
		Data:          data,
	})
}

func (s *service) recordTransition(ctx context.Context, bidID uuid.UUID, event enums.BidEvent, err error) {
	outcome := metrics.OutcomeApplied
	switch {
	case err == nil:
	case pkgerrors.Is(err, pkgerrors.CodeInvalidTransition), pkgerrors.Is(err, pkgerrors.CodeForbidden), pkgerrors.Is(err, pkgerrors.CodeValidation):
		outcome = metrics.OutcomeRejected
	default:
		outcome = metrics.OutcomeError
	}
	s.metrics.IncTransition(string(event), outcome)

	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(s.logg.WithBidID(ctx, bidID), map[string]any{
		"event":   event,
		"outcome": outcome,
	})
	switch outcome {
	case metrics.OutcomeApplied:
		s.logg.Info(logCtx, "bid.transitioned")
	case metrics.OutcomeRejected:
		s.logg.WarnErr(logCtx, "bid.transition_rejected", err)
	default:
		s.logg.Error(logCtx, "bid.transition_failed", err)
	}
}

func checkAcceptedProposal(bid *models.Bid, messageID *uuid.UUID) error {
	if messageID == nil {
		return nil
	}
	if bid.LatestProposalMessageID == nil || *bid.LatestProposalMessageID != *messageID {
		return invalidTransition(bid.Status, enums.BidEventAccept, "counter-offer is no longer the latest proposal")
	}
	return nil
}
