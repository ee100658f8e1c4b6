package negotiation

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/internal/bids"
	"github.com/angelmondragon/bidroom-backend/pkg/db"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
	"github.com/angelmondragon/bidroom-backend/pkg/metrics"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
)

const defaultPageSize = 100

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the negotiation thread store.
type Service interface {
	AppendMessage(ctx context.Context, input AppendInput) (*models.NegotiationMessage, error)
	History(ctx context.Context, bidID uuid.UUID, after *pagination.Cursor) iter.Seq2[models.NegotiationMessage, error]
	HistoryPage(ctx context.Context, bidID, actorID uuid.UUID, params pagination.Params) (*HistoryPage, error)
}

// ServiceParams wires the negotiation service.
type ServiceParams struct {
	Repo     Repository
	Bids     bids.Service
	Outbox   outboxPublisher
	Metrics  *metrics.NegotiationMetrics
	Logger   *logger.Logger
	PageSize int
	Clock    func() time.Time
}

type service struct {
	repo     Repository
	bids     bids.Service
	outbox   outboxPublisher
	metrics  *metrics.NegotiationMetrics
	logg     *logger.Logger
	pageSize int
	now      func() time.Time
}

// NewService builds the negotiation service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("negotiation repository required")
	}
	if params.Bids == nil {
		return nil, fmt.Errorf("bid service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:     params.Repo,
		bids:     params.Bids,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		pageSize: pageSize,
		now:      clock,
	}, nil
}

func (s *service) AppendMessage(ctx context.Context, input AppendInput) (*models.NegotiationMessage, error) {
	if input.BidID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bid id required")
	}
	if input.SenderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.SenderType != "" && !input.SenderType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid sender type %q", input.SenderType))
	}
	body, fileURL, err := normalizeContent(input)
	if err != nil {
		return nil, err
	}

	var message *models.NegotiationMessage
	err = s.bids.WithBidLock(ctx, input.BidID, func(tx *gorm.DB, locked bids.LockedBid) error {
		role, ok := locked.Role(input.SenderID)
		if !ok {
			return pkgerrors.New(pkgerrors.CodeForbidden, "sender is not a participant of this bid")
		}
		if input.SenderType != "" && input.SenderType != role {
			return pkgerrors.New(pkgerrors.CodeForbidden, "sender type does not match the sender's side of the bid")
		}
		if locked.Bid.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeThreadClosed, fmt.Sprintf("bid is %s", locked.Bid.Status)).
				WithDetails(map[string]any{"status": locked.Bid.Status})
		}

		repo := s.repo.WithTx(tx)
		latest, err := repo.LatestCreatedAt(ctx, input.BidID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load thread clock")
		}

		message = &models.NegotiationMessage{
			ID:             uuid.New(),
			BidID:          input.BidID,
			SenderID:       input.SenderID,
			SenderType:     role,
			Message:        body,
			FileURL:        fileURL,
			ProposedAmount: input.ProposedAmount,
			CreatedAt:      nextCreatedAt(s.now(), latest),
		}
		if err := repo.Create(ctx, message); err != nil {
			return db.Classify(err, "insert negotiation message")
		}

		if message.IsProposal() {
			err := s.bids.ApplyCounter(ctx, tx, locked, bids.CounterInput{
				MessageID: message.ID,
				ActorID:   input.SenderID,
				Proposer:  role,
				Amount:    *message.ProposedAmount,
			})
			if err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventNegotiationMessageAppended,
			AggregateType: enums.AggregateNegotiationMessage,
			AggregateID:   message.ID,
			Actor:         &outbox.ActorRef{UserID: input.SenderID, Role: role},
			Data: payloads.NegotiationMessageAppendedEvent{
				MessageID:      message.ID,
				BidID:          message.BidID,
				SenderID:       message.SenderID,
				SenderType:     message.SenderType,
				HasAttachment:  message.FileURL != nil,
				ProposedAmount: message.ProposedAmount,
				CreatedAt:      message.CreatedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncMessage(string(message.SenderType), message.IsProposal())
	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithBidID(ctx, message.BidID), map[string]any{
			"message_id":  message.ID.String(),
			"sender_type": message.SenderType,
			"proposal":    message.IsProposal(),
		})
		s.logg.Info(logCtx, "negotiation.message_appended")
	}
	return message, nil
}

// History yields the thread after the cursor in (created_at, id) order, one
// page per query. Every range over the returned sequence starts again from
// the same cursor.
func (s *service) History(ctx context.Context, bidID uuid.UUID, after *pagination.Cursor) iter.Seq2[models.NegotiationMessage, error] {
	return func(yield func(models.NegotiationMessage, error) bool) {
		var cursor *pagination.Cursor
		if after != nil {
			start := *after
			cursor = &start
		}
		for {
			rows, err := s.fetch(ctx, bidID, cursor, s.pageSize)
			if err != nil {
				yield(models.NegotiationMessage{}, err)
				return
			}
			for _, row := range rows {
				if !yield(row, nil) {
					return
				}
			}
			if len(rows) < s.pageSize {
				return
			}
			next := CursorOf(rows[len(rows)-1])
			cursor = &next
		}
	}
}

func (s *service) HistoryPage(ctx context.Context, bidID, actorID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if _, _, err := s.bids.GetForParticipant(ctx, bidID, actorID); err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	rows, err := s.fetch(ctx, bidID, cursor, limit+1)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{}
	page.Messages, page.NextCursor = pagination.Trim(rows, limit, CursorOf)
	return page, nil
}

func (s *service) fetch(ctx context.Context, bidID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.NegotiationMessage, error) {
	mode := "full"
	if cursor != nil {
		mode = "incremental"
	}
	started := time.Now()
	rows, err := s.repo.ListAfter(ctx, bidID, cursor, limit)
	s.metrics.ObserveHistoryFetch(mode, time.Since(started))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load negotiation history")
	}
	if rows == nil {
		rows = []models.NegotiationMessage{}
	}
	return rows, nil
}

func normalizeContent(input AppendInput) (string, *string, error) {
	body := strings.TrimSpace(input.Message)
	var fileURL *string
	if input.FileURL != nil {
		if trimmed := strings.TrimSpace(*input.FileURL); trimmed != "" {
			fileURL = &trimmed
		}
	}
	if input.ProposedAmount != nil {
		if err := models.CheckMoney(*input.ProposedAmount); err != nil {
			return "", nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "proposed amount "+err.Error())
		}
	}
	if body == "" && fileURL == nil && input.ProposedAmount == nil {
		return "", nil, pkgerrors.New(pkgerrors.CodeValidation, "message is empty and has no attachment or proposed amount")
	}
	return body, fileURL, nil
}
