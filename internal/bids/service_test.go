package bids

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/internal/projects"
	"github.com/angelmondragon/bidroom-backend/pkg/db"
	"github.com/angelmondragon/bidroom-backend/pkg/db/dbtest"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/keymutex"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
	"github.com/angelmondragon/bidroom-backend/pkg/metrics"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
)

type harness struct {
	client  *db.Client
	service Service
	buyerID uuid.UUID
	project *models.Project
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "bids-test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(client.DB()),
		Projects: projects.NewRepository(client.DB()),
		Tx:       client,
		Outbox:   outbox.NewService(outbox.NewRepository(), logg),
		Locks:    keymutex.New[uuid.UUID](),
		Metrics:  metrics.NewNegotiationMetrics(nil),
		Logger:   logg,
	})
	require.NoError(t, err)

	buyerID := uuid.New()
	return &harness{
		client:  client,
		service: svc,
		buyerID: buyerID,
		project: dbtest.MustCreateProject(t, client.DB(), buyerID, enums.ProjectStatusOpen),
	}
}

func (h *harness) place(t *testing.T, amount string) *models.Bid {
	t.Helper()
	bid, err := h.service.PlaceBid(context.Background(), PlaceBidInput{
		ProjectID: h.project.ID,
		SellerID:  uuid.New(),
		Amount:    decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return bid
}

func (h *harness) counter(t *testing.T, bid *models.Bid, actor uuid.UUID, proposer enums.SenderType, amount string) uuid.UUID {
	t.Helper()
	messageID := uuid.New()
	err := h.service.WithBidLock(context.Background(), bid.ID, func(tx *gorm.DB, locked LockedBid) error {
		return h.service.ApplyCounter(context.Background(), tx, locked, CounterInput{
			MessageID: messageID,
			ActorID:   actor,
			Proposer:  proposer,
			Amount:    decimal.RequireFromString(amount),
		})
	})
	require.NoError(t, err)
	return messageID
}

func countOutbox(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, pkgerrors.CodeOf(err), "unexpected error: %v", err)
}

func TestPlaceBidCreatesPendingBid(t *testing.T) {
	h := newHarness(t)
	message := "can start next week"
	sellerID := uuid.New()

	bid, err := h.service.PlaceBid(context.Background(), PlaceBidInput{
		ProjectID: h.project.ID,
		SellerID:  sellerID,
		Amount:    decimal.NewFromInt(1_000_000),
		Message:   &message,
	})
	require.NoError(t, err)
	require.Equal(t, enums.BidStatusPending, bid.Status)

	stored, err := h.service.GetByID(context.Background(), bid.ID)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(1_000_000).Equal(stored.Amount))
	require.Equal(t, sellerID, stored.SellerID)
	require.Equal(t, message, *stored.Message)
	require.EqualValues(t, 1, countOutbox(t, h.client.DB(), enums.EventBidPlaced))
}

func TestPlaceBidValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, amount := range []string{"0", "-5"} {
		_, err := h.service.PlaceBid(ctx, PlaceBidInput{ProjectID: h.project.ID, SellerID: uuid.New(), Amount: decimal.RequireFromString(amount)})
		requireCode(t, err, pkgerrors.CodeValidation)
	}

	_, err := h.service.PlaceBid(ctx, PlaceBidInput{ProjectID: uuid.New(), SellerID: uuid.New(), Amount: decimal.NewFromInt(10)})
	requireCode(t, err, pkgerrors.CodeNotFound)

	closed := dbtest.MustCreateProject(t, h.client.DB(), h.buyerID, enums.ProjectStatusClosed)
	_, err = h.service.PlaceBid(ctx, PlaceBidInput{ProjectID: closed.ID, SellerID: uuid.New(), Amount: decimal.NewFromInt(10)})
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = h.service.PlaceBid(ctx, PlaceBidInput{ProjectID: h.project.ID, SellerID: h.buyerID, Amount: decimal.NewFromInt(10)})
	requireCode(t, err, pkgerrors.CodeForbidden)

	require.Zero(t, countOutbox(t, h.client.DB(), enums.EventBidPlaced))
}

func TestTransitionAcceptFreezesAmountAndSetsBaseline(t *testing.T) {
	h := newHarness(t)
	bid := h.place(t, "1000000")

	accepted, err := h.service.Transition(context.Background(), TransitionInput{
		BidID:   bid.ID,
		Event:   enums.BidEventAccept,
		ActorID: h.buyerID,
	})
	require.NoError(t, err)
	require.Equal(t, enums.BidStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)

	project, err := projects.NewRepository(h.client.DB()).FindByID(context.Background(), h.project.ID)
	require.NoError(t, err)
	require.Equal(t, bid.ID, *project.AcceptedBidID)
	require.True(t, decimal.NewFromInt(1_000_000).Equal(*project.BudgetBaseline))
	require.EqualValues(t, 1, countOutbox(t, h.client.DB(), enums.EventBidAccepted))
}

func TestTransitionAcceptsLatestCounter(t *testing.T) {
	h := newHarness(t)
	bid := h.place(t, "1000000")
	messageID := h.counter(t, bid, bid.SellerID, enums.SenderSeller, "900000")

	countered, err := h.service.GetByID(context.Background(), bid.ID)
	require.NoError(t, err)
	require.Equal(t, enums.BidStatusCountered, countered.Status)
	require.True(t, decimal.NewFromInt(1_000_000).Equal(countered.Amount), "amount must not change on counter")
	require.True(t, decimal.NewFromInt(900_000).Equal(*countered.LatestProposedAmount))

	_, err = h.service.Transition(context.Background(), TransitionInput{
		BidID:   bid.ID,
		Event:   enums.BidEventAccept,
		ActorID: bid.SellerID,
	})
	requireCode(t, err, pkgerrors.CodeForbidden)

	stale := uuid.New()
	_, err = h.service.Transition(context.Background(), TransitionInput{
		BidID:     bid.ID,
		Event:     enums.BidEventAccept,
		ActorID:   h.buyerID,
		MessageID: &stale,
	})
	requireCode(t, err, pkgerrors.CodeInvalidTransition)

	accepted, err := h.service.Transition(context.Background(), TransitionInput{
		BidID:     bid.ID,
		Event:     enums.BidEventAccept,
		ActorID:   h.buyerID,
		MessageID: &messageID,
	})
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(900_000).Equal(accepted.Amount))

	project, err := projects.NewRepository(h.client.DB()).FindByID(context.Background(), h.project.ID)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(900_000).Equal(*project.BudgetBaseline))
}

func TestSellerAcceptsBuyerCounter(t *testing.T) {
	h := newHarness(t)
	bid := h.place(t, "500")
	h.counter(t, bid, h.buyerID, enums.SenderBuyer, "450")

	accepted, err := h.service.Transition(context.Background(), TransitionInput{
		BidID:   bid.ID,
		Event:   enums.BidEventAccept,
		ActorID: bid.SellerID,
	})
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(450).Equal(accepted.Amount))
}

func TestTransitionRejectsCounterEvent(t *testing.T) {
	h := newHarness(t)
	bid := h.place(t, "100")

	_, err := h.service.Transition(context.Background(), TransitionInput{
		BidID:   bid.ID,
		Event:   enums.BidEventCounter,
		ActorID: h.buyerID,
	})
	requireCode(t, err, pkgerrors.CodeInvalidTransition)
}

func TestTransitionParticipantsAndLookup(t *testing.T) {
	h := newHarness(t)
	bid := h.place(t, "100")

	_, err := h.service.Transition(context.Background(), TransitionInput{
		BidID:   bid.ID,
		Event:   enums.BidEventReject,
		ActorID: uuid.New(),
	})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = h.service.Transition(context.Background(), TransitionInput{
		BidID:   uuid.New(),
		Event:   enums.BidEventReject,
		ActorID: h.buyerID,
	})
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, role, err := h.service.GetForParticipant(context.Background(), bid.ID, bid.SellerID)
	require.NoError(t, err)
	require.Equal(t, enums.SenderSeller, role)

	_, _, err = h.service.GetForParticipant(context.Background(), bid.ID, uuid.New())
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestTerminalBidRefusesEveryTransition(t *testing.T) {
	for _, closing := range []enums.BidEvent{enums.BidEventAccept, enums.BidEventReject, enums.BidEventWithdraw} {
		t.Run(string(closing), func(t *testing.T) {
			h := newHarness(t)
			bid := h.place(t, "100")
			closed, err := h.service.Transition(context.Background(), TransitionInput{BidID: bid.ID, Event: closing, ActorID: h.buyerID})
			require.NoError(t, err)

			for _, event := range []enums.BidEvent{enums.BidEventCounter, enums.BidEventAccept, enums.BidEventReject, enums.BidEventWithdraw} {
				_, err := h.service.Transition(context.Background(), TransitionInput{BidID: bid.ID, Event: event, ActorID: h.buyerID})
				requireCode(t, err, pkgerrors.CodeInvalidTransition)
			}

			stored, err := h.service.GetByID(context.Background(), bid.ID)
			require.NoError(t, err)
			require.Equal(t, closed.Status, stored.Status)
		})
	}
}

func TestConcurrentTransitionsHaveSingleWinner(t *testing.T) {
	h := newHarness(t)
	bid := h.place(t, "100")
	events := []enums.BidEvent{
		enums.BidEventAccept, enums.BidEventReject, enums.BidEventWithdraw,
		enums.BidEventAccept, enums.BidEventReject, enums.BidEventWithdraw,
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []enums.BidStatus
		losers  int
		other   []error
	)
	for _, event := range events {
		wg.Add(1)
		go func(event enums.BidEvent) {
			defer wg.Done()
			result, err := h.service.Transition(context.Background(), TransitionInput{BidID: bid.ID, Event: event, ActorID: h.buyerID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, result.Status)
			case pkgerrors.Is(err, pkgerrors.CodeInvalidTransition):
				losers++
			default:
				other = append(other, err)
			}
		}(event)
	}
	wg.Wait()

	require.Empty(t, other)
	require.Len(t, winners, 1)
	require.Equal(t, len(events)-1, losers)

	stored, err := h.service.GetByID(context.Background(), bid.ID)
	require.NoError(t, err)
	require.Equal(t, winners[0], stored.Status)
}

func TestSecondAcceptOnProjectIsRefused(t *testing.T) {
	h := newHarness(t)
	first := h.place(t, "100")
	second := h.place(t, "120")

	_, err := h.service.Transition(context.Background(), TransitionInput{BidID: first.ID, Event: enums.BidEventAccept, ActorID: h.buyerID})
	require.NoError(t, err)

	_, err = h.service.Transition(context.Background(), TransitionInput{BidID: second.ID, Event: enums.BidEventAccept, ActorID: h.buyerID})
	requireCode(t, err, pkgerrors.CodeInvalidTransition)

	stored, err := h.service.GetByID(context.Background(), second.ID)
	require.NoError(t, err)
	require.Equal(t, enums.BidStatusPending, stored.Status)
}

func TestListByProjectPagesAndScopesSellers(t *testing.T) {
	h := newHarness(t)
	var placed []*models.Bid
	for i := 0; i < 5; i++ {
		placed = append(placed, h.place(t, "100"))
	}

	var seen []uuid.UUID
	params := pagination.Params{Limit: 2}
	for {
		page, err := h.service.ListByProject(context.Background(), h.project.ID, h.buyerID, params)
		require.NoError(t, err)
		for _, bid := range page.Bids {
			seen = append(seen, bid.ID)
		}
		if page.NextCursor == "" {
			break
		}
		params.Cursor = page.NextCursor
	}
	want := make([]uuid.UUID, 0, len(placed))
	for _, bid := range placed {
		want = append(want, bid.ID)
	}
	require.ElementsMatch(t, want, seen)

	sellerView, err := h.service.ListByProject(context.Background(), h.project.ID, placed[2].SellerID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, sellerView.Bids, 1)
	require.Equal(t, placed[2].ID, sellerView.Bids[0].ID)

	bySeller, err := h.service.ListBySeller(context.Background(), placed[0].SellerID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, bySeller.Bids, 1)

	_, err = h.service.ListBySeller(context.Background(), placed[0].SellerID, pagination.Params{Cursor: "%%%"})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestPlaceBidRejectsAmountsMoneyColumnsWouldRound(t *testing.T) {
	h := newHarness(t)
	for _, amount := range []string{"10.005", "0", "-3", "1000000000000"} {
		_, err := h.service.PlaceBid(context.Background(), PlaceBidInput{
			ProjectID: h.project.ID,
			SellerID:  uuid.New(),
			Amount:    decimal.RequireFromString(amount),
		})
		requireCode(t, err, pkgerrors.CodeValidation)
	}
	require.Zero(t, countOutbox(t, h.client.DB(), enums.EventBidPlaced))

	bid := h.place(t, "10.500")
	require.True(t, bid.Amount.Equal(decimal.RequireFromString("10.5")))
}

func TestApplyCounterRejectsThirdDecimalPlace(t *testing.T) {
	h := newHarness(t)
	bid := h.place(t, "500")

	err := h.service.WithBidLock(context.Background(), bid.ID, func(tx *gorm.DB, locked LockedBid) error {
		return h.service.ApplyCounter(context.Background(), tx, locked, CounterInput{
			MessageID: uuid.New(),
			ActorID:   h.buyerID,
			Proposer:  enums.SenderBuyer,
			Amount:    decimal.RequireFromString("450.001"),
		})
	})
	requireCode(t, err, pkgerrors.CodeValidation)
}
