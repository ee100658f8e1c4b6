package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/pkg/db/dbtest"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox"
)

func bidPlaced(bidID uuid.UUID) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventBidPlaced,
		AggregateType: enums.AggregateBid,
		AggregateID:   bidID,
		Actor:         &outbox.ActorRef{UserID: uuid.New(), Role: enums.SenderSeller},
		Data:          map[string]string{"bidId": bidID.String()},
	}
}

func TestEmitQueuesEnvelopeWithTransaction(t *testing.T) {
	client := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(), nil)
	bidID := uuid.New()

	rollback := errors.New("rollback")
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		require.NoError(t, svc.Emit(context.Background(), tx, bidPlaced(uuid.New())))
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, bidPlaced(bidID))
	}))

	var rows []models.OutboxEvent
	require.NoError(t, client.DB().Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, bidID, rows[0].AggregateID)
	assert.Nil(t, rows[0].PublishedAt)
	assert.Nil(t, rows[0].TerminalAt)

	envelope, err := outbox.DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, outbox.EnvelopeVersion, envelope.Version)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, enums.SenderSeller, envelope.Actor.Role)
	assert.JSONEq(t, `{"bidId":"`+bidID.String()+`"}`, string(envelope.Data))
}

func TestEmitRejectsIncompleteEvents(t *testing.T) {
	client := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(), nil)

	cases := map[string]func(*outbox.DomainEvent){
		"unknown type":      func(e *outbox.DomainEvent) { e.EventType = "bid_exploded" },
		"unknown aggregate": func(e *outbox.DomainEvent) { e.AggregateType = "invoice" },
		"missing aggregate": func(e *outbox.DomainEvent) { e.AggregateID = uuid.Nil },
		"missing data":      func(e *outbox.DomainEvent) { e.Data = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			event := bidPlaced(uuid.New())
			mutate(&event)
			assert.Error(t, svc.Emit(context.Background(), client.DB(), event))
		})
	}
	assert.Error(t, svc.Emit(context.Background(), nil, bidPlaced(uuid.New())))
}

func TestRepositoryDeliveryBookkeeping(t *testing.T) {
	client := dbtest.Open(t)
	repo := outbox.NewRepository()
	svc := outbox.NewService(repo, nil)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, svc.Emit(ctx, client.DB(), bidPlaced(uuid.New())))
	}

	var claimed []models.OutboxEvent
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		claimed, err = repo.ClaimBatch(tx, 10, 3)
		return err
	}))
	require.Len(t, claimed, 3)

	now := time.Now()
	db := client.DB()
	require.NoError(t, repo.MarkPublished(db, claimed[0].ID, now))
	require.NoError(t, repo.RecordFailure(db, claimed[1].ID, errors.New("deadline exceeded")))
	require.NoError(t, repo.MarkTerminal(db, claimed[2].ID, enums.OutboxTerminalUndecodable, errors.New("bad json"), now))
	assert.ErrorIs(t, repo.MarkPublished(db, uuid.New(), now), gorm.ErrRecordNotFound)

	remaining, err := repo.ClaimBatch(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, claimed[1].ID, remaining[0].ID)
	assert.Equal(t, 1, remaining[0].AttemptCount)
	require.NotNil(t, remaining[0].LastError)
	assert.Equal(t, "deadline exceeded", *remaining[0].LastError)

	exhausted, err := repo.ClaimBatch(db, 10, 1)
	require.NoError(t, err)
	assert.Empty(t, exhausted)

	var terminal models.OutboxEvent
	require.NoError(t, db.First(&terminal, "id = ?", claimed[2].ID).Error)
	assert.NotNil(t, terminal.TerminalAt)
	require.NotNil(t, terminal.TerminalReason)
	assert.Equal(t, enums.OutboxTerminalUndecodable, *terminal.TerminalReason)
}
