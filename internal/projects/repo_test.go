package projects

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/pkg/db/dbtest"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
)

func TestRepositoryFindByID(t *testing.T) {
	client := dbtest.Open(t)
	project := dbtest.MustCreateProject(t, client.DB(), uuid.New(), enums.ProjectStatusOpen)
	r := NewRepository(client.DB())

	got, err := r.FindByID(context.Background(), project.ID)
	require.NoError(t, err)
	require.Equal(t, project.BuyerID, got.BuyerID)
	require.Equal(t, enums.ProjectStatusOpen, got.Status)
	require.Nil(t, got.AcceptedBidID)

	_, err = r.FindByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositorySetAcceptedBidOnlyOnce(t *testing.T) {
	client := dbtest.Open(t)
	project := dbtest.MustCreateProject(t, client.DB(), uuid.New(), enums.ProjectStatusOpen)
	r := NewRepository(client.DB())
	ctx := context.Background()

	first := uuid.New()
	require.NoError(t, r.SetAcceptedBid(ctx, project.ID, first, decimal.NewFromInt(900000)))

	err := r.SetAcceptedBid(ctx, project.ID, uuid.New(), decimal.NewFromInt(1))
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	got, err := r.WithTx(client.DB()).FindByIDForUpdate(ctx, project.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AcceptedBidID)
	require.Equal(t, first, *got.AcceptedBidID)
	require.True(t, decimal.NewFromInt(900000).Equal(*got.BudgetBaseline))
}
