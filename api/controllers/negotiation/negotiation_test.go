package negotiation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bidroom-backend/api/middleware"
	internalnegotiation "github.com/angelmondragon/bidroom-backend/internal/negotiation"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
	"github.com/angelmondragon/bidroom-backend/pkg/types"
)

type stubService struct {
	internalnegotiation.Service
	appended   *internalnegotiation.AppendInput
	pageParams *pagination.Params
	err        error
}

func (s *stubService) AppendMessage(_ context.Context, input internalnegotiation.AppendInput) (*models.NegotiationMessage, error) {
	s.appended = &input
	if s.err != nil {
		return nil, s.err
	}
	return &models.NegotiationMessage{ID: uuid.New(), BidID: input.BidID, SenderID: input.SenderID, Message: input.Message}, nil
}

func (s *stubService) HistoryPage(_ context.Context, bidID, _ uuid.UUID, params pagination.Params) (*internalnegotiation.HistoryPage, error) {
	s.pageParams = &params
	if s.err != nil {
		return nil, s.err
	}
	return &internalnegotiation.HistoryPage{Messages: []models.NegotiationMessage{{ID: uuid.New(), BidID: bidID}}}, nil
}

func TestAppendMessageMapsLegacySenderType(t *testing.T) {
	svc := &stubService{}
	actor := uuid.New()
	bidID := uuid.New()
	body := `{"bidId":"` + bidID.String() + `","message":"hi","senderType":"USER","proposedAmount":"12.50"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/negotiation", strings.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), actor.String()))
	rec := httptest.NewRecorder()

	AppendMessage(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, svc.appended)
	assert.Equal(t, enums.SenderBuyer, svc.appended.SenderType)
	assert.Equal(t, actor, svc.appended.SenderID)
	require.NotNil(t, svc.appended.ProposedAmount)
	assert.Equal(t, "12.5", svc.appended.ProposedAmount.String())
}

func TestAppendMessageRejectsUnknownSenderType(t *testing.T) {
	svc := &stubService{}
	body := `{"bidId":"` + uuid.NewString() + `","message":"hi","senderType":"ADMIN"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/negotiation", strings.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	rec := httptest.NewRecorder()

	AppendMessage(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.appended)
}

func TestAppendMessageSurfacesThreadClosed(t *testing.T) {
	svc := &stubService{err: pkgerrors.New(pkgerrors.CodeThreadClosed, "bid is accepted")}
	body := `{"bidId":"` + uuid.NewString() + `","message":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/negotiation", strings.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	rec := httptest.NewRecorder()

	AppendMessage(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var envelope types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, string(pkgerrors.CodeThreadClosed), envelope.Error.Code)
}

func TestHistoryForwardsCursorAndLimit(t *testing.T) {
	svc := &stubService{}
	bidID := uuid.New()
	r := chi.NewRouter()
	r.Get("/bid/{bidId}", History(svc, nil))

	cursor := pagination.EncodeCursor(pagination.Cursor{CreatedAt: time.Now(), ID: uuid.New()})
	req := httptest.NewRequest(http.MethodGet, "/bid/"+bidID.String()+"?after="+cursor+"&limit=10", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.pageParams)
	assert.Equal(t, 10, svc.pageParams.Limit)
	assert.Equal(t, cursor, svc.pageParams.Cursor)
}

func TestHistoryRejectsMalformedCursor(t *testing.T) {
	svc := &stubService{}
	r := chi.NewRouter()
	r.Get("/bid/{bidId}", History(svc, nil))

	req := httptest.NewRequest(http.MethodGet, "/bid/"+uuid.NewString()+"?after=abc", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.pageParams)
}

func TestHistoryRejectsBadBidID(t *testing.T) {
	svc := &stubService{}
	r := chi.NewRouter()
	r.Get("/bid/{bidId}", History(svc, nil))

	req := httptest.NewRequest(http.MethodGet, "/bid/not-a-uuid", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.pageParams)
}

func TestHistoryRequiresIdentity(t *testing.T) {
	rec := httptest.NewRecorder()
	History(&stubService{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bid/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
