package budget

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bidroom-backend/api/middleware"
	internalbudget "github.com/angelmondragon/bidroom-backend/internal/budget"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
)

type stubService struct {
	recorded *internalbudget.RecordExpenseInput
	summary  *internalbudget.Summary
	err      error
}

func (s *stubService) Summary(_ context.Context, projectID, _ uuid.UUID) (*internalbudget.Summary, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.summary != nil {
		return s.summary, nil
	}
	return &internalbudget.Summary{ProjectID: projectID}, nil
}

func (s *stubService) RecordExpense(_ context.Context, input internalbudget.RecordExpenseInput) (*models.Expense, error) {
	s.recorded = &input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Expense{ID: uuid.New(), Description: input.Description, ExpenseAmount: input.Amount, FinalProjectID: input.ProjectID}, nil
}

func newRouter(svc internalbudget.Service) http.Handler {
	r := chi.NewRouter()
	r.Get("/{projectId}", Summary(svc, nil))
	r.Post("/{projectId}/expenses", RecordExpense(svc, nil))
	return r
}

func serve(handler http.Handler, method, target, body string, actor uuid.UUID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), actor.String()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSummaryFlattensReconciliation(t *testing.T) {
	projectID := uuid.New()
	svc := &stubService{summary: &internalbudget.Summary{
		ProjectID: projectID,
		Expenses:  []models.Expense{},
		Reconciliation: internalbudget.Reconcile(decimal.NewFromInt(1000), []models.Expense{
			{ExpenseAmount: decimal.NewFromInt(1200)},
		}),
	}}

	rec := serve(newRouter(svc), http.MethodGet, "/"+projectID.String(), "", uuid.New())

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "1000", envelope.Data["totalBudget"])
	assert.Equal(t, "-200", envelope.Data["remaining"])
	assert.Equal(t, true, envelope.Data["overSpent"])
	assert.Equal(t, float64(120), envelope.Data["percentUsed"])
}

func TestSummaryForbidden(t *testing.T) {
	svc := &stubService{err: pkgerrors.New(pkgerrors.CodeForbidden, "actor cannot view this project's budget")}

	rec := serve(newRouter(svc), http.MethodGet, "/"+uuid.NewString(), "", uuid.New())

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSummaryRejectsBadProjectID(t *testing.T) {
	rec := serve(newRouter(&stubService{}), http.MethodGet, "/nope", "", uuid.New())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordExpense(t *testing.T) {
	svc := &stubService{}
	projectID := uuid.New()
	actor := uuid.New()

	rec := serve(newRouter(svc), http.MethodPost, "/"+projectID.String()+"/expenses",
		`{"description":"drywall","stage":"interior","amount":"320.40"}`, actor)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, svc.recorded)
	assert.Equal(t, projectID, svc.recorded.ProjectID)
	assert.Equal(t, actor, svc.recorded.ActorID)
	assert.Equal(t, "interior", svc.recorded.Stage)
	assert.True(t, svc.recorded.Amount.Equal(decimal.RequireFromString("320.40")))
}

func TestRecordExpenseRequiresDescription(t *testing.T) {
	svc := &stubService{}

	rec := serve(newRouter(svc), http.MethodPost, "/"+uuid.NewString()+"/expenses", `{"amount":"10"}`, uuid.New())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.recorded)
}
