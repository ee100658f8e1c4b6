package budget

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bidroom-backend/api/middleware"
	"github.com/angelmondragon/bidroom-backend/api/responses"
	"github.com/angelmondragon/bidroom-backend/api/validators"
	internalbudget "github.com/angelmondragon/bidroom-backend/internal/budget"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
)

type recordExpenseRequest struct {
	Description string           `json:"description" validate:"required,max=500"`
	Stage       string           `json:"stage" validate:"max=120"`
	Amount      *decimal.Decimal `json:"amount" validate:"required,money"`
}

// Summary reconciles a project's expenses against its accepted bid.
func Summary(svc internalbudget.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, projectID, err := actorAndProject(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.Summary(r.Context(), projectID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// RecordExpense appends spend to a project. Buyer only.
func RecordExpense(svc internalbudget.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, projectID, err := actorAndProject(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload recordExpenseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		expense, err := svc.RecordExpense(r.Context(), internalbudget.RecordExpenseInput{
			ProjectID:   projectID,
			ActorID:     actorID,
			Description: payload.Description,
			Stage:       payload.Stage,
			Amount:      *payload.Amount,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, expense)
	}
}

func actorAndProject(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	actorID, ok := middleware.ActorID(r.Context())
	if !ok {
		return uuid.Nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	projectID, err := validators.ParsePathUUID(r, "projectId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return actorID, projectID, nil
}
