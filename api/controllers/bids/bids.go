package bids

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bidroom-backend/api/middleware"
	"github.com/angelmondragon/bidroom-backend/api/responses"
	"github.com/angelmondragon/bidroom-backend/api/validators"
	internalbids "github.com/angelmondragon/bidroom-backend/internal/bids"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
)

type placeBidRequest struct {
	ProjectID uuid.UUID        `json:"projectId" validate:"required"`
	Amount    *decimal.Decimal `json:"amount" validate:"required,money"`
	Message   *string          `json:"message" validate:"omitempty,max=4000"`
}

type transitionRequest struct {
	Event     string     `json:"event" validate:"required"`
	MessageID *uuid.UUID `json:"messageId"`
}

// BidResponse wraps a bid with the caller's side of the negotiation.
type BidResponse struct {
	models.Bid
	Role enums.SenderType `json:"role,omitempty"`
}

// Place creates a bid on behalf of the calling seller.
func Place(svc internalbids.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload placeBidRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		bid, err := svc.PlaceBid(r.Context(), internalbids.PlaceBidInput{
			ProjectID: payload.ProjectID,
			SellerID:  actorID,
			Amount:    *payload.Amount,
			Message:   payload.Message,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, BidResponse{Bid: *bid, Role: enums.SenderSeller})
	}
}

// List pages bids of a project (projectId) or of a seller (sellerId, the
// caller by default).
func List(svc internalbids.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := validators.ParsePage(r, "cursor", pagination.DefaultLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		projectID, err := validators.ParseQueryUUID(r, "projectId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if projectID != nil {
			list, err := svc.ListByProject(r.Context(), *projectID, actorID, params)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, list)
			return
		}

		sellerID, err := validators.ParseQueryUUID(r, "sellerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if sellerID != nil && *sellerID != actorID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "sellers can only list their own bids"))
			return
		}

		list, err := svc.ListBySeller(r.Context(), actorID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns one bid to either participant.
func Detail(svc internalbids.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bidID, err := validators.ParsePathUUID(r, "bidId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		bid, role, err := svc.GetForParticipant(r.Context(), bidID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, BidResponse{Bid: *bid, Role: role})
	}
}

// Transition applies accept, reject or withdraw. Counter-offers go through
// the negotiation thread.
func Transition(svc internalbids.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bidID, err := validators.ParsePathUUID(r, "bidId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload transitionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		event, err := enums.ParseBidEvent(payload.Event)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event").
				WithDetails(map[string]any{"event": payload.Event}))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithBidID(ctx, bidID)
		}
		bid, err := svc.Transition(ctx, internalbids.TransitionInput{
			BidID:     bidID,
			Event:     event,
			ActorID:   actorID,
			MessageID: payload.MessageID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, bid)
	}
}

func requireActor(r *http.Request) (uuid.UUID, error) {
	actorID, ok := middleware.ActorID(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return actorID, nil
}

