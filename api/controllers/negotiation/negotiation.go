package negotiation

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bidroom-backend/api/middleware"
	"github.com/angelmondragon/bidroom-backend/api/responses"
	"github.com/angelmondragon/bidroom-backend/api/validators"
	internalnegotiation "github.com/angelmondragon/bidroom-backend/internal/negotiation"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
)

type appendMessageRequest struct {
	BidID          uuid.UUID        `json:"bidId" validate:"required"`
	Message        string           `json:"message" validate:"max=8000"`
	SenderType     string           `json:"senderType"`
	FileURL        *string          `json:"fileUrl" validate:"omitempty,max=2048"`
	ProposedAmount *decimal.Decimal `json:"proposedAmount" validate:"omitempty,money"`
}

// AppendMessage posts a message to a bid's thread. A proposed amount turns
// the message into a counter-offer.
func AppendMessage(svc internalnegotiation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}

		var payload appendMessageRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var senderType enums.SenderType
		if strings.TrimSpace(payload.SenderType) != "" {
			parsed, err := enums.ParseSenderType(payload.SenderType)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid sender type"))
				return
			}
			senderType = parsed
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithBidID(ctx, payload.BidID)
		}
		message, err := svc.AppendMessage(ctx, internalnegotiation.AppendInput{
			BidID:          payload.BidID,
			SenderID:       actorID,
			SenderType:     senderType,
			Message:        payload.Message,
			FileURL:        payload.FileURL,
			ProposedAmount: payload.ProposedAmount,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, message)
	}
}

// History returns the thread in (createdAt, id) order. The after cursor
// limits the page to messages strictly after it.
func History(svc internalnegotiation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}

		bidID, err := validators.ParsePathUUID(r, "bidId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePage(r, "after", pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.HistoryPage(r.Context(), bidID, actorID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
