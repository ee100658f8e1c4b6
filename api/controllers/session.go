package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bidroom-backend/api/middleware"
	"github.com/angelmondragon/bidroom-backend/api/responses"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
)

// SessionResponse describes the authenticated caller.
type SessionResponse struct {
	UserID    uuid.UUID  `json:"userId"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	RequestID string     `json:"requestId,omitempty"`
}

// Session echoes the identity the bearer token resolved to. Thread clients
// call it on startup to confirm credentials before polling.
func Session(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := middleware.ActorID(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}

		resp := SessionResponse{
			UserID:    actorID,
			RequestID: middleware.RequestIDFromContext(r.Context()),
		}
		if at, ok := middleware.TokenExpiry(r.Context()); ok {
			at = at.UTC()
			resp.ExpiresAt = &at
		}
		responses.WriteSuccess(w, resp)
	}
}
