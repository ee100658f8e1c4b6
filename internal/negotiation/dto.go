package negotiation

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
)

// AppendInput is one message posted to a bid's thread. SenderType is what the
// client declared; an empty value means "derive it from the sender".
type AppendInput struct {
	BidID          uuid.UUID
	SenderID       uuid.UUID
	SenderType     enums.SenderType
	Message        string
	FileURL        *string
	ProposedAmount *decimal.Decimal
}

// HistoryPage is one ordered slice of a thread. NextCursor is set when more
// messages follow.
type HistoryPage struct {
	Messages   []models.NegotiationMessage `json:"messages"`
	NextCursor string                      `json:"nextCursor,omitempty"`
}

// CursorOf returns the resume point just past message.
func CursorOf(message models.NegotiationMessage) pagination.Cursor {
	return pagination.Cursor{CreatedAt: message.CreatedAt.UTC(), ID: message.ID}
}
