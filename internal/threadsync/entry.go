package threadsync

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
)

// EntryState is the delivery state of one message in a thread view.
type EntryState int

const (
	// EntryPending is a local send that has not been answered yet.
	EntryPending EntryState = iota
	// EntryConfirmed is a message the server has stored.
	EntryConfirmed
	// EntryFailed is a local send that was refused or timed out. It stays in
	// the view until Retry succeeds.
	EntryFailed
)

func (s EntryState) String() string {
	switch s {
	case EntryPending:
		return "pending"
	case EntryConfirmed:
		return "confirmed"
	case EntryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one row of a thread view. LocalID is set for messages sent from
// this client. Message.ID is uuid.Nil until the server confirms the send.
type Entry struct {
	State   EntryState
	LocalID string
	Message models.NegotiationMessage
	Err     error
}

// Snapshot is a consistent copy of a thread view: confirmed messages in
// server order followed by unconfirmed local sends in the order they were
// made.
type Snapshot struct {
	BidID     uuid.UUID
	Bid       *models.Bid
	Entries   []Entry
	FetchedAt time.Time
	// PollErr is the error of the most recent poll, nil once a poll succeeds.
	PollErr error
}

// Confirmed returns only the server-confirmed messages.
func (s Snapshot) Confirmed() []models.NegotiationMessage {
	out := make([]models.NegotiationMessage, 0, len(s.Entries))
	for _, entry := range s.Entries {
		if entry.State == EntryConfirmed {
			out = append(out, entry.Message)
		}
	}
	return out
}

type localSend struct {
	localID   string
	request   SendRequest
	state     EntryState
	err       error
	createdAt time.Time
}

func (l *localSend) draft() models.NegotiationMessage {
	return models.NegotiationMessage{
		BidID:          l.request.BidID,
		SenderType:     l.request.SenderType,
		Message:        l.request.Message,
		FileURL:        l.request.FileURL,
		ProposedAmount: l.request.ProposedAmount,
		CreatedAt:      l.createdAt,
	}
}

// matches reports whether a server message is plausibly this local send.
// Either selfID or the send's sender type must pin down who wrote it, so a
// message from the other party with the same text never matches.
func (l *localSend) matches(message models.NegotiationMessage, selfID uuid.UUID) bool {
	if selfID == uuid.Nil && l.request.SenderType == "" {
		return false
	}
	if selfID != uuid.Nil && message.SenderID != selfID {
		return false
	}
	if l.request.SenderType != "" && message.SenderType != l.request.SenderType {
		return false
	}
	if message.Message != l.request.Message {
		return false
	}
	if !equalStringPtr(message.FileURL, l.request.FileURL) {
		return false
	}
	switch {
	case message.ProposedAmount == nil && l.request.ProposedAmount == nil:
		return true
	case message.ProposedAmount == nil || l.request.ProposedAmount == nil:
		return false
	default:
		return message.ProposedAmount.Equal(*l.request.ProposedAmount)
	}
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
