package threadsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
	"github.com/angelmondragon/bidroom-backend/pkg/types"
)

// Transport is the wire side of the negotiation API. Errors are typed with
// pkg/errors codes.
type Transport interface {
	// FetchHistory returns every message strictly after the cursor, in
	// thread order. A nil cursor fetches the whole thread.
	FetchHistory(ctx context.Context, token string, bidID uuid.UUID, after *pagination.Cursor) ([]models.NegotiationMessage, error)
	SendMessage(ctx context.Context, token string, req SendRequest) (*models.NegotiationMessage, error)
	FetchBid(ctx context.Context, token string, bidID uuid.UUID) (*models.Bid, error)
	Transition(ctx context.Context, token string, req TransitionRequest) (*models.Bid, error)
}

// SendRequest is the body of POST /negotiation. IdempotencyKey travels as a
// header so the server can replay a send that already landed.
type SendRequest struct {
	IdempotencyKey string           `json:"-"`
	BidID          uuid.UUID        `json:"bidId"`
	Message        string           `json:"message"`
	SenderType     enums.SenderType `json:"senderType,omitempty"`
	FileURL        *string          `json:"fileUrl,omitempty"`
	ProposedAmount *decimal.Decimal `json:"proposedAmount,omitempty"`
}

// TransitionRequest is the body of POST /bids/{bidId}/transition.
type TransitionRequest struct {
	IdempotencyKey string         `json:"-"`
	BidID          uuid.UUID      `json:"-"`
	Event          enums.BidEvent `json:"event"`
	MessageID      *uuid.UUID     `json:"messageId,omitempty"`
}

// HTTPTransport talks to the bidroom API over JSON.
type HTTPTransport struct {
	baseURL *url.URL
	client  *http.Client
}

// NewHTTPTransport targets baseURL (scheme and host, optional path prefix).
// Timeouts are applied per call by the sync client through the context.
func NewHTTPTransport(baseURL string, client *http.Client) (*HTTPTransport, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("base url must be absolute, got %q", baseURL)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{baseURL: parsed, client: client}, nil
}

type historyPage struct {
	Messages   []models.NegotiationMessage `json:"messages"`
	NextCursor string                      `json:"nextCursor"`
}

func (t *HTTPTransport) FetchHistory(ctx context.Context, token string, bidID uuid.UUID, after *pagination.Cursor) ([]models.NegotiationMessage, error) {
	path := "/api/v1/negotiation/bid/" + bidID.String()
	query := url.Values{}
	if after != nil {
		query.Set("after", pagination.EncodeCursor(*after))
	}

	out := []models.NegotiationMessage{}
	for {
		var page historyPage
		if err := t.do(ctx, http.MethodGet, path, query, token, "", nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Messages...)
		if page.NextCursor == "" {
			return out, nil
		}
		query.Set("after", page.NextCursor)
	}
}

func (t *HTTPTransport) SendMessage(ctx context.Context, token string, req SendRequest) (*models.NegotiationMessage, error) {
	var message models.NegotiationMessage
	if err := t.do(ctx, http.MethodPost, "/api/v1/negotiation", nil, token, req.IdempotencyKey, req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

func (t *HTTPTransport) FetchBid(ctx context.Context, token string, bidID uuid.UUID) (*models.Bid, error) {
	var bid models.Bid
	if err := t.do(ctx, http.MethodGet, "/api/v1/bids/"+bidID.String(), nil, token, "", nil, &bid); err != nil {
		return nil, err
	}
	return &bid, nil
}

func (t *HTTPTransport) Transition(ctx context.Context, token string, req TransitionRequest) (*models.Bid, error) {
	var bid models.Bid
	path := "/api/v1/bids/" + req.BidID.String() + "/transition"
	if err := t.do(ctx, http.MethodPost, path, nil, token, req.IdempotencyKey, req, &bid); err != nil {
		return nil, err
	}
	return &bid, nil
}

// Session is the identity a bearer token resolves to.
type Session struct {
	UserID    uuid.UUID  `json:"userId"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Session checks token against the API and returns who it belongs to.
func (t *HTTPTransport) Session(ctx context.Context, token string) (*Session, error) {
	var session Session
	if err := t.do(ctx, http.MethodGet, "/api/v1/session", nil, token, "", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, query url.Values, token, idempotencyKey string, body, out any) error {
	target := *t.baseURL
	target.Path = t.baseURL.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
		req.Header.Set("X-Request-Id", idempotencyKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, raw)
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode response envelope")
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode response data")
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var envelope types.ErrorEnvelope
	code := pkgerrors.CodeForStatus(status)
	message := http.StatusText(status)
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		if known := pkgerrors.Code(envelope.Error.Code); pkgerrors.IsKnownCode(known) {
			code = known
		} else if envelope.Error.Retryable {
			code = pkgerrors.CodeNetwork
		}
		if envelope.Error.Message != "" {
			message = envelope.Error.Message
		}
	}
	typed := pkgerrors.New(code, message)
	if envelope.Error.Details != nil {
		typed = typed.WithDetails(envelope.Error.Details)
	}
	return typed
}
