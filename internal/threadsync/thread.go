package threadsync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
)

// SendInput is the content of an optimistic send.
type SendInput struct {
	Message        string
	SenderType     enums.SenderType
	FileURL        *string
	ProposedAmount *decimal.Decimal
}

// Thread is the cached, polled view of one bid's negotiation thread. It is
// safe for concurrent use.
type Thread struct {
	client *Client
	bidID  uuid.UUID

	mu        sync.Mutex
	confirmed []models.NegotiationMessage
	seen      map[uuid.UUID]struct{}
	cursor    *pagination.Cursor
	local     []*localSend
	bid       *models.Bid
	fetchedAt time.Time
	pollErr   error
	selfID    uuid.UUID
	refs      int

	// ready is closed once the first Open finished; openErr is its result.
	ready   chan struct{}
	openErr error

	updates  chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

func newThread(c *Client, bidID uuid.UUID) *Thread {
	return &Thread{
		client:  c,
		bidID:   bidID,
		seen:    make(map[uuid.UUID]struct{}),
		selfID:  c.self,
		refs:    1,
		ready:   make(chan struct{}),
		updates: make(chan struct{}, 1),
	}
}

func (t *Thread) opened(err error) {
	t.openErr = err
	close(t.ready)
}

// BidID returns the bid this thread belongs to.
func (t *Thread) BidID() uuid.UUID {
	return t.bidID
}

// Updates signals after every change to the view. Signals coalesce; read
// View after receiving one.
func (t *Thread) Updates() <-chan struct{} {
	return t.updates
}

// View returns a snapshot of the thread.
func (t *Thread) View() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]Entry, 0, len(t.confirmed)+len(t.local))
	for _, message := range t.confirmed {
		entries = append(entries, Entry{State: EntryConfirmed, Message: message})
	}
	for _, local := range t.local {
		entries = append(entries, Entry{
			State:   local.state,
			LocalID: local.localID,
			Message: local.draft(),
			Err:     local.err,
		})
	}
	var bid *models.Bid
	if t.bid != nil {
		copied := *t.bid
		bid = &copied
	}
	return Snapshot{
		BidID:     t.bidID,
		Bid:       bid,
		Entries:   entries,
		FetchedAt: t.fetchedAt,
		PollErr:   t.pollErr,
	}
}

// Bid returns the last known state of the bid.
func (t *Thread) Bid() *models.Bid {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bid == nil {
		return nil
	}
	copied := *t.bid
	return &copied
}

// Poll fetches messages after the cursor and merges them. Concurrent polls
// of the same bid share one request.
func (t *Thread) Poll(ctx context.Context) error {
	token, err := t.client.token(ctx)
	if err != nil {
		return err
	}
	_, err, _ = t.client.polls.Do(t.bidID.String(), func() (any, error) {
		t.mu.Lock()
		after := t.cursor
		t.mu.Unlock()

		messages, err := t.client.fetchHistory(ctx, token, t.bidID, after)
		t.recordPoll(ctx, messages, err)
		return nil, err
	})
	return err
}

// Refresh polls unless the view was fetched within the freshness window.
func (t *Thread) Refresh(ctx context.Context) error {
	t.mu.Lock()
	fresh := t.pollErr == nil && !t.fetchedAt.IsZero() &&
		t.client.now().Sub(t.fetchedAt) < t.client.cfg.FreshnessWindow
	t.mu.Unlock()
	if fresh {
		return nil
	}
	return t.Poll(ctx)
}

// RefreshBid reloads the bid from the server.
func (t *Thread) RefreshBid(ctx context.Context) error {
	token, err := t.client.token(ctx)
	if err != nil {
		return err
	}
	bid, err := t.client.fetchBid(ctx, token, t.bidID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.bid = bid
	t.mu.Unlock()
	t.notify()
	return nil
}

// Send appends a pending entry and delivers it once. A refused or timed out
// send stays in the view as failed until Retry confirms it. The returned
// local id identifies the entry in either case.
func (t *Thread) Send(ctx context.Context, in SendInput) (string, *models.NegotiationMessage, error) {
	token, err := t.client.token(ctx)
	if err != nil {
		return "", nil, err
	}
	req, err := t.buildSend(in)
	if err != nil {
		return "", nil, err
	}

	local := &localSend{
		localID:   req.IdempotencyKey,
		request:   req,
		state:     EntryPending,
		createdAt: t.client.now().UTC(),
	}
	t.mu.Lock()
	t.local = append(t.local, local)
	t.mu.Unlock()
	t.notify()

	message, err := t.deliver(ctx, token, local)
	return local.localID, message, err
}

// Retry re-sends a failed entry under its original idempotency key.
func (t *Thread) Retry(ctx context.Context, localID string) (*models.NegotiationMessage, error) {
	token, err := t.client.token(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	var local *localSend
	for _, candidate := range t.local {
		if candidate.localID == localID {
			local = candidate
			break
		}
	}
	switch {
	case local == nil:
		t.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no unconfirmed message with that local id")
	case local.state == EntryPending:
		t.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "message is still being sent")
	}
	local.state = EntryPending
	local.err = nil
	t.mu.Unlock()
	t.notify()

	return t.deliver(ctx, token, local)
}

// Transition applies a lifecycle event to the bid. When the server refuses
// it the bid is reloaded so the view reflects the winning state.
func (t *Thread) Transition(ctx context.Context, event enums.BidEvent, messageID *uuid.UUID) (*models.Bid, error) {
	token, err := t.client.token(ctx)
	if err != nil {
		return nil, err
	}
	req := TransitionRequest{
		IdempotencyKey: uuid.NewString(),
		BidID:          t.bidID,
		Event:          event,
		MessageID:      messageID,
	}

	callCtx, cancel := context.WithTimeout(ctx, t.client.cfg.RequestTimeout)
	bid, err := t.client.transport.Transition(callCtx, token, req)
	err = classify(callCtx, err)
	cancel()
	if err != nil {
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeInvalidTransition, pkgerrors.CodeThreadClosed, pkgerrors.CodeConflict:
			t.resyncBid(ctx)
		}
		return nil, err
	}

	t.mu.Lock()
	t.bid = bid
	t.mu.Unlock()
	t.notify()
	copied := *bid
	return &copied, nil
}

// Close releases this holder. The last Close stops polling and reports
// sends that never reached the confirmed state.
func (t *Thread) Close() error {
	t.client.mu.Lock()
	t.mu.Lock()
	t.refs--
	last := t.refs <= 0
	t.mu.Unlock()
	if last {
		if current, ok := t.client.threads[t.bidID]; ok && current == t {
			delete(t.client.threads, t.bidID)
		}
	}
	t.client.mu.Unlock()

	if !last {
		return nil
	}
	return t.shutdown()
}

func (t *Thread) retain() {
	t.mu.Lock()
	t.refs++
	t.mu.Unlock()
}

func (t *Thread) buildSend(in SendInput) (SendRequest, error) {
	t.mu.Lock()
	closed := t.bid != nil && t.bid.Status.IsTerminal()
	t.mu.Unlock()
	if closed {
		return SendRequest{}, pkgerrors.New(pkgerrors.CodeThreadClosed, "negotiation thread is closed").
			WithDetails(map[string]any{"bidId": t.bidID.String()})
	}

	body := strings.TrimSpace(in.Message)
	var fileURL *string
	if in.FileURL != nil {
		if trimmed := strings.TrimSpace(*in.FileURL); trimmed != "" {
			fileURL = &trimmed
		}
	}
	if in.ProposedAmount != nil {
		if err := models.CheckMoney(*in.ProposedAmount); err != nil {
			return SendRequest{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "proposed amount "+err.Error())
		}
	}
	if body == "" && fileURL == nil && in.ProposedAmount == nil {
		return SendRequest{}, pkgerrors.New(pkgerrors.CodeValidation, "message is empty and has no attachment or proposed amount")
	}
	return SendRequest{
		IdempotencyKey: uuid.NewString(),
		BidID:          t.bidID,
		Message:        body,
		SenderType:     in.SenderType,
		FileURL:        fileURL,
		ProposedAmount: in.ProposedAmount,
	}, nil
}

func (t *Thread) deliver(ctx context.Context, token string, local *localSend) (*models.NegotiationMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.client.cfg.RequestTimeout)
	message, err := t.client.transport.SendMessage(callCtx, token, local.request)
	err = classify(callCtx, err)
	cancel()

	if err != nil {
		t.mu.Lock()
		local.state = EntryFailed
		local.err = err
		t.mu.Unlock()
		t.notify()
		if pkgerrors.Is(err, pkgerrors.CodeThreadClosed) {
			t.resyncBid(ctx)
		}
		return nil, err
	}

	t.mu.Lock()
	t.dropLocal(local)
	t.selfID = message.SenderID
	t.insertConfirmed(*message)
	t.mu.Unlock()
	t.notify()

	if message.IsProposal() {
		t.resyncBid(ctx)
	}
	copied := *message
	return &copied, nil
}

func (t *Thread) recordPoll(ctx context.Context, messages []models.NegotiationMessage, err error) {
	if err != nil {
		t.mu.Lock()
		t.pollErr = err
		t.mu.Unlock()
		t.notify()
		return
	}

	t.mu.Lock()
	proposals := t.merge(messages)
	t.fetchedAt = t.client.now()
	t.pollErr = nil
	t.mu.Unlock()
	t.notify()

	if proposals && t.hasBid() {
		t.resyncBid(ctx)
	}
}

// merge inserts unseen messages, advances the cursor past the batch and
// clears local sends the batch confirms. It reports whether any new message
// carried a proposal. Callers hold t.mu.
func (t *Thread) merge(messages []models.NegotiationMessage) bool {
	proposals := false
	for _, message := range messages {
		if t.cursor == nil || after(message, *t.cursor) {
			next := CursorOf(message)
			t.cursor = &next
		}
		if _, ok := t.seen[message.ID]; ok {
			continue
		}
		t.insertConfirmed(message)
		if message.IsProposal() {
			proposals = true
		}
		t.reconcileLocal(message)
	}
	return proposals
}

// insertConfirmed keeps confirmed ordered by (createdAt, id). Callers hold t.mu.
func (t *Thread) insertConfirmed(message models.NegotiationMessage) {
	if _, ok := t.seen[message.ID]; ok {
		return
	}
	t.seen[message.ID] = struct{}{}
	idx := sort.Search(len(t.confirmed), func(i int) bool {
		return less(message, t.confirmed[i])
	})
	t.confirmed = append(t.confirmed, models.NegotiationMessage{})
	copy(t.confirmed[idx+1:], t.confirmed[idx:])
	t.confirmed[idx] = message
}

// reconcileLocal drops the oldest unconfirmed send that a polled message
// proves landed. Sends refused by the server are never matched. Callers
// hold t.mu.
func (t *Thread) reconcileLocal(message models.NegotiationMessage) {
	for _, local := range t.local {
		if local.state == EntryFailed && !pkgerrors.IsRetryable(local.err) {
			continue
		}
		if local.matches(message, t.selfID) {
			t.dropLocal(local)
			return
		}
	}
}

func (t *Thread) dropLocal(target *localSend) {
	for i, local := range t.local {
		if local == target {
			t.local = append(t.local[:i], t.local[i+1:]...)
			return
		}
	}
}

func (t *Thread) hasBid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bid != nil
}

func (t *Thread) resyncBid(ctx context.Context) {
	if err := t.RefreshBid(ctx); err != nil {
		t.client.logWarn(ctx, t.bidID, "threadsync.bid_resync_failed", err)
	}
}

func (t *Thread) notify() {
	select {
	case t.updates <- struct{}{}:
	default:
	}
}

func (t *Thread) start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.client.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				err := t.Poll(loopCtx)
				if err == nil || loopCtx.Err() != nil {
					continue
				}
				t.client.logWarn(loopCtx, t.bidID, "threadsync.poll_failed", err)
				if pkgerrors.Is(err, pkgerrors.CodeUnauthorized) {
					return
				}
			}
		}
	}()
}

// shutdown stops the poll loop and waits for it to exit.
func (t *Thread) shutdown() error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		cancel, done := t.cancel, t.done
		t.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}

		t.mu.Lock()
		unconfirmed := len(t.local)
		t.mu.Unlock()
		if unconfirmed > 0 {
			t.stopErr = fmt.Errorf("thread %s closed with %d unconfirmed messages", t.bidID, unconfirmed)
		}
	})
	return t.stopErr
}

// CursorOf returns the cursor positioned at message.
func CursorOf(message models.NegotiationMessage) pagination.Cursor {
	return pagination.Cursor{CreatedAt: message.CreatedAt, ID: message.ID}
}

func less(a, b models.NegotiationMessage) bool {
	return pagination.Compare(a.CreatedAt, a.ID, b.CreatedAt, b.ID) < 0
}

func after(message models.NegotiationMessage, cursor pagination.Cursor) bool {
	return cursor.Precedes(message.CreatedAt, message.ID)
}
