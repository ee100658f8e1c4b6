package threadsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
	"github.com/angelmondragon/bidroom-backend/pkg/pagination"
)

// Config tunes the polling protocol.
type Config struct {
	PollInterval    time.Duration
	FreshnessWindow time.Duration
	RequestTimeout  time.Duration
	// ReadRetries bounds automatic retries of history and bid reads. Sends
	// and transitions are never retried automatically.
	ReadRetries uint64
	RetryBase   time.Duration
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    10 * time.Second,
		FreshnessWindow: 30 * time.Second,
		RequestTimeout:  12 * time.Second,
		ReadRetries:     2,
		RetryBase:       250 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.FreshnessWindow < 0 {
		c.FreshnessWindow = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.RetryBase <= 0 {
		c.RetryBase = def.RetryBase
	}
	return c
}

// Client keeps local views of negotiation threads in step with the server.
// Views are cached per bid; opening an already open thread shares it.
type Client struct {
	transport Transport
	creds     CredentialSource
	cfg       Config
	logg      *logger.Logger
	now       func() time.Time
	self      uuid.UUID

	polls singleflight.Group

	mu      sync.Mutex
	threads map[uuid.UUID]*Thread
	closed  bool
}

// Option customizes a Client.
type Option func(*Client)

// WithClock overrides the wall clock used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger attaches a logger for poll failures and resyncs.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) { c.logg = logg }
}

// WithSelf sets the participant id the client acts as, usually the user id
// of the session behind the credential. Without it, polled messages only
// confirm failed local sends once the sender id is learned from a send.
func WithSelf(userID uuid.UUID) Option {
	return func(c *Client) { c.self = userID }
}

// New builds a sync client.
func New(transport Transport, creds CredentialSource, cfg Config, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport required")
	}
	c := &Client{
		transport: transport,
		creds:     creds,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		threads:   make(map[uuid.UUID]*Thread),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Open returns the view of bidID's thread. The first open fetches the whole
// history and the bid, then polls every PollInterval until the last holder
// calls Close or ctx is done.
func (c *Client) Open(ctx context.Context, bidID uuid.UUID) (*Thread, error) {
	if _, err := c.token(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("sync client closed")
	}
	if existing, ok := c.threads[bidID]; ok {
		existing.retain()
		c.mu.Unlock()
		return c.join(ctx, existing)
	}
	thread := newThread(c, bidID)
	c.threads[bidID] = thread
	c.mu.Unlock()

	err := thread.Poll(ctx)
	if err == nil {
		err = thread.RefreshBid(ctx)
	}
	if err != nil {
		c.forget(thread)
		thread.opened(err)
		return nil, err
	}
	thread.start(ctx)
	thread.opened(nil)
	return thread, nil
}

// join waits for the first open of a shared thread and then refreshes it.
// A failed first open fails every opener that joined it.
func (c *Client) join(ctx context.Context, thread *Thread) (*Thread, error) {
	select {
	case <-thread.ready:
	case <-ctx.Done():
		thread.Close()
		return nil, ctx.Err()
	}
	if thread.openErr != nil {
		thread.Close()
		return nil, thread.openErr
	}
	if err := thread.Refresh(ctx); err != nil {
		thread.Close()
		return nil, err
	}
	return thread, nil
}

// Close stops every open thread.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	threads := make([]*Thread, 0, len(c.threads))
	for _, thread := range c.threads {
		threads = append(threads, thread)
	}
	c.threads = make(map[uuid.UUID]*Thread)
	c.mu.Unlock()

	var err error
	for _, thread := range threads {
		err = multierr.Append(err, thread.shutdown())
	}
	return err
}

func (c *Client) forget(thread *Thread) {
	c.mu.Lock()
	if current, ok := c.threads[thread.bidID]; ok && current == thread {
		delete(c.threads, thread.bidID)
	}
	c.mu.Unlock()
}

// fetchHistory reads the suffix after cursor, retrying transient failures.
func (c *Client) fetchHistory(ctx context.Context, token string, bidID uuid.UUID, after *pagination.Cursor) ([]models.NegotiationMessage, error) {
	var out []models.NegotiationMessage
	err := c.retryRead(ctx, func(ctx context.Context) error {
		messages, err := c.transport.FetchHistory(ctx, token, bidID, after)
		if err != nil {
			return err
		}
		out = messages
		return nil
	})
	return out, err
}

func (c *Client) fetchBid(ctx context.Context, token string, bidID uuid.UUID) (*models.Bid, error) {
	var out *models.Bid
	err := c.retryRead(ctx, func(ctx context.Context) error {
		bid, err := c.transport.FetchBid(ctx, token, bidID)
		if err != nil {
			return err
		}
		out = bid
		return nil
	})
	return out, err
}

func (c *Client) retryRead(ctx context.Context, read func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(c.cfg.ReadRetries, retry.NewExponential(c.cfg.RetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		err := classify(callCtx, read(callCtx))
		if err != nil && pkgerrors.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// classify turns untyped and deadline errors into network errors so that
// callers see the retryable category for timeouts.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "request timed out")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "request failed")
}

func (c *Client) logWarn(ctx context.Context, bidID uuid.UUID, msg string, err error) {
	if c.logg == nil {
		return
	}
	c.logg.WarnErr(c.logg.WithBidID(ctx, bidID), msg, err)
}
