package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bidroom-backend/internal/threadsync"
	"github.com/angelmondragon/bidroom-backend/pkg/config"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
)

// thread-watch follows one negotiation thread and prints messages as they
// arrive. Lines typed on stdin are sent to the thread. "/offer <amount> text"
// sends a counter-offer, "/retry <id>" resends a failed message, and
// "/accept", "/reject" or "/withdraw" transition the bid.
func main() {
	_ = godotenv.Load()

	bidFlag := flag.String("bid", "", "bid id to watch")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "thread-watch", Output: os.Stderr})

	cfg, err := config.LoadClient()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "thread-watch",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      logger.ParseFormat(cfg.LogFormat),
		Output:      os.Stderr,
	})

	raw := *bidFlag
	if raw == "" && flag.NArg() > 0 {
		raw = flag.Arg(0)
	}
	bidID, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: thread-watch -bid <uuid>")
		os.Exit(2)
	}

	transport, err := threadsync.NewHTTPTransport(cfg.BaseURL, &http.Client{})
	if err != nil {
		logg.Error(context.Background(), "invalid base url", err)
		os.Exit(1)
	}
	session, err := checkSession(transport, cfg.Token, cfg.RequestTimeout)
	if err != nil {
		logg.Error(context.Background(), "credentials rejected", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "watching bid %s as %s\n", bidID, session.UserID)

	syncCfg := threadsync.DefaultConfig()
	syncCfg.PollInterval = cfg.PollInterval
	syncCfg.FreshnessWindow = cfg.FreshnessWindow
	syncCfg.RequestTimeout = cfg.RequestTimeout
	client, err := threadsync.New(transport, threadsync.StaticToken(cfg.Token), syncCfg,
		threadsync.WithLogger(logg), threadsync.WithSelf(session.UserID))
	if err != nil {
		logg.Error(context.Background(), "failed to create sync client", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithBidID(ctx, bidID)

	thread, err := client.Open(ctx, bidID)
	if err != nil {
		logg.Error(ctx, "failed to open thread", err)
		os.Exit(1)
	}

	lines := make(chan string)
	go readLines(lines)

	p := newPrinter(os.Stdout)
	p.render(thread.View())
	for {
		select {
		case <-ctx.Done():
			if err := client.Close(); err != nil {
				logg.Error(context.Background(), "thread closed with pending sends", err)
				os.Exit(1)
			}
			return
		case <-thread.Updates():
			p.render(thread.View())
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := handleLine(ctx, thread, line); err != nil {
				fmt.Fprintf(os.Stderr, "! %v\n", err)
			}
		}
	}
}

func checkSession(transport *threadsync.HTTPTransport, token string, timeout time.Duration) (*threadsync.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return transport.Session(ctx, token)
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out <- line
		}
	}
}

type commandKind int

const (
	commandSay commandKind = iota
	commandOffer
	commandRetry
	commandTransition
)

// command is one parsed stdin line.
type command struct {
	kind    commandKind
	text    string
	amount  decimal.Decimal
	localID string
	event   enums.BidEvent
}

func parseCommand(line string) (command, error) {
	if !strings.HasPrefix(line, "/") {
		return command{kind: commandSay, text: line}, nil
	}
	fields := strings.Fields(line)
	name := strings.TrimPrefix(fields[0], "/")
	switch name {
	case "offer":
		if len(fields) < 2 {
			return command{}, fmt.Errorf("usage: /offer <amount> [message]")
		}
		amount, err := decimal.NewFromString(fields[1])
		if err != nil || !amount.IsPositive() {
			return command{}, fmt.Errorf("invalid amount %q", fields[1])
		}
		return command{kind: commandOffer, amount: amount, text: strings.Join(fields[2:], " ")}, nil
	case "retry":
		if len(fields) != 2 {
			return command{}, fmt.Errorf("usage: /retry <local id>")
		}
		return command{kind: commandRetry, localID: fields[1]}, nil
	}
	event, err := enums.ParseBidEvent(name)
	if err != nil || event == enums.BidEventCounter {
		return command{}, fmt.Errorf("unknown command /%s", name)
	}
	return command{kind: commandTransition, event: event}, nil
}

func handleLine(ctx context.Context, thread *threadsync.Thread, line string) error {
	cmd, err := parseCommand(line)
	if err != nil {
		return err
	}
	switch cmd.kind {
	case commandOffer:
		_, _, err = thread.Send(ctx, threadsync.SendInput{Message: cmd.text, ProposedAmount: &cmd.amount})
	case commandRetry:
		_, err = thread.Retry(ctx, cmd.localID)
	case commandTransition:
		var messageID *uuid.UUID
		if bid := thread.Bid(); bid != nil && cmd.event == enums.BidEventAccept {
			messageID = bid.LatestProposalMessageID
		}
		_, err = thread.Transition(ctx, cmd.event, messageID)
	default:
		_, _, err = thread.Send(ctx, threadsync.SendInput{Message: cmd.text})
	}
	return err
}

// printer writes each confirmed message and each failed send once.
type printer struct {
	out    io.Writer
	seen   map[uuid.UUID]struct{}
	failed map[string]struct{}
	status enums.BidStatus
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:    out,
		seen:   map[uuid.UUID]struct{}{},
		failed: map[string]struct{}{},
	}
}

func (p *printer) render(view threadsync.Snapshot) {
	if view.Bid != nil && view.Bid.Status != p.status {
		p.status = view.Bid.Status
		fmt.Fprintf(p.out, "-- bid %s is %s (amount %s)\n", view.BidID, view.Bid.Status, view.Bid.CurrentAmount().StringFixed(2))
	}
	for _, entry := range view.Entries {
		switch entry.State {
		case threadsync.EntryConfirmed:
			if _, ok := p.seen[entry.Message.ID]; ok {
				continue
			}
			p.seen[entry.Message.ID] = struct{}{}
			line := fmt.Sprintf("[%s] %s: %s", entry.Message.CreatedAt.Local().Format("15:04:05"), entry.Message.SenderType, entry.Message.Message)
			if entry.Message.ProposedAmount != nil {
				line += " (offer " + entry.Message.ProposedAmount.StringFixed(2) + ")"
			}
			fmt.Fprintln(p.out, line)
		case threadsync.EntryFailed:
			if _, ok := p.failed[entry.LocalID]; ok {
				continue
			}
			p.failed[entry.LocalID] = struct{}{}
			fmt.Fprintf(p.out, "! send %s failed: %v (/retry %s)\n", entry.LocalID, entry.Err, entry.LocalID)
		}
	}
}
