// Package feed maintains the single live subscription to message-insert
// events for the signed-in member and dispatches each event to the open
// thread or to a notification.
package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CoveTalks/CoveTalksApp/internal/models"
)

// State is the subscription lifecycle state.
type State int32

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSubscribed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Event is the raw change-feed payload: row ids only, no display data.
type Event struct {
	MessageID   uuid.UUID
	SenderID    uuid.UUID
	RecipientID uuid.UUID
}

// Source delivers insert events scoped to the given member until the returned
// subscription is closed or the delivery callback's context is done.
type Source interface {
	Subscribe(ctx context.Context, memberID uuid.UUID, deliver func(Event)) (Subscription, error)
}

type Subscription interface {
	// Done is closed when the subscription drops, whether by Close or by a
	// transport failure.
	Done() <-chan struct{}
	Close() error
}

// Fetcher resolves an event to the full message row plus the sender's
// denormalized profile snippet.
type Fetcher interface {
	FetchMessage(ctx context.Context, id uuid.UUID) (models.Message, models.MemberSnippet, error)
}

// Handler receives dispatched events.
type Handler interface {
	// ActiveCounterparty reports which conversation is currently open, if any.
	ActiveCounterparty() (uuid.UUID, bool)
	// MergeIncoming routes a message into the open thread.
	MergeIncoming(ctx context.Context, msg models.Message)
	// Notify raises the cross-conversation "new message" cue (best effort).
	Notify(msg models.Message, sender models.MemberSnippet)
	// RefreshInbox recomputes the conversation index.
	RefreshInbox(ctx context.Context)
}

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

var ErrAlreadyOpen = errors.New("feed: subscriber already open")

// Subscriber owns exactly one live subscription. Open fails if one is already
// held; Close tears it down before another can be created, which prevents
// duplicate delivery.
type Subscriber struct {
	me      uuid.UUID
	source  Source
	fetcher Fetcher
	handler Handler
	log     zerolog.Logger

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSubscriber(me uuid.UUID, source Source, fetcher Fetcher, handler Handler, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		me:      me,
		source:  source,
		fetcher: fetcher,
		handler: handler,
		log:     log,
	}
}

func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// Open starts the subscription loop. The loop resubscribes with capped
// exponential backoff after a drop and runs until Close.
func (s *Subscriber) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyOpen
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state.Store(int32(StateSubscribing))

	go s.run(runCtx, s.done)
	return nil
}

// Close tears down the live subscription and waits for the loop to exit.
// Safe to call when not open.
func (s *Subscriber) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.state.Store(int32(StateUnsubscribed))
}

func (s *Subscriber) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := initialBackoff
	for {
		s.state.Store(int32(StateSubscribing))
		sub, err := s.source.Subscribe(ctx, s.me, func(ev Event) {
			s.handleEvent(ctx, ev)
		})
		if err != nil {
			s.state.Store(int32(StateErrored))
			s.log.Error().Err(err).Dur("retry_in", backoff).Msg("feed subscribe failed")
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		s.state.Store(int32(StateSubscribed))
		backoff = initialBackoff

		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case <-sub.Done():
			s.state.Store(int32(StateErrored))
			s.log.Warn().Dur("retry_in", backoff).Msg("feed subscription dropped")
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
		}
	}
}

// handleEvent fetches the full row plus sender snippet, then dispatches:
// into the open thread when the event belongs to it, otherwise a notification
// cue. The inbox is refreshed either way.
func (s *Subscriber) handleEvent(ctx context.Context, ev Event) {
	msg, sender, err := s.fetcher.FetchMessage(ctx, ev.MessageID)
	if err != nil {
		s.log.Error().Err(err).Stringer("message_id", ev.MessageID).Msg("fetch message details failed")
		return
	}

	counterparty := msg.CounterpartyOf(s.me)
	if active, ok := s.handler.ActiveCounterparty(); ok && active == counterparty {
		s.handler.MergeIncoming(ctx, msg)
	} else if msg.InboundFor(s.me) {
		s.handler.Notify(msg, sender)
	}

	s.handler.RefreshInbox(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
