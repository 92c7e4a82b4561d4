package chatbot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"AraChat/internal/feedback"
	"AraChat/internal/geo"
	"AraChat/internal/session"
)

// ErrBusy is returned by Send while a previous exchange is still in flight
var ErrBusy = errors.New("an exchange is already in progress")

// Conversation owns one session's log and serializes every write to it.
// At most one exchange is outstanding at a time; the lock is released while
// the assistant is being called so feedback can still be recorded.
type Conversation struct {
	id          string
	coordinator *Coordinator
	fix         *geo.Fix
	sink        feedback.Sink
	logger      *slog.Logger
	ratings     metric.Int64Histogram
	timeout     time.Duration

	mu       sync.Mutex
	log      session.Log
	inFlight bool
}

// NewConversation starts a conversation holding only the greeting. sink may
// be nil; timeout of zero leaves the deadline to ctx.
func NewConversation(coordinator *Coordinator, fix *geo.Fix, sink feedback.Sink, timeout time.Duration, logger *slog.Logger, meter metric.Meter) *Conversation {
	ratings, err := meter.Int64Histogram("arachat.feedback.rating", metric.WithDescription("Submitted star ratings"))
	if err != nil {
		logger.Warn("failed to create histogram", "key", "arachat.feedback.rating", "error", err)
	}
	if fix == nil {
		fix = &geo.Fix{}
	}
	return &Conversation{
		id:          session.NewID(),
		coordinator: coordinator,
		fix:         fix,
		sink:        sink,
		logger:      logger,
		ratings:     ratings,
		timeout:     timeout,
		log:         session.NewLog(session.Greeting(coordinator.newID(), coordinator.now())),
	}
}

// ID identifies the conversation in feedback records
func (c *Conversation) ID() string {
	return c.id
}

// Location exposes the fix so hosts can update it
func (c *Conversation) Location() *geo.Fix {
	return c.fix
}

// Snapshot returns the current log revision
func (c *Conversation) Snapshot() session.Log {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

// Busy reports whether an exchange is outstanding
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Send runs one exchange. onUser, when non-nil, is called with the log
// right after the user message is appended so a host can render it before
// the answer arrives. Blank input returns the log unchanged.
func (c *Conversation) Send(ctx context.Context, utterance string, onUser func(session.Log)) (session.Log, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return session.Log{}, ErrBusy
	}
	// Location is read once, here; later changes do not affect this request.
	cycle, ok := c.coordinator.Prepare(c.log, utterance, c.fix.Current())
	if !ok {
		log := c.log
		c.mu.Unlock()
		return log, nil
	}
	c.log = c.log.Append(cycle.User)
	c.inFlight = true
	pending := c.log
	c.mu.Unlock()

	if onUser != nil {
		onUser(pending)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	reply := c.coordinator.Complete(ctx, cycle)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = c.log.Append(reply)
	c.inFlight = false
	return c.log, nil
}

// Rate records a star rating on a model message
func (c *Conversation) Rate(messageID string, rating int) session.Log {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = feedback.Rate(c.log, messageID, rating)
	return c.log
}

// Comment submits feedback for a model message and forwards it to the
// sink when this call is the one that submitted it
func (c *Conversation) Comment(ctx context.Context, messageID string, rating int, text string) session.Log {
	c.mu.Lock()
	before, _ := c.log.Find(messageID)
	c.log = feedback.Comment(c.log, messageID, rating, text)
	after, found := c.log.Find(messageID)
	log := c.log
	c.mu.Unlock()

	if !found || !feedback.Rateable(before) || after.Feedback == nil || !after.Feedback.Submitted {
		return log
	}

	c.logger.Info("feedback collected",
		"conversation_id", c.id,
		"message_id", messageID,
		"rating", rating,
		"comment_length", len(text))
	if c.ratings != nil {
		c.ratings.Record(ctx, int64(rating))
	}

	if c.sink != nil {
		rec := feedback.Record{
			ConversationID: c.id,
			MessageID:      messageID,
			Rating:         rating,
			Comment:        text,
			MessageText:    after.Text,
			SubmittedAt:    c.coordinator.now(),
		}
		if err := c.sink.Submit(ctx, rec); err != nil {
			c.logger.Error("failed to store feedback", "message_id", messageID, "error", err)
		}
	}
	return log
}
