package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"AraChat/internal/backend"
	"AraChat/internal/geo"
	"AraChat/internal/grounding"
	"AraChat/internal/session"
)

const (
	// FallbackText replaces an answer that came back without text
	FallbackText = "I'm sorry, I couldn't generate a response."
	// ApologyText is shown in place of an answer when the exchange failed
	ApologyText = "I encountered an error connecting to my services. Please try again."
)

// SystemInstruction is the persona and rule set sent with every request
const SystemInstruction = `You are A.R.A. (Augmented Responsive Assistant) — a helpful, precise, empathetic, and ultra-fast multimodal assistant.

Your goals:
1. Understand user intent immediately.
2. Respond with high-quality actionable answers.
3. Use Google Search and Google Maps tools to fetch real-time information when the user asks for locations, current events, images, or videos.
4. Prioritize safety, privacy, and accuracy.

Tone:
- Friendly, concise, slightly energetic. Use contractions.
- Avoid purple prose.
- When giving lists, keep them short (3–6 items).
- Be empathetic: reflect the user's tone.

Output Formatting:
- If you find map locations, mention them briefly in text as they will be displayed visually by the UI.
- If you find web results, summarize them.
- Format your response in clean Markdown.

Constraints:
- Refuse illegal or unsafe requests.
- For medical/legal/financial advice, offer general guidance and advise consulting a professional.

Always be ready to "Deep Dive" if the user asks for more details.`

// Cycle is a prepared exchange: the user message to append and the request
// to send for it
type Cycle struct {
	User    session.Message
	Request backend.Request
}

// Coordinator runs one request/response cycle per utterance. It holds no
// conversation state of its own.
type Coordinator struct {
	assistant backend.Assistant
	logger    *slog.Logger
	tracer    trace.Tracer

	exchanges metric.Int64Counter
	failures  metric.Int64Counter

	newID session.IDSource
	now   func() time.Time
}

// NewCoordinator creates a coordinator around an injected assistant
func NewCoordinator(assistant backend.Assistant, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Coordinator {
	c := &Coordinator{
		assistant: assistant,
		logger:    logger,
		tracer:    tracer,
		newID:     session.NewID,
		now:       time.Now,
	}

	var err error
	c.exchanges, err = meter.Int64Counter("arachat.exchange.count", metric.WithDescription("Completed exchange cycles"))
	if err != nil {
		logger.Warn("failed to create counter", "key", "arachat.exchange.count", "error", err)
	}
	c.failures, err = meter.Int64Counter("arachat.exchange.errors", metric.WithDescription("Exchange cycles that ended in an apology"))
	if err != nil {
		logger.Warn("failed to create counter", "key", "arachat.exchange.errors", "error", err)
	}
	return c
}

// Exchange appends the trimmed utterance and the resulting answer (or
// apology) to log. Whitespace-only input returns log unchanged. It never
// fails: every error is folded into the appended message.
func (c *Coordinator) Exchange(ctx context.Context, log session.Log, utterance string, loc *geo.Location) session.Log {
	cycle, ok := c.Prepare(log, utterance, loc)
	if !ok {
		return log
	}
	log = log.Append(cycle.User)
	return log.Append(c.Complete(ctx, cycle))
}

// Prepare builds the user message and outbound request. It reports false
// when the utterance is blank.
func (c *Coordinator) Prepare(log session.Log, utterance string, loc *geo.Location) (Cycle, bool) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return Cycle{}, false
	}

	tools, err := backend.NewToolConfig(true, true, loc)
	if err != nil {
		// A bad fix must not block the exchange; send without a bias.
		c.logger.Warn("dropping location bias", "error", err)
		tools, _ = backend.NewToolConfig(true, true, nil)
	}

	return Cycle{
		User: session.Message{
			ID:        c.newID(),
			Role:      session.RoleUser,
			Text:      text,
			Timestamp: c.now(),
		},
		Request: backend.Request{
			History:           History(log),
			Message:           text,
			SystemInstruction: SystemInstruction,
			Tools:             tools,
		},
	}, true
}

// Complete invokes the assistant and turns the outcome into a model message
func (c *Coordinator) Complete(ctx context.Context, cycle Cycle) session.Message {
	ctx, span := c.tracer.Start(ctx, "exchange", trace.WithAttributes(
		attribute.Int("history.length", len(cycle.Request.History)),
		attribute.Bool("location_bias", cycle.Request.Tools.LocationBias != nil),
	))
	defer span.End()

	resp, err := c.send(ctx, cycle.Request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assistant call failed")
		c.logger.Error("exchange failed", "user_message_id", cycle.User.ID, "error", err)
		if c.failures != nil {
			c.failures.Add(ctx, 1)
		}
		return session.Message{
			ID:        c.newID(),
			Role:      session.RoleModel,
			Text:      ApologyText,
			Timestamp: c.now(),
			IsError:   true,
		}
	}

	text := resp.Text
	if text == "" {
		text = FallbackText
	}
	md := grounding.Normalize(resp.Grounding)

	if c.exchanges != nil {
		c.exchanges.Add(ctx, 1)
	}
	c.logger.Info("exchange completed",
		"user_message_id", cycle.User.ID,
		"grounded", md != nil,
		"history_length", len(cycle.Request.History))

	return session.Message{
		ID:        c.newID(),
		Role:      session.RoleModel,
		Text:      text,
		Timestamp: c.now(),
		Grounding: md,
	}
}

// send shields the caller from a panicking assistant so a cycle always
// ends in a log entry
func (c *Coordinator) send(ctx context.Context, req backend.Request) (resp backend.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return c.assistant.Send(ctx, req)
}

type panicError struct{ value any }

func (e *panicError) Error() string {
	return fmt.Sprintf("assistant panicked: %v", e.value)
}

// History converts the log into upstream turns, skipping error notices
func History(log session.Log) []backend.Turn {
	msgs := log.All()
	turns := make([]backend.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.IsError {
			continue
		}
		role := backend.TurnModel
		if m.Role == session.RoleUser {
			role = backend.TurnUser
		}
		turns = append(turns, backend.Turn{Role: role, Text: m.Text})
	}
	return turns
}
