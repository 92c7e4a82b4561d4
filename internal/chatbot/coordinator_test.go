package chatbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"AraChat/internal/backend"
	"AraChat/internal/geo"
	"AraChat/internal/grounding"
	"AraChat/internal/session"
)

// fakeAssistant records every request and answers with respond
type fakeAssistant struct {
	requests []backend.Request
	respond  func(req backend.Request) (backend.Response, error)
}

func (f *fakeAssistant) Send(ctx context.Context, req backend.Request) (backend.Response, error) {
	f.requests = append(f.requests, req)
	if f.respond == nil {
		return backend.Response{Text: "ok"}, nil
	}
	return f.respond(req)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(a backend.Assistant) *Coordinator {
	c := NewCoordinator(a, discardLogger(),
		tracenoop.NewTracerProvider().Tracer("test"),
		metricnoop.NewMeterProvider().Meter("test"))
	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	c.now = func() time.Time { return time.Unix(int64(n), 0) }
	return c
}

func greetingLog() session.Log {
	return session.NewLog(session.Greeting("init", time.Unix(0, 0)))
}

func TestExchange_AppendsUserAndModel(t *testing.T) {
	fake := &fakeAssistant{}
	c := newTestCoordinator(fake)

	log := greetingLog()
	for i, utterance := range []string{"hi", "  padded  ", "third"} {
		before := log.Len()
		log = c.Exchange(context.Background(), log, utterance, nil)
		require.Equal(t, before+2, log.Len(), "exchange %d", i)

		msgs := log.All()
		assert.Equal(t, session.RoleUser, msgs[before].Role)
		assert.Equal(t, session.RoleModel, msgs[before+1].Role)
	}

	user, _ := log.At(3)
	assert.Equal(t, "padded", user.Text)
	assert.Equal(t, "padded", fake.requests[1].Message)
}

func TestExchange_BlankInputIsNoop(t *testing.T) {
	fake := &fakeAssistant{}
	c := newTestCoordinator(fake)
	log := greetingLog()

	for _, utterance := range []string{"", " ", "\t\n", "   \r\n  "} {
		got := c.Exchange(context.Background(), log, utterance, nil)
		assert.Equal(t, log.All(), got.All())
	}
	assert.Empty(t, fake.requests)
}

func TestExchange_HistoryExcludesErrors(t *testing.T) {
	calls := 0
	fake := &fakeAssistant{respond: func(req backend.Request) (backend.Response, error) {
		calls++
		if calls%2 == 0 {
			return backend.Response{}, errors.New("flaky")
		}
		return backend.Response{Text: fmt.Sprintf("answer %d", calls)}, nil
	}}
	c := newTestCoordinator(fake)

	log := greetingLog()
	for i := 0; i < 6; i++ {
		log = c.Exchange(context.Background(), log, fmt.Sprintf("q%d", i), nil)
	}

	for _, req := range fake.requests {
		for _, turn := range req.History {
			assert.NotEqual(t, ApologyText, turn.Text)
		}
	}

	// the last request saw every prior non-error message, in order
	last := fake.requests[len(fake.requests)-1]
	var want []backend.Turn
	for _, m := range log.All()[:log.Len()-2] {
		if m.IsError {
			continue
		}
		role := backend.TurnModel
		if m.Role == session.RoleUser {
			role = backend.TurnUser
		}
		want = append(want, backend.Turn{Role: role, Text: m.Text})
	}
	assert.Equal(t, want, last.History)
}

func TestExchange_HistoryIsPriorLogOnly(t *testing.T) {
	fake := &fakeAssistant{}
	c := newTestCoordinator(fake)

	c.Exchange(context.Background(), greetingLog(), "hello", nil)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, []backend.Turn{{Role: backend.TurnModel, Text: session.GreetingText}}, req.History)
	assert.Equal(t, "hello", req.Message)
	assert.Equal(t, SystemInstruction, req.SystemInstruction)
	assert.True(t, req.Tools.WebSearch)
	assert.True(t, req.Tools.MapSearch)
}

func TestExchange_LocationBias(t *testing.T) {
	fake := &fakeAssistant{respond: func(req backend.Request) (backend.Response, error) {
		return backend.Response{
			Text: "Here are a few cafes.",
			Grounding: &grounding.Metadata{Chunks: []grounding.Chunk{
				{Maps: &grounding.Maps{URI: "https://maps.example/1", Title: "Blue Bottle"}},
			}},
		}, nil
	}}
	c := newTestCoordinator(fake)

	loc := &geo.Location{Latitude: 37.77, Longitude: -122.41}
	log := c.Exchange(context.Background(), greetingLog(), "Find coffee near me", loc)

	require.Len(t, fake.requests, 1)
	bias := fake.requests[0].Tools.LocationBias
	require.NotNil(t, bias)
	assert.Equal(t, 37.77, bias.Latitude)
	assert.Equal(t, -122.41, bias.Longitude)

	require.Equal(t, 3, log.Len())
	reply, _ := log.At(2)
	assert.Equal(t, session.RoleModel, reply.Role)
	assert.False(t, reply.IsError)
	require.NotNil(t, reply.Grounding)
	assert.Equal(t, "Blue Bottle", reply.Grounding.Chunks[0].Label())
}

func TestExchange_NoLocationOmitsBias(t *testing.T) {
	fake := &fakeAssistant{}
	c := newTestCoordinator(fake)

	c.Exchange(context.Background(), greetingLog(), "weather", nil)

	assert.Nil(t, fake.requests[0].Tools.LocationBias)
}

func TestExchange_InvalidLocationIsDropped(t *testing.T) {
	fake := &fakeAssistant{}
	c := newTestCoordinator(fake)

	log := c.Exchange(context.Background(), greetingLog(), "weather", &geo.Location{Latitude: 500})

	assert.Equal(t, 3, log.Len())
	assert.Nil(t, fake.requests[0].Tools.LocationBias)
}

func TestExchange_FailureBecomesApology(t *testing.T) {
	fake := &fakeAssistant{respond: func(backend.Request) (backend.Response, error) {
		return backend.Response{}, errors.New("dial tcp: connection refused")
	}}
	c := newTestCoordinator(fake)

	var log session.Log
	require.NotPanics(t, func() {
		log = c.Exchange(context.Background(), greetingLog(), "hello", nil)
	})

	require.Equal(t, 3, log.Len())
	reply, _ := log.At(2)
	assert.Equal(t, session.RoleModel, reply.Role)
	assert.True(t, reply.IsError)
	assert.Equal(t, ApologyText, reply.Text)
	assert.Nil(t, reply.Grounding)
}

func TestExchange_PanicBecomesApology(t *testing.T) {
	fake := &fakeAssistant{respond: func(backend.Request) (backend.Response, error) {
		panic("boom")
	}}
	c := newTestCoordinator(fake)

	log := c.Exchange(context.Background(), greetingLog(), "hello", nil)

	reply, _ := log.At(2)
	assert.True(t, reply.IsError)
}

func TestExchange_DeadlineBecomesApology(t *testing.T) {
	fake := &fakeAssistant{respond: func(req backend.Request) (backend.Response, error) {
		return backend.Response{}, context.DeadlineExceeded
	}}
	c := newTestCoordinator(fake)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	log := c.Exchange(ctx, greetingLog(), "hello", nil)

	reply, _ := log.At(2)
	assert.True(t, reply.IsError)
}

func TestExchange_EmptyTextUsesFallback(t *testing.T) {
	fake := &fakeAssistant{respond: func(backend.Request) (backend.Response, error) {
		return backend.Response{}, nil
	}}
	c := newTestCoordinator(fake)

	log := c.Exchange(context.Background(), greetingLog(), "hello", nil)

	reply, _ := log.At(2)
	assert.False(t, reply.IsError)
	assert.Equal(t, FallbackText, reply.Text)
}

func TestExchange_GroundingIsNormalized(t *testing.T) {
	fake := &fakeAssistant{respond: func(backend.Request) (backend.Response, error) {
		return backend.Response{
			Text: "sources",
			Grounding: &grounding.Metadata{Chunks: []grounding.Chunk{
				{},
				{Web: &grounding.Web{URI: "https://dup.example"}},
				{Web: &grounding.Web{URI: "https://dup.example"}},
				{Web: &grounding.Web{URI: "https://x.example"}, Maps: &grounding.Maps{URI: "https://m.example"}},
			}},
		}, nil
	}}
	c := newTestCoordinator(fake)

	log := c.Exchange(context.Background(), greetingLog(), "sources?", nil)

	reply, _ := log.At(2)
	require.NotNil(t, reply.Grounding)
	require.Len(t, reply.Grounding.Chunks, 3)
	assert.Equal(t, "https://dup.example", reply.Grounding.Chunks[0].URI())
	assert.Equal(t, "https://dup.example", reply.Grounding.Chunks[1].URI())
	assert.Equal(t, "maps", reply.Grounding.Chunks[2].Kind())
	assert.Nil(t, reply.Grounding.Chunks[2].Web)
}

func TestExchange_DoesNotMutateInputLog(t *testing.T) {
	c := newTestCoordinator(&fakeAssistant{})
	base := greetingLog()

	_ = c.Exchange(context.Background(), base, "hello", nil)

	assert.Equal(t, 1, base.Len())
}

func TestExchange_UniqueIDs(t *testing.T) {
	c := NewCoordinator(&fakeAssistant{}, discardLogger(),
		tracenoop.NewTracerProvider().Tracer("test"),
		metricnoop.NewMeterProvider().Meter("test"))

	log := session.NewLog(session.Greeting(session.NewID(), time.Now()))
	for i := 0; i < 20; i++ {
		log = c.Exchange(context.Background(), log, "q", nil)
	}

	seen := map[string]bool{}
	prev := ""
	for _, m := range log.All() {
		assert.False(t, seen[m.ID])
		seen[m.ID] = true
		assert.Greater(t, m.ID, prev)
		prev = m.ID
	}
}
