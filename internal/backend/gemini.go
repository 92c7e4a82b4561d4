package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"AraChat/internal/grounding"
)

// DefaultModel is the model used when none is configured
const DefaultModel = "gemini-2.5-flash"

// ErrMalformedResponse is returned when the API answers without a usable payload
var ErrMalformedResponse = errors.New("malformed response")

// generator is the subset of *genai.Models the adapter calls
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini implements Assistant on top of the Gemini API
type Gemini struct {
	models   generator
	model    string
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	duration metric.Float64Histogram
}

// NewGemini creates a Gemini-backed assistant. The client is built once
// here and owned by the returned value.
func NewGemini(ctx context.Context, apiKey, model string, httpClient *http.Client, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return newGemini(client.Models, model, logger, tracer, meter), nil
}

func newGemini(models generator, model string, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Gemini {
	g := &Gemini{
		models: models,
		model:  model,
		logger: logger,
		tracer: tracer,
		meter:  meter,
	}
	histogram, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		logger.Warn("failed to create histogram", "error", err)
	}
	g.duration = histogram
	return g
}

// Send implements Assistant
func (g *Gemini) Send(ctx context.Context, req Request) (Response, error) {
	ctx, span := g.tracer.Start(ctx, "gemini_api_call", trace.WithAttributes(
		attribute.String("model", g.model),
		attribute.Int("history.length", len(req.History)),
		attribute.Bool("location_bias", req.Tools.LocationBias != nil),
	))
	defer span.End()

	start := time.Now()

	resp, err := g.models.GenerateContent(ctx, g.model, toContents(req), toConfig(req))

	if g.duration != nil {
		g.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content failed")
		return Response{}, fmt.Errorf("failed to generate content: %w", err)
	}

	out, err := fromResponse(resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed response")
		return Response{}, err
	}

	g.recordUsage(ctx, out.Usage)
	g.logger.Debug("gemini response received",
		"model", g.model,
		"text_length", len(out.Text),
		"grounded", out.Grounding != nil)

	return out, nil
}

// recordUsage records token counters from the usage block
func (g *Gemini) recordUsage(ctx context.Context, usage map[string]int64) {
	for key, value := range usage {
		counter, err := g.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			g.logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, value)
	}
}

// toContents renders history followed by the current message
func toContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := genai.RoleUser
		if turn.Role == TurnModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	return append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))
}

// toConfig maps the system instruction and tool set onto a request config
func toConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	if req.Tools.WebSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if req.Tools.MapSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
	}

	if bias := req.Tools.LocationBias; bias != nil {
		cfg.ToolConfig = &genai.ToolConfig{
			RetrievalConfig: &genai.RetrievalConfig{
				LatLng: &genai.LatLng{
					Latitude:  genai.Ptr(bias.Latitude),
					Longitude: genai.Ptr(bias.Longitude),
				},
			},
		}
	}
	return cfg
}

// fromResponse extracts the first candidate's text and grounding
func fromResponse(resp *genai.GenerateContentResponse) (Response, error) {
	if resp == nil {
		return Response{}, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var out Response
	if u := resp.UsageMetadata; u != nil {
		out.Usage = map[string]int64{
			"prompt_tokens":     int64(u.PromptTokenCount),
			"candidates_tokens": int64(u.CandidatesTokenCount),
			"total_tokens":      int64(u.TotalTokenCount),
		}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		// Blocked prompts come back without candidates; the caller
		// substitutes its fallback text.
		return out, nil
	}
	cand := resp.Candidates[0]

	if cand.Content != nil {
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
		out.Text = sb.String()
	}

	out.Grounding = fromGrounding(cand.GroundingMetadata)
	return out, nil
}

func fromGrounding(gm *genai.GroundingMetadata) *grounding.Metadata {
	if gm == nil {
		return nil
	}

	md := &grounding.Metadata{
		WebSearchQueries: gm.WebSearchQueries,
	}
	if gm.SearchEntryPoint != nil {
		md.SearchEntryPoint = gm.SearchEntryPoint.RenderedContent
	}
	for _, gc := range gm.GroundingChunks {
		if gc == nil {
			continue
		}
		var chunk grounding.Chunk
		if gc.Web != nil {
			chunk.Web = &grounding.Web{URI: gc.Web.URI, Title: gc.Web.Title}
		}
		if gc.Maps != nil {
			chunk.Maps = &grounding.Maps{URI: gc.Maps.URI, Title: gc.Maps.Title, PlaceID: gc.Maps.PlaceID}
		}
		md.Chunks = append(md.Chunks, chunk)
	}
	return md
}
