// Package backend defines the contract with the remote assistant and its
// Gemini implementation.
package backend

import (
	"context"
	"errors"
	"fmt"

	"AraChat/internal/geo"
	"AraChat/internal/grounding"
)

// Turn roles as the remote assistant expects them
const (
	TurnUser  = "user"
	TurnModel = "model"
)

// ErrNoTools is returned by NewToolConfig when every tool is disabled
var ErrNoTools = errors.New("tool config enables no tools")

// Turn is one prior message in the history sent upstream
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ToolConfig lists the retrieval tools offered to the model for one request
type ToolConfig struct {
	WebSearch    bool          `json:"web_search"`
	MapSearch    bool          `json:"map_search"`
	LocationBias *geo.Location `json:"location_bias,omitempty"` // omitted, never zeroed, when unknown
}

// NewToolConfig validates and builds a tool configuration
func NewToolConfig(webSearch, mapSearch bool, bias *geo.Location) (ToolConfig, error) {
	if !webSearch && !mapSearch {
		return ToolConfig{}, ErrNoTools
	}
	cfg := ToolConfig{WebSearch: webSearch, MapSearch: mapSearch}
	if bias != nil {
		if err := bias.Validate(); err != nil {
			return ToolConfig{}, fmt.Errorf("location bias: %w", err)
		}
		b := *bias
		cfg.LocationBias = &b
	}
	return cfg, nil
}

// Request is everything the remote assistant needs for one answer
type Request struct {
	History           []Turn     `json:"history"`
	Message           string     `json:"message"`
	SystemInstruction string     `json:"system_instruction"`
	Tools             ToolConfig `json:"tools"`
}

// Response is a successful answer. Grounding is passed through as the
// provider returned it; callers normalize it.
type Response struct {
	Text      string              `json:"text"`
	Grounding *grounding.Metadata `json:"grounding,omitempty"`
	Usage     map[string]int64    `json:"usage,omitempty"`
}

// Assistant is the remote language-model capability
type Assistant interface {
	Send(ctx context.Context, req Request) (Response, error)
}
