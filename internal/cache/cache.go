package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"AraChat/internal/backend"
)

// CachedResponse represents a cached assistant answer
type CachedResponse struct {
	Response  backend.Response
	Timestamp time.Time
}

// GenerateCacheKey derives a cache key from everything that shapes an answer
func GenerateCacheKey(req backend.Request) string {
	h := sha256.New()
	for _, turn := range req.History {
		h.Write([]byte(turn.Role))
		h.Write([]byte{0})
		h.Write([]byte(turn.Text))
		h.Write([]byte{0})
	}
	h.Write([]byte(req.Message))
	h.Write([]byte{0})
	h.Write([]byte(req.SystemInstruction))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(req.Tools.WebSearch)))
	h.Write([]byte(strconv.FormatBool(req.Tools.MapSearch)))
	if bias := req.Tools.LocationBias; bias != nil {
		h.Write([]byte(strconv.FormatFloat(bias.Latitude, 'g', -1, 64)))
		h.Write([]byte{','})
		h.Write([]byte(strconv.FormatFloat(bias.Longitude, 'g', -1, 64)))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Assistant wraps another Assistant and replays successful answers for
// identical requests until they are older than ttl. Failures pass through
// uncached.
type Assistant struct {
	next   backend.Assistant
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	hits   metric.Int64Counter

	entries sync.Map // key -> CachedResponse
}

// Wrap returns next unchanged when ttl is not positive
func Wrap(next backend.Assistant, ttl time.Duration, logger *slog.Logger, meter metric.Meter) backend.Assistant {
	if ttl <= 0 {
		return next
	}
	hits, err := meter.Int64Counter("arachat.cache.hits", metric.WithDescription("Assistant responses served from cache"))
	if err != nil {
		logger.Warn("failed to create counter", "key", "arachat.cache.hits", "error", err)
	}
	return &Assistant{
		next:   next,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
		hits:   hits,
	}
}

// Send implements backend.Assistant
func (a *Assistant) Send(ctx context.Context, req backend.Request) (backend.Response, error) {
	key := GenerateCacheKey(req)

	if val, ok := a.entries.Load(key); ok {
		cached := val.(CachedResponse)
		if a.now().Sub(cached.Timestamp) < a.ttl {
			a.logger.Info("cache hit", "key", key[:16])
			if a.hits != nil {
				a.hits.Add(ctx, 1)
			}
			return cached.Response, nil
		}
		a.entries.Delete(key)
	}

	resp, err := a.next.Send(ctx, req)
	if err != nil {
		return resp, err
	}

	a.entries.Store(key, CachedResponse{
		Response:  resp,
		Timestamp: a.now(),
	})
	a.logger.Info("cached response", "key", key[:16])
	return resp, nil
}
